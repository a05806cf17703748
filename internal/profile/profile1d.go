// Package profile implements acceleration-bounded speed profiles: 1-D
// piecewise-linear speed curves and the 2-D trajectories combined from them,
// including the exponential slow-down integration applied near a trajectory
// end.
package profile

import "math"

// VT is a 1-D speed profile breakpoint. After IntegrateTime, T holds the
// cumulative time of the breakpoint; builders initially store segment
// durations.
type VT struct {
	V float64
	T float64
}

// Profile1D is an ordered sequence of speed breakpoints with constant
// acceleration between neighbours.
type Profile1D struct {
	Points []VT
}

// IntegrateTime converts per-segment durations into cumulative times.
func (p *Profile1D) IntegrateTime() {
	total := 0.0
	for i := range p.Points {
		total += p.Points[i].T
		p.Points[i].T = total
	}
}

func constantDistance(v, time float64) float64 { return v * time }

// rampDistance is the distance covered while changing speed from v0 to v1 at
// rate acc.
func rampDistance(v0, v1, acc float64) float64 {
	time := math.Abs(v0-v1) / acc
	return 0.5 * (v0 + v1) * time
}

// freeExtraTimeDistance returns the distance covered by a symmetric
// triangle/trapezoid excursion from v that takes exactly time, and the peak
// speed reached. The excursion is clipped at vMax into a trapezoid when the
// triangle peak would exceed it.
func freeExtraTimeDistance(v, time, acc, vMax float64) (dist, peak float64) {
	toMaxTime := 2 * math.Abs(vMax-v) / acc
	if toMaxTime < time {
		return 2*rampDistance(v, vMax, acc) + constantDistance(vMax, time-toMaxTime), vMax
	}
	dir := 1.0
	if v > vMax {
		dir = -1
	}
	v1 := dir*acc*time/2 + v
	return 2 * rampDistance(v, v1, acc), v1
}

// PosInfo1D is the result of an end-position-only profile evaluation.
type PosInfo1D struct {
	EndPos float64
	// IncreaseAtSpeed is the speed at which additional time is spent, used
	// by the trajectory search to scale time updates.
	IncreaseAtSpeed float64
}

// CalculateEndPos1D evaluates the end position of the profile that
// Calculate1DTrajectory would build, without materializing it. signedExtraTime
// carries the axis direction in its sign.
func CalculateEndPos1D(v0, v1, signedExtraTime, acc, vMax float64) PosInfo1D {
	desiredVMax := vMax
	if signedExtraTime < 0 {
		desiredVMax = -vMax
	}
	if signedExtraTime == 0 {
		return PosInfo1D{rampDistance(v0, v1, acc), math.Max(v0, v1)}
	}
	if (v0 < desiredVMax) != (v1 < desiredVMax) {
		return PosInfo1D{
			rampDistance(v0, v1, acc) + constantDistance(desiredVMax, math.Abs(signedExtraTime)),
			desiredVMax,
		}
	}
	// give the extra time to whichever endpoint is closer to the max speed
	closerSpeed := v1
	if math.Abs(v0-desiredVMax) < math.Abs(v1-desiredVMax) {
		closerSpeed = v0
	}
	extraDist, peak := freeExtraTimeDistance(closerSpeed, math.Abs(signedExtraTime), acc, desiredVMax)
	return PosInfo1D{extraDist + rampDistance(v0, v1, acc), peak}
}

// adjustEndSpeed bounds v1 to the largest speed reachable within time while
// keeping the signed direction, and returns the bounded speed together with
// the time remaining after the transition to it.
func adjustEndSpeed(v0, v1, time float64, directionPositive bool, acc float64) VT {
	dir := -1.0
	if directionPositive {
		dir = 1.0
	}
	speedAfterT := v0 + dir*time*acc
	boundedSpeed := math.Max(math.Min(speedAfterT, math.Max(v1, 0)), math.Min(v1, 0))
	necessaryTime := math.Abs(v0-boundedSpeed) / acc
	return VT{V: boundedSpeed, T: time - necessaryTime}
}

// CalculateEndPos1DFastSpeed is the fast-end-speed variant of
// CalculateEndPos1D: the end speed may fall short of v1.
func CalculateEndPos1DFastSpeed(v0, v1, time float64, directionPositive bool, acc, vMax float64) PosInfo1D {
	endValues := adjustEndSpeed(v0, v1, time, directionPositive, acc)
	if endValues.T == 0 {
		increase := math.Min(v0, v1)
		if directionPositive {
			increase = math.Max(v0, v1)
		}
		return PosInfo1D{(v0 + endValues.V) * 0.5 * time, increase}
	}
	signedTime := endValues.T
	if !directionPositive {
		signedTime = -signedTime
	}
	return CalculateEndPos1D(v0, endValues.V, signedTime, acc, vMax)
}

// Calculate1DTrajectoryFastEndSpeed builds a profile from v0 towards v1 that
// takes exactly time, where the reached end speed is bounded by v1 rather
// than required to equal it.
func Calculate1DTrajectoryFastEndSpeed(v0, v1, time float64, directionPositive bool, acc, vMax float64) Profile1D {
	endValues := adjustEndSpeed(v0, v1, time, directionPositive, acc)
	if endValues.T == 0 {
		result := Profile1D{Points: []VT{
			{V: v0, T: 0},
			{V: endValues.V, T: math.Abs(endValues.V-v0) / acc},
		}}
		result.IntegrateTime()
		return result
	}
	return Calculate1DTrajectory(v0, endValues.V, endValues.T, directionPositive, acc, vMax)
}

// createFreeExtraTimeSegment appends the symmetric excursion around v that
// spends exactly time, between beforeSpeed and nextSpeed.
func (p *Profile1D) createFreeExtraTimeSegment(beforeSpeed, v, nextSpeed, time, acc, desiredVMax float64) {
	toMaxTime := 2 * math.Abs(desiredVMax-v) / acc
	if toMaxTime < time {
		p.Points = append(p.Points,
			VT{V: desiredVMax, T: math.Abs(desiredVMax-beforeSpeed) / acc},
			VT{V: desiredVMax, T: time - toMaxTime},
			VT{V: nextSpeed, T: math.Abs(desiredVMax-nextSpeed) / acc},
		)
		return
	}
	dir := 1.0
	if v > desiredVMax {
		dir = -1
	}
	v1 := dir*acc*time/2 + v
	p.Points = append(p.Points,
		VT{V: v1, T: math.Abs(beforeSpeed-v1) / acc},
		VT{V: nextSpeed, T: math.Abs(nextSpeed-v1) / acc},
	)
}

// Calculate1DTrajectory builds a profile from v0 to exactly v1 that spends
// extraTime beyond the minimum |v0-v1|/acc transition. Times are cumulative
// in the returned profile.
func Calculate1DTrajectory(v0, v1, extraTime float64, directionPositive bool, acc, vMax float64) Profile1D {
	result := Profile1D{Points: make([]VT, 1, 4)}
	result.Points[0] = VT{V: v0, T: 0}

	desiredVMax := vMax
	if !directionPositive {
		desiredVMax = -vMax
	}
	switch {
	case extraTime == 0:
		result.Points = append(result.Points, VT{V: v1, T: math.Abs(v0-v1) / acc})
	case (v0 < desiredVMax) != (v1 < desiredVMax):
		// v0 and v1 lie on opposite sides of the signed max speed: ramp to
		// desiredVMax, dwell for the extra time, ramp to v1
		accInv := 1 / acc
		result.Points = append(result.Points,
			VT{V: desiredVMax, T: math.Abs(v0-desiredVMax) * accInv},
			VT{V: desiredVMax, T: extraTime},
			VT{V: v1, T: math.Abs(v1-desiredVMax) * accInv},
		)
	default:
		closerSpeed := v1
		if math.Abs(v0-desiredVMax) < math.Abs(v1-desiredVMax) {
			closerSpeed = v0
		}
		result.createFreeExtraTimeSegment(v0, closerSpeed, v1, extraTime, acc, desiredVMax)
	}
	result.IntegrateTime()
	return result
}
