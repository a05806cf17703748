package profile

import (
	"math"

	"github.com/banshee-field/fieldwork/internal/geo"
)

// SlowDownTime is the length of the exponential slow-down tail. The planner's
// total slow-down budget must equal this value.
const SlowDownTime = 0.3

// minAccFactor is the acceleration multiplier reached at the very end of the
// slow-down tail.
const minAccFactor = 0.3

// State is a position/speed pair along a trajectory.
type State struct {
	Pos   geo.Vector2
	Speed geo.Vector2
}

// TrajectoryPoint is a timed trajectory state.
type TrajectoryPoint struct {
	State
	Time float64
}

// VT2 is a 2-D trajectory breakpoint with cumulative time.
type VT2 struct {
	V geo.Vector2
	T float64
}

// Trajectory is a planar trajectory assembled from one speed profile per
// axis. When SlowDownTime is active (slowDownTime >= 0), the final part of
// the trajectory is stretched by an exponentially decaying acceleration
// factor; all queries account for it.
type Trajectory struct {
	S0 geo.Vector2
	// CorrectionOffsetPerSecond absorbs small endpoint residuals by drifting
	// all position queries linearly over time.
	CorrectionOffsetPerSecond geo.Vector2

	profile      []VT2
	slowDownTime float64 // -1 when disabled
}

func speedForTime(first, second VT, time float64) float64 {
	diff := 1.0
	if second.T != first.T {
		diff = (time - first.T) / (second.T - first.T)
	}
	return first.V + diff*(second.V-first.V)
}

// NewTrajectory merges the two per-axis profiles (with cumulative times) into
// a single breakpoint sequence. A slowDownTime of 0 disables the slow-down
// tail; the exact trajectory end is numerically unstable for 0.
func NewTrajectory(xProfile, yProfile Profile1D, startPos geo.Vector2, slowDownTime float64) *Trajectory {
	const samePointEpsilon = 1e-4

	t := &Trajectory{S0: startPos, slowDownTime: slowDownTime}
	if slowDownTime == 0 {
		t.slowDownTime = -1
	}

	x := xProfile.Points
	y := yProfile.Points
	xIndex, yIndex := 0, 0

	for xIndex < len(x) && yIndex < len(y) {
		xNext := x[xIndex].T
		yNext := y[yIndex].T

		switch {
		case math.Abs(xNext-yNext) < samePointEpsilon:
			time := (xNext + yNext) * 0.5
			t.profile = append(t.profile, VT2{V: geo.Vector2{X: x[xIndex].V, Y: y[yIndex].V}, T: time})
			xIndex++
			yIndex++
		case xNext < yNext:
			vy := speedForTime(y[yIndex-1], y[yIndex], xNext)
			t.profile = append(t.profile, VT2{V: geo.Vector2{X: x[xIndex].V, Y: vy}, T: xNext})
			xIndex++
		default:
			vx := speedForTime(x[xIndex-1], x[xIndex], yNext)
			t.profile = append(t.profile, VT2{V: geo.Vector2{X: vx, Y: y[yIndex].V}, T: yNext})
			yIndex++
		}
	}
	for xIndex < len(x) {
		t.profile = append(t.profile, VT2{V: geo.Vector2{X: x[xIndex].V, Y: y[len(y)-1].V}, T: x[xIndex].T})
		xIndex++
	}
	for yIndex < len(y) {
		t.profile = append(t.profile, VT2{V: geo.Vector2{X: x[len(x)-1].V, Y: y[yIndex].V}, T: y[yIndex].T})
		yIndex++
	}
	return t
}

// HasSlowDown reports whether the exponential slow-down tail is active.
func (t *Trajectory) HasSlowDown() bool { return t.slowDownTime > 0 }

// EndSpeed returns the speed at the final breakpoint.
func (t *Trajectory) EndSpeed() geo.Vector2 { return t.profile[len(t.profile)-1].V }

// segment integration

type segmentPrecomp struct {
	invSegmentTime float64

	// slow-down extension, valid when slowdown is true
	slowdown        bool
	v0              geo.Vector2
	a0              geo.Vector2
	a1              geo.Vector2
	segmentTime     float64
	partialDistance geo.Vector2
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

// computeAccelerationFactor returns the acceleration multiplier applied
// timeToEnd seconds before the (stretched) trajectory end.
func computeAccelerationFactor(timeToEnd float64) float64 {
	totalTime := 2 / (1 + minAccFactor)
	aFactor := (minAccFactor - 1) / totalTime
	tFactor := 1 - timeToEnd/SlowDownTime
	return math.Sqrt(1 + 2*tFactor*aFactor)
}

func (t *Trajectory) slowDownStartTime() float64 {
	return t.profile[len(t.profile)-1].T - t.slowDownTime
}

func (t *Trajectory) slowDownEndTime() float64 {
	return t.profile[len(t.profile)-1].T + SlowDownTime - t.slowDownTime
}

func (t *Trajectory) precomputeSegment(first, second VT2) segmentPrecomp {
	pre := segmentPrecomp{invSegmentTime: 1 / (second.T - first.T)}
	if t.slowDownTime <= 0 || second.T <= t.slowDownStartTime() || first.T == second.T {
		return pre
	}
	pre.slowdown = true

	slowDownStart := t.slowDownStartTime()
	var t0 float64
	if first.T < slowDownStart {
		partDist, speed := t.constPartialOffsetAndSpeed(first, second, pre.invSegmentTime, first.T, slowDownStart)
		pre.partialDistance = partDist
		pre.v0 = speed
		t0 = slowDownStart
	} else {
		pre.v0 = first.V
		t0 = first.T
	}
	baseAcc := geo.Vector2{
		X: math.Abs(first.V.X-second.V.X) / (second.T - first.T),
		Y: math.Abs(first.V.Y-second.V.Y) / (second.T - first.T),
	}
	endTime := t.slowDownEndTime()
	factor0 := computeAccelerationFactor(endTime - t0)
	factor1 := computeAccelerationFactor(endTime - second.T)
	pre.a0 = baseAcc.Scale(factor0)
	pre.a1 = baseAcc.Scale(factor1)
	pre.segmentTime = 2 * (second.T - t0) / (factor0 + factor1)
	return pre
}

func (t *Trajectory) constPartialOffsetAndSpeed(first, second VT2, invSegmentTime, transformedT0, time float64) (geo.Vector2, geo.Vector2) {
	timeDiff := time - transformedT0
	diff := 1.0
	if second.T != first.T {
		diff = timeDiff * invSegmentTime
	}
	speed := first.V.Add(second.V.Sub(first.V).Scale(diff))
	partDist := first.V.Add(speed).Scale(0.5 * timeDiff)
	return partDist, speed
}

func (t *Trajectory) segmentOffset(first, second VT2, pre segmentPrecomp) geo.Vector2 {
	if !pre.slowdown {
		return first.V.Add(second.V).Scale(0.5 * (second.T - first.T))
	}
	// piecewise cubic offset from linearly interpolated acceleration
	st := pre.segmentTime
	speedDiff := second.V.Sub(pre.v0)
	diffSign := geo.Vector2{X: sign(speedDiff.X), Y: sign(speedDiff.Y)}
	signedA0 := geo.Vector2{X: diffSign.X * pre.a0.X, Y: diffSign.Y * pre.a0.Y}
	aDiff := pre.a1.Sub(pre.a0)
	signedADiff := geo.Vector2{X: diffSign.X * aDiff.X, Y: diffSign.Y * aDiff.Y}
	d := pre.v0.Scale(st).Add(signedA0.Scale(0.5 * st * st)).Add(signedADiff.Scale(st * st / 6))
	return pre.partialDistance.Add(d)
}

func (t *Trajectory) partialSegmentOffsetAndSpeed(first, second VT2, pre segmentPrecomp, transformedT0, time float64) (geo.Vector2, geo.Vector2) {
	if !pre.slowdown || time <= t.slowDownStartTime() {
		return t.constPartialOffsetAndSpeed(first, second, pre.invSegmentTime, transformedT0, time)
	}
	slowdownT0 := t.slowDownStartTime()
	if first.T > slowdownT0 {
		slowdownT0 = transformedT0
	}
	tm := time - slowdownT0
	speedDiff := second.V.Sub(pre.v0)
	diffSign := geo.Vector2{X: sign(speedDiff.X), Y: sign(speedDiff.Y)}
	signedA0 := geo.Vector2{X: diffSign.X * pre.a0.X, Y: diffSign.Y * pre.a0.Y}
	aDiff := pre.a1.Sub(pre.a0)
	signedADiff := geo.Vector2{X: diffSign.X * aDiff.X, Y: diffSign.Y * aDiff.Y}
	invSegmentTime := 1 / pre.segmentTime
	speed := pre.v0.Add(signedA0.Scale(tm)).Add(signedADiff.Scale(0.5 * tm * tm * invSegmentTime))
	d := pre.v0.Scale(tm).Add(signedA0.Scale(0.5 * tm * tm)).Add(signedADiff.Scale(tm * tm * tm * invSegmentTime / 6))
	return pre.partialDistance.Add(d), speed
}

func (t *Trajectory) timeForSegment(first, second VT2, pre segmentPrecomp) float64 {
	if !pre.slowdown {
		return second.T - first.T
	}
	if first.T < t.slowDownStartTime() {
		return t.slowDownStartTime() - first.T + pre.segmentTime
	}
	return pre.segmentTime
}

// Time returns the total trajectory duration including the slow-down stretch.
func (t *Trajectory) Time() float64 {
	if t.slowDownTime <= 0 {
		return t.profile[len(t.profile)-1].T
	}
	time := 0.0
	for i := 0; i < len(t.profile)-1; i++ {
		pre := t.precomputeSegment(t.profile[i], t.profile[i+1])
		time += t.timeForSegment(t.profile[i], t.profile[i+1], pre)
	}
	return time
}

// EndPosition integrates the full trajectory.
func (t *Trajectory) EndPosition() geo.Vector2 {
	offset := t.S0
	totalTime := 0.0
	for i := 0; i < len(t.profile)-1; i++ {
		pre := t.precomputeSegment(t.profile[i], t.profile[i+1])
		offset = offset.Add(t.segmentOffset(t.profile[i], t.profile[i+1], pre))
		totalTime += t.timeForSegment(t.profile[i], t.profile[i+1], pre)
	}
	return offset.Add(t.CorrectionOffsetPerSecond.Scale(totalTime))
}

// StateAt returns position and speed at the given time. Times past the end
// return the final state.
func (t *Trajectory) StateAt(time float64) State {
	offset := t.S0
	totalTime := 0.0
	for i := 0; i < len(t.profile)-1; i++ {
		pre := t.precomputeSegment(t.profile[i], t.profile[i+1])
		segmentTime := t.timeForSegment(t.profile[i], t.profile[i+1], pre)
		if totalTime+segmentTime > time {
			partDist, speed := t.partialSegmentOffsetAndSpeed(t.profile[i], t.profile[i+1], pre, totalTime, time)
			return State{
				Pos:   offset.Add(t.CorrectionOffsetPerSecond.Scale(time)).Add(partDist),
				Speed: speed,
			}
		}
		offset = offset.Add(t.segmentOffset(t.profile[i], t.profile[i+1], pre))
		totalTime += segmentTime
	}
	return State{
		Pos:   offset.Add(t.CorrectionOffsetPerSecond.Scale(totalTime)),
		Speed: t.profile[len(t.profile)-1].V,
	}
}

// LimitToTime truncates the trajectory at the given time, interpolating the
// final breakpoint. Only meaningful without an active slow-down tail.
func (t *Trajectory) LimitToTime(time float64) {
	for i := 0; i < len(t.profile)-1; i++ {
		if t.profile[i+1].T >= time {
			diff := 1.0
			if t.profile[i+1].T != t.profile[i].T {
				diff = (time - t.profile[i].T) / (t.profile[i+1].T - t.profile[i].T)
			}
			speed := t.profile[i].V.Add(t.profile[i+1].V.Sub(t.profile[i].V).Scale(diff))
			t.profile[i+1] = VT2{V: speed, T: time}
			t.profile = t.profile[:i+2]
			return
		}
	}
}

// Positions samples count states spaced timeInterval apart from the start of
// the trajectory; timeOffset is only added to the reported Time of each
// sample. Sampling past the trajectory end repeats the final state.
func (t *Trajectory) Positions(count int, timeInterval, timeOffset float64) []TrajectoryPoint {
	result := make([]TrajectoryPoint, count)
	for i := range result {
		result[i].Time = timeOffset + float64(i)*timeInterval
	}

	offset := t.S0
	totalTime := 0.0
	nextDesiredTime := 0.0
	resultCounter := 0
	for i := 0; i < len(t.profile)-1; i++ {
		pre := t.precomputeSegment(t.profile[i], t.profile[i+1])
		segmentTime := t.timeForSegment(t.profile[i], t.profile[i+1], pre)
		for totalTime+segmentTime >= nextDesiredTime {
			partDist, speed := t.partialSegmentOffsetAndSpeed(t.profile[i], t.profile[i+1], pre, totalTime, nextDesiredTime)
			result[resultCounter].Pos = offset.Add(partDist).Add(t.CorrectionOffsetPerSecond.Scale(nextDesiredTime))
			result[resultCounter].Speed = speed
			resultCounter++
			nextDesiredTime += timeInterval
			if resultCounter == len(result) {
				return result
			}
		}
		offset = offset.Add(t.segmentOffset(t.profile[i], t.profile[i+1], pre))
		totalTime += segmentTime
	}

	for resultCounter < len(result) {
		result[resultCounter].Pos = offset.Add(t.CorrectionOffsetPerSecond.Scale(totalTime))
		result[resultCounter].Speed = t.profile[len(t.profile)-1].V
		resultCounter++
	}
	return result
}

// BoundingBox returns the analytical bounding box of the trajectory,
// including curve apexes where an axis speed crosses zero between
// breakpoints.
func (t *Trajectory) BoundingBox() geo.BoundingBox {
	box := geo.NewBoundingBox(t.S0)

	offset := t.S0
	for i := 0; i < len(t.profile)-1; i++ {
		first, second := t.profile[i], t.profile[i+1]

		// zero crossings produce a local extremum between the breakpoints
		for _, axis := range [2]struct {
			v0, v1 float64
		}{{first.V.X, second.V.X}, {first.V.Y, second.V.Y}} {
			if (axis.v0 > 0) == (axis.v1 > 0) {
				continue
			}
			proportion := math.Abs(axis.v0) / (math.Abs(axis.v0) + math.Abs(axis.v1))
			relTime := (second.T - first.T) * proportion
			zeroSpeed := first.V.Add(second.V.Sub(first.V).Scale(proportion))
			zeroSegment := VT2{V: zeroSpeed, T: first.T + relTime}
			pre := t.precomputeSegment(first, zeroSegment)
			partial := offset.Add(t.segmentOffset(first, zeroSegment, pre)).
				Add(t.CorrectionOffsetPerSecond.Scale(relTime))
			box.MergePoint(partial)
		}

		pre := t.precomputeSegment(first, second)
		offset = offset.Add(t.segmentOffset(first, second, pre)).
			Add(t.CorrectionOffsetPerSecond.Scale(second.T - first.T))
		box.MergePoint(offset)
	}
	return box
}

// Points returns the breakpoint states. With an active slow-down tail the
// missing exponential part is compensated by a final zero-progress point.
func (t *Trajectory) Points() []TrajectoryPoint {
	result := make([]TrajectoryPoint, 0, len(t.profile)+1)
	result = append(result, TrajectoryPoint{
		State: State{Pos: t.S0, Speed: t.profile[0].V},
	})

	offset := t.S0
	time := 0.0
	for i := 0; i < len(t.profile)-1; i++ {
		pre := t.precomputeSegment(t.profile[i], t.profile[i+1])
		offset = offset.Add(t.segmentOffset(t.profile[i], t.profile[i+1], pre))
		time += t.timeForSegment(t.profile[i], t.profile[i+1], pre)
		result = append(result, TrajectoryPoint{
			State: State{Pos: offset, Speed: t.profile[i+1].V},
			Time:  time,
		})
	}
	if t.slowDownTime > 0 {
		result = append(result, TrajectoryPoint{
			State: State{Pos: offset, Speed: t.profile[len(t.profile)-1].V},
			Time:  time,
		})
	}
	return result
}

// ContinuationSpeed is the speed the robot would keep moving at after the
// profile ends, used by the search to scale its time updates.
func (t *Trajectory) ContinuationSpeed() geo.Vector2 {
	return t.profile[len(t.profile)-1].V
}
