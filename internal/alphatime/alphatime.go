// Package alphatime constructs acceleration-bounded planar trajectories from
// an (alpha, time) parameterization: a duration T and an angle alpha that
// distributes the acceleration budget between the two axes. It also provides
// the iterative (T, alpha) search that hits a requested end position.
package alphatime

import (
	"math"

	"github.com/banshee-field/fieldwork/internal/geo"
	"github.com/banshee-field/fieldwork/internal/profile"
)

const (
	regularTargetPrecision     = 0.01
	highQualityTargetPrecision = 0.0002

	maxSearchIterations     = 30
	highPrecisionIterations = 50

	// keeps angles directly on an invalid-band boundary out of the
	// invalid set
	floatingPointOffset = 1e-3
)

// adjustAngle maps an arbitrary angle into the feasible set. Around 0 and pi
// (x axis) and pi/2 and 3pi/2 (y axis) lie bands where one axis would need
// more than its acceleration share; the band half-width is
// asin(|dv|/(T*acc)). The angle is compressed onto the remaining
// circumference and shifted past the gaps.
func adjustAngle(startSpeed, endSpeed geo.Vector2, time, angle, acc float64) float64 {
	diff := endSpeed.Sub(startSpeed)
	absDiff := geo.Vector2{X: math.Abs(diff.X), Y: math.Abs(diff.Y)}
	if absDiff.X > time*acc || absDiff.Y > time*acc {
		// not solvable for any angle
		return angle
	}
	gapSizeHalfX := math.Asin(absDiff.X/(time*acc)) + floatingPointOffset
	// gaps are [-gX, gX] and [pi-gX, pi+gX], analogous for y around pi/2
	gapSizeHalfY := math.Asin(absDiff.Y/(time*acc)) + floatingPointOffset

	circumference := 2*math.Pi - gapSizeHalfX*4 - gapSizeHalfY*4
	angle = geo.NormalizeAnglePositive(angle)
	angle *= circumference / (2 * math.Pi)

	angle += gapSizeHalfX
	if angle > math.Pi/2-gapSizeHalfY {
		angle += gapSizeHalfY * 2
	}
	if angle > math.Pi-gapSizeHalfX {
		angle += gapSizeHalfX * 2
	}
	if angle > math.Pi*1.5-gapSizeHalfY {
		angle += gapSizeHalfY * 2
	}
	return angle
}

// boundedFastEndSpeed is the closest value to startSpeed within [0, endSpeed]
// per axis (or [endSpeed, 0] for negative components).
func boundedFastEndSpeed(startSpeed, endSpeed geo.Vector2) geo.Vector2 {
	bound := func(v0, v1 float64) float64 {
		return math.Max(math.Min(v0, math.Max(v1, 0)), math.Min(v1, 0))
	}
	return geo.Vector2{X: bound(startSpeed.X, endSpeed.X), Y: bound(startSpeed.Y, endSpeed.Y)}
}

func adjustAngleFastEndSpeed(startSpeed, endSpeed geo.Vector2, time, angle, acc float64) float64 {
	return adjustAngle(startSpeed, boundedFastEndSpeed(startSpeed, endSpeed), time, angle, acc)
}

// MinTimeExactEndSpeed is the duration of the fastest possible transition
// from v0 to exactly v1.
func MinTimeExactEndSpeed(v0, v1 geo.Vector2, acc float64) float64 {
	return v1.Sub(v0).Length() / acc
}

// MinTimeFastEndSpeed is the minimum duration when the end speed may fall
// anywhere in [0, v1] per axis.
func MinTimeFastEndSpeed(v0, v1 geo.Vector2, acc float64) float64 {
	return MinTimeExactEndSpeed(v0, boundedFastEndSpeed(v0, v1), acc)
}

// IsInputValidFastEndSpeed reports whether (time, acc) admit any fast-end
// trajectory from v0 to v1.
func IsInputValidFastEndSpeed(v0, v1 geo.Vector2, time, acc float64) bool {
	return time >= 0 && !math.IsNaN(time)
}

// PosInfo2D carries the end position of a trajectory evaluation plus the
// speed at which extra time extends the distance.
type PosInfo2D struct {
	EndPos          geo.Vector2
	IncreaseAtSpeed geo.Vector2
}

// CalculatePositionFastEndSpeed evaluates only the end position for the
// given total time (minimum time included). The input must be solvable.
func CalculatePositionFastEndSpeed(v0, v1 geo.Vector2, time, angle, acc, vMax float64) PosInfo2D {
	angle = adjustAngleFastEndSpeed(v0, v1, time, angle, acc)
	alphaX := math.Sin(angle)
	alphaY := math.Cos(angle)

	xInfo := profile.CalculateEndPos1DFastSpeed(v0.X, v1.X, time, alphaX > 0, acc*math.Abs(alphaX), vMax*math.Abs(alphaX))
	yInfo := profile.CalculateEndPos1DFastSpeed(v0.Y, v1.Y, time, alphaY > 0, acc*math.Abs(alphaY), vMax*math.Abs(alphaY))
	return PosInfo2D{
		EndPos:          geo.Vector2{X: xInfo.EndPos, Y: yInfo.EndPos},
		IncreaseAtSpeed: geo.Vector2{X: xInfo.IncreaseAtSpeed, Y: yInfo.IncreaseAtSpeed},
	}
}

// CalculatePositionExactEndSpeed is the exact-end-speed counterpart of
// CalculatePositionFastEndSpeed.
func CalculatePositionExactEndSpeed(v0, v1 geo.Vector2, time, angle, acc, vMax float64) PosInfo2D {
	angle = adjustAngle(v0, v1, time, angle, acc)
	alphaX := math.Sin(angle)
	alphaY := math.Cos(angle)

	diff := v1.Sub(v0)
	restTimeX := time - math.Abs(diff.X)/(acc*math.Abs(alphaX))
	restTimeY := time - math.Abs(diff.Y)/(acc*math.Abs(alphaY))

	xInfo := profile.CalculateEndPos1D(v0.X, v1.X, sign(alphaX)*restTimeX, acc*math.Abs(alphaX), vMax*math.Abs(alphaX))
	yInfo := profile.CalculateEndPos1D(v0.Y, v1.Y, sign(alphaY)*restTimeY, acc*math.Abs(alphaY), vMax*math.Abs(alphaY))
	return PosInfo2D{
		EndPos:          geo.Vector2{X: xInfo.EndPos, Y: yInfo.EndPos},
		IncreaseAtSpeed: geo.Vector2{X: xInfo.IncreaseAtSpeed, Y: yInfo.IncreaseAtSpeed},
	}
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

// CalculateTrajectoryFastEndSpeed builds the trajectory for the given extra
// time beyond the minimum transition. Pass minTime < 0 to have it computed;
// a cached value must equal MinTimeFastEndSpeed(v0, v1, acc).
func CalculateTrajectoryFastEndSpeed(v0, v1 geo.Vector2, startPos geo.Vector2, time, angle, acc, vMax, slowDownTime, minTime float64) *profile.Trajectory {
	if minTime < 0 {
		minTime = MinTimeFastEndSpeed(v0, v1, acc)
	}
	time += minTime

	angle = adjustAngleFastEndSpeed(v0, v1, time, angle, acc)
	alphaX := math.Sin(angle)
	alphaY := math.Cos(angle)

	xProfile := profile.Calculate1DTrajectoryFastEndSpeed(v0.X, v1.X, time, alphaX > 0, acc*math.Abs(alphaX), vMax*math.Abs(alphaX))
	yProfile := profile.Calculate1DTrajectoryFastEndSpeed(v0.Y, v1.Y, time, alphaY > 0, acc*math.Abs(alphaY), vMax*math.Abs(alphaY))
	return profile.NewTrajectory(xProfile, yProfile, startPos, slowDownTime)
}

// CalculateTrajectoryExactEndSpeed builds the trajectory ending at exactly
// v1 for the given extra time beyond the minimum transition.
func CalculateTrajectoryExactEndSpeed(v0, v1 geo.Vector2, startPos geo.Vector2, time, angle, acc, vMax, slowDownTime, minTime float64) *profile.Trajectory {
	if minTime < 0 {
		minTime = MinTimeExactEndSpeed(v0, v1, acc)
	}
	time += minTime

	angle = adjustAngle(v0, v1, time, angle, acc)
	alphaX := math.Sin(angle)
	alphaY := math.Cos(angle)

	diff := v1.Sub(v0)
	restTimeX := time - math.Abs(diff.X)/(acc*math.Abs(alphaX))
	restTimeY := time - math.Abs(diff.Y)/(acc*math.Abs(alphaY))

	xProfile := profile.Calculate1DTrajectory(v0.X, v1.X, math.Max(restTimeX, 0), alphaX > 0, acc*math.Abs(alphaX), vMax*math.Abs(alphaX))
	yProfile := profile.Calculate1DTrajectory(v0.Y, v1.Y, math.Max(restTimeY, 0), alphaY > 0, acc*math.Abs(alphaY), vMax*math.Abs(alphaY))
	return profile.NewTrajectory(xProfile, yProfile, startPos, slowDownTime)
}

func fastEndSpeedCenterTimePos(startSpeed, endSpeed geo.Vector2, time float64) geo.Vector2 {
	return startSpeed.Add(boundedFastEndSpeed(startSpeed, endSpeed)).Scale(0.5 * time)
}

func centerTimePos(startSpeed, endSpeed geo.Vector2, time float64) geo.Vector2 {
	return startSpeed.Add(endSpeed).Scale(0.5 * time)
}

// MinTimePos is the position reached by the fastest possible v0 -> v1
// transition, optionally including the slow-down stretch.
func MinTimePos(v0, v1 geo.Vector2, acc, slowDownTime float64) geo.Vector2 {
	minTime := MinTimeExactEndSpeed(v0, v1, acc)
	if slowDownTime == 0 {
		return v0.Add(v1).Scale(minTime * 0.5)
	}
	xProfile := profile.Profile1D{Points: []profile.VT{{V: v0.X, T: 0}, {V: v1.X, T: minTime}}}
	yProfile := profile.Profile1D{Points: []profile.VT{{V: v0.Y, T: 0}, {V: v1.Y, T: minTime}}}
	traj := profile.NewTrajectory(xProfile, yProfile, geo.Vector2{}, slowDownTime)
	return traj.EndPosition()
}
