package alphatime

import (
	"math"

	"github.com/banshee-field/fieldwork/internal/geo"
	"github.com/banshee-field/fieldwork/internal/profile"
)

// Result is the outcome of a (T, alpha) search. Time and Angle are the input
// parameters that regenerate Traj via the matching Calculate function; the
// planner stores them to rebuild and rescale segments.
type Result struct {
	Traj  *profile.Trajectory
	Time  float64
	Angle float64
	Valid bool
}

// FindTrajectoryFastEndSpeed searches for the (T, alpha) pair whose fast-end
// trajectory from v0 towards v1 ends at position (relative to the start).
// With v1 = 0 fast and exact end speed coincide and the exact search is used.
func FindTrajectoryFastEndSpeed(v0, v1, position geo.Vector2, acc, vMax, slowDownTime float64, highPrecision bool) Result {
	if v1.X == 0 && v1.Y == 0 {
		return FindTrajectoryExactEndSpeed(v0, v1, position, acc, vMax, slowDownTime, highPrecision)
	}

	minTimeDistance := position.Distance(MinTimePos(v0, v1, acc, 0))

	// rough time estimate from distance
	estimatedTime := minTimeDistance / acc
	estimateCenterPos := fastEndSpeedCenterTimePos(v0, v1, estimatedTime)
	estimatedAngle := geo.NormalizeAnglePositive(position.Sub(estimateCenterPos).Angle())
	estimatedTime = math.Max(estimatedTime, 0.001)
	if math.IsNaN(estimatedTime) {
		estimatedTime = 3
	}
	if math.IsNaN(estimatedAngle) {
		// 0 is floating point unstable, don't use that
		estimatedAngle = 0.05
	}

	minimumTime := MinTimeFastEndSpeed(v0, v1, acc)

	currentTime := estimatedTime
	currentAngle := estimatedAngle

	distanceFactor := 0.8
	lastCenterDistanceDiff := 0.0
	angleFactor := 0.8
	lastAngleDiff := 0.0

	iterations := maxSearchIterations
	if highPrecision {
		iterations = highPrecisionIterations
	}
	precision := regularTargetPrecision
	if highPrecision {
		precision = highQualityTargetPrecision
	}

	for i := 0; i < iterations; i++ {
		currentTime = math.Max(currentTime, 0)

		var endPos geo.Vector2
		var assumedSpeed float64
		var result *profile.Trajectory
		if slowDownTime > 0 {
			result = CalculateTrajectoryFastEndSpeed(v0, v1, geo.Vector2{}, currentTime, currentAngle, acc, vMax, slowDownTime, minimumTime)
			endPos = result.EndPosition()
			continuation := result.ContinuationSpeed()
			assumedSpeed = math.Max(math.Abs(continuation.X), math.Abs(continuation.Y))
		} else {
			info := CalculatePositionFastEndSpeed(v0, v1, currentTime+minimumTime, currentAngle, acc, vMax)
			endPos = info.EndPos
			assumedSpeed = math.Max(math.Abs(info.IncreaseAtSpeed.X), math.Abs(info.IncreaseAtSpeed.Y))
		}

		if position.Distance(endPos) < precision {
			if slowDownTime <= 0 {
				result = CalculateTrajectoryFastEndSpeed(v0, v1, geo.Vector2{}, currentTime, currentAngle, acc, vMax, slowDownTime, minimumTime)
			}
			return Result{Traj: result, Time: currentTime, Angle: currentAngle, Valid: true}
		}

		currentCenterTimePos := fastEndSpeedCenterTimePos(v0, v1, currentTime+minimumTime)
		newDistance := endPos.Distance(currentCenterTimePos)
		targetCenterDistance := currentCenterTimePos.Distance(position)
		centerDistanceDiff := targetCenterDistance - newDistance
		if (lastCenterDistanceDiff < 0) != (centerDistanceDiff < 0) {
			distanceFactor *= 0.9
		} else {
			distanceFactor *= 1.05
		}
		lastCenterDistanceDiff = centerDistanceDiff
		currentTime += centerDistanceDiff * distanceFactor / math.Max(0.5, assumedSpeed)

		newAngle := endPos.Sub(currentCenterTimePos).Angle()
		targetCenterAngle := position.Sub(currentCenterTimePos).Angle()
		angleDiff := geo.AngleDiff(newAngle, targetCenterAngle)
		if i >= 4 && (angleDiff < 0) != (lastAngleDiff < 0) {
			angleFactor *= 0.5
		}
		lastAngleDiff = angleDiff
		currentAngle += angleDiff * angleFactor
	}
	return Result{}
}

// necessaryAcceleration solves rampDistance(v0, 0) == d per axis.
func necessaryAcceleration(v0, distance geo.Vector2) geo.Vector2 {
	return geo.Vector2{
		X: v0.X * math.Abs(v0.X) * 0.5 / distance.X,
		Y: v0.Y * math.Abs(v0.Y) * 0.5 / distance.Y,
	}
}

// FindTrajectoryExactEndSpeed searches for the (T, alpha) pair whose
// trajectory from v0 to exactly v1 ends at position (relative to the start).
func FindTrajectoryExactEndSpeed(v0, v1, position geo.Vector2, acc, vMax, slowDownTime float64, highPrecision bool) Result {
	const maxAccelerationFactor = 1.2

	// a plain constant deceleration can reach the target: skip the search
	if v1.X == 0 && v1.Y == 0 {
		necessaryAcc := necessaryAcceleration(v0, position)
		accLength := necessaryAcc.Length()
		timeDiff := math.Abs(math.Abs(v0.X)/necessaryAcc.X - math.Abs(v0.Y)/necessaryAcc.Y)
		if accLength > acc && accLength < acc*maxAccelerationFactor && timeDiff < 0.1 {
			xProfile := profile.Profile1D{Points: []profile.VT{
				{V: v0.X, T: 0},
				{V: 0, T: math.Abs(v0.X / necessaryAcc.X)},
			}}
			yProfile := profile.Profile1D{Points: []profile.VT{
				{V: v0.Y, T: 0},
				{V: 0, T: math.Abs(v0.Y / necessaryAcc.Y)},
			}}
			traj := profile.NewTrajectory(xProfile, yProfile, geo.Vector2{}, slowDownTime)
			return Result{Traj: traj, Time: 0, Angle: 0, Valid: true}
		}
	}

	minPos := MinTimePos(v0, v1, acc, slowDownTime)
	minTimeDistance := position.Distance(minPos)
	useMinTimePosForCenterPos := minTimeDistance < 0.1

	estimatedTime := minTimeDistance / acc
	estimateCenterPos := centerTimePos(v0, v1, estimatedTime)
	estimatedAngle := geo.NormalizeAnglePositive(position.Sub(estimateCenterPos).Angle())
	estimatedTime = math.Max(estimatedTime, 0.01)
	if math.IsNaN(estimatedTime) {
		estimatedTime = 3
	}
	if math.IsNaN(estimatedAngle) {
		estimatedAngle = 0.05
	}

	minimumTime := MinTimeExactEndSpeed(v0, v1, acc)

	currentTime := estimatedTime
	currentAngle := estimatedAngle

	distanceFactor := 0.8
	lastCenterDistanceDiff := 0.0
	angleFactor := 0.8
	lastAngleDiff := 0.0

	iterations := maxSearchIterations
	if highPrecision {
		iterations = highPrecisionIterations
	}
	precision := regularTargetPrecision
	if highPrecision {
		precision = highQualityTargetPrecision
	}

	for i := 0; i < iterations; i++ {
		currentTime = math.Max(currentTime, 0)

		var endPos geo.Vector2
		var assumedSpeed float64
		var result *profile.Trajectory
		if slowDownTime > 0 {
			result = CalculateTrajectoryExactEndSpeed(v0, v1, geo.Vector2{}, currentTime, currentAngle, acc, vMax, slowDownTime, minimumTime)
			endPos = result.EndPosition()
			continuation := result.ContinuationSpeed()
			assumedSpeed = math.Max(math.Abs(continuation.X), math.Abs(continuation.Y))
		} else {
			info := CalculatePositionExactEndSpeed(v0, v1, currentTime+minimumTime, currentAngle, acc, vMax)
			endPos = info.EndPos
			assumedSpeed = math.Max(math.Abs(info.IncreaseAtSpeed.X), math.Abs(info.IncreaseAtSpeed.Y))
		}

		if position.Distance(endPos) < precision {
			if slowDownTime <= 0 {
				result = CalculateTrajectoryExactEndSpeed(v0, v1, geo.Vector2{}, currentTime, currentAngle, acc, vMax, slowDownTime, minimumTime)
			}
			return Result{Traj: result, Time: currentTime, Angle: currentAngle, Valid: true}
		}

		currentCenterTimePos := centerTimePos(v0, v1, currentTime+minimumTime)
		if useMinTimePosForCenterPos {
			currentCenterTimePos = minPos
		}
		newDistance := endPos.Distance(currentCenterTimePos)
		targetCenterDistance := currentCenterTimePos.Distance(position)
		centerDistanceDiff := targetCenterDistance - newDistance
		if (lastCenterDistanceDiff < 0) != (centerDistanceDiff < 0) {
			distanceFactor *= 0.85
		} else {
			distanceFactor *= 1.05
		}
		lastCenterDistanceDiff = centerDistanceDiff
		currentTime += centerDistanceDiff * distanceFactor / math.Max(0.5, assumedSpeed)

		newAngle := endPos.Sub(currentCenterTimePos).Angle()
		targetCenterAngle := position.Sub(currentCenterTimePos).Angle()
		angleDiff := geo.AngleDiff(newAngle, targetCenterAngle)
		if i >= 4 && (angleDiff < 0) != (lastAngleDiff < 0) {
			angleFactor *= 0.5
		}
		lastAngleDiff = angleDiff
		currentAngle += angleDiff * angleFactor
	}
	return Result{}
}
