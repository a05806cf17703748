package track

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/banshee-field/fieldwork/internal/geo"
)

const (
	// resetSpeedTimeMs: below this invisibility duration the reported ball
	// velocity is held from the visible filter to avoid jitter.
	resetSpeedTimeMs = 150
	// activateDribblingTimeMs: invisibility duration after which an active
	// ball offset switches the filter into dribbling projection.
	activateDribblingTimeMs = 80
)

// intersectLineSegmentRobot intersects the segment p1-p2 with the robot
// outline: the hull circle capped by the dribbler bar. The dribbler
// intersection wins when the segment approaches from the front; otherwise
// the closer of dribbler and hull intersection is returned.
func intersectLineSegmentRobot(p1, p2 geo.Vector2, robot RobotInfo, robotRadius, robotSizeFactor float64) (geo.Vector2, bool) {
	dribblerPos := robot.DribblerPos
	if robotSizeFactor != 1 {
		robotRadius *= robotSizeFactor
		dribblerPos = robot.RobotPos.Add(robot.DribblerPos.Sub(robot.RobotPos).Scale(robotSizeFactor))
	}

	toDribbler := dribblerPos.Sub(robot.RobotPos).Normalized()
	dribblerSideways := toDribbler.Perpendicular()

	var dribblerIntersectionPos geo.Vector2
	haveDribblerIntersection := false
	if t1, t2, ok := geo.IntersectLineLine(dribblerPos, dribblerSideways, p1, p2.Sub(p1)); ok {
		if math.Abs(t1) <= dribblerWidth/2 && t2 >= 0 && t2 <= 1 {
			dribblerIntersectionPos = dribblerPos.Add(dribblerSideways.Scale(t1))
			haveDribblerIntersection = true
			if p1.Sub(dribblerPos).Dot(toDribbler) >= 0 {
				// the segment comes from in front of the robot, the
				// dribbler intersection is the correct one
				return dribblerIntersectionPos, true
			}
		}
	}
	hullIntersection, haveHull := geo.IntersectLineSegmentCircle(p1, p2, robot.RobotPos, robotRadius)
	if haveDribblerIntersection && haveHull {
		if hullIntersection.Sub(p1).Length() < dribblerIntersectionPos.Sub(p1).Length() {
			return hullIntersection, true
		}
		return dribblerIntersectionPos, true
	}
	if haveHull {
		return hullIntersection, true
	}
	return geo.Vector2{}, false
}

// isInsideRobot reports whether pos lies within the robot hull behind the
// dribbler bar.
func isInsideRobot(pos geo.Vector2, robot RobotInfo, robotRadius float64) bool {
	if pos.Sub(robot.RobotPos).Length() > robotRadius {
		return false
	}
	toDribbler := robot.DribblerDir()
	return pos.Sub(robot.DribblerPos).Dot(toDribbler) <= 0
}

// isBallVisible projects the robot silhouette from the camera onto the
// ground plane and reports whether a ball at pos could be detected.
func isBallVisible(pos geo.Vector2, robot RobotInfo, robotRadius, robotHeight float64, cameraPos geo.Vector3) bool {
	toBall := geo.Vector3{X: pos.X - cameraPos.X, Y: pos.Y - cameraPos.Y, Z: BallRadius - cameraPos.Z}
	length := (cameraPos.Z - robotHeight) / (cameraPos.Z - BallRadius)
	projected := geo.Vector2{
		X: cameraPos.X + toBall.X*length,
		Y: cameraPos.Y + toBall.Y*length,
	}
	inRadius := robot.RobotPos.Sub(projected).Length() <= robotRadius
	frontOfDribbler := projected.Sub(robot.DribblerPos).Dot(robot.DribblerPos.Sub(robot.RobotPos)) > 0
	_, hasIntersection := intersectLineSegmentRobot(pos, projected, robot, robotRadius, 0.98)
	return (!inRadius || frontOfDribbler) && !hasIntersection
}

// unprojectRelativePosition maps a robot-local ball offset back into the
// field frame.
func unprojectRelativePosition(relativePos geo.Vector2, robot RobotInfo) geo.Vector2 {
	toDribbler := robot.DribblerDir()
	relativeBallPos := toDribbler.Scale(relativePos.X).Add(toDribbler.Perpendicular().Scale(relativePos.Y))
	return robot.RobotPos.Add(relativeBallPos)
}

// BallFilter is the ball-ground-collision filter: a live ground filter plus
// a past-state filter delayed by one vision tick, extended with ball/robot
// interaction reasoning. When the extrapolated ball entered a robot hull or
// crossed the dribbler between past and current state, the reported position
// is projected onto the entry intersection and a dribbling offset is
// recorded.
type BallFilter struct {
	id            string
	primaryCamera uint32
	cameraInfo    *CameraInfo
	cfg           FilterConfig

	ground       *ballGroundFilter
	past         *ballGroundFilter
	pendingFrame *VisionFrame

	initTime     int64
	frameCounter int
	lastUpdate   int64

	lastVisionTime   int64
	lastDetectionPos geo.Vector2

	localBallOffset     *BallOffsetInfo
	insideRobotOffset   *BallOffsetInfo
	lastReportedBallPos geo.Vector2
	resetFilters        bool
	feasiblyInvisible   bool

	debug map[string]string
}

// NewBallFilter seeds a filter from a first detection.
func NewBallFilter(frame VisionFrame, cameraInfo *CameraInfo, cfg FilterConfig) *BallFilter {
	return &BallFilter{
		id:                  fmt.Sprintf("ball_%s", uuid.NewString()),
		primaryCamera:       frame.CameraID,
		cameraInfo:          cameraInfo,
		cfg:                 cfg,
		ground:              newBallGroundFilter(frame, cfg),
		past:                newBallGroundFilter(frame, cfg),
		initTime:            frame.Time,
		lastUpdate:          frame.Time,
		lastVisionTime:      frame.Time,
		lastDetectionPos:    frame.Pos,
		lastReportedBallPos: frame.Pos,
		debug:               make(map[string]string),
	}
}

// CloneForCamera copies the filter state onto a new primary camera for
// camera hand-off.
func (f *BallFilter) CloneForCamera(cameraID uint32) *BallFilter {
	clone := *f
	clone.id = fmt.Sprintf("ball_%s", uuid.NewString())
	clone.primaryCamera = cameraID
	clone.ground = f.ground.clone()
	clone.past = f.past.clone()
	if f.pendingFrame != nil {
		pending := *f.pendingFrame
		clone.pendingFrame = &pending
	}
	if f.localBallOffset != nil {
		offset := *f.localBallOffset
		clone.localBallOffset = &offset
	}
	if f.insideRobotOffset != nil {
		offset := *f.insideRobotOffset
		clone.insideRobotOffset = &offset
	}
	clone.debug = make(map[string]string)
	return &clone
}

// AcceptDetection reports whether the frame plausibly belongs to this
// filter's ball, judged against both the reported and the filtered position.
func (f *BallFilter) AcceptDetection(frame VisionFrame) bool {
	return f.lastReportedBallPos.Distance(frame.Pos) < acceptBallDist || f.ground.accepts(frame)
}

// ProcessVisionFrame feeds a frame into the live filter and the delayed past
// filter. After a flagged discontinuity both sub-filters re-initialize from
// the frame instead of stepping forward.
func (f *BallFilter) ProcessVisionFrame(frame VisionFrame) {
	f.lastVisionTime = frame.Time
	f.lastDetectionPos = frame.Pos
	if f.resetFilters {
		f.ground.reset(frame)
		f.past.reset(frame)
		f.pendingFrame = nil
		f.resetFilters = false
	} else {
		f.ground.process(frame)
		if f.pendingFrame != nil {
			f.past.process(*f.pendingFrame)
		}
		f.pendingFrame = &frame
	}
	f.frameCounter++
	f.lastUpdate = frame.Time
}

// FrameCounter is the number of accepted detections.
func (f *BallFilter) FrameCounter() int { return f.frameCounter }

// LastUpdate is the source time of the last accepted detection.
func (f *BallFilter) LastUpdate() int64 { return f.lastUpdate }

// InitTime is the filter creation time; the oldest filter wins snapshot
// selection.
func (f *BallFilter) InitTime() int64 { return f.initTime }

// PrimaryCamera is the camera driving this filter's main state.
func (f *BallFilter) PrimaryCamera() uint32 { return f.primaryCamera }

// IsFlying reports flight tracking; the ground-collision filter tracks
// rolling balls only.
func (f *BallFilter) IsFlying() bool { return false }

// FeasiblyInvisible reports whether the ball could currently be hidden
// behind a robot given the camera geometry; the tracker extends the filter
// timeout while this holds.
func (f *BallFilter) FeasiblyInvisible() bool { return f.feasiblyInvisible }

// DistToCamera is the comparison key for ball filter prioritization:
// horizontal distance for rolling balls, true 3-D distance during flight.
func (f *BallFilter) DistToCamera(flying bool) float64 {
	camera, ok := f.cameraInfo.Position[f.primaryCamera]
	if !ok {
		return math.Inf(1)
	}
	horizontal := f.lastDetectionPos.Distance(geo.Vector2{X: camera.X, Y: camera.Y})
	if !flying {
		return horizontal
	}
	dz := camera.Z - BallRadius
	return math.Sqrt(horizontal*horizontal + dz*dz)
}

// Debug returns the diagnostic values recorded during the last state write.
func (f *BallFilter) Debug() map[string]string { return f.debug }

func (f *BallFilter) setDebug(key, value string) {
	f.debug[key] = value
}

// WriteBallState computes the reported ball state for the given time and
// records the reported position for the next acceptance check.
func (f *BallFilter) WriteBallState(time int64, robots []RobotInfo) Ball {
	ball := f.computeBallState(time, robots)
	f.lastReportedBallPos = ball.Pos
	f.feasiblyInvisible = f.checkFeasibleInvisibility(robots)
	return ball
}

func (f *BallFilter) checkFeasibleInvisibility(robots []RobotInfo) bool {
	if f.localBallOffset == nil {
		return false
	}
	robot, ok := findRobot(robots, f.localBallOffset.RobotIdentifier)
	if !ok {
		return false
	}
	camera, ok := f.cameraInfo.Position[f.primaryCamera]
	if !ok {
		return false
	}
	if !isBallVisible(f.localBallOffset.PushingBallPos, robot, RobotRadius, RobotHeight, camera) {
		return true
	}
	return !isBallVisible(f.lastReportedBallPos, robot, RobotRadius, RobotHeight, camera)
}

func findRobot(robots []RobotInfo, identifier int) (RobotInfo, bool) {
	for _, robot := range robots {
		if robot.Identifier == identifier {
			return robot, true
		}
	}
	return RobotInfo{}, false
}

func (f *BallFilter) updateDribblingInfo(projectedBallPos geo.Vector2, robot RobotInfo) {
	toDribbler := robot.DribblerDir()
	relative := projectedBallPos.Sub(robot.RobotPos)
	f.localBallOffset = &BallOffsetInfo{
		RobotIdentifier: robot.Identifier,
		BallOffset: geo.Vector2{
			X: relative.Dot(toDribbler),
			Y: relative.Dot(toDribbler.Perpendicular()),
		},
		PushingBallPos: projectedBallPos,
	}
}

// setBallData overwrites the reported position, rewriting the velocity only
// after the speed re-write threshold has passed.
func setBallData(ball *Ball, pos, speed geo.Vector2, writeSpeed bool) {
	ball.Pos = pos
	if writeSpeed {
		ball.Speed = speed
	}
}

func (f *BallFilter) computeBallState(time int64, robots []RobotInfo) Ball {
	ball := f.ground.stateAt(time)
	f.setDebug("ground filter mode", "regular ground filter")

	// the collision and dribbling reasoning below can be short-circuited to
	// fall back to the raw ground filter
	if !f.cfg.CollisionReasoning {
		return ball
	}

	pastState := f.past.stateAt(f.lastVisionTime + 1)

	invisibleTimeMs := (time - f.lastVisionTime) / 1e6
	writeBallSpeed := invisibleTimeMs > resetSpeedTimeMs
	f.setDebug("ball invisible time", fmt.Sprintf("%dms", invisibleTimeMs))

	if invisibleTimeMs > activateDribblingTimeMs && f.localBallOffset != nil {
		if robot, ok := findRobot(robots, f.localBallOffset.RobotIdentifier); ok {
			ballPos := unprojectRelativePosition(f.localBallOffset.BallOffset, robot)
			if isInsideRobot(f.localBallOffset.PushingBallPos, robot, RobotRadius) {
				f.localBallOffset.PushingBallPos = ballPos
			}
			camera := f.cameraInfo.Position[f.primaryCamera]
			if isBallVisible(f.localBallOffset.PushingBallPos, robot, RobotRadius, RobotHeight, camera) {
				setBallData(&ball, ballPos, robot.Speed, writeBallSpeed)
				f.setDebug("ground filter mode", "dribbling")
			} else {
				setBallData(&ball, f.localBallOffset.PushingBallPos, geo.Vector2{}, writeBallSpeed)
				f.setDebug("ground filter mode", "invisible standing ball")
			}
			f.resetFilters = true
			return ball
		}
	}
	if invisibleTimeMs <= activateDribblingTimeMs {
		f.localBallOffset = nil
	}

	pastPos := pastState.Pos
	currentPos := ball.Pos
	for _, robot := range robots {
		if isInsideRobot(pastPos, robot, RobotRadius) {
			if f.insideRobotOffset != nil && f.insideRobotOffset.RobotIdentifier == robot.Identifier {
				ballPos := unprojectRelativePosition(f.insideRobotOffset.BallOffset, robot)
				setBallData(&ball, ballPos, robot.Speed, writeBallSpeed)
				f.setDebug("ground filter mode", "inside robot (keep projection)")
				f.localBallOffset = f.insideRobotOffset
				return ball
			}

			relativeSpeed := pastState.Speed.Sub(robot.Speed)
			projectDir := relativeSpeed.Scale(-1)
			if relativeSpeed.IsZero(0.001) {
				projectDir = pastPos.Sub(robot.RobotPos)
			}
			projectDir = projectDir.Normalized()
			closeIntersection, haveClose := intersectLineSegmentRobot(pastPos, pastPos.Add(projectDir.Scale(1000)), robot, RobotRadius, 1)
			farIntersection, haveFar := intersectLineSegmentRobot(pastPos, pastPos.Sub(projectDir.Scale(1000)), robot, RobotRadius, 1)
			if haveClose && haveFar {
				closeDist := closeIntersection.Sub(pastPos).Length()
				farDist := farIntersection.Sub(pastPos).Length()
				projected := farIntersection
				if closeDist < farDist*2 {
					projected = closeIntersection
				}
				setBallData(&ball, projected, robot.Speed, writeBallSpeed)
				f.updateDribblingInfo(projected, robot)
				f.insideRobotOffset = f.localBallOffset
				f.setDebug("ground filter mode", "inside robot (new projection)")
				return ball
			}
		}

		if intersection, ok := intersectLineSegmentRobot(pastPos, currentPos, robot, RobotRadius, 1); ok {
			currentPos = intersection
			setBallData(&ball, currentPos, robot.Speed, writeBallSpeed)
			f.setDebug("ground filter mode", "outside robot projection")
			f.updateDribblingInfo(intersection, robot)
		}
	}

	f.insideRobotOffset = nil
	return ball
}
