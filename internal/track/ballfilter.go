package track

import (
	"github.com/banshee-field/fieldwork/internal/geo"
)

// VisionFrame is a single ball detection converted into the field frame,
// together with the nearest robot at detection time for collision reasoning.
type VisionFrame struct {
	Pos          geo.Vector2
	Time         int64
	CameraID     uint32
	NearestRobot RobotInfo
}

// acceptBallDist gates ball detections against the filter prediction.
const acceptBallDist = 0.5

// ballGroundFilter is the rolling-ball Kalman filter. The collision filter
// composes two of them: a live one and a past-state one delayed by a single
// vision tick.
type ballGroundFilter struct {
	kalman    *kalman2D
	stateTime int64
}

func newBallGroundFilter(frame VisionFrame, cfg FilterConfig) *ballGroundFilter {
	return &ballGroundFilter{
		kalman:    newKalman2D(frame.Pos.X, frame.Pos.Y, cfg.ProcessNoisePos, cfg.ProcessNoiseVel, cfg.MeasurementNoise),
		stateTime: frame.Time,
	}
}

func (f *ballGroundFilter) clone() *ballGroundFilter {
	return &ballGroundFilter{kalman: f.kalman.clone(), stateTime: f.stateTime}
}

// reset re-seeds the filter from a frame instead of stepping it forward,
// avoiding divergence after discontinuities such as the ball being grabbed.
func (f *ballGroundFilter) reset(frame VisionFrame) {
	f.kalman.reset(frame.Pos.X, frame.Pos.Y)
	f.stateTime = frame.Time
}

func (f *ballGroundFilter) process(frame VisionFrame) {
	dt := float64(frame.Time-f.stateTime) / 1e9
	if dt > 0 {
		f.kalman.predict(dt)
		f.stateTime = frame.Time
	}
	f.kalman.update(frame.Pos.X, frame.Pos.Y)
}

// stateAt extrapolates the filter state to the given time without mutating
// it, so repeated snapshot queries stay consistent.
func (f *ballGroundFilter) stateAt(time int64) Ball {
	pos := geo.Vector2{X: f.kalman.posX(), Y: f.kalman.posY()}
	speed := geo.Vector2{X: f.kalman.velX(), Y: f.kalman.velY()}
	dt := float64(time-f.stateTime) / 1e9
	if dt > 0 {
		pos = pos.Add(speed.Scale(dt))
	}
	return Ball{Pos: pos, Speed: speed}
}

func (f *ballGroundFilter) accepts(frame VisionFrame) bool {
	return f.stateAt(frame.Time).Pos.Distance(frame.Pos) < acceptBallDist
}
