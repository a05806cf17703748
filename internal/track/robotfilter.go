package track

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/banshee-field/fieldwork/internal/geo"
	"github.com/banshee-field/fieldwork/internal/sslvision"
)

// FilterConfig carries the shared noise and limit parameters of the per
// object filters.
type FilterConfig struct {
	ProcessNoisePos  float64
	ProcessNoiseVel  float64
	MeasurementNoise float64
	// MaxSpeed is the speed above which a robot state is clamped and
	// flagged estimate-only.
	MaxSpeed float64
	// CollisionReasoning enables ball/robot collision and dribbling
	// projection in the ball filter.
	CollisionReasoning bool
}

// RobotFilter tracks a single robot hypothesis: a constant-velocity Kalman
// filter for position plus a scalar filter for orientation. Multiple filters
// may exist per robot id while cameras disagree; the tracker picks the best
// one per snapshot.
type RobotFilter struct {
	id            string
	robotID       uint32
	primaryCamera uint32

	position    *kalman2D
	orientation *kalman1D

	frameCounter int
	lastUpdate   int64 // source time of the last accepted frame
	stateTime    int64 // time the filter state refers to

	kickChip   bool
	kickLinear bool

	cfg FilterConfig
}

// fieldOrientation converts a vision orientation into the field frame. The
// field frame is the vision frame rotated by +90 degrees.
func fieldOrientation(visionPhi float64) float64 {
	return visionPhi + math.Pi/2
}

func newRobotFilter(detection sslvision.DetectionRobot, sourceTime int64, cameraID uint32, cfg FilterConfig) *RobotFilter {
	pos := sslvision.FieldFromVision(detection.X, detection.Y)
	f := &RobotFilter{
		id:            fmt.Sprintf("flt_%s", uuid.NewString()),
		robotID:       detection.RobotID,
		primaryCamera: cameraID,
		position:      newKalman2D(pos.X, pos.Y, cfg.ProcessNoisePos, cfg.ProcessNoiseVel, cfg.MeasurementNoise),
		orientation:   newKalman1D(fieldOrientation(detection.Orientation), cfg.ProcessNoiseVel, cfg.MeasurementNoise),
		stateTime:     sourceTime,
		lastUpdate:    sourceTime,
		cfg:           cfg,
	}
	return f
}

// Update predicts the filter state forward to the given time. Times before
// the current state time are ignored.
func (f *RobotFilter) Update(time int64) {
	dt := float64(time-f.stateTime) / 1e9
	if dt <= 0 {
		return
	}
	f.position.predict(dt)
	f.orientation.predict(dt)
	f.stateTime = time
}

// AddVisionFrame folds a detection into the filter state.
func (f *RobotFilter) AddVisionFrame(cameraID uint32, detection sslvision.DetectionRobot, sourceTime int64) {
	f.Update(sourceTime)
	pos := sslvision.FieldFromVision(detection.X, detection.Y)
	f.position.update(pos.X, pos.Y)
	if detection.HasOrientation {
		f.orientation.update(fieldOrientation(detection.Orientation))
	}
	f.primaryCamera = cameraID
	f.frameCounter++
	f.lastUpdate = sourceTime
}

// AddRadioCommand records kick feedback from the radio link.
func (f *RobotFilter) AddRadioCommand(kickChip, kickLinear bool, time int64) {
	f.kickChip = kickChip
	f.kickLinear = kickLinear
}

// DistanceTo returns the distance between the predicted robot position and a
// detection, used for association gating.
func (f *RobotFilter) DistanceTo(detection sslvision.DetectionRobot) float64 {
	pos := sslvision.FieldFromVision(detection.X, detection.Y)
	return f.RobotPos().Distance(pos)
}

// FrameCounter is the number of accepted detections.
func (f *RobotFilter) FrameCounter() int { return f.frameCounter }

// LastUpdate is the source time of the last accepted detection.
func (f *RobotFilter) LastUpdate() int64 { return f.lastUpdate }

// RobotPos returns the filtered robot centre position.
func (f *RobotFilter) RobotPos() geo.Vector2 {
	return geo.Vector2{X: f.position.posX(), Y: f.position.posY()}
}

// Speed returns the filtered robot velocity.
func (f *RobotFilter) Speed() geo.Vector2 {
	return geo.Vector2{X: f.position.velX(), Y: f.position.velY()}
}

// DribblerPos returns the dribbler bar centre in front of the robot.
func (f *RobotFilter) DribblerPos() geo.Vector2 {
	phi := f.orientation.phi
	return f.RobotPos().Add(geo.Vector2{X: math.Cos(phi), Y: math.Sin(phi)}.Scale(dribblerOffset))
}

// Info assembles the per-frame robot snapshot handed to the ball filters.
func (f *RobotFilter) Info() RobotInfo {
	return RobotInfo{
		Identifier:  int(f.robotID),
		RobotPos:    f.RobotPos(),
		DribblerPos: f.DribblerPos(),
		Speed:       f.Speed(),
		KickChip:    f.kickChip,
		KickLinear:  f.kickLinear,
	}
}

// Get produces the snapshot record, optionally flipped. Speeds above the
// configured limit are clamped and flagged estimate-only.
func (f *RobotFilter) Get(flip bool) Robot {
	pos := f.RobotPos()
	speed := f.Speed()
	phi := f.orientation.phi
	omega := f.orientation.omega
	if flip {
		pos = pos.Scale(-1)
		speed = speed.Scale(-1)
		phi += math.Pi
	}

	robot := Robot{
		ID:    f.robotID,
		Pos:   pos,
		Speed: speed,
		Phi:   geo.AngleDiff(phi, 0),
		Omega: omega,
	}
	if limit := f.cfg.MaxSpeed; limit > 0 && speed.Length() > limit {
		robot.Speed = speed.Normalized().Scale(limit)
		robot.EstimateOnly = true
	}
	return robot
}
