// Package track fuses multi-camera vision detections into world-state
// estimates for the ball and both robot fleets. Each tracked object owns a
// primary-camera filter plus hand-off candidates from other cameras; the
// tracker orchestrates packet buffering, association, filter lifecycle and
// time-aligned snapshot queries.
package track

import (
	"github.com/banshee-field/fieldwork/internal/geo"
)

// Physical constants of the league hardware.
const (
	RobotRadius = 0.09
	RobotHeight = 0.15
	BallRadius  = 0.0215

	// dribblerOffset is the distance from robot centre to the dribbler bar.
	dribblerOffset = 0.08
	// dribblerWidth is the length of the dribbler bar.
	dribblerWidth = 0.07
)

// Ball is the tracked ball state in a snapshot.
type Ball struct {
	Pos   geo.Vector2
	Speed geo.Vector2
}

// Robot is a tracked robot state in a snapshot.
type Robot struct {
	ID    uint32
	Pos   geo.Vector2
	Speed geo.Vector2
	Phi   float64
	Omega float64
	// EstimateOnly is set when the speed exceeded the configured limit and
	// was clamped.
	EstimateOnly bool
}

// Geometry is the field geometry in metres, published with snapshots after a
// geometry frame arrived.
type Geometry struct {
	LineWidth          float64
	FieldWidth         float64
	FieldHeight        float64
	BoundaryWidth      float64
	GoalWidth          float64
	GoalDepth          float64
	GoalWallWidth      float64
	CenterCircleRadius float64
	DefenseRadius      float64
	DefenseStretch     float64
	GoalHeight         float64
}

// AOI is the rectangular area-of-interest gate applied to detections.
type AOI struct {
	X1, Y1, X2, Y2 float64
}

// Snapshot is a world-state snapshot for a single point in time.
type Snapshot struct {
	Time          int64
	HasVisionData bool
	Ball          *Ball
	Yellow        []Robot
	Blue          []Robot
	Geometry      *Geometry
	TrackingAOI   *AOI
	// Debug carries opt-in diagnostic values keyed by filter and topic.
	Debug map[string]string
}

// RobotInfo is the immutable per-frame robot snapshot handed to the ball
// filters for collision reasoning.
type RobotInfo struct {
	Identifier  int
	RobotPos    geo.Vector2
	DribblerPos geo.Vector2
	Speed       geo.Vector2
	KickChip    bool
	KickLinear  bool
}

// DribblerDir returns the unit vector from robot centre towards the
// dribbler.
func (r RobotInfo) DribblerDir() geo.Vector2 {
	return r.DribblerPos.Sub(r.RobotPos).Normalized()
}

// BallOffsetInfo records a dribbling relationship: the ball offset in the
// robot-local frame (along and perpendicular to the dribbler direction) and
// the last projected pushing position. It exists only while the ball is
// believed to be in contact with the robot.
type BallOffsetInfo struct {
	RobotIdentifier int
	BallOffset      geo.Vector2
	PushingBallPos  geo.Vector2
}

// Team selects one of the two robot fleets.
type Team int

const (
	TeamYellow Team = iota
	TeamBlue
)

// RadioResponse is filter feedback from the radio link.
type RadioResponse struct {
	RobotID    uint32
	Team       Team
	KickChip   bool
	KickLinear bool
	Time       int64
}

// Command carries runtime tracking controls; nil fields leave the current
// value unchanged.
type Command struct {
	AOIEnabled  *bool
	AOI         *AOI
	SystemDelay *int64
	Reset       bool
}

// CameraInfo maps camera ids to their calibration.
type CameraInfo struct {
	Position    map[uint32]geo.Vector3
	FocalLength map[uint32]float64
}

// NewCameraInfo returns an empty calibration set.
func NewCameraInfo() *CameraInfo {
	return &CameraInfo{
		Position:    make(map[uint32]geo.Vector3),
		FocalLength: make(map[uint32]float64),
	}
}
