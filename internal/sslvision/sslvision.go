// Package sslvision decodes SSL vision wrapper packets (detection and
// geometry frames) from their protobuf wire encoding. Decoding is
// schema-less via protowire: only the dozen fields the tracker reads are
// extracted, unknown fields are skipped, so the package tracks upstream
// schema additions without regeneration.
package sslvision

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-field/fieldwork/internal/geo"
)

// DetectionBall is a single ball detection in vision coordinates
// (millimetres).
type DetectionBall struct {
	Confidence float64
	X, Y, Z    float64
}

// DetectionRobot is a single robot detection in vision coordinates.
type DetectionRobot struct {
	Confidence     float64
	HasRobotID     bool
	RobotID        uint32
	X, Y           float64
	HasOrientation bool
	Orientation    float64
}

// DetectionFrame is one camera frame worth of detections.
type DetectionFrame struct {
	FrameNumber  uint32
	TCapture     float64 // seconds, camera clock
	TSent        float64 // seconds, camera clock
	CameraID     uint32
	Balls        []DetectionBall
	RobotsYellow []DetectionRobot
	RobotsBlue   []DetectionRobot
}

// GeometryFieldSize is the field geometry in millimetres as sent by vision.
type GeometryFieldSize struct {
	LineWidth                    float64
	FieldLength                  float64
	FieldWidth                   float64
	BoundaryWidth                float64
	RefereeWidth                 float64
	GoalWidth                    float64
	GoalDepth                    float64
	GoalWallWidth                float64
	CenterCircleRadius           float64
	DefenseRadius                float64
	DefenseStretch               float64
	FreeKickFromDefenseDist      float64
	PenaltySpotFromFieldLineDist float64
	PenaltyLineFromSpotDist      float64
}

// CameraCalibration carries the derived 3-D camera position and focal
// length.
type CameraCalibration struct {
	CameraID    uint32
	FocalLength float64
	HasDerived  bool
	DerivedTx   float64
	DerivedTy   float64
	DerivedTz   float64
}

// GeometryData is a geometry frame.
type GeometryData struct {
	Field        GeometryFieldSize
	Calibrations []CameraCalibration
}

// WrapperPacket is the top-level vision packet.
type WrapperPacket struct {
	Detection *DetectionFrame
	Geometry  *GeometryData
}

// FieldFromVision converts vision millimetre coordinates into the internal
// field frame in metres: (x, y) = (-visionY/1000, visionX/1000).
func FieldFromVision(x, y float64) geo.Vector2 {
	return geo.Vector2{X: -y / 1000, Y: x / 1000}
}

// VisionFromField is the inverse of FieldFromVision.
func VisionFromField(p geo.Vector2) (x, y float64) {
	return p.Y * 1000, -p.X * 1000
}

type fieldVisitor func(num protowire.Number, typ protowire.Type, varint uint64, fixed32 uint32, fixed64 uint64, bytes []byte) error

// walkMessage iterates the wire fields of a message and dispatches them to
// the visitor; unknown field numbers are skipped by the visitor itself.
func walkMessage(b []byte, visit fieldVisitor) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "consume tag")
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "consume varint")
			}
			if err := visit(num, typ, v, 0, 0, nil); err != nil {
				return err
			}
			b = b[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "consume fixed32")
			}
			if err := visit(num, typ, 0, v, 0, nil); err != nil {
				return err
			}
			b = b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "consume fixed64")
			}
			if err := visit(num, typ, 0, 0, v, nil); err != nil {
				return err
			}
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "consume bytes")
			}
			if err := visit(num, typ, 0, 0, 0, v); err != nil {
				return err
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "skip field")
			}
			b = b[n:]
		}
	}
	return nil
}

func float32Field(fixed32 uint32) float64 {
	return float64(math.Float32frombits(fixed32))
}

// Decode parses a wrapper packet. Detection and geometry are both optional;
// a packet without either returns an empty wrapper.
func Decode(data []byte) (*WrapperPacket, error) {
	packet := &WrapperPacket{}
	err := walkMessage(data, func(num protowire.Number, typ protowire.Type, _ uint64, _ uint32, _ uint64, bytes []byte) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			frame, err := decodeDetectionFrame(bytes)
			if err != nil {
				return err
			}
			packet.Detection = frame
		case num == 2 && typ == protowire.BytesType:
			geometry, err := decodeGeometry(bytes)
			if err != nil {
				return err
			}
			packet.Geometry = geometry
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode wrapper packet")
	}
	return packet, nil
}

func decodeDetectionFrame(b []byte) (*DetectionFrame, error) {
	frame := &DetectionFrame{}
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, varint uint64, fixed32 uint32, fixed64 uint64, bytes []byte) error {
		switch num {
		case 1:
			frame.FrameNumber = uint32(varint)
		case 2:
			frame.TCapture = math.Float64frombits(fixed64)
		case 3:
			frame.TSent = math.Float64frombits(fixed64)
		case 4:
			frame.CameraID = uint32(varint)
		case 5:
			ball, err := decodeBall(bytes)
			if err != nil {
				return err
			}
			frame.Balls = append(frame.Balls, ball)
		case 6:
			robot, err := decodeRobot(bytes)
			if err != nil {
				return err
			}
			frame.RobotsYellow = append(frame.RobotsYellow, robot)
		case 7:
			robot, err := decodeRobot(bytes)
			if err != nil {
				return err
			}
			frame.RobotsBlue = append(frame.RobotsBlue, robot)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode detection frame")
	}
	return frame, nil
}

func decodeBall(b []byte) (DetectionBall, error) {
	var ball DetectionBall
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, varint uint64, fixed32 uint32, fixed64 uint64, bytes []byte) error {
		switch num {
		case 1:
			ball.Confidence = float32Field(fixed32)
		case 3:
			ball.X = float32Field(fixed32)
		case 4:
			ball.Y = float32Field(fixed32)
		case 5:
			ball.Z = float32Field(fixed32)
		}
		return nil
	})
	return ball, err
}

func decodeRobot(b []byte) (DetectionRobot, error) {
	var robot DetectionRobot
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, varint uint64, fixed32 uint32, fixed64 uint64, bytes []byte) error {
		switch num {
		case 1:
			robot.Confidence = float32Field(fixed32)
		case 2:
			robot.HasRobotID = true
			robot.RobotID = uint32(varint)
		case 3:
			robot.X = float32Field(fixed32)
		case 4:
			robot.Y = float32Field(fixed32)
		case 5:
			robot.HasOrientation = true
			robot.Orientation = float32Field(fixed32)
		}
		return nil
	})
	return robot, err
}

func decodeGeometry(b []byte) (*GeometryData, error) {
	geometry := &GeometryData{}
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, varint uint64, fixed32 uint32, fixed64 uint64, bytes []byte) error {
		switch num {
		case 1:
			field, err := decodeFieldSize(bytes)
			if err != nil {
				return err
			}
			geometry.Field = field
		case 2:
			calib, err := decodeCalibration(bytes)
			if err != nil {
				return err
			}
			geometry.Calibrations = append(geometry.Calibrations, calib)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode geometry")
	}
	return geometry, nil
}

func decodeFieldSize(b []byte) (GeometryFieldSize, error) {
	var f GeometryFieldSize
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, varint uint64, fixed32 uint32, fixed64 uint64, bytes []byte) error {
		value := float64(int64(varint))
		if typ == protowire.Fixed32Type {
			value = float32Field(fixed32)
		}
		switch num {
		case 1:
			f.LineWidth = value
		case 2:
			f.FieldLength = value
		case 3:
			f.FieldWidth = value
		case 4:
			f.BoundaryWidth = value
		case 5:
			f.RefereeWidth = value
		case 6:
			f.GoalWidth = value
		case 7:
			f.GoalDepth = value
		case 8:
			f.GoalWallWidth = value
		case 9:
			f.CenterCircleRadius = value
		case 10:
			f.DefenseRadius = value
		case 11:
			f.DefenseStretch = value
		case 12:
			f.FreeKickFromDefenseDist = value
		case 13:
			f.PenaltySpotFromFieldLineDist = value
		case 14:
			f.PenaltyLineFromSpotDist = value
		}
		return nil
	})
	return f, err
}

func decodeCalibration(b []byte) (CameraCalibration, error) {
	var c CameraCalibration
	derivedSeen := 0
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, varint uint64, fixed32 uint32, fixed64 uint64, bytes []byte) error {
		switch num {
		case 1:
			c.CameraID = uint32(varint)
		case 2:
			c.FocalLength = float32Field(fixed32)
		case 13:
			c.DerivedTx = float32Field(fixed32)
			derivedSeen++
		case 14:
			c.DerivedTy = float32Field(fixed32)
			derivedSeen++
		case 15:
			c.DerivedTz = float32Field(fixed32)
			derivedSeen++
		}
		return nil
	})
	c.HasDerived = derivedSeen == 3
	return c, err
}
