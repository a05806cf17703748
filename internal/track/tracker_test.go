package track

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-field/fieldwork/internal/geo"
	"github.com/banshee-field/fieldwork/internal/monitoring"
	"github.com/banshee-field/fieldwork/internal/sslvision"
)

func init() {
	monitoring.SetLogger(nil)
}

func testConfig() TrackerConfig {
	return TrackerConfig{
		SystemDelay:          0,
		MinFrameCount:        5,
		RobotTimeout:         200 * time.Millisecond,
		RobotTimeoutLast:     time.Second,
		BallTimeout:          100 * time.Millisecond,
		BallTimeoutLast:      time.Second,
		RobotAssociationDist: 0.5,
		Filter:               testFilterConfig(),
	}
}

func testFilterConfig() FilterConfig {
	return FilterConfig{
		ProcessNoisePos:    0.0001,
		ProcessNoiseVel:    0.1,
		MeasurementNoise:   0.000025,
		MaxSpeed:           4,
		CollisionReasoning: true,
	}
}

// wire encoding helpers for test packets

func appendFloat32(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(float32(v)))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// encodeBallAt encodes a ball detection at a field-frame position.
func encodeBallAt(pos geo.Vector2) []byte {
	visionX, visionY := sslvision.VisionFromField(pos)
	var b []byte
	b = appendFloat32(b, 1, 0.9)
	b = appendFloat32(b, 3, visionX)
	b = appendFloat32(b, 4, visionY)
	return b
}

// encodeRobotAt encodes a robot detection at a field-frame position.
func encodeRobotAt(id uint32, pos geo.Vector2) []byte {
	visionX, visionY := sslvision.VisionFromField(pos)
	var b []byte
	b = appendFloat32(b, 1, 0.9)
	b = appendVarint(b, 2, uint64(id))
	b = appendFloat32(b, 3, visionX)
	b = appendFloat32(b, 4, visionY)
	b = appendFloat32(b, 5, 0)
	return b
}

type testDetection struct {
	cameraID uint32
	balls    [][]byte
	yellow   [][]byte
}

func encodeDetectionPacket(d testDetection) []byte {
	var frame []byte
	frame = appendVarint(frame, 1, 1)
	frame = appendDouble(frame, 2, 0) // tCapture
	frame = appendDouble(frame, 3, 0) // tSent
	frame = appendVarint(frame, 4, uint64(d.cameraID))
	for _, ball := range d.balls {
		frame = appendMessage(frame, 5, ball)
	}
	for _, robot := range d.yellow {
		frame = appendMessage(frame, 6, robot)
	}
	return appendMessage(nil, 1, frame)
}

// encodeGeometryPacket encodes a camera calibration 4 m above the origin.
func encodeGeometryPacket(cameraID uint32) []byte {
	var calib []byte
	calib = appendVarint(calib, 1, uint64(cameraID))
	calib = appendFloat32(calib, 2, 500)
	calib = appendFloat32(calib, 13, 0)    // derived tx
	calib = appendFloat32(calib, 14, 0)    // derived ty
	calib = appendFloat32(calib, 15, 4000) // derived tz
	var geometry []byte
	geometry = appendMessage(geometry, 2, calib)
	return appendMessage(nil, 2, geometry)
}

const frameInterval = int64(16 * time.Millisecond)

func TestBallFilterTracksMovingBall(t *testing.T) {
	cameraInfo := NewCameraInfo()
	cameraInfo.Position[0] = geo.Vector3{Z: 4}

	base := int64(1e9)
	first := VisionFrame{Pos: geo.Vector2{}, Time: base, CameraID: 0}
	filter := NewBallFilter(first, cameraInfo, testFilterConfig())
	filter.ProcessVisionFrame(first)

	// ball moving 0.01 m every 16 ms along +x
	for i := 1; i <= 10; i++ {
		frame := VisionFrame{
			Pos:      geo.Vector2{X: 0.01 * float64(i)},
			Time:     base + int64(i)*frameInterval,
			CameraID: 0,
		}
		require.True(t, filter.AcceptDetection(frame))
		filter.ProcessVisionFrame(frame)
	}

	state := filter.WriteBallState(base+10*frameInterval, nil)
	assert.LessOrEqual(t, state.Pos.Distance(geo.Vector2{X: 0.10}), 0.01)
	assert.LessOrEqual(t, state.Speed.Distance(geo.Vector2{X: 0.625}), 0.1)
}

func TestBallFilterStationaryNoiseRMS(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	truth := geo.Vector2{X: 1, Y: 1}
	base := int64(1e9)

	noisy := func(i int) VisionFrame {
		return VisionFrame{
			Pos: geo.Vector2{
				X: truth.X + rng.NormFloat64()*0.005,
				Y: truth.Y + rng.NormFloat64()*0.005,
			},
			Time: base + int64(i)*frameInterval,
		}
	}

	filter := NewBallFilter(noisy(0), NewCameraInfo(), testFilterConfig())
	filter.ProcessVisionFrame(noisy(0))

	var sumSq float64
	samples := 0
	for i := 1; i < 60; i++ {
		frame := noisy(i)
		filter.ProcessVisionFrame(frame)
		if i >= 20 {
			state := filter.WriteBallState(frame.Time, nil)
			err := state.Pos.Distance(truth)
			sumSq += err * err
			samples++
		}
	}
	rms := math.Sqrt(sumSq / float64(samples))
	assert.LessOrEqual(t, rms, 0.003)
}

func TestBallFilterCameraHandoffClone(t *testing.T) {
	cameraInfo := NewCameraInfo()
	cameraInfo.Position[0] = geo.Vector3{Z: 4}
	cameraInfo.Position[1] = geo.Vector3{X: 2, Z: 4}

	base := int64(1e9)
	frame := VisionFrame{Pos: geo.Vector2{X: 1}, Time: base, CameraID: 0}
	filter := NewBallFilter(frame, cameraInfo, testFilterConfig())
	filter.ProcessVisionFrame(frame)

	clone := filter.CloneForCamera(1)
	assert.Equal(t, uint32(1), clone.PrimaryCamera())
	assert.Equal(t, filter.InitTime(), clone.InitTime())

	// the clone carries the filter state but evolves independently
	next := VisionFrame{Pos: geo.Vector2{X: 1.01}, Time: base + frameInterval, CameraID: 1}
	require.True(t, clone.AcceptDetection(next))
	clone.ProcessVisionFrame(next)
	assert.Equal(t, 1, filter.FrameCounter())
	assert.Equal(t, 2, clone.FrameCounter())
}

func TestBallCollisionProjection(t *testing.T) {
	cameraInfo := NewCameraInfo()
	cameraInfo.Position[0] = geo.Vector3{Z: 4}
	cfg := testFilterConfig()

	base := int64(1e9)
	// ball rolling towards a robot standing at (1, 0) facing -x
	robot := RobotInfo{
		Identifier:  3,
		RobotPos:    geo.Vector2{X: 1},
		DribblerPos: geo.Vector2{X: 1 - dribblerOffset},
	}

	var filter *BallFilter
	for i := 0; i <= 20; i++ {
		frame := VisionFrame{
			Pos:          geo.Vector2{X: 0.05 * float64(i)},
			Time:         base + int64(i)*frameInterval,
			CameraID:     0,
			NearestRobot: robot,
		}
		if filter == nil {
			filter = NewBallFilter(frame, cameraInfo, cfg)
		}
		filter.ProcessVisionFrame(frame)
	}

	// the raw extrapolation would put the ball inside the robot hull; the
	// reported position is projected onto the dribbler entry intersection
	state := filter.WriteBallState(base+21*frameInterval, []RobotInfo{robot})
	assert.InDelta(t, 1-dribblerOffset, state.Pos.X, 0.02)
	assert.InDelta(t, 0, state.Pos.Y, 0.01)
	require.NotNil(t, filter.localBallOffset)
	assert.Equal(t, 3, filter.localBallOffset.RobotIdentifier)
}

func TestTrackerRobotAssociationAndTimeout(t *testing.T) {
	tracker := NewTracker(testConfig())
	base := int64(1e9)

	// one frame with two detections of the same id far apart creates two
	// filter hypotheses
	tracker.QueuePacket(encodeDetectionPacket(testDetection{
		cameraID: 0,
		yellow: [][]byte{
			encodeRobotAt(3, geo.Vector2{}),
			encodeRobotAt(3, geo.Vector2{X: 1}),
		},
	}), base)
	tracker.Process(base)
	require.Len(t, tracker.robotFilterYellow[3], 2)

	// a detection at (0.05, 0) associates with the first filter
	tracker.QueuePacket(encodeDetectionPacket(testDetection{
		cameraID: 0,
		yellow:   [][]byte{encodeRobotAt(3, geo.Vector2{X: 0.05})},
	}), base+frameInterval)
	tracker.Process(base + frameInterval)
	require.Len(t, tracker.robotFilterYellow[3], 2)
	counters := []int{
		tracker.robotFilterYellow[3][0].FrameCounter(),
		tracker.robotFilterYellow[3][1].FrameCounter(),
	}
	assert.ElementsMatch(t, []int{2, 1}, counters)

	// keep feeding the surviving hypothesis; the second filter times out
	// 0.2 s after its last detection
	for i := int64(2); i <= 20; i++ {
		at := base + i*frameInterval
		tracker.QueuePacket(encodeDetectionPacket(testDetection{
			cameraID: 0,
			yellow:   [][]byte{encodeRobotAt(3, geo.Vector2{X: 0.05})},
		}), at)
		tracker.Process(at)
	}
	require.Len(t, tracker.robotFilterYellow[3], 1)
	assert.LessOrEqual(t, tracker.robotFilterYellow[3][0].RobotPos().Distance(geo.Vector2{X: 0.05}), 0.02)
}

func TestTrackerDropsOutOfOrderFrames(t *testing.T) {
	tracker := NewTracker(testConfig())
	base := int64(1e9)

	tracker.QueuePacket(encodeGeometryPacket(0), base)
	tracker.Process(base)
	tracker.QueuePacket(encodeDetectionPacket(testDetection{
		balls: [][]byte{encodeBallAt(geo.Vector2{})},
	}), base+frameInterval)
	tracker.Process(base + frameInterval)
	require.Len(t, tracker.ballFilters, 1)
	lastUpdate := tracker.ballFilters[0].LastUpdate()
	frames := tracker.ballFilters[0].FrameCounter()
	before := tracker.WorldState(base + 2*frameInterval)

	// a frame older than the last update must not mutate any filter
	tracker.QueuePacket(encodeDetectionPacket(testDetection{
		balls: [][]byte{encodeBallAt(geo.Vector2{X: 0.5, Y: 0.5})},
	}), base)
	tracker.Process(base + 2*frameInterval)

	require.Len(t, tracker.ballFilters, 1)
	assert.Equal(t, lastUpdate, tracker.ballFilters[0].LastUpdate())
	assert.Equal(t, frames, tracker.ballFilters[0].FrameCounter())

	after := tracker.WorldState(base + 2*frameInterval)
	assert.Empty(t, cmp.Diff(before, after))
}

func TestTrackerUnknownCameraDropped(t *testing.T) {
	tracker := NewTracker(testConfig())
	base := int64(1e9)

	// no geometry was received: ball detections from uncalibrated cameras
	// must not create filters
	tracker.QueuePacket(encodeDetectionPacket(testDetection{
		cameraID: 7,
		balls:    [][]byte{encodeBallAt(geo.Vector2{})},
	}), base)
	tracker.Process(base)
	assert.Empty(t, tracker.ballFilters)
}

func TestTrackerResetRepopulates(t *testing.T) {
	tracker := NewTracker(testConfig())
	base := int64(1e9)

	tracker.QueuePacket(encodeDetectionPacket(testDetection{
		yellow: [][]byte{encodeRobotAt(1, geo.Vector2{X: 0.5})},
	}), base)
	tracker.Process(base)

	// once the reset window has expired a single frame is not enough
	afterWindow := base + (600 * time.Millisecond).Nanoseconds()
	snapshot := tracker.WorldState(afterWindow)
	assert.Empty(t, snapshot.Yellow)

	tracker.HandleCommand(Command{Reset: true})
	require.Empty(t, tracker.robotFilterYellow)

	resumed := afterWindow + frameInterval
	tracker.QueuePacket(encodeDetectionPacket(testDetection{
		yellow: [][]byte{encodeRobotAt(1, geo.Vector2{X: 0.5})},
	}), resumed)
	tracker.Process(resumed)

	snapshot = tracker.WorldState(resumed + frameInterval)
	require.Len(t, snapshot.Yellow, 1)
	assert.Equal(t, uint32(1), snapshot.Yellow[0].ID)
	assert.LessOrEqual(t, snapshot.Yellow[0].Pos.Distance(geo.Vector2{X: 0.5}), 0.02)
}

func TestTrackerCommandPartialUpdate(t *testing.T) {
	tracker := NewTracker(testConfig())

	enabled := true
	tracker.HandleCommand(Command{AOIEnabled: &enabled, AOI: &AOI{X1: -1, Y1: -1, X2: 1, Y2: 1}})
	assert.True(t, tracker.aoiEnabled)

	// a command without fields leaves everything unchanged
	tracker.HandleCommand(Command{})
	assert.True(t, tracker.aoiEnabled)
	assert.Equal(t, AOI{X1: -1, Y1: -1, X2: 1, Y2: 1}, tracker.aoi)

	delay := int64(5e6)
	tracker.HandleCommand(Command{SystemDelay: &delay})
	assert.Equal(t, delay, tracker.systemDelay)
}

func TestTrackerAOIGatesDetections(t *testing.T) {
	tracker := NewTracker(testConfig())
	enabled := true
	tracker.HandleCommand(Command{AOIEnabled: &enabled, AOI: &AOI{X1: -1, Y1: -1, X2: 1, Y2: 1}})

	base := int64(1e9)
	tracker.QueuePacket(encodeDetectionPacket(testDetection{
		yellow: [][]byte{
			encodeRobotAt(1, geo.Vector2{X: 0.5}),
			encodeRobotAt(2, geo.Vector2{X: 2.5}), // outside the AOI
		},
	}), base)
	tracker.Process(base)

	assert.Len(t, tracker.robotFilterYellow[1], 1)
	assert.Empty(t, tracker.robotFilterYellow[2])

	snapshot := tracker.WorldState(base + frameInterval)
	require.NotNil(t, snapshot.TrackingAOI)
	assert.Equal(t, -1.0, snapshot.TrackingAOI.X1)
}

func TestTrackerFlip(t *testing.T) {
	tracker := NewTracker(testConfig())
	tracker.SetFlip(true)
	base := int64(1e9)

	tracker.QueuePacket(encodeDetectionPacket(testDetection{
		yellow: [][]byte{encodeRobotAt(1, geo.Vector2{X: 0.5, Y: 0.25})},
	}), base)
	tracker.Process(base)

	// within the reset window one frame suffices
	snapshot := tracker.WorldState(base + frameInterval)
	require.Len(t, snapshot.Yellow, 1)
	assert.LessOrEqual(t, snapshot.Yellow[0].Pos.Distance(geo.Vector2{X: -0.5, Y: -0.25}), 0.02)
}

func TestTrackerGeometryPublishedOnce(t *testing.T) {
	tracker := NewTracker(testConfig())
	base := int64(1e9)

	tracker.QueuePacket(encodeGeometryPacket(0), base)
	tracker.Process(base)
	snapshot := tracker.WorldState(base + 1)
	require.NotNil(t, snapshot.Geometry)

	tracker.Process(base + frameInterval)
	snapshot = tracker.WorldState(base + frameInterval + 1)
	assert.Nil(t, snapshot.Geometry)
}

func TestRadioResponseReachesFilters(t *testing.T) {
	tracker := NewTracker(testConfig())
	base := int64(1e9)
	tracker.QueuePacket(encodeDetectionPacket(testDetection{
		yellow: [][]byte{encodeRobotAt(4, geo.Vector2{})},
	}), base)
	tracker.Process(base)

	tracker.QueueRadioResponse(RadioResponse{RobotID: 4, Team: TeamYellow, KickChip: true, Time: base})
	info := tracker.robotFilterYellow[4][0].Info()
	assert.True(t, info.KickChip)
	assert.False(t, info.KickLinear)
}
