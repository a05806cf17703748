package track

import (
	"math"
	"sort"
	"time"

	"github.com/banshee-field/fieldwork/internal/config"
	"github.com/banshee-field/fieldwork/internal/geo"
	"github.com/banshee-field/fieldwork/internal/monitoring"
	"github.com/banshee-field/fieldwork/internal/sslvision"
)

// reset timeouts during which a zero frame minimum is accepted so the world
// repopulates quickly
const (
	worldStateResetTimeout = 500 * time.Millisecond
	bestRobotsResetTimeout = 100 * time.Millisecond
)

// TrackerConfig holds the tracker tuning parameters.
type TrackerConfig struct {
	SystemDelay time.Duration
	// MinFrameCount is the number of frames a filter needs before its
	// object appears in outputs; it drops to 0 shortly after a reset.
	MinFrameCount int

	RobotTimeout     time.Duration // filters with living peers of the same id
	RobotTimeoutLast time.Duration // the last surviving filter of an id
	BallTimeout      time.Duration
	BallTimeoutLast  time.Duration

	// RobotAssociationDist gates detections against predicted positions.
	RobotAssociationDist float64

	Filter FilterConfig
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded TuningConfig.
func TrackerConfigFromTuning(cfg *config.TuningConfig) TrackerConfig {
	return TrackerConfig{
		SystemDelay:          cfg.GetSystemDelay(),
		MinFrameCount:        cfg.GetMinFrameCount(),
		RobotTimeout:         cfg.GetRobotTimeout(),
		RobotTimeoutLast:     cfg.GetRobotTimeoutLast(),
		BallTimeout:          cfg.GetBallTimeout(),
		BallTimeoutLast:      cfg.GetBallTimeoutLast(),
		RobotAssociationDist: cfg.GetRobotAssociationDist(),
		Filter: FilterConfig{
			ProcessNoisePos:    cfg.GetProcessNoisePos(),
			ProcessNoiseVel:    cfg.GetProcessNoiseVel(),
			MeasurementNoise:   cfg.GetMeasurementNoise(),
			MaxSpeed:           cfg.GetMaxRobotSpeed(),
			CollisionReasoning: cfg.GetCollisionReasoning(),
		},
	}
}

type queuedPacket struct {
	data        []byte
	receiveTime int64
}

// robotMap holds the per-id filter collections of one team. A filter's
// lifetime equals its membership here.
type robotMap map[uint32][]*RobotFilter

// Tracker owns all filters and buffered vision packets. All state belongs to
// the single core thread; external collaborators talk to it through command
// queues drained at frame boundaries.
type Tracker struct {
	cfg TrackerConfig

	cameraInfo *CameraInfo

	flip        bool
	systemDelay int64
	resetTime   int64

	geometry        Geometry
	geometryUpdated bool
	hasVisionData   bool

	lastUpdateTime int64

	visionPackets []queuedPacket

	robotFilterYellow robotMap
	robotFilterBlue   robotMap

	ballFilters       []*BallFilter
	currentBallFilter *BallFilter

	aoiEnabled bool
	aoi        AOI
}

// NewTracker creates an empty tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{
		cfg:               cfg,
		cameraInfo:        NewCameraInfo(),
		systemDelay:       cfg.SystemDelay.Nanoseconds(),
		robotFilterYellow: make(robotMap),
		robotFilterBlue:   make(robotMap),
	}
}

// SetFlip toggles the sign of both axes in all outputs, used to swap goals.
func (t *Tracker) SetFlip(flip bool) { t.flip = flip }

// Reset wipes all filters and buffered packets. The next Process call
// restarts the repopulation window.
func (t *Tracker) Reset() {
	t.robotFilterYellow = make(robotMap)
	t.robotFilterBlue = make(robotMap)
	t.ballFilters = nil
	t.currentBallFilter = nil
	t.hasVisionData = false
	t.resetTime = 0
	t.lastUpdateTime = 0
	t.visionPackets = nil
}

// QueuePacket buffers an encoded vision packet with its receive time.
func (t *Tracker) QueuePacket(data []byte, receiveTime int64) {
	t.visionPackets = append(t.visionPackets, queuedPacket{data: data, receiveTime: receiveTime})
	t.hasVisionData = true
}

// QueueRadioResponse forwards radio feedback to every filter of the
// addressed robot.
func (t *Tracker) QueueRadioResponse(resp RadioResponse) {
	team := t.robotFilterYellow
	if resp.Team == TeamBlue {
		team = t.robotFilterBlue
	}
	for _, filter := range team[resp.RobotID] {
		filter.AddRadioCommand(resp.KickChip, resp.KickLinear, resp.Time)
	}
}

// HandleCommand applies runtime controls; missing fields leave the current
// values unchanged.
func (t *Tracker) HandleCommand(cmd Command) {
	if cmd.AOIEnabled != nil {
		t.aoiEnabled = *cmd.AOIEnabled
	}
	if cmd.AOI != nil {
		t.aoi = *cmd.AOI
	}
	if cmd.SystemDelay != nil {
		t.systemDelay = *cmd.SystemDelay
	}
	if cmd.Reset {
		t.Reset()
	}
}

func (t *Tracker) isInAOI(detectionX, detectionY float64) bool {
	pos := sslvision.FieldFromVision(detectionX, detectionY)
	if t.flip {
		pos = pos.Scale(-1)
	}
	return pos.X > t.aoi.X1 && pos.X < t.aoi.X2 && pos.Y > t.aoi.Y1 && pos.Y < t.aoi.Y2
}

// Process parses all buffered packets in order. Frames older than the last
// accepted source time are dropped silently.
func (t *Tracker) Process(currentTime int64) {
	// the reset time makes objects visible immediately after a reset
	if t.resetTime == 0 {
		t.resetTime = currentTime
	}

	t.invalidateBall(currentTime)
	t.invalidateRobots(t.robotFilterYellow, currentTime)
	t.invalidateRobots(t.robotFilterBlue, currentTime)

	t.geometryUpdated = false

	for _, packet := range t.visionPackets {
		wrapper, err := sslvision.Decode(packet.data)
		if err != nil {
			monitoring.Logf("track: dropping undecodable vision packet: %v", err)
			continue
		}

		if wrapper.Geometry != nil {
			t.updateGeometry(wrapper.Geometry.Field)
			for _, calib := range wrapper.Geometry.Calibrations {
				t.updateCamera(calib)
			}
			t.geometryUpdated = true
		}

		if wrapper.Detection == nil {
			continue
		}
		detection := wrapper.Detection

		visionProcessingTime := int64((detection.TSent - detection.TCapture) * 1e9)
		// the field time at which the frame was captured
		sourceTime := packet.receiveTime - visionProcessingTime - t.systemDelay

		if sourceTime <= t.lastUpdateTime {
			continue
		}

		for _, robot := range detection.RobotsYellow {
			t.trackRobot(t.robotFilterYellow, robot, sourceTime, detection.CameraID)
		}
		for _, robot := range detection.RobotsBlue {
			t.trackRobot(t.robotFilterBlue, robot, sourceTime, detection.CameraID)
		}

		bestRobots := t.bestRobotInfos(sourceTime)
		for _, ball := range detection.Balls {
			t.trackBall(ball, sourceTime, detection.CameraID, bestRobots)
		}

		t.lastUpdateTime = sourceTime
	}
	t.visionPackets = t.visionPackets[:0]
}

func (t *Tracker) updateGeometry(g sslvision.GeometryFieldSize) {
	t.geometry = Geometry{
		LineWidth:          g.LineWidth / 1000,
		FieldWidth:         g.FieldWidth / 1000,
		FieldHeight:        g.FieldLength / 1000,
		BoundaryWidth:      g.BoundaryWidth / 1000,
		GoalWidth:          g.GoalWidth / 1000,
		GoalDepth:          g.GoalDepth / 1000,
		GoalWallWidth:      g.GoalWallWidth / 1000,
		CenterCircleRadius: g.CenterCircleRadius / 1000,
		DefenseRadius:      g.DefenseRadius / 1000,
		DefenseStretch:     g.DefenseStretch / 1000,
		GoalHeight:         0.16,
	}
}

func (t *Tracker) updateCamera(c sslvision.CameraCalibration) {
	if !c.HasDerived {
		return
	}
	t.cameraInfo.Position[c.CameraID] = geo.Vector3{
		X: -c.DerivedTy / 1000,
		Y: c.DerivedTx / 1000,
		Z: c.DerivedTz / 1000,
	}
	t.cameraInfo.FocalLength[c.CameraID] = c.FocalLength
}

// trackRobot associates a detection with the nearest predicted filter of the
// same id, creating a new filter when none is close enough.
func (t *Tracker) trackRobot(robots robotMap, robot sslvision.DetectionRobot, sourceTime int64, cameraID uint32) {
	if !robot.HasRobotID {
		return
	}
	if t.aoiEnabled && !t.isInAOI(robot.X, robot.Y) {
		return
	}

	nearest := t.cfg.RobotAssociationDist
	var nearestFilter *RobotFilter
	for _, filter := range robots[robot.RobotID] {
		filter.Update(sourceTime)
		if dist := filter.DistanceTo(robot); dist < nearest {
			nearest = dist
			nearestFilter = filter
		}
	}
	if nearestFilter == nil {
		nearestFilter = newRobotFilter(robot, sourceTime, cameraID, t.cfg.Filter)
		robots[robot.RobotID] = append(robots[robot.RobotID], nearestFilter)
	}
	nearestFilter.AddVisionFrame(cameraID, robot, sourceTime)
}

// trackBall offers the detection to every ball filter. Same-camera filters
// accept into their main state; a cross-camera accepter is remembered so its
// state can seed a hand-off clone when no same-camera filter accepted.
func (t *Tracker) trackBall(ball sslvision.DetectionBall, sourceTime int64, cameraID uint32, bestRobots []RobotInfo) {
	if t.aoiEnabled && !t.isInAOI(ball.X, ball.Y) {
		return
	}
	if _, ok := t.cameraInfo.Position[cameraID]; !ok {
		// no calibration for this camera yet
		return
	}

	frame := VisionFrame{
		Pos:          sslvision.FieldFromVision(ball.X, ball.Y),
		Time:         sourceTime,
		CameraID:     cameraID,
		NearestRobot: nearestRobotInfo(bestRobots, ball),
	}

	acceptedWithCamID := false
	var accepterWithOtherCamID *BallFilter
	for _, filter := range t.ballFilters {
		if filter.AcceptDetection(frame) {
			if filter.PrimaryCamera() == cameraID {
				filter.ProcessVisionFrame(frame)
				acceptedWithCamID = true
			} else {
				// remembered for a hand-off clone in case no filter of
				// the current camera accepts
				accepterWithOtherCamID = filter
			}
		}
	}

	if !acceptedWithCamID {
		var filter *BallFilter
		if accepterWithOtherCamID != nil {
			filter = accepterWithOtherCamID.CloneForCamera(cameraID)
		} else {
			filter = NewBallFilter(frame, t.cameraInfo, t.cfg.Filter)
		}
		t.ballFilters = append(t.ballFilters, filter)
		filter.ProcessVisionFrame(frame)
	} else {
		t.prioritizeBallFilters()
	}
}

func nearestRobotInfo(robots []RobotInfo, ball sslvision.DetectionBall) RobotInfo {
	ballPos := sslvision.FieldFromVision(ball.X, ball.Y)
	var best RobotInfo
	minDist := math.Inf(1)
	for _, robot := range robots {
		if dist := ballPos.Distance(robot.DribblerPos); dist < minDist {
			minDist = dist
			best = robot
		}
	}
	return best
}

// prioritizeBallFilters orders the filters so the one whose camera is
// closest to its last detection wins hand-over ties. While the current
// filter tracks a flight, flight reconstruction is prioritized via the 3-D
// distance.
func (t *Tracker) prioritizeBallFilters() {
	flying := false
	for _, f := range t.ballFilters {
		if f == t.currentBallFilter && f.IsFlying() {
			flying = true
		}
	}
	sort.SliceStable(t.ballFilters, func(i, j int) bool {
		return t.ballFilters[i].DistToCamera(flying) < t.ballFilters[j].DistToCamera(flying)
	})
}

// bestBallFilter picks the oldest filter; camera hand-over clones share
// their init time, so the prioritized order breaks the tie.
func (t *Tracker) bestBallFilter() *BallFilter {
	var best *BallFilter
	oldestTime := int64(0)
	for _, f := range t.ballFilters {
		if best == nil || f.InitTime() < oldestTime {
			best = f
			oldestTime = f.InitTime()
		}
	}
	t.currentBallFilter = best
	return best
}

// bestFilter returns the first filter with enough frames and moves it to the
// front to keep the selection stable.
func bestFilter(filters []*RobotFilter, minFrameCount int) *RobotFilter {
	for i, filter := range filters {
		if filter.FrameCounter() >= minFrameCount {
			if i != 0 {
				copy(filters[1:i+1], filters[:i])
				filters[0] = filter
			}
			return filter
		}
	}
	return nil
}

func (t *Tracker) minFrameCount(currentTime int64, resetTimeout time.Duration) int {
	if currentTime > t.resetTime+resetTimeout.Nanoseconds() {
		return t.cfg.MinFrameCount
	}
	return 0
}

// bestRobotInfos collects the best filter per robot id across both teams and
// returns their per-frame snapshots.
func (t *Tracker) bestRobotInfos(currentTime int64) []RobotInfo {
	minFrames := t.minFrameCount(currentTime, bestRobotsResetTimeout)

	var infos []RobotInfo
	for _, robots := range []robotMap{t.robotFilterYellow, t.robotFilterBlue} {
		for _, filters := range robots {
			if filter := bestFilter(filters, minFrames); filter != nil {
				filter.Update(currentTime)
				infos = append(infos, filter.Info())
			}
		}
	}
	return infos
}

// WorldState assembles the snapshot reflecting all frames with source time
// up to currentTime.
func (t *Tracker) WorldState(currentTime int64) Snapshot {
	minFrames := t.minFrameCount(currentTime, worldStateResetTimeout)

	snapshot := Snapshot{
		Time:          currentTime,
		HasVisionData: t.hasVisionData,
		Debug:         make(map[string]string),
	}

	if ball := t.bestBallFilter(); ball != nil {
		robots := t.bestRobotInfos(currentTime)
		state := ball.WriteBallState(currentTime, robots)
		if t.flip {
			state.Pos = state.Pos.Scale(-1)
			state.Speed = state.Speed.Scale(-1)
		}
		snapshot.Ball = &state
		for key, value := range ball.Debug() {
			snapshot.Debug[key] = value
		}
	}

	for id, filters := range t.robotFilterYellow {
		if filter := bestFilter(filters, minFrames); filter != nil {
			filter.Update(currentTime)
			robot := filter.Get(t.flip)
			robot.ID = id
			snapshot.Yellow = append(snapshot.Yellow, robot)
		}
	}
	for id, filters := range t.robotFilterBlue {
		if filter := bestFilter(filters, minFrames); filter != nil {
			filter.Update(currentTime)
			robot := filter.Get(t.flip)
			robot.ID = id
			snapshot.Blue = append(snapshot.Blue, robot)
		}
	}
	sort.Slice(snapshot.Yellow, func(i, j int) bool { return snapshot.Yellow[i].ID < snapshot.Yellow[j].ID })
	sort.Slice(snapshot.Blue, func(i, j int) bool { return snapshot.Blue[i].ID < snapshot.Blue[j].ID })

	if t.geometryUpdated {
		geometry := t.geometry
		snapshot.Geometry = &geometry
	}
	if t.aoiEnabled {
		aoi := t.aoi
		snapshot.TrackingAOI = &aoi
	}
	return snapshot
}

// invalidateRobots removes outdated robot filters. The last filter of an id
// gets the longer timeout, but only once it has proven itself with enough
// frames.
func (t *Tracker) invalidateRobots(robots robotMap, currentTime int64) {
	maxTime := t.cfg.RobotTimeout.Nanoseconds()
	maxTimeLast := t.cfg.RobotTimeoutLast.Nanoseconds()

	for id, filters := range robots {
		kept := filters[:0]
		for _, filter := range filters {
			timeLimit := maxTimeLast
			if len(filters) > 1 || filter.FrameCounter() < t.cfg.MinFrameCount {
				timeLimit = maxTime
			}
			if filter.LastUpdate()+timeLimit >= currentTime {
				kept = append(kept, filter)
			}
		}
		if len(kept) == 0 {
			delete(robots, id)
		} else {
			robots[id] = kept
		}
	}
}

// invalidateBall removes outdated ball filters. A filter whose ball is
// feasibly hidden behind a robot keeps the long timeout.
func (t *Tracker) invalidateBall(currentTime int64) {
	maxTime := t.cfg.BallTimeout.Nanoseconds()
	maxTimeLast := t.cfg.BallTimeoutLast.Nanoseconds()

	kept := t.ballFilters[:0]
	for _, filter := range t.ballFilters {
		timeLimit := maxTimeLast
		if (len(t.ballFilters) > 1 || filter.FrameCounter() < t.cfg.MinFrameCount) && !filter.FeasiblyInvisible() {
			timeLimit = maxTime
		}
		if filter.LastUpdate()+timeLimit >= currentTime {
			kept = append(kept, filter)
		}
	}
	t.ballFilters = kept
	if t.currentBallFilter != nil {
		found := false
		for _, f := range t.ballFilters {
			if f == t.currentBallFilter {
				found = true
				break
			}
		}
		if !found {
			t.currentBallFilter = nil
		}
	}
}
