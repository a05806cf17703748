// Package trajplan plans dynamically feasible trajectories around static and
// moving obstacles under a fixed per-request sampling budget. The planner
// first tries the direct alpha-time trajectory, then samples two-segment
// trajectories through a midpoint, and falls back to endpoint relocation or
// obstacle escape when start or goal are blocked.
package trajplan

import (
	"math"
	"math/rand"

	"github.com/banshee-field/fieldwork/internal/alphatime"
	"github.com/banshee-field/fieldwork/internal/geo"
	"github.com/banshee-field/fieldwork/internal/obstacles"
	"github.com/banshee-field/fieldwork/internal/profile"
)

const (
	// totalSlowDownTime must match the profile package's slow-down tail.
	totalSlowDownTime = profile.SlowDownTime

	obstacleAvoidanceRadius = 0.1
	obstacleAvoidanceBonus  = 1.2

	midPointSamples      = 100
	endInObstacleSamples = 200
	escapeSamples        = 100
)

// TrajectoryPoint is one sample of a planned trajectory, equally spaced in
// time within each generation segment.
type TrajectoryPoint struct {
	Pos   geo.Vector2
	Speed geo.Vector2
	Time  float64
}

// Request is a single planning request. Positions are absolute field
// coordinates.
type Request struct {
	S0, V0 geo.Vector2
	S1, V1 geo.Vector2

	MaxSpeed     float64
	Acceleration float64

	// AllowSlowDown enables the exponential slow-down tail when the request
	// arrives at zero speed.
	AllowSlowDown bool

	// When any of the obstacle lists is non-empty they replace the
	// planner's current obstacle world for this and subsequent requests;
	// otherwise the obstacles registered via the Add methods stay active.
	Obstacles     []obstacles.Static
	MovingCircles []obstacles.MovingCircle
	MovingLines   []obstacles.MovingLine
}

type bestTrajectoryInfo struct {
	time       float64
	centerTime float64
	angle      float64
	midSpeed   geo.Vector2
	valid      bool
}

// generationSegment holds a finished trajectory part plus the data needed to
// rescale its sampled positions onto the exact desired end position.
type generationSegment struct {
	traj *profile.Trajectory
	// desiredDistance is the intended relative end position; zero disables
	// residual rescaling.
	desiredDistance geo.Vector2
}

// Planner owns the obstacle world and the cross-frame sampling seeds. It is
// not safe for concurrent use; the core drives one planner per robot.
type Planner struct {
	rng *rand.Rand

	radius             float64
	boundary           obstacles.Rect
	outOfFieldPriority int

	static        []obstacles.Static
	movingCircles []obstacles.MovingCircle
	movingLines   []obstacles.MovingLine

	// per-request inputs; distance is s1-s0 and all sampling positions are
	// relative to s0
	v0, v1, s0, s1, distance geo.Vector2
	exponentialSlowDown      bool
	maxSpeed, maxSpeedSq     float64
	acceleration             float64

	// cross-frame state seeding the next search
	bestResult           bestTrajectoryInfo
	bestEndPoint         geo.Vector2
	bestEndPointDistance float64
	bestEscapingTime     float64
	bestEscapingAngle    float64

	generation []generationSegment

	precomputed []PrecomputedSegment
}

// NewPlanner creates a planner with a deterministically seeded RNG.
func NewPlanner(seed int64) *Planner {
	return &Planner{
		rng:                rand.New(rand.NewSource(seed)),
		outOfFieldPriority: 1,
		bestEscapingTime:   2,
	}
}

// SetRobotRadius sets the clearance added around every obstacle.
func (p *Planner) SetRobotRadius(r float64) { p.radius = r }

// SetBoundary sets the playfield rectangle.
func (p *Planner) SetBoundary(x1, y1, x2, y2 float64) {
	p.boundary = obstacles.NewRect(x1, y1, x2, y2, 0)
}

// SetOutOfFieldPriority sets the priority assigned to leaving the playfield
// in escape scoring.
func (p *Planner) SetOutOfFieldPriority(prio int) { p.outOfFieldPriority = prio }

// AddObstacle registers a static obstacle for subsequent requests.
func (p *Planner) AddObstacle(o obstacles.Static) { p.static = append(p.static, o) }

// AddMovingCircle registers a moving circular obstacle; the robot radius is
// folded into its radius.
func (p *Planner) AddMovingCircle(m obstacles.MovingCircle) {
	m.Radius += p.radius
	p.movingCircles = append(p.movingCircles, m)
}

// AddMovingLine registers a moving line obstacle; the robot radius is folded
// into its width.
func (p *Planner) AddMovingLine(m obstacles.MovingLine) {
	m.Width += p.radius
	p.movingLines = append(p.movingLines, m)
}

// ClearObstacles removes all static and moving obstacles.
func (p *Planner) ClearObstacles() {
	p.static = p.static[:0]
	p.movingCircles = p.movingCircles[:0]
	p.movingLines = p.movingLines[:0]
}

// Plan computes a trajectory for the request. The iteration budget is fixed;
// when it is exhausted without a valid result the best escape trajectory is
// returned, never an empty path.
func (p *Planner) Plan(req Request) []TrajectoryPoint {
	if len(req.Obstacles)+len(req.MovingCircles)+len(req.MovingLines) > 0 {
		p.ClearObstacles()
		for _, o := range req.Obstacles {
			p.AddObstacle(o)
		}
		for _, m := range req.MovingCircles {
			p.AddMovingCircle(m)
		}
		for _, m := range req.MovingLines {
			p.AddMovingLine(m)
		}
	}

	p.v0 = req.V0
	p.v1 = req.V1
	p.s0 = req.S0
	p.s1 = req.S1
	p.distance = req.S1.Sub(req.S0)
	p.exponentialSlowDown = req.AllowSlowDown && req.V1.X == 0 && req.V1.Y == 0
	p.maxSpeed = req.MaxSpeed
	p.maxSpeedSq = req.MaxSpeed * req.MaxSpeed
	p.acceleration = req.Acceleration

	p.findPathAlphaT()
	return p.resultPath()
}

func (p *Planner) pointInPlayfield(point geo.Vector2, radius float64) bool {
	return point.X-radius >= p.boundary.BottomLeft.X &&
		point.X+radius <= p.boundary.TopRight.X &&
		point.Y-radius >= p.boundary.BottomLeft.Y &&
		point.Y+radius <= p.boundary.TopRight.Y
}

func (p *Planner) isInStaticObstacle(point geo.Vector2) bool {
	if !p.pointInPlayfield(point, p.radius) {
		return true
	}
	for _, o := range p.static {
		if o.DistancePoint(point) < p.radius {
			return true
		}
	}
	return false
}

func (p *Planner) isInMovingObstacle(point geo.Vector2, time float64) bool {
	for _, o := range p.movingCircles {
		if o.Intersects(point, time) {
			return true
		}
	}
	for _, o := range p.movingLines {
		if o.Intersects(point, time) {
			return true
		}
	}
	return false
}

const trajectorySampleCount = 40

func (p *Planner) isTrajectoryInObstacle(traj *profile.Trajectory, timeOffset float64, startPos geo.Vector2) bool {
	totalTime := traj.Time()
	for i := 0; i < trajectorySampleCount; i++ {
		time := totalTime * float64(i) / float64(trajectorySampleCount-1)
		pos := traj.StateAt(time).Pos.Add(startPos)
		if p.isInStaticObstacle(pos) {
			return true
		}
		if p.isInMovingObstacle(pos, time+timeOffset) {
			return true
		}
	}
	return false
}

// minObstacleDistance samples the trajectory and returns the minimum
// clearance over all samples and the clearance at the final sample. A
// non-positive first value means the trajectory collides.
func (p *Planner) minObstacleDistance(traj *profile.Trajectory, timeOffset float64, startPos geo.Vector2) (float64, float64) {
	totalTime := traj.Time()
	minDistance := math.Inf(1)
	lastPointDistance := math.Inf(1)
	for i := 0; i < trajectorySampleCount; i++ {
		time := totalTime * float64(i) / float64(trajectorySampleCount-1)
		pos := traj.StateAt(time).Pos.Add(startPos)
		if !p.pointInPlayfield(pos, p.radius) {
			return -1, -1
		}
		pointDistance := math.Inf(1)
		for _, o := range p.static {
			d := o.DistancePoint(pos) - p.radius
			if d <= 0 {
				return d, d
			}
			pointDistance = math.Min(pointDistance, d)
		}
		for _, o := range p.movingCircles {
			d := o.Distance(pos, time+timeOffset)
			if d <= 0 {
				return d, d
			}
			pointDistance = math.Min(pointDistance, d)
		}
		for _, o := range p.movingLines {
			d := o.Distance(pos, time+timeOffset)
			if d <= 0 {
				return d, d
			}
			pointDistance = math.Min(pointDistance, d)
		}
		minDistance = math.Min(minDistance, pointDistance)
		if i == trajectorySampleCount-1 {
			lastPointDistance = pointDistance
		}
	}
	return minDistance, lastPointDistance
}

// checkMidPoint evaluates a midpoint sample: segment B runs midSpeed -> v1
// under the fast-end-speed law with the sampled (time, angle), segment A is
// searched to end at the remaining distance with exactly midSpeed. Improves
// the current best when both segments are clear and the biased total time is
// lower.
func (p *Planner) checkMidPoint(midSpeed geo.Vector2, time, angle float64) bool {
	// do not require a minimum improvement for very short distances
	minimumTimeImprovement := 0.0
	if p.distance.LengthSq() > 1 {
		minimumTimeImprovement = 0.05
	}

	if !alphatime.IsInputValidFastEndSpeed(midSpeed, p.v1, time, p.acceleration) {
		return false
	}
	slowDownTime := 0.0
	if p.exponentialSlowDown {
		slowDownTime = totalSlowDownTime
	}
	secondPart := alphatime.CalculateTrajectoryFastEndSpeed(midSpeed, p.v1, geo.Vector2{}, time, angle, p.acceleration, p.maxSpeed, slowDownTime, -1)
	secondPartTime := secondPart.Time()
	secondPartOffset := secondPart.EndPosition()
	if secondPartTime > p.bestResult.time-minimumTimeImprovement {
		return false
	}

	firstPartPosition := p.distance.Sub(secondPartOffset)
	firstPartSlowDownTime := 0.0
	if p.exponentialSlowDown {
		firstPartSlowDownTime = math.Max(0, totalSlowDownTime-secondPartTime)
	}
	firstPart := alphatime.FindTrajectoryExactEndSpeed(p.v0, midSpeed, firstPartPosition, p.acceleration, p.maxSpeed, firstPartSlowDownTime, false)
	if !firstPart.Valid {
		return false
	}
	firstPartTime := firstPart.Traj.Time()
	if firstPartTime+secondPartTime > p.bestResult.time-minimumTimeImprovement {
		return false
	}

	firstPartObstacleDist, _ := p.minObstacleDistance(firstPart.Traj, 0, p.s0)
	if firstPartObstacleDist <= 0 {
		return false
	}
	secondPartObstacleDist, _ := p.minObstacleDistance(secondPart, firstPartTime, p.s1.Sub(secondPartOffset))
	if secondPartObstacleDist <= 0 {
		return false
	}
	obstacleDistExtraTime := 1.0
	if math.Min(firstPartObstacleDist, secondPartObstacleDist) < obstacleAvoidanceRadius {
		obstacleDistExtraTime = obstacleAvoidanceBonus
	}
	biasedTrajectoryTime := (firstPartTime + secondPartTime) * obstacleDistExtraTime
	if biasedTrajectoryTime > p.bestResult.time-minimumTimeImprovement {
		return false
	}

	p.bestResult = bestTrajectoryInfo{
		time:       biasedTrajectoryTime,
		centerTime: time,
		angle:      angle,
		midSpeed:   midSpeed,
		valid:      true,
	}

	p.generation = p.generation[:0]
	p.generation = append(p.generation,
		generationSegment{traj: firstPart.Traj, desiredDistance: firstPartPosition},
		// the second part keeps its own endpoint; rescaling it towards the
		// goal could pull it back into obstacles
		generationSegment{traj: secondPart},
	)
	return true
}

func (p *Planner) randomPointInField() geo.Vector2 {
	return geo.Vector2{
		X: p.boundary.BottomLeft.X + p.rng.Float64()*(p.boundary.TopRight.X-p.boundary.BottomLeft.X),
		Y: p.boundary.BottomLeft.Y + p.rng.Float64()*(p.boundary.TopRight.Y-p.boundary.BottomLeft.Y),
	}
}

func (p *Planner) randomSpeed() geo.Vector2 {
	for {
		speed := geo.Vector2{
			X: (p.rng.Float64()*2 - 1) * p.maxSpeed,
			Y: (p.rng.Float64()*2 - 1) * p.maxSpeed,
		}
		if speed.LengthSq() <= p.maxSpeedSq {
			return speed
		}
	}
}

// testEndPoint tries to stop at endPoint (relative to s0) and records it as
// the best relocated goal when reachable and closer to the original goal.
func (p *Planner) testEndPoint(endPoint geo.Vector2) bool {
	if endPoint.Distance(p.distance) > p.bestEndPointDistance-0.05 {
		return false
	}

	// no slow-down here, this is not where we want to end up anyway
	direct := alphatime.FindTrajectoryExactEndSpeed(p.v0, geo.Vector2{}, endPoint, p.acceleration, p.maxSpeed, 0, false)
	if !direct.Valid {
		return false
	}
	if p.isTrajectoryInObstacle(direct.Traj, 0, p.s0) {
		return false
	}

	p.bestEndPointDistance = endPoint.Distance(p.distance)
	p.bestEndPoint = endPoint
	p.bestResult.valid = true

	p.generation = p.generation[:0]
	p.generation = append(p.generation, generationSegment{traj: direct.Traj, desiredDistance: endPoint})
	return true
}

// findPathEndInObstacle searches for the closest reachable point to a goal
// that lies inside a static obstacle, preferring points near the goal and
// near the previous frame's relocated goal.
func (p *Planner) findPathEndInObstacle() {
	prevBestDistance := p.bestEndPointDistance
	p.bestEndPointDistance = math.Inf(1)
	p.bestResult.valid = false
	if !p.testEndPoint(p.bestEndPoint) {
		p.bestEndPointDistance = prevBestDistance * 1.3
	}

	for i := 0; i < endInObstacleSamples; i++ {
		if i == endInObstacleSamples/3 && !p.bestResult.valid {
			p.bestEndPointDistance = math.Inf(1)
		}
		randVal := p.rng.Intn(1024)
		var testPoint geo.Vector2
		switch {
		case randVal < 300:
			// around the original goal
			testRadius := math.Min(p.bestEndPointDistance, 0.3)
			testPoint = p.distance.Add(geo.Vector2{
				X: (p.rng.Float64()*2 - 1) * testRadius,
				Y: (p.rng.Float64()*2 - 1) * testRadius,
			})
		case randVal < 800 || p.bestEndPointDistance < 0.3:
			// around the last best end point
			testRadius := math.Min(p.bestEndPointDistance, 0.3)
			testPoint = p.bestEndPoint.Add(geo.Vector2{
				X: (p.rng.Float64()*2 - 1) * testRadius,
				Y: (p.rng.Float64()*2 - 1) * testRadius,
			})
		default:
			testPoint = p.randomPointInField().Sub(p.s0)
		}
		p.testEndPoint(testPoint)
	}

	if !p.bestResult.valid {
		p.escapeObstacles()
	}
}

// trajectoryObstacleScore rates a candidate escape trajectory by the highest
// obstacle priority it visits and the time spent inside that priority.
// Stopping inside an obstacle is heavily penalized.
func (p *Planner) trajectoryObstacleScore(traj *profile.Trajectory) (int, float64) {
	const samplingInterval = 0.005
	totalTime := traj.Time()
	samples := int(totalTime/samplingInterval) + 1

	currentBestPrio := 0
	currentBestTime := 0.0
	for i := 0; i < samples; i++ {
		time := float64(i) * samplingInterval
		if i == samples-1 {
			time = totalTime
		}

		pos := traj.StateAt(time).Pos.Add(p.s0)
		obstaclePriority := 0
		if !p.pointInPlayfield(pos, p.radius) {
			obstaclePriority = p.outOfFieldPriority
		}
		for _, o := range p.static {
			if o.Priority() > obstaclePriority && o.DistancePoint(pos) < p.radius {
				obstaclePriority = o.Priority()
			}
		}
		for _, o := range p.movingCircles {
			if o.Priority() > obstaclePriority && o.Intersects(pos, time) {
				obstaclePriority = o.Priority()
			}
		}
		for _, o := range p.movingLines {
			if o.Priority() > obstaclePriority && o.Intersects(pos, time) {
				obstaclePriority = o.Priority()
			}
		}
		if obstaclePriority > currentBestPrio {
			currentBestPrio = obstaclePriority
			currentBestTime = 0
		}
		if obstaclePriority == currentBestPrio {
			if i == samples-1 {
				// strong penalty for stopping in an obstacle
				currentBestTime += 10
			} else {
				currentBestTime += samplingInterval
			}
		}
	}
	return currentBestPrio, currentBestTime
}

// escapeObstacles searches (time, angle) stopping trajectories minimizing
// the lexicographic (max priority visited, time inside it, total time)
// score. The best pair is kept across frames as the next search seed.
func (p *Planner) escapeObstacles() {
	traj := alphatime.CalculateTrajectoryExactEndSpeed(p.v0, geo.Vector2{}, geo.Vector2{}, p.bestEscapingTime, p.bestEscapingAngle, p.acceleration, p.maxSpeed, 0, -1)
	bestPrio, bestObstacleTime := p.trajectoryObstacleScore(traj)
	bestTotalTime := traj.Time()
	bestTraj := traj

	for i := 0; i < escapeSamples; i++ {
		if bestPrio == 0 {
			break
		}
		var time, angle float64
		if p.rng.Intn(2) == 0 {
			time = 0.4 + p.rng.Float64()*4.6
			angle = p.rng.Float64() * 2 * math.Pi
		} else {
			time = math.Max(0.05, p.bestEscapingTime+(p.rng.Float64()*0.2-0.1))
			angle = p.bestEscapingAngle + (p.rng.Float64()*0.2 - 0.1)
		}
		candidate := alphatime.CalculateTrajectoryExactEndSpeed(p.v0, geo.Vector2{}, geo.Vector2{}, time, angle, p.acceleration, p.maxSpeed, 0, -1)
		prio, obstacleTime := p.trajectoryObstacleScore(candidate)
		totalTime := candidate.Time()
		if prio < bestPrio ||
			(prio == bestPrio && obstacleTime < bestObstacleTime) ||
			(prio == bestPrio && obstacleTime == bestObstacleTime && totalTime < bestTotalTime) {
			bestPrio = prio
			bestObstacleTime = obstacleTime
			bestTotalTime = totalTime
			bestTraj = candidate
			p.bestEscapingTime = time
			p.bestEscapingAngle = angle
		}
	}

	p.generation = p.generation[:0]
	p.generation = append(p.generation, generationSegment{traj: bestTraj})
}

type samplingMode int

const (
	totalRandom samplingMode = iota
	currentBest
	lastBest
)

func (p *Planner) findPathAlphaT() {
	directSlowDownTime := 0.0
	if p.exponentialSlowDown {
		directSlowDownTime = totalSlowDownTime
	}

	// direct attempt first
	p.generation = p.generation[:0]
	useHighPrecision := p.distance.Length() < 0.1 && p.v1.X == 0 && p.v1.Y == 0 && p.v0.Length() < 0.2
	direct := alphatime.FindTrajectoryFastEndSpeed(p.v0, p.v1, p.distance, p.acceleration, p.maxSpeed, directSlowDownTime, useHighPrecision)
	if direct.Valid {
		if dist, _ := p.minObstacleDistance(direct.Traj, 0, p.s0); dist > obstacleAvoidanceRadius {
			p.generation = append(p.generation, generationSegment{traj: direct.Traj, desiredDistance: p.distance})
			return
		}
	}

	lastFrameInfo := p.bestResult
	if lastFrameInfo.midSpeed.LengthSq() > p.maxSpeedSq {
		lastFrameInfo.valid = false
	}

	p.bestResult.time = math.Inf(1)
	p.bestResult.valid = false

	// re-evaluate the previous frame's best sample first
	if lastFrameInfo.valid {
		p.checkMidPoint(lastFrameInfo.midSpeed, lastFrameInfo.centerTime, lastFrameInfo.angle)
	}

	if p.isInStaticObstacle(p.s0) || p.isInMovingObstacle(p.s0, 0) {
		p.escapeObstacles()
		return
	}
	if p.isInStaticObstacle(p.s1) {
		p.findPathEndInObstacle()
		return
	}

	if len(p.precomputed) > 0 {
		p.samplePrecomputed()
	} else {
		p.sampleLive(lastFrameInfo)
	}

	if !p.bestResult.valid {
		p.escapeObstacles()
	}
}

// sampleLive runs the online midpoint search with its three sampling modes.
func (p *Planner) sampleLive(lastFrameInfo bestTrajectoryInfo) {
	defaultSpeed := geo.Vector2{}
	if l := p.distance.Length(); l > 0 {
		defaultSpeed = p.distance.Scale(math.Max(2.5, l/2) / l)
		if defaultSpeed.LengthSq() > p.maxSpeedSq {
			defaultSpeed = defaultSpeed.Normalized().Scale(p.maxSpeed)
		}
	}

	for i := 0; i < midPointSamples; i++ {
		var mode samplingMode
		if !p.bestResult.valid {
			if i < 20 || p.rng.Intn(2) == 0 {
				mode = lastBest
			} else {
				mode = totalRandom
			}
		} else {
			switch {
			case p.rng.Intn(1024) < 150:
				mode = totalRandom
			case p.bestResult.time < lastFrameInfo.time+0.05:
				mode = currentBest
			default:
				if p.rng.Intn(2) == 0 {
					mode = currentBest
				} else {
					mode = lastBest
				}
			}
		}

		var speed geo.Vector2
		var angle, time float64
		if mode == totalRandom {
			if p.rng.Intn(2) == 0 {
				speed = defaultSpeed
			} else {
				speed = p.randomSpeed()
			}
			angle = p.rng.Float64() * 2 * math.Pi
			maxTime := 5.0
			if p.bestResult.valid {
				maxTime = math.Max(0.01, p.bestResult.time-0.1)
			}
			time = p.rng.Float64() * maxTime
		} else {
			info := &p.bestResult
			if mode == lastBest {
				info = &lastFrameInfo
			}
			const speedRadius = 0.2
			chosenMidSpeed := info.midSpeed
			for chosenMidSpeed.LengthSq() > p.maxSpeedSq {
				chosenMidSpeed = chosenMidSpeed.Scale(0.9)
			}
			for {
				speed = chosenMidSpeed.Add(geo.Vector2{
					X: p.rng.NormFloat64() * speedRadius,
					Y: p.rng.NormFloat64() * speedRadius,
				})
				if speed.LengthSq() < p.maxSpeedSq {
					break
				}
			}
			angle = info.angle + p.rng.NormFloat64()*0.1
			time = math.Max(0.0001, info.centerTime+p.rng.NormFloat64()*0.1)
		}
		p.checkMidPoint(speed, math.Max(0, time), angle)
	}
}
