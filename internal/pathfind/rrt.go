package pathfind

import (
	"math"
	"math/rand"

	"github.com/banshee-field/fieldwork/internal/geo"
	"github.com/banshee-field/fieldwork/internal/obstacles"
)

// Planner is the RRT fallback path planner. It holds the static obstacle set,
// the field boundary and the waypoint cache that carries sampling hints from
// one frame to the next. The RNG is owned by the planner and seeded at
// construction for reproducible replays.
type Planner struct {
	pDest     float64
	pWaypoint float64
	radius    float64
	stepSize  float64
	cacheSize int

	boundary   obstacles.Rect
	sampleRect obstacles.Rect

	obstacles   []obstacles.Static
	seedTargets []geo.Vector2
	waypoints   []geo.Vector2

	rng *rand.Rand

	treeStart *KdTree
	treeEnd   *KdTree
}

// NewPlanner creates a planner with the default sampling parameters and a
// deterministic RNG.
func NewPlanner(seed int64) *Planner {
	return &Planner{
		pDest:     0.1,
		pWaypoint: 0.4,
		radius:    -1,
		stepSize:  0.1,
		cacheSize: 200,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Reset drops the search trees, obstacles and the waypoint cache.
func (p *Planner) Reset() {
	p.treeStart = nil
	p.treeEnd = nil
	p.ClearObstacles()
	p.waypoints = p.waypoints[:0]
}

// SetRadius sets the robot radius used for all obstacle clearance tests.
func (p *Planner) SetRadius(r float64) { p.radius = r }

// SetBoundary sets the playfield rectangle from any two opposite corners.
func (p *Planner) SetBoundary(x1, y1, x2, y2 float64) {
	p.boundary = obstacles.NewRect(x1, y1, x2, y2, 0)
}

// SetProbabilities tunes the sampling mix between the destination, the
// waypoint cache and uniform samples.
func (p *Planner) SetProbabilities(pDest, pWaypoint float64) {
	p.pDest = pDest
	p.pWaypoint = pWaypoint
}

// AddSeedTarget adds a position whose straight path from the start is
// rastered into the start tree before searching.
func (p *Planner) AddSeedTarget(pos geo.Vector2) {
	p.seedTargets = append(p.seedTargets, pos)
}

// AddObstacle registers a static obstacle.
func (p *Planner) AddObstacle(o obstacles.Static) {
	p.obstacles = append(p.obstacles, o)
}

// ClearObstacles removes all obstacles and seed targets.
func (p *Planner) ClearObstacles() {
	p.obstacles = p.obstacles[:0]
	p.seedTargets = p.seedTargets[:0]
}

func (p *Planner) pointInPlayfield(point geo.Vector2, radius float64) bool {
	return point.X-radius >= p.boundary.BottomLeft.X &&
		point.X+radius <= p.boundary.TopRight.X &&
		point.Y-radius >= p.boundary.BottomLeft.Y &&
		point.Y+radius <= p.boundary.TopRight.Y
}

func (p *Planner) outsidePlayfieldCoverage(point geo.Vector2, radius float64) float64 {
	return math.Max(0, math.Max(
		math.Max(p.boundary.BottomLeft.X-point.X+radius, point.X+radius-p.boundary.TopRight.X),
		math.Max(p.boundary.BottomLeft.Y-point.Y+radius, point.Y+radius-p.boundary.TopRight.Y),
	))
}

func (p *Planner) testPoint(v geo.Vector2, radius float64, obs []obstacles.Static) bool {
	if !p.pointInPlayfield(v, radius) {
		return false
	}
	for _, o := range obs {
		if o.DistancePoint(v) < radius {
			return false
		}
	}
	return true
}

func (p *Planner) testSegment(seg geo.LineSegment, radius float64, obs []obstacles.Static) bool {
	for _, o := range obs {
		if o.DistanceSegment(seg) < radius {
			return false
		}
	}
	return true
}

// obstacleCoverage sums up how deep v sits inside the given obstacles, each
// contribution capped at twice the robot radius: a fully covered robot can
// move freely between overlapping obstacles without the sum changing.
func (p *Planner) obstacleCoverage(v geo.Vector2, obs []obstacles.Static, robotRadius float64) float64 {
	sum := 0.0
	for _, o := range obs {
		if d := o.DistancePoint(v) - robotRadius; d < 0 {
			sum += math.Min(2*robotRadius, -d)
		}
	}
	return sum
}

// checkMovementRelativeToObstacles accepts a movement starting inside
// obstacles only if the coverage by the start obstacle set decreases
// monotonically along it and no new obstacle is entered. The start obstacle
// set contains only the touching obstacles of maximum priority; lower
// priority ones are demoted to the general list, allowing escapes from a
// high-priority obstacle through a low-priority one.
func (p *Planner) checkMovementRelativeToObstacles(segment geo.LineSegment, obs []obstacles.Static, radius float64) bool {
	pos := segment.Start
	step := segment.End.Sub(segment.Start)
	l := step.Length()
	if l == 0 {
		return false
	}

	// only allow moving further inside the field
	if p.outsidePlayfieldCoverage(segment.End, radius) > p.outsidePlayfieldCoverage(segment.Start, radius) {
		return false
	}

	var startObstacles, otherObstacles []obstacles.Static
	maxObstaclePrio := -1
	for _, o := range obs {
		if o.DistancePoint(pos) < radius {
			if o.Priority() > maxObstaclePrio {
				startObstacles = startObstacles[:0]
				maxObstaclePrio = o.Priority()
			}
			if o.Priority() == maxObstaclePrio {
				startObstacles = append(startObstacles, o)
			}
		}
	}
	for _, o := range obs {
		if o.DistancePoint(pos) >= radius && o.Priority() >= maxObstaclePrio {
			otherObstacles = append(otherObstacles, o)
		}
	}

	if len(startObstacles) == 1 {
		stepSize := math.Min(1e-3, l)
		probe := pos.Add(step.Scale(stepSize / l))

		// the obstacle is convex and inside-distance is the distance to
		// the closest boundary point, so leaving it is equivalent to the
		// coverage decreasing
		startSum := p.obstacleCoverage(pos, startObstacles, radius)
		stepSum := p.obstacleCoverage(probe, startObstacles, radius)
		if stepSum > startSum {
			return false
		}
	} else if len(startObstacles) > 1 {
		stepSize := 2e-3
		numSteps := int(math.Ceil(l / stepSize))
		stepSize = l / float64(numSteps)
		if l > stepSize {
			step = step.Scale(stepSize / l)
		}

		lastSum := math.Inf(1)
		for i := 0; i < numSteps+1; i++ {
			sum := p.obstacleCoverage(pos, startObstacles, radius)
			if sum > lastSum {
				return false
			}
			if sum == 0 && i < numSteps {
				if !p.testSegment(geo.LineSegment{Start: pos, End: segment.End}, radius, startObstacles) {
					return false
				}
				break
			}
			lastSum = sum
			pos = pos.Add(step)
		}
	}
	// new obstacles must not be entered
	return p.testSegment(segment, radius, otherObstacles)
}

func (p *Planner) randomState() geo.Vector2 {
	return geo.Vector2{
		X: p.sampleRect.BottomLeft.X + p.rng.Float64()*(p.sampleRect.TopRight.X-p.sampleRect.BottomLeft.X),
		Y: p.sampleRect.BottomLeft.Y + p.rng.Float64()*(p.sampleRect.TopRight.Y-p.sampleRect.BottomLeft.Y),
	}
}

func (p *Planner) getTarget(end geo.Vector2) geo.Vector2 {
	r := p.rng.Float64()
	switch {
	case r < p.pDest:
		return end
	case r < p.pDest+p.pWaypoint && len(p.waypoints) > 0:
		return p.waypoints[p.rng.Intn(len(p.waypoints))]
	default:
		return p.randomState()
	}
}

// addToWaypointCache inserts into the fixed-size reservoir, replacing a
// uniformly random slot once full.
func (p *Planner) addToWaypointCache(pos geo.Vector2) {
	if len(p.waypoints) < p.cacheSize {
		p.waypoints = append(p.waypoints, pos)
	} else {
		p.waypoints[p.rng.Intn(p.cacheSize)] = pos
	}
}

func (p *Planner) extend(tree *KdTree, fromNode *Node, to geo.Vector2, radius, stepSize float64) *Node {
	from := tree.Position(fromNode)
	inObstacle := tree.InObstacle(fromNode)
	d := to.Sub(from)
	l := d.Length()
	if l == 0 { // point already reached
		return nil
	}
	if l > stepSize {
		d = d.Scale(stepSize / l)
	}
	extended := from.Add(d)

	var success bool
	if inObstacle {
		// still inside: only allow getting out
		success = p.checkMovementRelativeToObstacles(geo.LineSegment{Start: from, End: extended}, p.obstacles, radius)
	} else {
		success = p.pointInPlayfield(extended, p.radius) &&
			p.testSegment(geo.LineSegment{Start: from, End: extended}, radius, p.obstacles)
	}
	if !success {
		return nil
	}

	newInObstacle := false
	// once every obstacle was left, re-entering one is impossible, so the
	// coverage test only applies while still inside
	if inObstacle {
		newInObstacle = !p.pointInPlayfield(extended, p.radius) || !p.testPoint(extended, radius, p.obstacles)
	}
	return tree.Insert(extended, newInObstacle, fromNode)
}

func (p *Planner) rasterPath(segment geo.LineSegment, lastNode *Node, stepSize float64) *Node {
	// the segment is assumed collision-free
	steps := int(math.Ceil(segment.Start.Distance(segment.End) / stepSize))
	for i := 0; i < steps; i++ {
		lastNode = p.extend(p.treeStart, lastNode, segment.End, p.radius, stepSize)
		if lastNode == nil {
			return nil
		}
	}
	return lastNode
}

// GetPath plans from start to end and returns the waypoint list. When the
// trees do not connect within the iteration budget, the best-effort path from
// the start tree is returned.
func (p *Planner) GetPath(start, end geo.Vector2) []geo.Vector2 {
	const extendMultiSteps = 4
	const maxIterations = 300

	// symmetric sampling around the midpoint, covering the whole field
	middle := start.Add(end).Scale(0.5)
	xHalf := math.Max(middle.X-p.boundary.BottomLeft.X, p.boundary.TopRight.X-middle.X)
	yHalf := math.Max(middle.Y-p.boundary.BottomLeft.Y, p.boundary.TopRight.Y-middle.Y)
	p.sampleRect = obstacles.NewRect(middle.X-xHalf, middle.Y-yHalf, middle.X+xHalf, middle.Y+yHalf, 0)

	startingInObstacle := !p.pointInPlayfield(start, p.radius) || !p.testPoint(start, p.radius, p.obstacles)
	endingInObstacle := !p.pointInPlayfield(end, p.radius) || !p.testPoint(end, p.radius, p.obstacles)

	p.treeStart = NewKdTree(start, startingInObstacle)
	p.treeEnd = NewKdTree(end, endingInObstacle)

	pathCompleted := false
	// shortcuts only apply with start and end outside all obstacles
	if !startingInObstacle && !endingInObstacle {
		if start == end {
			pathCompleted = true
		} else if p.testSegment(geo.LineSegment{Start: start, End: end}, p.radius, p.obstacles) {
			pathCompleted = true
			nearestNode := p.treeStart.Nearest(start)
			// raster the direct path for use as waypoint cache
			p.rasterPath(geo.LineSegment{Start: start, End: end}, nearestNode, p.stepSize)
		}
	}

	if !pathCompleted {
		for _, seedTarget := range p.seedTargets {
			nearestNode := p.treeStart.Nearest(start)
			p.rasterPath(geo.LineSegment{Start: start, End: seedTarget}, nearestNode, p.stepSize)
		}
	}

	treeA, treeB := p.treeStart, p.treeEnd
	var mergerNode *Node

	// the trees are rooted at start and end, so the search leaves the
	// obstacles there before trying to merge
	for iteration := 1; iteration < maxIterations && !pathCompleted; iteration++ {
		towards := start
		if treeA == p.treeStart {
			towards = end
		}
		target := p.getTarget(towards)
		nearestNode := treeA.Nearest(target)

		nearestNode = p.extend(treeA, nearestNode, target, p.radius, p.stepSize)

		if nearestNode != nil {
			target = treeA.Position(nearestNode)
			nearestNode = treeB.Nearest(target)
		}

		for i := 0; i < extendMultiSteps && nearestNode != nil; i++ {
			nearestNode = p.extend(treeB, nearestNode, target, p.radius, p.stepSize)
			if nearestNode == nil {
				break
			}
			extended := treeB.Position(nearestNode)
			if extended.Distance(target) <= 1e-5 && !treeB.InObstacle(nearestNode) {
				pathCompleted = true
				mergerNode = nearestNode
				break
			}
		}
		treeA, treeB = treeB, treeA
	}

	var mid geo.Vector2
	var nearestNode *Node
	if mergerNode != nil {
		// both trees have touched
		mid = p.treeStart.Position(mergerNode)
		nearestNode = p.treeStart.Nearest(mid)
	} else {
		nearestNode = p.treeStart.Nearest(end)
		mid = p.treeStart.Position(nearestNode)
	}

	var points []geo.Vector2
	{
		var inversePoints []geo.Vector2
		for nearestNode != nil {
			inversePoints = append(inversePoints, p.treeStart.Position(nearestNode))
			nearestNode = p.treeStart.Previous(nearestNode)
		}
		points = make([]geo.Vector2, 0, len(inversePoints))
		for i := len(inversePoints) - 1; i >= 0; i-- {
			points = append(points, inversePoints[i])
		}
	}

	nearestNode = p.treeEnd.Nearest(mid)
	if mergerNode != nil {
		// traverse the end tree, skipping the merger node
		nearestNode = p.treeEnd.Previous(nearestNode)
		for nearestNode != nil && !p.treeEnd.InObstacle(nearestNode) {
			points = append(points, p.treeEnd.Position(nearestNode))
			nearestNode = p.treeEnd.Previous(nearestNode)
		}
		// get as close to the target as possible if it is not reached
		if nearestNode != nil && len(points) > 0 {
			lineStart := points[len(points)-1]
			bestPos := p.findValidPoint(geo.LineSegment{Start: lineStart, End: p.treeEnd.Position(nearestNode)}, p.radius)
			if lineStart != bestPos && p.pointInPlayfield(bestPos, p.radius) &&
				p.testSegment(geo.LineSegment{Start: lineStart, End: bestPos}, p.radius, p.obstacles) {
				points = append(points, bestPos)
			}
		}
	}

	// don't keep more waypoints for a longer path
	normalizedWaypointCount := math.Ceil(start.Distance(end) * 1.05 / p.stepSize)
	keepProbability := 0.0
	if len(points) > 0 {
		keepProbability = math.Min(1, normalizedWaypointCount/float64(len(points)))
	}
	for _, pos := range points {
		if p.rng.Float64() <= keepProbability {
			p.addToWaypointCache(pos)
		}
	}
	// remaining end-tree points still make useful hints
	for nearestNode != nil {
		p.addToWaypointCache(p.treeEnd.Position(nearestNode))
		nearestNode = p.treeEnd.Previous(nearestNode)
	}

	// cut corners several times
	for i := 0; i < 3; i++ {
		points = p.simplify(points, p.radius)
		points = p.cutCorners(points, p.radius)
	}
	return p.simplify(points, p.radius)
}

// simplify removes interior points while the bridging segments stay
// collision-free. Points still inside the start obstacles use the
// obstacle-relative movement rule instead of the plain test.
func (p *Planner) simplify(points []geo.Vector2, radius float64) []geo.Vector2 {
	// every point before this index is inside the start obstacles
	split := len(points)
	for i, pt := range points {
		if p.pointInPlayfield(pt, p.radius) && p.testPoint(pt, radius, p.obstacles) {
			split = i
			break
		}
	}

	for startIndex := 0; startIndex < len(points); startIndex++ {
		for endIndex := len(points) - 1; endIndex > startIndex+1; endIndex-- {
			// identical points in start and end tree: drop everything in
			// between
			if points[startIndex] == points[endIndex] {
				split -= min(max(0, split-startIndex), endIndex-startIndex)
				points = append(points[:startIndex], points[endIndex:]...)
				break
			}
			seg := geo.LineSegment{Start: points[startIndex], End: points[endIndex]}
			ok := false
			if startIndex < split {
				ok = p.checkMovementRelativeToObstacles(seg, p.obstacles, radius)
			} else {
				ok = p.testSegment(seg, radius, p.obstacles)
			}
			if ok {
				split -= min(max(0, split-startIndex-1), endIndex-startIndex-1)
				points = append(points[:startIndex+1], points[endIndex:]...)
				break
			}
		}
	}
	return points
}

// findValidPoint binary-searches the last point on the segment still
// reachable without collision.
func (p *Planner) findValidPoint(segment geo.LineSegment, radius float64) geo.Vector2 {
	lineStart := segment.Start
	start := lineStart
	end := segment.End
	dist := start.Distance(end)

	for dist > 0.001 {
		mid := start.Add(end).Scale(0.5)
		if p.pointInPlayfield(mid, p.radius) && p.testSegment(geo.LineSegment{Start: lineStart, End: mid}, radius, p.obstacles) {
			start = mid
		} else {
			end = mid
		}
		dist /= 2
	}
	return start.Add(end).Scale(0.5)
}

// cutCorners rounds each interior vertex by binary-searching the symmetric
// cut distance whose chord stays collision-free.
func (p *Planner) cutCorners(points []geo.Vector2, radius float64) []geo.Vector2 {
	for i := 1; i < len(points)-1; i++ {
		left := points[i-1]
		mid := points[i]
		right := points[i+1]

		diffLeft := left.Sub(mid)
		diffRight := right.Sub(mid)
		step := math.Min(diffLeft.Length(), diffRight.Length())
		diffLeft = diffLeft.Normalized()
		diffRight = diffRight.Normalized()

		// pretend a binary search works; there may be multiple valid
		// ranges and the found one is not necessarily the best
		step /= 2
		dist := step
		lastGood := 0.0
		for step > 0.01 {
			line := geo.LineSegment{Start: mid.Add(diffLeft.Scale(dist)), End: mid.Add(diffRight.Scale(dist))}
			step /= 2
			// only obstacles matter here, so paths leading back into the
			// playfield can still be smoothed
			if p.testSegment(line, radius, p.obstacles) {
				lastGood = dist
				dist += step
			} else {
				dist -= step
			}
		}

		if lastGood > 0 {
			points[i] = mid.Add(diffLeft.Scale(lastGood))
			i++
			points = append(points[:i], append([]geo.Vector2{mid.Add(diffRight.Scale(lastGood))}, points[i:]...)...)
		}
	}
	return points
}
