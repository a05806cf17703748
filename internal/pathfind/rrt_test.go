package pathfind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-field/fieldwork/internal/geo"
	"github.com/banshee-field/fieldwork/internal/obstacles"
)

func TestKdTree(t *testing.T) {
	tree := NewKdTree(geo.Vector2{}, false)
	n1 := tree.Insert(geo.Vector2{X: 1, Y: 0}, false, tree.Nearest(geo.Vector2{X: 1, Y: 0}))
	n2 := tree.Insert(geo.Vector2{X: 0, Y: 2}, true, n1)

	assert.Equal(t, geo.Vector2{X: 1, Y: 0}, tree.Position(tree.Nearest(geo.Vector2{X: 1.2, Y: 0.1})))
	assert.Equal(t, geo.Vector2{X: 0, Y: 2}, tree.Position(tree.Nearest(geo.Vector2{X: 0, Y: 5})))
	assert.True(t, tree.InObstacle(n2))
	assert.Equal(t, n1, tree.Previous(n2))
	assert.Nil(t, tree.Previous(tree.Nearest(geo.Vector2{X: 0.01, Y: 0.01})))
}

func TestKdTreeNearestMany(t *testing.T) {
	tree := NewKdTree(geo.Vector2{}, false)
	points := []geo.Vector2{
		{X: 0.5, Y: 0.5}, {X: -1, Y: 1}, {X: 2, Y: -2}, {X: 0.1, Y: -0.7},
		{X: 1.5, Y: 1.5}, {X: -2, Y: -2}, {X: 0.9, Y: 0.1},
	}
	for _, p := range points {
		tree.Insert(p, false, tree.Nearest(p))
	}
	// brute force comparison
	queries := []geo.Vector2{{X: 0.4, Y: 0.4}, {X: -1.5, Y: -1.5}, {X: 1, Y: 0}, {X: 3, Y: 3}}
	all := append([]geo.Vector2{{}}, points...)
	for _, q := range queries {
		best := all[0]
		for _, p := range all {
			if p.DistanceSq(q) < best.DistanceSq(q) {
				best = p
			}
		}
		assert.Equal(t, best, tree.Position(tree.Nearest(q)))
	}
}

func newTestPlanner(seed int64) *Planner {
	p := NewPlanner(seed)
	p.SetRadius(0.09)
	p.SetBoundary(-3, -3, 3, 3)
	return p
}

func pathIsCollisionFree(p *Planner, points []geo.Vector2) bool {
	for i := 1; i < len(points); i++ {
		seg := geo.LineSegment{Start: points[i-1], End: points[i]}
		if !p.testSegment(seg, p.radius, p.obstacles) {
			return false
		}
	}
	return true
}

func TestDirectShortcut(t *testing.T) {
	p := newTestPlanner(1)
	start := geo.Vector2{X: -2, Y: 0}
	end := geo.Vector2{X: 2, Y: 0}
	points := p.GetPath(start, end)
	require.NotEmpty(t, points)
	assert.Equal(t, start, points[0])
	assert.Equal(t, end, points[len(points)-1])
	// the free direct path simplifies to its two endpoints
	assert.Len(t, points, 2)
}

func TestPathAroundObstacle(t *testing.T) {
	p := newTestPlanner(2)
	p.AddObstacle(obstacles.Circle{Center: geo.Vector2{}, Radius: 0.5, Prio: 1})

	start := geo.Vector2{X: -1, Y: 0}
	end := geo.Vector2{X: 1, Y: 0}

	// the waypoint cache carries hints between frames; later frames find
	// the way around faster and more reliably
	var points []geo.Vector2
	for attempt := 0; attempt < 5; attempt++ {
		points = p.GetPath(start, end)
		if len(points) >= 2 && points[len(points)-1] == end {
			break
		}
	}

	require.GreaterOrEqual(t, len(points), 2)
	assert.Equal(t, start, points[0])
	assert.Equal(t, end, points[len(points)-1])
	assert.True(t, pathIsCollisionFree(p, points))
	for _, pt := range points {
		assert.GreaterOrEqual(t, pt.Distance(geo.Vector2{}), 0.5+p.radius-1e-6)
	}
}

func TestStartInObstacleLeavesIt(t *testing.T) {
	p := newTestPlanner(3)
	circle := obstacles.Circle{Center: geo.Vector2{}, Radius: 0.1, Prio: 1}
	p.AddObstacle(circle)

	// start inside the circle, 0.04 from its boundary
	start := geo.Vector2{X: 0.06, Y: 0}
	end := geo.Vector2{X: 2, Y: 0}
	points := p.GetPath(start, end)

	require.GreaterOrEqual(t, len(points), 2)
	assert.Equal(t, start, points[0])

	// the obstacle-coverage sum must strictly decrease on the way out
	startCoverage := p.obstacleCoverage(start, p.obstacles, p.radius)
	require.Greater(t, startCoverage, 0.0)
	firstInterior := points[1]
	assert.Less(t, p.obstacleCoverage(firstInterior, p.obstacles, p.radius), startCoverage)
}

func TestWaypointCacheIsBounded(t *testing.T) {
	p := newTestPlanner(4)
	p.cacheSize = 10
	p.AddObstacle(obstacles.Circle{Center: geo.Vector2{}, Radius: 0.5, Prio: 1})
	for i := 0; i < 5; i++ {
		p.GetPath(geo.Vector2{X: -2, Y: 0}, geo.Vector2{X: 2, Y: 0})
		assert.LessOrEqual(t, len(p.waypoints), 10)
	}
}

func TestCornerCutting(t *testing.T) {
	p := newTestPlanner(5)
	points := []geo.Vector2{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}}
	cut := p.cutCorners(points, p.radius)
	// without obstacles the corner collapses towards the straight line
	require.GreaterOrEqual(t, len(cut), 3)
	assert.Equal(t, geo.Vector2{X: 0, Y: 0}, cut[0])
	assert.Equal(t, geo.Vector2{X: 1, Y: 1}, cut[len(cut)-1])
}
