package obstacles

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-field/fieldwork/internal/geo"
)

func TestCircleDistance(t *testing.T) {
	c := Circle{Center: geo.Vector2{X: 1, Y: 0}, Radius: 0.5, Prio: 2}
	assert.InDelta(t, 0.5, c.DistancePoint(geo.Vector2{X: 2, Y: 0}), 1e-12)
	assert.InDelta(t, -0.5, c.DistancePoint(geo.Vector2{X: 1, Y: 0}), 1e-12)
	assert.Equal(t, 2, c.Priority())

	seg := geo.LineSegment{Start: geo.Vector2{X: -1, Y: 1}, End: geo.Vector2{X: 3, Y: 1}}
	assert.InDelta(t, 0.5, c.DistanceSegment(seg), 1e-12)
}

func TestRectDistance(t *testing.T) {
	r := NewRect(2, 1, 0, 0, 0) // corners in any order
	assert.Equal(t, geo.Vector2{X: 0, Y: 0}, r.BottomLeft)
	assert.Equal(t, geo.Vector2{X: 2, Y: 1}, r.TopRight)

	// corner region
	assert.InDelta(t, math.Sqrt2, r.DistancePoint(geo.Vector2{X: 3, Y: 2}), 1e-12)
	// side region
	assert.InDelta(t, 0.5, r.DistancePoint(geo.Vector2{X: 1, Y: 1.5}), 1e-12)
	// inside: negative distance to the closest side
	assert.InDelta(t, -0.25, r.DistancePoint(geo.Vector2{X: 1, Y: 0.75}), 1e-12)

	inside := geo.LineSegment{Start: geo.Vector2{X: 0.5, Y: 0.5}, End: geo.Vector2{X: 1.5, Y: 0.5}}
	assert.Equal(t, 0.0, r.DistanceSegment(inside))
	above := geo.LineSegment{Start: geo.Vector2{X: 0, Y: 2}, End: geo.Vector2{X: 2, Y: 2}}
	assert.InDelta(t, 1, r.DistanceSegment(above), 1e-12)
}

func TestTriangleDistance(t *testing.T) {
	// clockwise corners are reordered counter-clockwise by the constructor
	tri := NewTriangle(geo.Vector2{X: 0, Y: 0}, geo.Vector2{X: 0, Y: 2}, geo.Vector2{X: 2, Y: 0}, 0, 0)

	// inside: negative distance to the closest side
	d, err := tri.DistancePointChecked(geo.Vector2{X: 0.25, Y: 0.25})
	require.NoError(t, err)
	assert.InDelta(t, -0.25, d, 1e-12)

	// nearest side
	assert.InDelta(t, 0.5, tri.DistancePoint(geo.Vector2{X: -0.5, Y: 1}), 1e-12)
	// nearest corner
	assert.InDelta(t, math.Sqrt2, tri.DistancePoint(geo.Vector2{X: -1, Y: -1}), 1e-12)

	// line width shrinks all distances
	wide := NewTriangle(geo.Vector2{X: 0, Y: 0}, geo.Vector2{X: 0, Y: 2}, geo.Vector2{X: 2, Y: 0}, 0.1, 0)
	assert.InDelta(t, 0.4, wide.DistancePoint(geo.Vector2{X: -0.5, Y: 1}), 1e-12)

	crossing := geo.LineSegment{Start: geo.Vector2{X: -1, Y: 0.5}, End: geo.Vector2{X: 3, Y: 0.5}}
	assert.Equal(t, 0.0, tri.DistanceSegment(crossing))
	inside := geo.LineSegment{Start: geo.Vector2{X: 0.2, Y: 0.2}, End: geo.Vector2{X: 0.3, Y: 0.3}}
	assert.Equal(t, 0.0, tri.DistanceSegment(inside))
	outside := geo.LineSegment{Start: geo.Vector2{X: -1, Y: 0}, End: geo.Vector2{X: -1, Y: 2}}
	assert.InDelta(t, 1, tri.DistanceSegment(outside), 1e-12)
}

func TestDegenerateTriangle(t *testing.T) {
	// collinear corners; this point still falls into the nearest-corner
	// region, so the error branch only runs for patterns the classification
	// rejects
	tri := Triangle{
		P1: geo.Vector2{X: 0, Y: 0},
		P2: geo.Vector2{X: 1, Y: 0},
		P3: geo.Vector2{X: 2, Y: 0},
	}
	_, err := tri.DistancePointChecked(geo.Vector2{X: 1, Y: -1})
	if err != nil {
		assert.ErrorIs(t, err, ErrDegenerateTriangle)
		// the non-checked variant falls back to the closest corner
		assert.InDelta(t, 1, tri.DistancePoint(geo.Vector2{X: 1, Y: -1}), 1e-9)
	}
}

func TestThickLineDistance(t *testing.T) {
	l := ThickLine{
		Segment: geo.LineSegment{Start: geo.Vector2{X: 0, Y: 0}, End: geo.Vector2{X: 2, Y: 0}},
		Width:   0.25,
	}
	assert.InDelta(t, 0.75, l.DistancePoint(geo.Vector2{X: 1, Y: 1}), 1e-12)
	assert.InDelta(t, -0.25, l.DistancePoint(geo.Vector2{X: 1, Y: 0}), 1e-12)
}

func TestMovingCircle(t *testing.T) {
	m := MovingCircle{
		StartPos:  geo.Vector2{X: 0, Y: 0},
		Speed:     geo.Vector2{X: 1, Y: 0},
		StartTime: 1,
		EndTime:   3,
		Radius:    0.5,
		Prio:      3,
	}
	// outside the validity window the obstacle constrains nothing
	assert.False(t, m.Intersects(geo.Vector2{X: 0, Y: 0}, 0.5))
	assert.True(t, math.IsInf(m.Distance(geo.Vector2{X: 0, Y: 0}, 0.5), 1))

	// at t=2 the centre has moved one second worth of speed
	assert.True(t, m.Intersects(geo.Vector2{X: 1.2, Y: 0}, 2))
	assert.InDelta(t, 0.5, m.Distance(geo.Vector2{X: 2, Y: 0}, 2), 1e-12)
}

func TestMovingCircleAcceleration(t *testing.T) {
	m := MovingCircle{
		Speed:     geo.Vector2{X: 1, Y: 0},
		Acc:       geo.Vector2{X: 2, Y: 0},
		StartTime: 0,
		EndTime:   10,
		Radius:    0.1,
	}
	// centre at t=2: 1*2 + 0.5*2*4 = 6
	assert.InDelta(t, 0.9, m.Distance(geo.Vector2{X: 7, Y: 0}, 2), 1e-9)
}

func TestMovingLine(t *testing.T) {
	m := MovingLine{
		StartPos1: geo.Vector2{X: 0, Y: 0},
		StartPos2: geo.Vector2{X: 0, Y: 2},
		Speed1:    geo.Vector2{X: 1, Y: 0},
		Speed2:    geo.Vector2{X: 1, Y: 0},
		StartTime: 0,
		EndTime:   5,
		Width:     0.2,
	}
	assert.True(t, m.Intersects(geo.Vector2{X: 1.1, Y: 1}, 1))
	assert.InDelta(t, 0.8, m.Distance(geo.Vector2{X: 2, Y: 1}, 1), 1e-12)
}
