// Package obstacles models the static and moving obstacle variants used by
// the trajectory planner and the RRT fallback. Static obstacles are convex;
// the distance to a point inside an obstacle is the negated distance to the
// closest boundary point, which the obstacle-relative RRT movement rule
// depends on.
package obstacles

import (
	"math"

	"github.com/pkg/errors"

	"github.com/banshee-field/fieldwork/internal/geo"
)

// ErrDegenerateTriangle is returned when the three side determinants of a
// triangle describe no consistent region, e.g. the NaN determinants produced
// by coincident corners.
var ErrDegenerateTriangle = errors.New("obstacles: degenerate triangle")

// Static is a convex obstacle with a priority. Higher priority wins when the
// planner has to pick which obstacle to escape from first.
type Static interface {
	// DistancePoint returns the signed distance from p to the obstacle
	// boundary, negative inside.
	DistancePoint(p geo.Vector2) float64
	// DistanceSegment returns the minimum signed distance between the
	// segment and the obstacle, zero if they intersect.
	DistanceSegment(seg geo.LineSegment) float64
	Priority() int
}

// Circle is a circular obstacle.
type Circle struct {
	Center geo.Vector2
	Radius float64
	Prio   int
}

func (c Circle) DistancePoint(p geo.Vector2) float64 {
	return p.Distance(c.Center) - c.Radius
}

func (c Circle) DistanceSegment(seg geo.LineSegment) float64 {
	return math.Max(seg.Distance(c.Center)-c.Radius, 0)
}

func (c Circle) Priority() int { return c.Prio }

// Rect is an axis-aligned rectangular obstacle.
type Rect struct {
	BottomLeft geo.Vector2
	TopRight   geo.Vector2
	Prio       int
}

// NewRect orders the two corners so that any corner pair is accepted.
func NewRect(x1, y1, x2, y2 float64, prio int) Rect {
	return Rect{
		BottomLeft: geo.Vector2{X: math.Min(x1, x2), Y: math.Min(y1, y2)},
		TopRight:   geo.Vector2{X: math.Max(x1, x2), Y: math.Max(y1, y2)},
		Prio:       prio,
	}
}

func (r Rect) DistancePoint(p geo.Vector2) float64 {
	distX := math.Max(r.BottomLeft.X-p.X, p.X-r.TopRight.X)
	distY := math.Max(r.BottomLeft.Y-p.Y, p.Y-r.TopRight.Y)

	switch {
	case distX >= 0 && distY >= 0: // distance to corner
		return math.Hypot(distX, distY)
	case distX < 0 && distY < 0: // inside
		return math.Max(distX, distY)
	case distX < 0:
		return distY // nearest side
	default:
		return distX
	}
}

func (r Rect) DistanceSegment(seg geo.LineSegment) float64 {
	contains := func(p geo.Vector2) bool {
		return p.X >= r.BottomLeft.X && p.X <= r.TopRight.X &&
			p.Y >= r.BottomLeft.Y && p.Y <= r.TopRight.Y
	}
	if contains(seg.Start) || contains(seg.End) {
		return 0
	}

	bottomRight := geo.Vector2{X: r.TopRight.X, Y: r.BottomLeft.Y}
	topLeft := geo.Vector2{X: r.BottomLeft.X, Y: r.TopRight.Y}

	dist := seg.DistanceSegment(geo.LineSegment{Start: topLeft, End: r.TopRight})
	dist = math.Min(dist, seg.DistanceSegment(geo.LineSegment{Start: r.BottomLeft, End: bottomRight}))
	dist = math.Min(dist, seg.DistanceSegment(geo.LineSegment{Start: topLeft, End: r.BottomLeft}))
	dist = math.Min(dist, seg.DistanceSegment(geo.LineSegment{Start: r.TopRight, End: bottomRight}))
	return dist
}

func (r Rect) Priority() int { return r.Prio }

// Triangle is a triangular obstacle thickened by LineWidth.
type Triangle struct {
	P1, P2, P3 geo.Vector2
	LineWidth  float64
	Prio       int
}

// NewTriangle orders the corners counter-clockwise, which the signed side
// determinants in DistancePoint require.
func NewTriangle(a, b, c geo.Vector2, lineWidth float64, prio int) Triangle {
	t := Triangle{LineWidth: lineWidth, Prio: prio}
	if geo.Det(a, b, c) > 0 {
		t.P1, t.P2, t.P3 = a, b, c
	} else {
		t.P1, t.P2, t.P3 = a, c, b
	}
	return t
}

// DistancePointChecked classifies p against the three signed side lines into
// inside / nearest-side / nearest-vertex regions. Three negative determinants
// fall into the nearest-side case; any other pattern without a positive
// determinant cannot occur for a proper counter-clockwise triangle and is
// reported as an error.
func (t Triangle) DistancePointChecked(p geo.Vector2) (float64, error) {
	// positive det == left of side, i.e. towards the interior
	det1 := geo.Det(t.P2, t.P3, p) / t.P2.Distance(t.P3)
	det2 := geo.Det(t.P3, t.P1, p) / t.P3.Distance(t.P1)
	det3 := geo.Det(t.P1, t.P2, p) / t.P1.Distance(t.P2)

	var distance float64
	switch {
	// inside: three positive dets
	case det1 >= 0 && det2 >= 0 && det3 >= 0:
		distance = -math.Min(det1, math.Min(det2, det3))
	// nearest side: two positive dets, one negative
	case det1*det2*det3 < 0:
		distance = -math.Min(det1, math.Min(det2, det3))
	// nearest corner: one positive det, two negative
	case det1 > 0:
		distance = t.P1.Distance(p)
	case det2 > 0:
		distance = t.P2.Distance(p)
	case det3 > 0:
		distance = t.P3.Distance(p)
	default:
		return 0, errors.Wrapf(ErrDegenerateTriangle, "dets %v %v %v", det1, det2, det3)
	}
	return distance - t.LineWidth, nil
}

func (t Triangle) DistancePoint(p geo.Vector2) float64 {
	d, err := t.DistancePointChecked(p)
	if err != nil {
		// degenerate triangle, fall back to the closest corner
		d = math.Min(t.P1.Distance(p), math.Min(t.P2.Distance(p), t.P3.Distance(p))) - t.LineWidth
	}
	return d
}

func (t Triangle) DistanceSegment(seg geo.LineSegment) float64 {
	seg1 := geo.LineSegment{Start: t.P1, End: t.P2}
	seg2 := geo.LineSegment{Start: t.P2, End: t.P3}
	seg3 := geo.LineSegment{Start: t.P3, End: t.P1}
	dseg1 := seg1.DistanceSegment(seg)
	dseg2 := seg2.DistanceSegment(seg)
	dseg3 := seg3.DistanceSegment(seg)

	// the segment crosses a triangle side
	if dseg1*dseg2*dseg3 == 0 {
		return 0
	}

	// the segment lies entirely inside the triangle
	if t.DistancePoint(seg.Start) < 0 && t.DistancePoint(seg.End) < 0 {
		return 0
	}

	// entirely outside
	return math.Max(math.Min(dseg1, math.Min(dseg2, dseg3))-t.LineWidth, 0)
}

func (t Triangle) Priority() int { return t.Prio }

// ThickLine is a line segment thickened by Width.
type ThickLine struct {
	Segment geo.LineSegment
	Width   float64
	Prio    int
}

func (l ThickLine) DistancePoint(p geo.Vector2) float64 {
	return l.Segment.Distance(p) - l.Width
}

func (l ThickLine) DistanceSegment(seg geo.LineSegment) float64 {
	return math.Max(seg.DistanceSegment(l.Segment)-l.Width, 0)
}

func (l ThickLine) Priority() int { return l.Prio }
