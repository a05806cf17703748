package geo

import "math"

// LineSegment is the segment between Start and End.
type LineSegment struct {
	Start Vector2
	End   Vector2
}

// Distance returns the distance from p to the closest point of the segment.
func (s LineSegment) Distance(p Vector2) float64 {
	dir := s.End.Sub(s.Start)
	lenSq := dir.LengthSq()
	if lenSq == 0 {
		return s.Start.Distance(p)
	}
	t := p.Sub(s.Start).Dot(dir) / lenSq
	if t <= 0 {
		return s.Start.Distance(p)
	}
	if t >= 1 {
		return s.End.Distance(p)
	}
	return s.Start.Add(dir.Scale(t)).Distance(p)
}

// DistanceSegment returns the minimum distance between two segments, zero if
// they intersect.
func (s LineSegment) DistanceSegment(o LineSegment) float64 {
	if s.intersects(o) {
		return 0
	}
	d := s.Distance(o.Start)
	if v := s.Distance(o.End); v < d {
		d = v
	}
	if v := o.Distance(s.Start); v < d {
		d = v
	}
	if v := o.Distance(s.End); v < d {
		d = v
	}
	return d
}

func (s LineSegment) intersects(o LineSegment) bool {
	d1 := Det(o.Start, o.End, s.Start)
	d2 := Det(o.Start, o.End, s.End)
	d3 := Det(s.Start, s.End, o.Start)
	d4 := Det(s.Start, s.End, o.End)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	// collinear overlap and endpoint touches
	return (d1 == 0 && onSegment(o, s.Start)) || (d2 == 0 && onSegment(o, s.End)) ||
		(d3 == 0 && onSegment(s, o.Start)) || (d4 == 0 && onSegment(s, o.End))
}

func onSegment(s LineSegment, p Vector2) bool {
	return math.Min(s.Start.X, s.End.X) <= p.X && p.X <= math.Max(s.Start.X, s.End.X) &&
		math.Min(s.Start.Y, s.End.Y) <= p.Y && p.Y <= math.Max(s.Start.Y, s.End.Y)
}

// IntersectLineCircle returns the intersections of the line offset+λ·dir with
// the circle around center, as (point, λ) pairs with λ in units of |dir|
// normalized to unit length. Zero, one or two results.
func IntersectLineCircle(offset, dir, center Vector2, radius float64) []LineCircleIntersection {
	dir = dir.Normalized()
	constPart := offset.Sub(center)

	a := dir.Dot(dir)
	b := 2 * dir.Dot(constPart)
	c := constPart.Dot(constPart) - radius*radius

	det := b*b - 4*a*c
	if det < 0 {
		return nil
	}
	if det < 1e-5 {
		lambda := -b / (2 * a)
		return []LineCircleIntersection{{offset.Add(dir.Scale(lambda)), lambda}}
	}
	sqrtDet := math.Sqrt(det)
	lambda1 := (-b + sqrtDet) / (2 * a)
	lambda2 := (-b - sqrtDet) / (2 * a)
	return []LineCircleIntersection{
		{offset.Add(dir.Scale(lambda1)), lambda1},
		{offset.Add(dir.Scale(lambda2)), lambda2},
	}
}

// LineCircleIntersection is an intersection point with its line parameter.
type LineCircleIntersection struct {
	Point  Vector2
	Lambda float64
}

// IntersectLineSegmentCircle returns the first intersection of the segment
// p1-p2 with the circle, ordered from p1, or ok=false when they do not touch.
func IntersectLineSegmentCircle(p1, p2, center Vector2, radius float64) (Vector2, bool) {
	dist := p2.Sub(p1).Length()
	intersections := IntersectLineCircle(p1, p2.Sub(p1), center, radius)
	if len(intersections) == 0 {
		return Vector2{}, false
	}
	if len(intersections) == 1 {
		if intersections[0].Lambda >= 0 && intersections[0].Lambda <= dist {
			return intersections[0].Point, true
		}
		return Vector2{}, false
	}
	if intersections[0].Lambda > intersections[1].Lambda {
		intersections[0], intersections[1] = intersections[1], intersections[0]
	}
	for _, in := range intersections {
		if in.Lambda >= 0 && in.Lambda <= dist {
			return in.Point, true
		}
	}
	return Vector2{}, false
}

// IntersectLineLine intersects the lines pos1+t1·dir1 and pos2+t2·dir2 and
// returns (t1, t2). ok is false for (near) collinear directions.
func IntersectLineLine(pos1, dir1, pos2, dir2 Vector2) (t1, t2 float64, ok bool) {
	if math.Abs(dir1.Perpendicular().Dot(dir2))/(dir1.Length()*dir2.Length()) < 1e-4 {
		return 0, 0, false
	}
	normal1 := dir1.Perpendicular()
	normal2 := dir2.Perpendicular()
	diff := pos2.Sub(pos1)
	t1 = normal2.Dot(diff) / normal2.Dot(dir1)
	t2 = -normal1.Dot(diff) / normal1.Dot(dir2)
	return t1, t2, true
}

// BoundingBox is an axis-aligned rectangle.
type BoundingBox struct {
	Min Vector2
	Max Vector2
}

// NewBoundingBox returns the box containing exactly p.
func NewBoundingBox(p Vector2) BoundingBox {
	return BoundingBox{Min: p, Max: p}
}

// MergePoint grows the box to contain p.
func (b *BoundingBox) MergePoint(p Vector2) {
	b.Min.X = math.Min(b.Min.X, p.X)
	b.Min.Y = math.Min(b.Min.Y, p.Y)
	b.Max.X = math.Max(b.Max.X, p.X)
	b.Max.Y = math.Max(b.Max.Y, p.Y)
}

// Contains reports whether p lies inside the box (inclusive).
func (b BoundingBox) Contains(p Vector2) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}
