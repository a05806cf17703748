package obstacles

import (
	"math"

	"github.com/banshee-field/fieldwork/internal/geo"
)

// Moving is an obstacle whose position is a function of time, valid on
// [StartTime, EndTime]. Outside its validity window a moving obstacle does
// not constrain anything.
type Moving interface {
	// Intersects reports whether pos lies inside the obstacle at time t.
	Intersects(pos geo.Vector2, t float64) bool
	// Distance returns the distance from pos to the obstacle boundary at
	// time t, or +Inf outside the validity window.
	Distance(pos geo.Vector2, t float64) float64
	Priority() int
}

// MovingCircle is a circle moving under constant acceleration.
type MovingCircle struct {
	StartPos  geo.Vector2
	Speed     geo.Vector2
	Acc       geo.Vector2
	StartTime float64
	EndTime   float64
	Radius    float64
	Prio      int
}

func (m MovingCircle) centerAt(t float64) geo.Vector2 {
	dt := t - m.StartTime
	return m.StartPos.Add(m.Speed.Scale(dt)).Add(m.Acc.Scale(0.5 * dt * dt))
}

func (m MovingCircle) Intersects(pos geo.Vector2, t float64) bool {
	if t < m.StartTime || t > m.EndTime {
		return false
	}
	return m.centerAt(t).DistanceSq(pos) < m.Radius*m.Radius
}

func (m MovingCircle) Distance(pos geo.Vector2, t float64) float64 {
	if t < m.StartTime || t > m.EndTime {
		return math.Inf(1)
	}
	return m.centerAt(t).Distance(pos) - m.Radius
}

func (m MovingCircle) Priority() int { return m.Prio }

// MovingLine is a segment whose endpoints move independently under constant
// acceleration, thickened by Width.
type MovingLine struct {
	StartPos1 geo.Vector2
	Speed1    geo.Vector2
	Acc1      geo.Vector2
	StartPos2 geo.Vector2
	Speed2    geo.Vector2
	Acc2      geo.Vector2
	StartTime float64
	EndTime   float64
	Width     float64
	Prio      int
}

func (m MovingLine) segmentAt(t float64) geo.LineSegment {
	dt := t - m.StartTime
	p1 := m.StartPos1.Add(m.Speed1.Scale(dt)).Add(m.Acc1.Scale(0.5 * dt * dt))
	p2 := m.StartPos2.Add(m.Speed2.Scale(dt)).Add(m.Acc2.Scale(0.5 * dt * dt))
	return geo.LineSegment{Start: p1, End: p2}
}

func (m MovingLine) Intersects(pos geo.Vector2, t float64) bool {
	if t < m.StartTime || t > m.EndTime {
		return false
	}
	return m.segmentAt(t).Distance(pos) < m.Width
}

func (m MovingLine) Distance(pos geo.Vector2, t float64) float64 {
	if t < m.StartTime || t > m.EndTime {
		return math.Inf(1)
	}
	return m.segmentAt(t).Distance(pos) - m.Width
}

func (m MovingLine) Priority() int { return m.Prio }
