package trajplan

import (
	"math"

	"github.com/banshee-field/fieldwork/internal/geo"
)

// resultPath renders the generation segments into equally-time-spaced
// trajectory points. Trajectory positions are not exact; each segment with a
// desired end position is scaled per axis towards it, with the factor clamped
// to [0.9, 1.1], so larger residuals are only partly corrected.
func (p *Planner) resultPath() []TrajectoryPoint {
	result := make([]TrajectoryPoint, 0, len(p.generation)*trajectorySampleCount)
	startPos := p.s0
	timeSum := 0.0
	for _, segment := range p.generation {
		traj := segment.traj
		totalTime := traj.Time()

		xScale, yScale := 1.0, 1.0
		if segment.desiredDistance.X != 0 || segment.desiredDistance.Y != 0 {
			endPos := traj.EndPosition()
			if endPos.X != 0 {
				xScale = segment.desiredDistance.X / endPos.X
			}
			if endPos.Y != 0 {
				yScale = segment.desiredDistance.Y / endPos.Y
			}
			xScale = math.Min(1.1, math.Max(0.9, xScale))
			yScale = math.Min(1.1, math.Max(0.9, yScale))
		}

		for i := 0; i < trajectorySampleCount; i++ {
			t := totalTime * float64(i) / float64(trajectorySampleCount-1)
			state := traj.StateAt(t)
			result = append(result, TrajectoryPoint{
				Pos:   startPos.Add(geo.Vector2{X: state.Pos.X * xScale, Y: state.Pos.Y * yScale}),
				Speed: state.Speed,
				Time:  timeSum + t,
			})
		}
		startPos = result[len(result)-1].Pos
		timeSum = result[len(result)-1].Time
	}
	return result
}
