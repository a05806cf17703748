package trajplan

import (
	"database/sql"
	"math"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // database/sql driver

	"github.com/banshee-field/fieldwork/internal/geo"
	"github.com/banshee-field/fieldwork/internal/monitoring"
)

// PrecomputedSample is a normalized midpoint sample: midSpeed and angle are
// expressed in the start-to-goal frame and denormalized per request.
type PrecomputedSample struct {
	Time     float64
	Angle    float64
	MidSpeed geo.Vector2
}

// PrecomputedSegment holds the samples for one distance bucket.
type PrecomputedSegment struct {
	MinDistance float64
	MaxDistance float64
	Samples     []PrecomputedSample
}

// LoadPrecomputation opens the read-only precomputation database and loads
// all distance buckets. Schema:
//
//	segments(id INTEGER PRIMARY KEY, min_dist REAL, max_dist REAL)
//	samples(segment_id INTEGER, time REAL, angle REAL,
//	        mid_speed_x REAL, mid_speed_y REAL)
//
// A missing or unreadable file leaves the planner on live sampling.
func (p *Planner) LoadPrecomputation(path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return errors.Wrap(err, "open precomputation database")
	}
	defer db.Close()

	rows, err := db.Query(`SELECT id, min_dist, max_dist FROM segments ORDER BY min_dist`)
	if err != nil {
		return errors.Wrap(err, "query precomputation segments")
	}
	defer rows.Close()

	type segmentRow struct {
		id      int64
		segment PrecomputedSegment
	}
	var segmentRows []segmentRow
	for rows.Next() {
		var r segmentRow
		if err := rows.Scan(&r.id, &r.segment.MinDistance, &r.segment.MaxDistance); err != nil {
			return errors.Wrap(err, "scan precomputation segment")
		}
		segmentRows = append(segmentRows, r)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterate precomputation segments")
	}

	segments := make([]PrecomputedSegment, 0, len(segmentRows))
	for _, r := range segmentRows {
		sampleRows, err := db.Query(
			`SELECT time, angle, mid_speed_x, mid_speed_y FROM samples WHERE segment_id = ?`, r.id)
		if err != nil {
			return errors.Wrapf(err, "query samples for segment %d", r.id)
		}
		for sampleRows.Next() {
			var s PrecomputedSample
			if err := sampleRows.Scan(&s.Time, &s.Angle, &s.MidSpeed.X, &s.MidSpeed.Y); err != nil {
				sampleRows.Close()
				return errors.Wrap(err, "scan precomputation sample")
			}
			r.segment.Samples = append(r.segment.Samples, s)
		}
		if err := sampleRows.Err(); err != nil {
			sampleRows.Close()
			return errors.Wrap(err, "iterate precomputation samples")
		}
		sampleRows.Close()
		segments = append(segments, r.segment)
	}

	p.precomputed = segments
	monitoring.Logf("trajplan: loaded %d precomputation segments from %s", len(segments), path)
	return nil
}

// denormalize rotates the sample's midpoint speed and angle from the
// start-to-goal frame into the field frame and clamps the speed to the
// request's limit.
func (s PrecomputedSample) denormalize(distance geo.Vector2, maxSpeed float64) PrecomputedSample {
	toTarget := distance.Normalized()
	sideWays := toTarget.Perpendicular()
	out := s
	out.MidSpeed = toTarget.Scale(s.MidSpeed.X).Add(sideWays.Scale(s.MidSpeed.Y))
	if out.MidSpeed.LengthSq() >= maxSpeed*maxSpeed {
		out.MidSpeed = out.MidSpeed.Normalized().Scale(maxSpeed)
	}
	out.Angle = geo.NormalizeAnglePositive(s.Angle + toTarget.Angle())
	return out
}

// samplePrecomputed replaces the live search with the precomputed samples of
// the matching distance bucket.
func (p *Planner) samplePrecomputed() {
	distance := p.distance.Length()
	for _, segment := range p.precomputed {
		if segment.MinDistance <= distance && segment.MaxDistance >= distance {
			for _, sample := range segment.Samples {
				d := sample.denormalize(p.distance, p.maxSpeed)
				p.checkMidPoint(d.MidSpeed, math.Max(0, d.Time), d.Angle)
			}
			return
		}
	}
	// outside every bucket: fall back to the live search
	p.sampleLive(p.bestResult)
}
