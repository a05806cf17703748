package trajplan

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePrecomputationDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "precomputation.sqlite")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE segments (id INTEGER PRIMARY KEY, min_dist REAL, max_dist REAL)`,
		`CREATE TABLE samples (segment_id INTEGER, time REAL, angle REAL,
			mid_speed_x REAL, mid_speed_y REAL)`,
		`INSERT INTO segments VALUES (1, 0.0, 1.0), (2, 1.0, 4.0)`,
		`INSERT INTO samples VALUES
			(1, 0.2, 0.1, 0.5, 0.0),
			(1, 0.4, 6.0, 1.0, 0.2),
			(2, 0.8, 0.3, 2.0, -0.5)`,
	} {
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}
	return path
}

func TestLoadPrecomputation(t *testing.T) {
	path := writePrecomputationDB(t)

	p := NewPlanner(1)
	require.NoError(t, p.LoadPrecomputation(path))

	require.Len(t, p.precomputed, 2)
	assert.Equal(t, 0.0, p.precomputed[0].MinDistance)
	assert.Equal(t, 1.0, p.precomputed[0].MaxDistance)
	require.Len(t, p.precomputed[0].Samples, 2)
	assert.Equal(t, 0.2, p.precomputed[0].Samples[0].Time)
	require.Len(t, p.precomputed[1].Samples, 1)
	assert.Equal(t, 2.0, p.precomputed[1].Samples[0].MidSpeed.X)
}

func TestLoadPrecomputationMissingFile(t *testing.T) {
	p := NewPlanner(1)
	err := p.LoadPrecomputation(filepath.Join(t.TempDir(), "missing.sqlite"))
	assert.Error(t, err)
	assert.Empty(t, p.precomputed)
}
