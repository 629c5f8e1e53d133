package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pharmacy-density/internal/model"
	"github.com/sells-group/pharmacy-density/internal/shapefile"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_SaveAndGetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := sampleRun()
	id, err := st.SaveRun(ctx, run)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, run.ID)

	got, err := st.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "farm", got.Keyword)
	assert.Equal(t, 14, got.Pharmacies)
	assert.InDelta(t, 0.42, got.Correlations["POB65_MAS_per_km2"], 1e-12)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, model.StepStatusComplete, got.Steps[0].Status)

	run.Matched = 13
	_, err = st.SaveRun(ctx, run)
	require.NoError(t, err)
	got, err = st.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 13, got.Matched)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		r := sampleRun()
		r.ID = []string{"a", "b", "c"}[i]
		r.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		_, err := st.SaveRun(ctx, r)
		require.NoError(t, err)
	}

	runs, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "a", runs[2].ID)

	page, err := st.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)
}

func TestSQLite_SaveSections(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.SaveRun(ctx, sampleRun())
	require.NoError(t, err)

	n, err := st.SaveSections(ctx, id, 6372, sampleSections())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Saving again replaces rows instead of duplicating them.
	_, err = st.SaveSections(ctx, id, 6372, sampleSections())
	require.NoError(t, err)

	var count int
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_sections WHERE run_id = ?`, id).Scan(&count))
	assert.Equal(t, 2, count)

	var blob []byte
	var category, metrics string
	require.NoError(t, st.db.QueryRowContext(ctx,
		`SELECT geom, category, metrics FROM run_sections WHERE run_id = ? AND section_key = ?`, id, "09-015-0001",
	).Scan(&blob, &category, &metrics))
	assert.Equal(t, "High.Low", category)
	assert.JSONEq(t, `{"pharmacies_per_km2":3}`, metrics)

	mp, err := shapefile.DecodeWKB(blob)
	require.NoError(t, err)
	assert.Equal(t, 1, mp.NumPolygons())

	// A smaller re-save drops the sections it no longer has.
	_, err = st.SaveSections(ctx, id, 6372, sampleSections()[:1])
	require.NoError(t, err)
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_sections WHERE run_id = ?`, id).Scan(&count))
	assert.Equal(t, 1, count)

	n, err = st.SaveSections(ctx, id, 6372, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_SavePharmacies(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := st.SaveRun(ctx, sampleRun())
	require.NoError(t, err)

	n, err := st.SavePharmacies(ctx, id, []Pharmacy{
		{BusinessRecord: model.BusinessRecord{ID: "1", Name: "FARMACIA DEL AHORRO", ActivityName: "Farmacias sin minisúper", Longitude: 10, Latitude: 20}, Section: "09-015-0001"},
		{BusinessRecord: model.BusinessRecord{ID: "2", Name: "BOTICA", ActivityName: "Farmacias con minisúper", Longitude: 5000, Latitude: 5000}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var unassigned int
	require.NoError(t, st.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM run_pharmacies WHERE run_id = ? AND section_key = ''`, id,
	).Scan(&unassigned))
	assert.Equal(t, 1, unassigned)
}
