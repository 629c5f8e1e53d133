package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pharmacy-density/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS runs`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	run := sampleRun()
	run.ID = "run-1"
	mock.ExpectExec(`INSERT INTO runs .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("run-1", "farm", "outer", run.TargetCRS, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := s.SaveRun(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, "run-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	run := sampleRun()
	run.ID = "run-1"
	summary, err := json.Marshal(run)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT summary FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(mock.NewRows([]string{"summary"}).AddRow(summary))

	got, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, 12, got.Matched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT summary FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	a, _ := json.Marshal(model.Run{ID: "a", Keyword: "farm"})
	b, _ := json.Marshal(model.Run{ID: "b", Keyword: "botica"})
	mock.ExpectQuery(`SELECT summary FROM runs ORDER BY created_at DESC`).
		WithArgs(100, 0).
		WillReturnRows(mock.NewRows([]string{"summary"}).AddRow(a).AddRow(b))

	runs, err := s.ListRuns(context.Background(), RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "botica", runs[1].Keyword)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSections(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_run_sections"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_run_sections"}, sectionColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "run_sections" .* ON CONFLICT \("run_id", "section_key"\)`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`DELETE FROM "run_sections" t WHERE t\."run_id" = \$1 AND NOT EXISTS`).
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	n, err := s.SaveSections(context.Background(), "run-1", 6372, sampleSections())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SavePharmacies(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"run_pharmacies"}, pharmacyColumns).WillReturnResult(1)

	n, err := s.SavePharmacies(context.Background(), "run-1", []Pharmacy{
		{BusinessRecord: model.BusinessRecord{ID: "7", Name: "FARMACIA GUADALAJARA"}, Section: "14-039-1520"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SavePharmacies_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.SavePharmacies(context.Background(), "run-1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
