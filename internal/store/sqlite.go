package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pharmacy-density/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Geometries are
// stored as WKB blobs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	keyword     TEXT NOT NULL,
	join_policy TEXT NOT NULL,
	target_crs  TEXT NOT NULL,
	summary     TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_sections (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	section_key  TEXT NOT NULL,
	state        INTEGER NOT NULL,
	municipality INTEGER NOT NULL,
	section      INTEGER NOT NULL,
	pharmacies   INTEGER NOT NULL,
	area         REAL NOT NULL,
	category     TEXT NOT NULL,
	metrics      TEXT NOT NULL,
	census       TEXT NOT NULL,
	srid         INTEGER NOT NULL,
	geom         BLOB,
	PRIMARY KEY (run_id, section_key)
);

CREATE TABLE IF NOT EXISTS run_pharmacies (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	id          TEXT NOT NULL,
	name        TEXT NOT NULL,
	activity    TEXT NOT NULL,
	x           REAL NOT NULL,
	y           REAL NOT NULL,
	section_key TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_run_pharmacies_run_id ON run_pharmacies(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *model.Run) (string, error) {
	prepareRun(run)
	summary, err := json.Marshal(run)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal run")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, keyword, join_policy, target_crs, summary, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET keyword = excluded.keyword, join_policy = excluded.join_policy,
		 target_crs = excluded.target_crs, summary = excluded.summary`,
		run.ID, run.Keyword, run.JoinPolicy, run.TargetCRS, string(summary), run.CreatedAt,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: save run %s", run.ID)
	}
	return run.ID, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT summary FROM runs WHERE id = ?`, runID)
	var summary string
	err := row.Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return decodeRun([]byte(summary))
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT summary FROM runs ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, max(filter.Offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r, err := decodeRun([]byte(summary))
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// SaveSections replaces any previous results for the same run and section keys.
func (s *SQLiteStore) SaveSections(ctx context.Context, runID string, srid int, sections []model.SectionResult) (int64, error) {
	if len(sections) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	// A re-saved run keeps only the sections of its latest save.
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_sections WHERE run_id = ?`, runID); err != nil {
		return 0, eris.Wrapf(err, "sqlite: clear sections for run %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO run_sections (`+joinColumns(sectionColumns)+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare section insert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, sec := range sections {
		row, err := sectionRow(runID, sec, srid, wkbGeometry)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert section %s", sec.Key)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit sections")
	}
	return n, nil
}

func (s *SQLiteStore) SavePharmacies(ctx context.Context, runID string, pharmacies []Pharmacy) (int64, error) {
	if len(pharmacies) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_pharmacies (`+joinColumns(pharmacyColumns)+`) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare pharmacy insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, p := range pharmacies {
		if _, err := stmt.ExecContext(ctx, pharmacyRow(runID, p)...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert pharmacy %s", p.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit pharmacies")
	}
	return int64(len(pharmacies)), nil
}

func decodeRun(summary []byte) (*model.Run, error) {
	var r model.Run
	if err := json.Unmarshal(summary, &r); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal run")
	}
	return &r, nil
}
