package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pharmacy-density/internal/db"
	"github.com/sells-group/pharmacy-density/internal/model"
	"github.com/sells-group/pharmacy-density/internal/shapefile"
)

// PostgresStore implements Store using pgxpool. Geometries are stored as
// EWKB so ST_GeomFromEWKB recovers them with their SRID.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	keyword     TEXT NOT NULL,
	join_policy TEXT NOT NULL,
	target_crs  TEXT NOT NULL,
	summary     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_sections (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	section_key  TEXT NOT NULL,
	state        INTEGER NOT NULL,
	municipality INTEGER NOT NULL,
	section      INTEGER NOT NULL,
	pharmacies   INTEGER NOT NULL,
	area         DOUBLE PRECISION NOT NULL,
	category     TEXT NOT NULL,
	metrics      JSONB NOT NULL,
	census       JSONB NOT NULL,
	srid         INTEGER NOT NULL,
	geom         BYTEA,
	PRIMARY KEY (run_id, section_key)
);

CREATE TABLE IF NOT EXISTS run_pharmacies (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	id          TEXT NOT NULL,
	name        TEXT NOT NULL,
	activity    TEXT NOT NULL,
	x           DOUBLE PRECISION NOT NULL,
	y           DOUBLE PRECISION NOT NULL,
	section_key TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_sections_category ON run_sections(run_id, category);
CREATE INDEX IF NOT EXISTS idx_run_pharmacies_run_id ON run_pharmacies(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *model.Run) (string, error) {
	prepareRun(run)
	summary, err := json.Marshal(run)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal run")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, keyword, join_policy, target_crs, summary, created_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET keyword = EXCLUDED.keyword, join_policy = EXCLUDED.join_policy,
		 target_crs = EXCLUDED.target_crs, summary = EXCLUDED.summary`,
		run.ID, run.Keyword, run.JoinPolicy, run.TargetCRS, summary, run.CreatedAt,
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: save run %s", run.ID)
	}
	return run.ID, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var summary []byte
	err := s.pool.QueryRow(ctx, `SELECT summary FROM runs WHERE id = $1`, runID).Scan(&summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return decodeRun(summary)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT summary FROM runs ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		limit, max(filter.Offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var summary []byte
		if err := rows.Scan(&summary); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r, err := decodeRun(summary)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveSections upserts section results keyed by (run_id, section_key) and
// drops sections of the run that the new batch no longer contains.
func (s *PostgresStore) SaveSections(ctx context.Context, runID string, srid int, sections []model.SectionResult) (int64, error) {
	encode := func(sec model.SectionResult) ([]byte, error) {
		return shapefile.EncodeEWKB(sec.Geometry, srid)
	}
	rows := make([][]any, 0, len(sections))
	for _, sec := range sections {
		row, err := sectionRow(runID, sec, srid, encode)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}
	res, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "run_sections",
		Columns:      sectionColumns,
		ConflictKeys: []string{"run_id", "section_key"},
		ScopeCol:     "run_id",
	}, rows)
	return res.Written, eris.Wrapf(err, "postgres: save sections for run %s", runID)
}

// SavePharmacies appends pharmacy rows with COPY.
func (s *PostgresStore) SavePharmacies(ctx context.Context, runID string, pharmacies []Pharmacy) (int64, error) {
	rows := make([][]any, len(pharmacies))
	for i, p := range pharmacies {
		rows[i] = pharmacyRow(runID, p)
	}
	n, err := db.CopyFrom(ctx, s.pool, "run_pharmacies", pharmacyColumns, rows)
	return n, eris.Wrapf(err, "postgres: save pharmacies for run %s", runID)
}
