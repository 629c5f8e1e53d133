package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a run-scoped bulk upsert.
type UpsertConfig struct {
	Table        string   // target table (e.g., "run_sections")
	Columns      []string // columns in row order
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
	// ScopeCol names the column every row shares, usually "run_id". When
	// set, rows of that scope missing from the batch are deleted, so a
	// re-saved run holds exactly the rows of its latest save.
	ScopeCol string
}

// UpsertResult counts the rows a BulkUpsert touched.
type UpsertResult struct {
	Written int64
	Pruned  int64
}

// BulkUpsert writes rows in one transaction:
// 1. COPY rows into a temp table shaped like the target
// 2. INSERT INTO target SELECT ... FROM temp ON CONFLICT (keys) DO UPDATE
// 3. With ScopeCol set, DELETE scope rows whose keys are not in temp
//
// The temp table is dropped on commit.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (UpsertResult, error) {
	var res UpsertResult
	if err := cfg.validate(rows); err != nil {
		return res, err
	}
	if len(rows) == 0 {
		return res, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return res, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tempName := pgx.Identifier{"_tmp_upsert_" + strings.ReplaceAll(cfg.Table, ".", "_")}
	temp, target := tempName.Sanitize(), sanitizeTable(cfg.Table)

	createSQL := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP", temp, target)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return res, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, tempName, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return res, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	tag, err := tx.Exec(ctx, cfg.upsertSQL(target, temp))
	if err != nil {
		return res, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}
	res.Written = tag.RowsAffected()

	if cfg.ScopeCol != "" {
		scope := rows[0][slices.Index(cfg.Columns, cfg.ScopeCol)]
		tag, err := tx.Exec(ctx, cfg.pruneSQL(target, temp), scope)
		if err != nil {
			return res, eris.Wrapf(err, "db: upsert: prune %s", cfg.Table)
		}
		res.Pruned = tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, eris.Wrap(err, "db: upsert: commit tx")
	}
	return res, nil
}

func (cfg UpsertConfig) validate(rows [][]any) error {
	if len(cfg.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	for _, k := range cfg.ConflictKeys {
		if !slices.Contains(cfg.Columns, k) {
			return eris.Errorf("db: upsert: conflict key %q is not a column", k)
		}
	}
	scopeIdx := -1
	if cfg.ScopeCol != "" {
		scopeIdx = slices.Index(cfg.Columns, cfg.ScopeCol)
		if scopeIdx < 0 || !slices.Contains(cfg.ConflictKeys, cfg.ScopeCol) {
			return eris.Errorf("db: upsert: scope %q must be a conflict key", cfg.ScopeCol)
		}
	}
	for i, row := range rows {
		if len(row) != len(cfg.Columns) {
			return eris.Errorf("db: upsert: row %d has %d values, want %d", i, len(row), len(cfg.Columns))
		}
		if scopeIdx >= 0 && row[scopeIdx] != rows[0][scopeIdx] {
			return eris.Errorf("db: upsert: row %d has %s %v, batch is scoped to %v", i, cfg.ScopeCol, row[scopeIdx], rows[0][scopeIdx])
		}
	}
	return nil
}

func (cfg UpsertConfig) updateCols() []string {
	if cfg.UpdateCols != nil {
		return cfg.UpdateCols
	}
	var cols []string
	for _, c := range cfg.Columns {
		if !slices.Contains(cfg.ConflictKeys, c) {
			cols = append(cols, c)
		}
	}
	return cols
}

func (cfg UpsertConfig) upsertSQL(target, temp string) string {
	colList := quoteAndJoin(cfg.Columns)
	action := "DO NOTHING"
	if cols := cfg.updateCols(); len(cols) > 0 {
		set := make([]string, len(cols))
		for i, col := range cols {
			q := pgx.Identifier{col}.Sanitize()
			set[i] = q + " = EXCLUDED." + q
		}
		action = "DO UPDATE SET " + strings.Join(set, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		target, colList, colList, temp, quoteAndJoin(cfg.ConflictKeys), action)
}

// pruneSQL deletes rows of the $1 scope whose conflict keys were not
// staged in temp.
func (cfg UpsertConfig) pruneSQL(target, temp string) string {
	var match []string
	for _, k := range cfg.ConflictKeys {
		q := pgx.Identifier{k}.Sanitize()
		match = append(match, "s."+q+" = t."+q)
	}
	return fmt.Sprintf("DELETE FROM %s t WHERE t.%s = $1 AND NOT EXISTS (SELECT 1 FROM %s s WHERE %s)",
		target, pgx.Identifier{cfg.ScopeCol}.Sanitize(), temp, strings.Join(match, " AND "))
}

func sanitizeTable(table string) string {
	return identifier(table).Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
