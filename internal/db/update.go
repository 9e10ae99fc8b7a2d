package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpdateConfig defines the parameters for a temp-table bulk update.
type UpdateConfig struct {
	Table        string   // target table (e.g., "predize_info.orders")
	Columns      []string // all columns present in the rows
	MatchColumns []string // columns identifying the target row
	UpdateCols   []string // columns to overwrite on the target
}

// UpdateFrom bulk-updates existing rows via a temp table and
// UPDATE ... FROM:
//  1. Creates a temp table with the row columns
//  2. COPYs rows into it
//  3. UPDATE target SET col = tmp.col ... FROM tmp WHERE target.key = tmp.key
//  4. The temp table drops on commit
//
// Rows with no matching target row are silently ignored, which is what the
// reconciliation write-back wants: only resolved orders get touched.
func UpdateFrom(ctx context.Context, pool Pool, cfg UpdateConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: update: no columns specified")
	}
	if len(cfg.MatchColumns) == 0 {
		return 0, eris.New("db: update: no match columns specified")
	}
	if len(cfg.UpdateCols) == 0 {
		return 0, eris.New("db: update: no update columns specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: update: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tempTable := fmt.Sprintf("_tmp_update_%s", strings.ReplaceAll(cfg.Table, ".", "_"))

	// SELECT ... WHERE false clones the target's column types without rows.
	colDefs := make([]string, len(cfg.Columns))
	for i, c := range cfg.Columns {
		colDefs[i] = pgx.Identifier{c}.Sanitize()
	}
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s ON COMMIT DROP AS SELECT %s FROM %s WHERE false",
		pgx.Identifier{tempTable}.Sanitize(),
		strings.Join(colDefs, ", "),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: update: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: update: COPY into temp table for %s", cfg.Table)
	}

	setClauses := make([]string, 0, len(cfg.UpdateCols))
	for _, col := range cfg.UpdateCols {
		q := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = tmp.%s", q, q))
	}
	whereClauses := make([]string, 0, len(cfg.MatchColumns))
	for _, col := range cfg.MatchColumns {
		q := pgx.Identifier{col}.Sanitize()
		whereClauses = append(whereClauses, fmt.Sprintf("t.%s = tmp.%s", q, q))
	}

	updateSQL := fmt.Sprintf(
		"UPDATE %s t SET %s FROM %s tmp WHERE %s",
		sanitizeTable(cfg.Table),
		strings.Join(setClauses, ", "),
		pgx.Identifier{tempTable}.Sanitize(),
		strings.Join(whereClauses, " AND "),
	)

	tag, err := tx.Exec(ctx, updateSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: update: UPDATE FROM for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: update: commit tx")
	}

	return tag.RowsAffected(), nil
}
