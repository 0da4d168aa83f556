package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for the trace tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id                 TEXT PRIMARY KEY,
		scenario           TEXT NOT NULL,
		inter_switch_delay INTEGER NOT NULL DEFAULT 0,
		sources            TEXT NOT NULL DEFAULT '[]',
		grant_count        INTEGER NOT NULL DEFAULT 0,
		violations         TEXT NOT NULL DEFAULT '[]',
		started_at         TEXT NOT NULL,
		finished_at        TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS grants (
		run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq       INTEGER NOT NULL,
		source_id TEXT NOT NULL,
		label     TEXT NOT NULL DEFAULT '',
		at_ns     INTEGER NOT NULL,
		gap_ns    INTEGER NOT NULL DEFAULT 0,
		switched  INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, seq)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string
}{
	{
		table:    "runs",
		column:   "passed",
		alterSQL: "ALTER TABLE runs ADD COLUMN passed INTEGER NOT NULL DEFAULT 1",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_runs_passed ON runs(passed)",
	},
}

// migrate executes all schema DDL statements and alter migrations.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}
	return nil
}

func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}

	found := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		if strings.EqualFold(name, column) {
			found = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if found {
		return nil
	}

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
