package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/portsched/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	sourcesJSON, err := json.Marshal(run.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	violations := run.Violations
	if violations == nil {
		violations = []string{}
	}
	violationsJSON, err := json.Marshal(violations)
	if err != nil {
		return fmt.Errorf("marshal violations: %w", err)
	}

	var finishedAt *string
	if !run.FinishedAt.IsZero() {
		f := run.FinishedAt.Format(time.RFC3339Nano)
		finishedAt = &f
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, scenario, inter_switch_delay, sources, grant_count, violations, passed, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Scenario, int64(run.InterSwitchDelay), string(sourcesJSON), run.GrantCount,
		string(violationsJSON), boolToInt(run.Passed()),
		run.StartedAt.Format(time.RFC3339Nano), finishedAt,
	)
	return err
}

// GetRun returns the run with the given id, or nil if there is none.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, scenario, inter_switch_delay, sources, grant_count, violations, started_at, finished_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset, "name", opts.Name)
	opts.Clamp()

	whereSQL := ""
	var countArgs []any
	if opts.Name != "" {
		whereSQL = " WHERE scenario = ?"
		countArgs = append(countArgs, opts.Name)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+whereSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listArgs := append(countArgs, opts.Limit, opts.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scenario, inter_switch_delay, sources, grant_count, violations, started_at, finished_at
		 FROM runs`+whereSQL+` ORDER BY started_at DESC LIMIT ? OFFSET ?`, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var delay int64
	var sourcesJSON, violationsJSON, startedAt string
	var finishedAt *string

	if err := row.Scan(&run.ID, &run.Scenario, &delay, &sourcesJSON, &run.GrantCount,
		&violationsJSON, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	run.InterSwitchDelay = time.Duration(delay)
	if err := json.Unmarshal([]byte(sourcesJSON), &run.Sources); err != nil {
		return nil, fmt.Errorf("unmarshal sources: %w", err)
	}
	if err := json.Unmarshal([]byte(violationsJSON), &run.Violations); err != nil {
		return nil, fmt.Errorf("unmarshal violations: %w", err)
	}
	if len(run.Violations) == 0 {
		run.Violations = nil
	}
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if finishedAt != nil {
		run.FinishedAt, _ = time.Parse(time.RFC3339Nano, *finishedAt)
	}
	return &run, nil
}

// --- Grants ---

// AppendGrants stores grants for an existing run in a single transaction.
func (s *SQLiteStore) AppendGrants(ctx context.Context, runID string, grants []model.Grant) error {
	s.logger.Debug("sql", "op", "insert", "table", "grants", "run_id", runID, "count", len(grants))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO grants (run_id, seq, source_id, label, at_ns, gap_ns, switched)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, g := range grants {
		if _, err := stmt.ExecContext(ctx, runID, g.Seq, g.SourceID, g.Label,
			int64(g.At), int64(g.Gap), boolToInt(g.Switched)); err != nil {
			return fmt.Errorf("insert grant %d: %w", g.Seq, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListGrants(ctx context.Context, runID string) ([]model.Grant, error) {
	s.logger.Debug("sql", "op", "list", "table", "grants", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, source_id, label, at_ns, gap_ns, switched
		 FROM grants WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []model.Grant
	for rows.Next() {
		var g model.Grant
		var at, gap int64
		var switched int
		if err := rows.Scan(&g.Seq, &g.SourceID, &g.Label, &at, &gap, &switched); err != nil {
			return nil, err
		}
		g.At = time.Duration(at)
		g.Gap = time.Duration(gap)
		g.Switched = switched != 0
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)
