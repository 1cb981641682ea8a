package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Storage provides SQLite database access for run audit records.
// It implements the Repository interface.
type Storage struct {
	db *sql.DB
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// NewStorage opens (or creates) the database at dbPath and applies any
// pending migrations.
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// Holders are recorded concurrently; SQLite wants a single writer.
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite-specific)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// StartRun inserts the run row with status running.
func (s *Storage) StartRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	status := run.Status
	if status == "" {
		status = RunStatusRunning
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconcile_runs (id, trigger_source, dry_run, flows, status, started_at, holders)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Trigger, run.DryRun, strings.Join(run.Flows, ","), status, run.StartedAt.UTC(), run.Holders,
	)
	if err != nil {
		return fmt.Errorf("failed to start run %s: %w", run.ID, err)
	}
	return nil
}

// CompleteRun stores the run's final counters.
func (s *Storage) CompleteRun(ctx context.Context, run *Run) error {
	var completed any
	if run.CompletedAt != nil {
		completed = run.CompletedAt.UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE reconcile_runs
		SET status = ?, completed_at = ?, holders = ?, considered = ?, matched = ?,
		    committed = ?, created = ?, ambiguous = ?, skipped = ?,
		    write_errors = ?, holder_errors = ?, error_message = ?
		WHERE id = ?`,
		run.Status, completed, run.Holders, run.Considered, run.Matched,
		run.Committed, run.Created, run.Ambiguous, run.Skipped,
		run.WriteErrors, run.HolderErrors, run.Error,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

const runColumns = `id, trigger_source, dry_run, flows, status, started_at, completed_at,
	holders, considered, matched, committed, created, ambiguous, skipped,
	write_errors, holder_errors, error_message`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run       Run
		flows     string
		completed sql.NullTime
	)
	err := row.Scan(
		&run.ID, &run.Trigger, &run.DryRun, &flows, &run.Status, &run.StartedAt, &completed,
		&run.Holders, &run.Considered, &run.Matched, &run.Committed, &run.Created, &run.Ambiguous, &run.Skipped,
		&run.WriteErrors, &run.HolderErrors, &run.Error,
	)
	if err != nil {
		return nil, err
	}
	if flows != "" {
		run.Flows = strings.Split(flows, ",")
	}
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}
	return &run, nil
}

// GetRun retrieves a run by ID.
func (s *Storage) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM reconcile_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns runs, newest first.
func (s *Storage) ListRuns(ctx context.Context, filters RunFilters) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM reconcile_runs`
	var args []any
	if filters.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, filters.Status)
	}
	query += ` ORDER BY started_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limitOr(filters.Limit, defaultRunLimit), filters.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveDecisions inserts decision rows in one transaction.
func (s *Storage) SaveDecisions(ctx context.Context, decisions []*DecisionRecord) error {
	if len(decisions) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO run_decisions
			(run_id, holder_id, flow, action, platform_id, bank_id, ambiguous,
			 status, created_id, error_message, payload, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, d := range decisions {
			res, err := stmt.ExecContext(ctx,
				d.RunID, d.HolderID, d.Flow, d.Action, d.PlatformID, d.BankID, d.Ambiguous,
				d.Status, d.CreatedID, d.Error, d.Payload, d.RecordedAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to save decision for bank %d: %w", d.BankID, err)
			}
			d.ID, _ = res.LastInsertId()
		}
		return nil
	})
}

// ListDecisions returns a run's decisions in insertion order.
func (s *Storage) ListDecisions(ctx context.Context, runID string, filters RowFilters) ([]*DecisionRecord, error) {
	query := `
		SELECT id, run_id, holder_id, flow, action, platform_id, bank_id, ambiguous,
		       status, created_id, error_message, payload, recorded_at
		FROM run_decisions WHERE run_id = ?`
	args := []any{runID}
	query, args = rowWhere(query, args, filters)
	if filters.Status != "" {
		query += ` AND status = ?`
		args = append(args, filters.Status)
	}
	query += ` ORDER BY id LIMIT ? OFFSET ?`
	args = append(args, limitOr(filters.Limit, defaultRowLimit), filters.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*DecisionRecord
	for rows.Next() {
		var d DecisionRecord
		if err := rows.Scan(
			&d.ID, &d.RunID, &d.HolderID, &d.Flow, &d.Action, &d.PlatformID, &d.BankID, &d.Ambiguous,
			&d.Status, &d.CreatedID, &d.Error, &d.Payload, &d.RecordedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// SaveSkips inserts skip rows in one transaction.
func (s *Storage) SaveSkips(ctx context.Context, skips []*SkipRecord) error {
	if len(skips) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO run_skips (run_id, holder_id, flow, kind, record_id, reason, detail)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, sk := range skips {
			res, err := stmt.ExecContext(ctx, sk.RunID, sk.HolderID, sk.Flow, sk.Kind, sk.RecordID, sk.Reason, sk.Detail)
			if err != nil {
				return fmt.Errorf("failed to save skip for record %d: %w", sk.RecordID, err)
			}
			sk.ID, _ = res.LastInsertId()
		}
		return nil
	})
}

// ListSkips returns a run's skips in insertion order.
func (s *Storage) ListSkips(ctx context.Context, runID string, filters RowFilters) ([]*SkipRecord, error) {
	query := `SELECT id, run_id, holder_id, flow, kind, record_id, reason, detail FROM run_skips WHERE run_id = ?`
	args := []any{runID}
	query, args = rowWhere(query, args, filters)
	if filters.Reason != "" {
		query += ` AND reason = ?`
		args = append(args, filters.Reason)
	}
	query += ` ORDER BY id LIMIT ? OFFSET ?`
	args = append(args, limitOr(filters.Limit, defaultRowLimit), filters.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list skips: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*SkipRecord
	for rows.Next() {
		var sk SkipRecord
		if err := rows.Scan(&sk.ID, &sk.RunID, &sk.HolderID, &sk.Flow, &sk.Kind, &sk.RecordID, &sk.Reason, &sk.Detail); err != nil {
			return nil, err
		}
		out = append(out, &sk)
	}
	return out, rows.Err()
}

// SkipSummary counts a run's skips by reason.
func (s *Storage) SkipSummary(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT reason, COUNT(*) FROM run_skips WHERE run_id = ? GROUP BY reason`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize skips: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var (
			reason string
			count  int
		)
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, err
		}
		out[reason] = count
	}
	return out, rows.Err()
}

func (s *Storage) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func rowWhere(query string, args []any, f RowFilters) (string, []any) {
	if f.HolderID != 0 {
		query += ` AND holder_id = ?`
		args = append(args, f.HolderID)
	}
	if f.Flow != "" {
		query += ` AND flow = ?`
		args = append(args, f.Flow)
	}
	return query, args
}

func limitOr(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
