// Package sqlite records renewal run history in an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  started_at TEXT NOT NULL,
  finished_at TEXT NOT NULL,
  succeeded INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS outcomes (
  run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  position INTEGER NOT NULL,
  server_id TEXT NOT NULL,
  status TEXT NOT NULL,
  error TEXT NOT NULL,
  expiry_before TEXT NOT NULL DEFAULT '',
  expiry_after TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (run_id, position)
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Config selects the database file.
type Config struct {
	// Path is the database file; ":memory:" keeps everything in process.
	Path string `mapstructure:"path"`
}

// HistoryStore persists runs to SQLite.
type HistoryStore struct {
	db *sql.DB
}

// Open opens (or creates) the database and applies the schema.
func Open(ctx context.Context, cfg Config) (*HistoryStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("history.sqlite.path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// SaveRun inserts the run and its outcomes in one transaction.
func (s *HistoryStore) SaveRun(ctx context.Context, run renew.Run) (err error) {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	succeeded := 0
	if run.Succeeded() {
		succeeded = 1
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, succeeded) VALUES (?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC().Format(time.RFC3339Nano), run.FinishedAt.UTC().Format(time.RFC3339Nano), succeeded)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for i, o := range run.Outcomes {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO outcomes (run_id, position, server_id, status, error, expiry_before, expiry_after)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, o.ServerID, string(o.Status), o.Error, o.ExpiryBefore, o.ExpiryAfter)
		if err != nil {
			return fmt.Errorf("insert outcome %d: %w", i, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit history tx: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first, with their outcomes in order.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]renew.Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	var runs []renew.Run
	for rows.Next() {
		var (
			run             renew.Run
			started, finish string
		)
		if err := rows.Scan(&run.ID, &started, &finish); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		run.FinishedAt, _ = time.Parse(time.RFC3339Nano, finish)
		runs = append(runs, run)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close runs: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	for i := range runs {
		outcomes, err := s.outcomes(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Outcomes = outcomes
	}
	return runs, nil
}

func (s *HistoryStore) outcomes(ctx context.Context, runID string) ([]renew.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT server_id, status, error, expiry_before, expiry_after FROM outcomes WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []renew.Outcome
	for rows.Next() {
		var (
			o      renew.Outcome
			status string
		)
		if err := rows.Scan(&o.ServerID, &status, &o.Error, &o.ExpiryBefore, &o.ExpiryAfter); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Status = renew.Status(status)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *HistoryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
