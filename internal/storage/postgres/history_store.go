// Package postgres records renewal run history in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	RunsTable       string        `mapstructure:"runs_table"`
	OutcomesTable   string        `mapstructure:"outcomes_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type txBeginner interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// HistoryStore writes one row per run and one row per outcome.
type HistoryStore struct {
	pool     txBeginner
	runs     string
	outcomes string
}

// NewHistoryStore connects to Postgres and optionally creates the tables.
func NewHistoryStore(ctx context.Context, cfg Config) (*HistoryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewHistoryStoreWithPool(pool, cfg.RunsTable, cfg.OutcomesTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewHistoryStoreWithPool constructs a store from an existing pool.
func NewHistoryStoreWithPool(pool txBeginner, runsTable, outcomesTable string) (*HistoryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if runsTable == "" {
		runsTable = "renewal_runs"
	}
	if outcomesTable == "" {
		outcomesTable = "renewal_outcomes"
	}
	for _, table := range []string{runsTable, outcomesTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &HistoryStore{pool: pool, runs: runsTable, outcomes: outcomesTable}, nil
}

// Migrate creates the history tables when they are missing.
func (s *HistoryStore) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	succeeded BOOLEAN NOT NULL
)`, s.runs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id TEXT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	server_id TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL,
	expiry_before TEXT NOT NULL DEFAULT '',
	expiry_after TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, position)
)`, s.outcomes, s.runs),
		fmt.Sprintf(`ALTER TABLE %s
	ADD COLUMN IF NOT EXISTS expiry_before TEXT NOT NULL DEFAULT '',
	ADD COLUMN IF NOT EXISTS expiry_after TEXT NOT NULL DEFAULT ''`, s.outcomes),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate history tables: %w", err)
		}
	}
	return nil
}

// SaveRun inserts the run and its outcomes in one transaction.
func (s *HistoryStore) SaveRun(ctx context.Context, run renew.Run) (err error) {
	if s == nil || s.pool == nil {
		return fmt.Errorf("history store is not configured")
	}
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	runQuery := fmt.Sprintf(`INSERT INTO %s (id, started_at, finished_at, succeeded) VALUES ($1,$2,$3,$4)`, s.runs)
	if _, err = tx.Exec(ctx, runQuery, run.ID, run.StartedAt, run.FinishedAt, run.Succeeded()); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	outcomeQuery := fmt.Sprintf(`INSERT INTO %s (run_id, position, server_id, status, error, expiry_before, expiry_after)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, s.outcomes)
	for i, o := range run.Outcomes {
		if _, err = tx.Exec(ctx, outcomeQuery, run.ID, i, o.ServerID, string(o.Status), o.Error, o.ExpiryBefore, o.ExpiryAfter); err != nil {
			return fmt.Errorf("insert outcome %d: %w", i, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit history tx: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *HistoryStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
