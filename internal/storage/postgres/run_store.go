// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/telespot/internal/store"
)

// Schema creates the tables RunStore writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS lookup_runs (
	id            UUID PRIMARY KEY,
	phone         TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	error_message TEXT,
	tasks         INTEGER NOT NULL DEFAULT 0,
	results       INTEGER NOT NULL DEFAULT 0,
	duplicates    INTEGER NOT NULL DEFAULT 0,
	report_uri    TEXT
);
CREATE INDEX IF NOT EXISTS idx_lookup_runs_started ON lookup_runs (started_at DESC);
CREATE TABLE IF NOT EXISTS provider_stats (
	run_id      UUID NOT NULL REFERENCES lookup_runs (id) ON DELETE CASCADE,
	provider    TEXT NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	tasks       BIGINT NOT NULL DEFAULT 0,
	failed      BIGINT NOT NULL DEFAULT 0,
	records     BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, provider)
);
`

// RunStoreConfig controls the Postgres connection pool.
type RunStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Migrate applies Schema after connecting.
	Migrate bool
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool pool
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore connects to Postgres using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &RunStore{pool: p}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the lookup tables when they are missing.
func (s *RunStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertRunStart inserts a running run, or resets an existing one.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, phone string, tasks int, startedAt time.Time) error {
	query := `
		INSERT INTO lookup_runs (id, phone, started_at, status, tasks)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, tasks = EXCLUDED.tasks;
	`
	_, err := s.pool.Exec(ctx, query, runID, phone, startedAt, string(store.RunRunning), tasks)
	if err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run terminal.
func (s *RunStore) CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, summary store.RunSummary) error {
	query := `
		UPDATE lookup_runs
		SET finished_at = $1, status = $2, error_message = $3, results = $4, duplicates = $5, report_uri = $6
		WHERE id = $7;
	`
	res, err := s.pool.Exec(ctx, query,
		finishedAt,
		string(summary.Status),
		nullable(summary.Error),
		summary.Results,
		summary.Duplicates,
		nullable(summary.ReportURI),
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpsertProviderStats adds deltas to the (run, provider) row.
func (s *RunStore) UpsertProviderStats(
	ctx context.Context,
	runID uuid.UUID,
	provider string,
	deltaTasks,
	deltaFailed,
	deltaRecords int64,
	at time.Time,
) error {
	query := `
		INSERT INTO provider_stats (run_id, provider, last_update, tasks, failed, records)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, provider) DO UPDATE
		SET tasks = provider_stats.tasks + EXCLUDED.tasks,
			failed = provider_stats.failed + EXCLUDED.failed,
			records = provider_stats.records + EXCLUDED.records,
			last_update = EXCLUDED.last_update;
	`
	_, err := s.pool.Exec(ctx, query, runID, provider, at, deltaTasks, deltaFailed, deltaRecords)
	if err != nil {
		return fmt.Errorf("failed to upsert provider stats: %w", err)
	}
	return nil
}

const runColumns = `id, phone, started_at, finished_at, status, error_message, tasks, results, duplicates, report_uri`

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM lookup_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM lookup_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// ListRunProviders retrieves per-provider statistics for a run.
func (s *RunStore) ListRunProviders(ctx context.Context, runID uuid.UUID) ([]store.ProviderStats, error) {
	query := `
		SELECT run_id, provider, last_update, tasks, failed, records
		FROM provider_stats
		WHERE run_id = $1
		ORDER BY provider;
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run providers: %w", err)
	}
	defer rows.Close()

	var stats []store.ProviderStats
	for rows.Next() {
		var stat store.ProviderStats
		if err := rows.Scan(
			&stat.RunID,
			&stat.Provider,
			&stat.LastUpdate,
			&stat.Tasks,
			&stat.Failed,
			&stat.Records,
		); err != nil {
			return nil, fmt.Errorf("failed to scan provider stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate provider stats: %w", err)
	}
	return stats, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.Phone,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.ErrorMessage,
		&run.Tasks,
		&run.Results,
		&run.Duplicates,
		&run.ReportURI,
	)
	if err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
