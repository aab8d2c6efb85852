// Package sqlite persists lookup runs in a local SQLite database. It backs the
// CLI when no Postgres DSN is configured.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/telespot/internal/store"
)

const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS lookup_runs (
    id TEXT PRIMARY KEY,
    phone TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    status TEXT NOT NULL,
    error_message TEXT,
    tasks INTEGER NOT NULL DEFAULT 0,
    results INTEGER NOT NULL DEFAULT 0,
    duplicates INTEGER NOT NULL DEFAULT 0,
    report_uri TEXT
);

CREATE INDEX IF NOT EXISTS idx_lookup_runs_started ON lookup_runs(started_at);

CREATE TABLE IF NOT EXISTS provider_stats (
    run_id TEXT NOT NULL REFERENCES lookup_runs(id) ON DELETE CASCADE,
    provider TEXT NOT NULL,
    last_update TEXT NOT NULL,
    tasks INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    records INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, provider)
);
`

// Timestamps are stored as sortable RFC 3339 text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RunStore implements store.RunRepository on SQLite.
type RunStore struct {
	db *sql.DB
}

var _ store.RunRepository = (*RunStore)(nil)

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &RunStore{db: db}, nil
}

// Close closes the database.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// UpsertRunStart inserts a running run, or resets an existing one.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, phone string, tasks int, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lookup_runs (id, phone, started_at, status, tasks)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, tasks = excluded.tasks`,
		runID.String(), phone, formatTime(startedAt), string(store.RunRunning), tasks,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run terminal.
func (s *RunStore) CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, summary store.RunSummary) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE lookup_runs
		SET finished_at = ?, status = ?, error_message = ?, results = ?, duplicates = ?, report_uri = ?
		WHERE id = ?`,
		formatTime(finishedAt),
		string(summary.Status),
		nullString(summary.Error),
		summary.Results,
		summary.Duplicates,
		nullString(summary.ReportURI),
		runID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n == 0 {
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_stats (run_id, provider, last_update, tasks, failed, records)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, provider) DO UPDATE SET
			tasks = tasks + excluded.tasks,
			failed = failed + excluded.failed,
			records = records + excluded.records,
			last_update = excluded.last_update`,
		runID.String(), provider, formatTime(at), deltaTasks, deltaFailed, deltaRecords,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert provider stats: %w", err)
	}
	return nil
}

const runColumns = `id, phone, started_at, finished_at, status, error_message, tasks, results, duplicates, report_uri`

type scanner interface {
	Scan(dest ...any) error
}

// GetRun loads a run or returns store.ErrNotFound.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM lookup_runs WHERE id = ?`, runID.String())
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	var filter any
	if status != nil {
		filter = string(*status)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+`
		FROM lookup_runs
		WHERE (?1 IS NULL OR status = ?1)
		ORDER BY started_at DESC
		LIMIT ?2 OFFSET ?3`, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListRunProviders returns the provider counters of a run ordered by name.
func (s *RunStore) ListRunProviders(ctx context.Context, runID uuid.UUID) ([]store.ProviderStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, last_update, tasks, failed, records
		FROM provider_stats
		WHERE run_id = ?
		ORDER BY provider`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list run providers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []store.ProviderStats
	for rows.Next() {
		stat := store.ProviderStats{RunID: runID}
		var updated string
		if err := rows.Scan(&stat.Provider, &updated, &stat.Tasks, &stat.Failed, &stat.Records); err != nil {
			return nil, fmt.Errorf("failed to scan provider stats row: %w", err)
		}
		if stat.LastUpdate, err = parseTime(updated); err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

func scanRun(row scanner) (store.Run, error) {
	var (
		run                   store.Run
		id, started, status   string
		finished, errMsg, uri sql.NullString
	)
	if err := row.Scan(&id, &run.Phone, &started, &finished, &status, &errMsg, &run.Tasks, &run.Results, &run.Duplicates, &uri); err != nil {
		return store.Run{}, err
	}
	var err error
	if run.ID, err = uuid.Parse(id); err != nil {
		return store.Run{}, fmt.Errorf("parse run id: %w", err)
	}
	if run.StartedAt, err = parseTime(started); err != nil {
		return store.Run{}, err
	}
	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return store.Run{}, err
		}
		run.FinishedAt = &t
	}
	run.Status = store.RunStatus(status)
	if errMsg.Valid {
		run.ErrorMessage = &errMsg.String
	}
	if uri.Valid {
		run.ReportURI = &uri.String
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
