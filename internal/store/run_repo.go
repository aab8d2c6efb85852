// Package store declares interfaces for persisting lookup runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the lookup_runs status column.
type RunStatus string

// Run statuses persisted in lookup_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunError   RunStatus = "error"
)

// ParseRunStatus validates a status filter.
func ParseRunStatus(raw string) (RunStatus, bool) {
	switch s := RunStatus(raw); s {
	case RunRunning, RunSuccess, RunPartial, RunError:
		return s, true
	default:
		return "", false
	}
}

// Run models the lookup_runs table.
type Run struct {
	ID uuid.UUID
	// Phone is the normalized digits that were searched.
	Phone     string
	StartedAt time.Time
	// FinishedAt is nil until the run is marked terminal.
	FinishedAt *time.Time
	Status     RunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
	Tasks        int
	Results      int
	Duplicates   int
	// ReportURI points at the exported report, when one was written.
	ReportURI *string
}

// RunSummary is recorded when a run finishes.
type RunSummary struct {
	Status     RunStatus
	Results    int
	Duplicates int
	ReportURI  string
	Error      string
}

// ProviderStats aggregates task outcomes per provider for one run.
type ProviderStats struct {
	RunID      uuid.UUID
	Provider   string
	LastUpdate time.Time
	Tasks      int64
	Failed     int64
	Records    int64
}

// RunRepository persists lookup runs and their per-provider telemetry.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently updates) a running run.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, phone string, tasks int, startedAt time.Time) error
	// CompleteRun marks the run terminal with the provided summary.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, summary RunSummary) error
	// UpsertProviderStats applies task/failure/record deltas per (run, provider).
	UpsertProviderStats(
		ctx context.Context,
		runID uuid.UUID,
		provider string,
		deltaTasks int64,
		deltaFailed int64,
		deltaRecords int64,
		at time.Time,
	) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunProviders returns per-provider stats for one run.
	ListRunProviders(ctx context.Context, runID uuid.UUID) ([]ProviderStats, error)
}
