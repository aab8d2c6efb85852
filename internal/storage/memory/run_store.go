package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/telespot/internal/store"
)

// RunStore provides an in-memory store.RunRepository for development/testing.
type RunStore struct {
	mu        sync.RWMutex
	runs      map[uuid.UUID]store.Run
	providers map[uuid.UUID]map[string]store.ProviderStats
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:      make(map[uuid.UUID]store.Run),
		providers: make(map[uuid.UUID]map[string]store.ProviderStats),
	}
}

// UpsertRunStart stores a running run, resetting any existing row.
func (s *RunStore) UpsertRunStart(_ context.Context, runID uuid.UUID, phone string, tasks int, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = store.Run{ID: runID, Phone: phone, StartedAt: startedAt}
	}
	run.Status = store.RunRunning
	run.Tasks = tasks
	s.runs[runID] = run
	return nil
}

// CompleteRun marks the run terminal.
func (s *RunStore) CompleteRun(_ context.Context, runID uuid.UUID, finishedAt time.Time, summary store.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = &finishedAt
	run.Status = summary.Status
	run.Results = summary.Results
	run.Duplicates = summary.Duplicates
	run.ErrorMessage = optional(summary.Error)
	run.ReportURI = optional(summary.ReportURI)
	s.runs[runID] = run
	return nil
}

// UpsertProviderStats adds deltas to the (run, provider) counters.
func (s *RunStore) UpsertProviderStats(
	_ context.Context,
	runID uuid.UUID,
	provider string,
	deltaTasks,
	deltaFailed,
	deltaRecords int64,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byProvider, ok := s.providers[runID]
	if !ok {
		byProvider = make(map[string]store.ProviderStats)
		s.providers[runID] = byProvider
	}
	stat := byProvider[provider]
	stat.RunID = runID
	stat.Provider = provider
	stat.Tasks += deltaTasks
	stat.Failed += deltaFailed
	stat.Records += deltaRecords
	stat.LastUpdate = at
	byProvider[provider] = stat
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if offset >= len(runs) {
		return nil, nil
	}
	runs = runs[offset:]
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// ListRunProviders returns the provider counters of a run ordered by name.
func (s *RunStore) ListRunProviders(_ context.Context, runID uuid.UUID) ([]store.ProviderStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byProvider := s.providers[runID]
	out := make([]store.ProviderStats, 0, len(byProvider))
	for _, stat := range byProvider {
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
