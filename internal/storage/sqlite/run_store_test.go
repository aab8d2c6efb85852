package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/telespot/internal/store"
)

func setupTestStore(t *testing.T) *RunStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	runID := uuid.New()
	started := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)

	if err := s.UpsertRunStart(ctx, runID, "2155551212", 12, started); err != nil {
		t.Fatalf("UpsertRunStart() error = %v", err)
	}
	// Idempotent restart.
	if err := s.UpsertRunStart(ctx, runID, "2155551212", 12, started); err != nil {
		t.Fatalf("UpsertRunStart() second call error = %v", err)
	}

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != store.RunRunning || run.Tasks != 12 || run.Phone != "2155551212" {
		t.Errorf("unexpected running row %+v", run)
	}
	if !run.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt, started)
	}
	if run.FinishedAt != nil || run.ReportURI != nil || run.ErrorMessage != nil {
		t.Errorf("expected nullable columns to be nil, got %+v", run)
	}

	finished := started.Add(5 * time.Second)
	err = s.CompleteRun(ctx, runID, finished, store.RunSummary{
		Status:     store.RunSuccess,
		Results:    2,
		Duplicates: 10,
		ReportURI:  "file:///tmp/r.json",
	})
	if err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}
	run, err = s.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != store.RunSuccess || run.Results != 2 || run.Duplicates != 10 {
		t.Errorf("unexpected completed row %+v", run)
	}
	if run.FinishedAt == nil || !run.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", run.FinishedAt, finished)
	}
	if run.ReportURI == nil || *run.ReportURI != "file:///tmp/r.json" {
		t.Errorf("ReportURI = %v", run.ReportURI)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.GetRun(context.Background(), uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetRun() error = %v, want ErrNotFound", err)
	}
	err := s.CompleteRun(context.Background(), uuid.New(), time.Now(), store.RunSummary{Status: store.RunError})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("CompleteRun() error = %v, want ErrNotFound", err)
	}
}

func TestProviderStatsAccumulate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	runID := uuid.New()
	now := time.Now().UTC()
	if err := s.UpsertRunStart(ctx, runID, "2155551212", 12, now); err != nil {
		t.Fatalf("UpsertRunStart() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.UpsertProviderStats(ctx, runID, "google", 2, 1, 3, now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("UpsertProviderStats() error = %v", err)
		}
	}
	if err := s.UpsertProviderStats(ctx, runID, "bing", 6, 0, 5, now); err != nil {
		t.Fatalf("UpsertProviderStats() error = %v", err)
	}

	stats, err := s.ListRunProviders(ctx, runID)
	if err != nil {
		t.Fatalf("ListRunProviders() error = %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("len(stats) = %d, want 2", len(stats))
	}
	google := stats[1]
	if google.Provider != "google" || google.Tasks != 6 || google.Failed != 3 || google.Records != 9 {
		t.Errorf("google stats = %+v", google)
	}
	if !google.LastUpdate.Equal(now.Add(2 * time.Second)) {
		t.Errorf("LastUpdate = %v", google.LastUpdate)
	}
}

func TestListRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]uuid.UUID, 4)
	for i := range ids {
		ids[i] = uuid.New()
		if err := s.UpsertRunStart(ctx, ids[i], "2155551212", 1, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("UpsertRunStart() error = %v", err)
		}
	}
	if err := s.CompleteRun(ctx, ids[1], base, store.RunSummary{Status: store.RunPartial}); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	all, err := s.ListRuns(ctx, nil, 0, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(all) != 4 || all[0].ID != ids[3] {
		t.Fatalf("ListRuns() = %+v", all)
	}

	page, err := s.ListRuns(ctx, nil, 2, 1)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[2] || page[1].ID != ids[1] {
		t.Fatalf("ListRuns(2,1) = %+v", page)
	}

	partial := store.RunPartial
	filtered, err := s.ListRuns(ctx, &partial, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != ids[1] {
		t.Fatalf("ListRuns(partial) = %+v", filtered)
	}
}

func TestOpenFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telespot.db")
	runID := uuid.New()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.UpsertRunStart(context.Background(), runID, "2155551212", 6, time.Now()); err != nil {
		t.Fatalf("UpsertRunStart() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if _, err := reopened.GetRun(context.Background(), runID); err != nil {
		t.Fatalf("GetRun() after reopen error = %v", err)
	}
}
