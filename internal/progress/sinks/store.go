package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/progress"
	"github.com/JakeFAU/telespot/internal/store"
)

// StoreSink persists per-provider task telemetry via a store.RunRepository.
// It collapses a batch into one delta per (run, provider) to reduce write
// amplification. Run lifecycle rows are written by the lookup service, so run
// events are ignored here.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses provider deltas and forwards them to the repository. It
// respects ctx deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)
	order := make([]statsKey, 0)
	for _, evt := range batch {
		if evt.Stage != progress.StageTaskDone && evt.Stage != progress.StageTaskFailed {
			continue
		}
		key := statsKey{runID: evt.RunUUID(), provider: evt.Provider}
		delta := stats[key]
		if delta == nil {
			delta = &statsDelta{}
			stats[key] = delta
			order = append(order, key)
		}
		delta.tasks++
		if evt.Stage == progress.StageTaskFailed {
			delta.failed++
		}
		delta.records += int64(evt.ResultCount)
		if evt.TS.After(delta.at) {
			delta.at = evt.TS
		}
	}

	for _, key := range order {
		delta := stats[key]
		if err := s.repo.UpsertProviderStats(
			ctx,
			key.runID,
			key.provider,
			delta.tasks,
			delta.failed,
			delta.records,
			delta.at,
		); err != nil {
			return fmt.Errorf("upsert provider stats: %w", err)
		}
	}
	if len(order) > 0 {
		s.logger.Debug("persisted provider stats", zap.Int("rows", len(order)))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	runID    uuid.UUID
	provider string
}

type statsDelta struct {
	tasks   int64
	failed  int64
	records int64
	at      time.Time
}
