// Package orchestrator fans lookup tasks out to provider adapters, isolates
// their failures, and merges their records through a deduplicator.
//
// Records of one task are ingested in the order the adapter returned them.
// Ordering across tasks follows completion order and is not deterministic.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/telespot/internal/dedupe"
	"github.com/JakeFAU/telespot/internal/metrics"
	"github.com/JakeFAU/telespot/internal/progress"
	"github.com/JakeFAU/telespot/internal/search"
	"github.com/JakeFAU/telespot/internal/telemetry"
)

var (
	// ErrNoTasks is returned when Run receives an empty task list.
	ErrNoTasks = errors.New("no tasks to run")
	// ErrUnknownProvider marks a task whose provider has no adapter.
	ErrUnknownProvider = errors.New("provider not registered")
	// ErrTaskPanicked marks a task whose adapter panicked.
	ErrTaskPanicked = errors.New("task panicked")
	// ErrAbandoned marks tasks still pending when the run deadline expired.
	ErrAbandoned = errors.New("task abandoned at run deadline")
)

// Resolver looks up the adapter for a provider. *provider.Registry satisfies it.
type Resolver interface {
	Get(id search.ProviderID) (search.Provider, bool)
}

// Config bounds concurrency. MaxInFlight 0 launches every task at once.
type Config struct {
	MaxInFlight int
}

// TaskReport is the terminal state of one task.
type TaskReport struct {
	Task    search.Task
	Records int
	Dur     time.Duration
	// Err is nil for tasks that returned, even with zero records.
	Err error
}

// Failed reports whether the task ended without running to completion.
func (t TaskReport) Failed() bool { return t.Err != nil }

// Report is the outcome of a run.
type Report struct {
	RunID      uuid.UUID
	Results    search.ResultSet
	Duplicates int
	Tasks      []TaskReport
	Elapsed    time.Duration
	// Partial is set when the context expired before every task ended.
	Partial bool
}

// Orchestrator is safe for concurrent runs.
type Orchestrator struct {
	cfg       Config
	providers Resolver
	emitter   progress.Emitter
	tracer    trace.Tracer
	logger    *zap.Logger
	now       func() time.Time
}

// New wires an Orchestrator. Nil emitter, tracer and logger fall back to
// no-op implementations.
func New(cfg Config, providers Resolver, emitter progress.Emitter, tracer trace.Tracer, logger *zap.Logger) *Orchestrator {
	if cfg.MaxInFlight < 0 {
		cfg.MaxInFlight = 0
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		providers: providers,
		emitter:   emitter,
		tracer:    tracer,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes tasks under a freshly generated run ID.
func (o *Orchestrator) Run(ctx context.Context, tasks []search.Task) (Report, error) {
	runID, err := uuid.NewV7()
	if err != nil {
		return Report{}, fmt.Errorf("generate run id: %w", err)
	}
	return o.RunWithID(ctx, runID, "", tasks)
}

// run holds the state shared by the tasks of one RunWithID call.
type run struct {
	id      uuid.UUID
	mu      sync.Mutex
	closed  bool
	reports []TaskReport
	dedupe  *dedupe.Deduplicator
}

// RunWithID executes every task and returns once all of them are terminal or
// ctx expires. On expiry the records ingested so far are returned with
// Partial set; tasks still running are cancelled and their late records are
// discarded. A failing task never affects the others. subject is recorded on
// the RUN_START event.
func (o *Orchestrator) RunWithID(ctx context.Context, runID uuid.UUID, subject string, tasks []search.Task) (Report, error) {
	if len(tasks) == 0 {
		return Report{RunID: runID}, ErrNoTasks
	}
	start := o.now()
	logger := o.logger.With(zap.String("run_id", runID.String()))
	st := &run{
		id:      runID,
		reports: make([]TaskReport, len(tasks)),
		dedupe:  dedupe.New(),
	}
	for i, task := range tasks {
		st.reports[i] = TaskReport{Task: task, Err: ErrAbandoned}
	}
	o.emit(progress.Event{RunID: progress.UUIDToBytes(runID), Stage: progress.StageRunStart, Tasks: len(tasks), Query: subject})
	logger.Info("lookup run started", zap.Int("tasks", len(tasks)), zap.Int("max_in_flight", o.cfg.MaxInFlight))

	// Tasks keep the caller's values but never its cancellation. An abandoned
	// task finishes under the requester's own timeouts and its records are
	// dropped as late.
	taskCtx := context.WithoutCancel(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		g := new(errgroup.Group)
		if o.cfg.MaxInFlight > 0 {
			g.SetLimit(o.cfg.MaxInFlight)
		}
		for i, task := range tasks {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				o.runTask(taskCtx, st, i, task)
				return nil
			})
		}
		_ = g.Wait()
	}()

	partial := false
	select {
	case <-done:
	case <-ctx.Done():
		partial = true
	}

	st.mu.Lock()
	st.closed = true
	report := Report{
		RunID:      runID,
		Results:    st.dedupe.Snapshot(),
		Duplicates: st.dedupe.Duplicates(),
		Tasks:      append([]TaskReport(nil), st.reports...),
		Elapsed:    o.now().Sub(start),
		Partial:    partial,
	}
	st.mu.Unlock()

	metrics.ObserveDuplicates(report.Duplicates)
	status := "success"
	if partial {
		status = "partial"
	}
	metrics.ObserveRun(status)
	o.emit(progress.Event{
		RunID:       progress.UUIDToBytes(runID),
		Stage:       progress.StageRunDone,
		ResultCount: len(report.Results),
		Duplicates:  report.Duplicates,
		Dur:         report.Elapsed,
		Partial:     partial,
	})
	logger.Info("lookup run finished",
		zap.Int("results", len(report.Results)),
		zap.Int("duplicates", report.Duplicates),
		zap.Bool("partial", partial),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func (o *Orchestrator) runTask(ctx context.Context, st *run, index int, task search.Task) {
	metrics.IncActiveTasks()
	defer metrics.DecActiveTasks()

	ctx, span := o.tracer.Start(ctx, "lookup.task", trace.WithAttributes(
		attribute.String("run.id", st.id.String()),
		attribute.String("task.id", task.ID),
		attribute.String("provider", string(task.Provider)),
		attribute.String("query", task.Query.Text),
	))
	defer span.End()

	start := o.now()
	records, err := o.fetch(ctx, task)
	tr := TaskReport{Task: task, Records: len(records), Dur: o.now().Sub(start), Err: err}
	metrics.ObserveAdapterRecords(string(task.Provider), len(records))
	span.SetAttributes(attribute.Int("records", len(records)))

	st.mu.Lock()
	late := st.closed
	if !late {
		st.reports[index] = tr
		st.dedupe.IngestAll(records)
	}
	st.mu.Unlock()

	evt := progress.Event{
		RunID:       progress.UUIDToBytes(st.id),
		Stage:       progress.StageTaskDone,
		TaskID:      task.ID,
		Provider:    string(task.Provider),
		Query:       task.Query.Text,
		ResultCount: len(records),
		Dur:         tr.Dur,
	}
	if err != nil {
		evt.Stage = progress.StageTaskFailed
		evt.Note = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Warn("task failed",
			zap.String("run_id", st.id.String()),
			zap.String("task_id", task.ID),
			zap.String("provider", string(task.Provider)),
			zap.Error(err),
		)
	}
	if late && err == nil {
		evt.Note = "late"
	}
	o.emit(evt)
}

// fetch calls the adapter and converts a panic into an error.
func (o *Orchestrator) fetch(ctx context.Context, task search.Task) (records []search.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			records = nil
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	if o.providers == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, task.Provider)
	}
	p, ok := o.providers.Get(task.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, task.Provider)
	}
	return p.Fetch(ctx, task.Query), nil
}

func (o *Orchestrator) emit(evt progress.Event) {
	evt.TS = o.now().UTC()
	o.emitter.Emit(evt)
}
