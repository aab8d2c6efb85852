// Package lookup runs a complete phone lookup: it plans tasks, fans them out
// through the orchestrator, analyzes the merged results, exports a report and
// records the run.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/analysis"
	"github.com/JakeFAU/telespot/internal/clock"
	"github.com/JakeFAU/telespot/internal/export"
	idgen "github.com/JakeFAU/telespot/internal/id/uuid"
	"github.com/JakeFAU/telespot/internal/orchestrator"
	"github.com/JakeFAU/telespot/internal/progress"
	"github.com/JakeFAU/telespot/internal/search"
	"github.com/JakeFAU/telespot/internal/store"
)

const defaultKeepResults = 100

// ErrRunNotFound is returned by Result for run IDs the service does not hold.
var ErrRunNotFound = errors.New("lookup run not found")

// Planner turns a phone number into tasks.
type Planner interface {
	Normalize(phone string) (string, error)
	Plan(phone string, active map[search.ProviderID]bool, c search.Constraints) ([]search.Task, error)
}

// Runner executes planned tasks. *orchestrator.Orchestrator satisfies it.
type Runner interface {
	RunWithID(ctx context.Context, runID uuid.UUID, subject string, tasks []search.Task) (orchestrator.Report, error)
}

// Providers reports which providers can run. *provider.Registry satisfies it.
type Providers interface {
	Active(enabled map[search.ProviderID]bool) map[search.ProviderID]bool
}

// Exporter writes a rendered report. *export.Exporter satisfies it.
type Exporter interface {
	Write(ctx context.Context, doc export.Document) (key string, uri string, err error)
}

// Publisher announces finished runs.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Config tunes the service.
type Config struct {
	// RunTimeout bounds a run. Zero waits for every task.
	RunTimeout time.Duration
	// Enabled switches providers on or off; providers missing from the map
	// follow their registration.
	Enabled map[search.ProviderID]bool
	// Version is stamped on exported reports.
	Version string
	// KeepResults caps how many finished async runs are kept in memory.
	KeepResults int
}

// RunIDs mints run identifiers. *idgen.Generator satisfies it.
type RunIDs interface {
	NewRunID() (uuid.UUID, error)
}

// Deps are the collaborators of a Service. Planner, Runner and Providers are
// required; the rest are optional.
type Deps struct {
	Planner   Planner
	Runner    Runner
	Providers Providers
	Repo      store.RunRepository
	Exporter  Exporter
	Publisher Publisher
	Emitter   progress.Emitter
	Clock     clock.Clock
	RunIDs    RunIDs
	Logger    *zap.Logger
}

// Request is one lookup.
type Request struct {
	Phone       string             `json:"phone"`
	Constraints search.Constraints `json:"constraints"`
	// Providers overrides Config.Enabled for this run.
	Providers map[search.ProviderID]bool `json:"providers,omitempty"`
}

// Result is the outcome of a run.
type Result struct {
	RunID      uuid.UUID
	Phone      string
	Status     store.RunStatus
	Report     orchestrator.Report
	Patterns   analysis.Patterns
	ReportKey  string
	ReportURI  string
	StartedAt  time.Time
	FinishedAt time.Time
	// Err holds the failure of an errored run.
	Err error
}

// Completion is the notice published when a run finishes.
type Completion struct {
	RunID      string              `json:"run_id"`
	Phone      string              `json:"phone"`
	Status     store.RunStatus     `json:"status"`
	Tasks      int                 `json:"tasks"`
	Results    int                 `json:"results"`
	Duplicates int                 `json:"duplicates"`
	Confidence analysis.Confidence `json:"confidence"`
	ReportURI  string              `json:"report_uri,omitempty"`
	FinishedAt time.Time           `json:"finished_at"`
}

// Service is safe for concurrent use.
type Service struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	wg      sync.WaitGroup
	mu      sync.Mutex
	runs    map[uuid.UUID]*Result
	order   []uuid.UUID
	pending map[uuid.UUID]struct{}
}

// New validates deps and returns a Service.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Planner == nil || deps.Runner == nil || deps.Providers == nil {
		return nil, fmt.Errorf("planner, runner and providers are required")
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.NopEmitter{}
	}
	if deps.RunIDs == nil {
		deps.RunIDs = idgen.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if cfg.KeepResults <= 0 {
		cfg.KeepResults = defaultKeepResults
	}
	return &Service{
		cfg:     cfg,
		deps:    deps,
		now:     deps.Clock.Now,
		runs:    make(map[uuid.UUID]*Result),
		pending: make(map[uuid.UUID]struct{}),
	}, nil
}

// plan is a validated run that has not touched the network yet.
type plan struct {
	runID uuid.UUID
	phone string
	tasks []search.Task
}

func (s *Service) prepare(req Request) (plan, error) {
	phone, err := s.deps.Planner.Normalize(req.Phone)
	if err != nil {
		return plan{}, err
	}
	enabled := make(map[search.ProviderID]bool, len(s.cfg.Enabled)+len(req.Providers))
	for id, on := range s.cfg.Enabled {
		enabled[id] = on
	}
	for id, on := range req.Providers {
		enabled[id] = on
	}
	tasks, err := s.deps.Planner.Plan(phone, s.deps.Providers.Active(enabled), req.Constraints)
	if err != nil {
		return plan{}, err
	}
	runID, err := s.deps.RunIDs.NewRunID()
	if err != nil {
		return plan{}, err
	}
	return plan{runID: runID, phone: phone, tasks: tasks}, nil
}

// Lookup runs req to completion. Validation errors (invalid number, no
// providers) are returned before any network activity. Provider failures
// never fail the lookup.
func (s *Service) Lookup(ctx context.Context, req Request) (Result, error) {
	p, err := s.prepare(req)
	if err != nil {
		return Result{}, err
	}
	res := s.execute(ctx, p)
	return res, res.Err
}

// Start validates req, then runs it in the background. The returned run ID
// can be passed to Result.
func (s *Service) Start(ctx context.Context, req Request) (uuid.UUID, error) {
	p, err := s.prepare(req)
	if err != nil {
		return uuid.Nil, err
	}
	s.mu.Lock()
	s.pending[p.runID] = struct{}{}
	s.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := s.execute(runCtx, p)
		s.remember(res)
	}()
	return p.runID, nil
}

// Result returns a finished async run. done is false while it is running.
func (s *Service) Result(runID uuid.UUID) (res Result, done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[runID]; ok {
		return *r, true, nil
	}
	if _, ok := s.pending[runID]; ok {
		return Result{RunID: runID, Status: store.RunRunning}, false, nil
	}
	return Result{}, false, ErrRunNotFound
}

// Wait blocks until every background run has finished or ctx expires.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) remember(res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, res.RunID)
	s.runs[res.RunID] = &res
	s.order = append(s.order, res.RunID)
	for len(s.order) > s.cfg.KeepResults {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Service) execute(ctx context.Context, p plan) Result {
	logger := s.deps.Logger.With(zap.String("run_id", p.runID.String()))
	res := Result{RunID: p.runID, Phone: p.phone, StartedAt: s.now().UTC()}
	// Bookkeeping must land even when the caller gives up.
	persistCtx := context.WithoutCancel(ctx)

	if s.deps.Repo != nil {
		if err := s.deps.Repo.UpsertRunStart(persistCtx, p.runID, p.phone, len(p.tasks), res.StartedAt); err != nil {
			logger.Warn("failed to record run start", zap.Error(err))
		}
	}

	runCtx := ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}
	report, err := s.deps.Runner.RunWithID(runCtx, p.runID, p.phone, p.tasks)
	res.Report = report
	if err != nil {
		res.Err = err
		res.Status = store.RunError
		res.Patterns = analysis.Analyze(nil)
		res.FinishedAt = s.now().UTC()
		s.deps.Emitter.Emit(progress.Event{
			RunID: progress.UUIDToBytes(p.runID),
			TS:    res.FinishedAt,
			Stage: progress.StageRunError,
			Note:  err.Error(),
		})
		logger.Error("lookup run failed", zap.Error(err))
		s.complete(persistCtx, logger, res)
		return res
	}

	res.Patterns = analysis.Analyze(report.Results)
	res.Status = store.RunSuccess
	if report.Partial {
		res.Status = store.RunPartial
	}
	res.FinishedAt = s.now().UTC()

	if s.deps.Exporter != nil {
		key, uri, err := s.deps.Exporter.Write(persistCtx, export.Document{
			Timestamp: res.FinishedAt,
			Version:   s.cfg.Version,
			RunID:     p.runID.String(),
			Phone:     p.phone,
			Partial:   report.Partial,
			Results:   report.Results,
			Patterns:  res.Patterns,
		})
		if err != nil {
			logger.Warn("failed to export report", zap.Error(err))
		} else {
			res.ReportKey, res.ReportURI = key, uri
		}
	}

	s.complete(persistCtx, logger, res)
	logger.Info("lookup finished",
		zap.String("status", string(res.Status)),
		zap.Int("results", len(report.Results)),
		zap.String("confidence", string(res.Patterns.Confidence)),
	)
	return res
}

func (s *Service) complete(ctx context.Context, logger *zap.Logger, res Result) {
	summary := store.RunSummary{
		Status:     res.Status,
		Results:    len(res.Report.Results),
		Duplicates: res.Report.Duplicates,
		ReportURI:  res.ReportURI,
	}
	if res.Err != nil {
		summary.Error = res.Err.Error()
	}
	if s.deps.Repo != nil {
		if err := s.deps.Repo.CompleteRun(ctx, res.RunID, res.FinishedAt, summary); err != nil {
			logger.Warn("failed to record run completion", zap.Error(err))
		}
	}
	if s.deps.Publisher != nil {
		_, err := s.deps.Publisher.Publish(ctx, Completion{
			RunID:      res.RunID.String(),
			Phone:      res.Phone,
			Status:     res.Status,
			Tasks:      len(res.Report.Tasks),
			Results:    summary.Results,
			Duplicates: summary.Duplicates,
			Confidence: res.Patterns.Confidence,
			ReportURI:  res.ReportURI,
			FinishedAt: res.FinishedAt,
		})
		if err != nil {
			logger.Warn("failed to publish completion", zap.Error(err))
		}
	}
}
