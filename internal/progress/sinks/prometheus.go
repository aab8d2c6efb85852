package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/telespot/internal/progress"
)

// PrometheusSink exports lookup progress metrics via Prometheus. It owns all
// collectors for runs started/completed/running and per-provider task counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	tasksTotal    *prometheus.CounterVec
	taskRecords   *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	runDuplicates prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telespot_runs_started_total",
			Help: "Total lookup runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telespot_runs_completed_total",
			Help: "Total lookup runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telespot_runs_running",
			Help: "Current number of running lookups.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "telespot_run_runtime_seconds",
			Help:    "Wall time per completed lookup run.",
			Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120},
		}, []string{"result"}),
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telespot_tasks_total",
			Help: "Finished tasks partitioned by provider and result.",
		}, []string{"provider", "result"}),
		taskRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telespot_task_records_total",
			Help: "Records returned per provider before deduplication.",
		}, []string{"provider"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "telespot_task_duration_seconds",
			Help:    "Task duration partitioned by provider.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"provider"}),
		runDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telespot_run_duplicates_total",
			Help: "Duplicate records dropped across completed runs.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.tasksTotal,
		s.taskRecords,
		s.taskDuration,
		s.runDuplicates,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StageTaskDone, progress.StageTaskFailed:
		s.handleTaskEvent(evt)
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		result := "success"
		if evt.Partial {
			result = "partial"
		}
		s.runsCompleted.WithLabelValues(result).Inc()
		s.observeRuntime(evt, result)
		if evt.Duplicates > 0 {
			s.runDuplicates.Add(float64(evt.Duplicates))
		}
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageRunStart && s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleTaskEvent(evt progress.Event) {
	provider := evt.Provider
	if provider == "" {
		provider = "unknown"
	}
	result := "done"
	if evt.Stage == progress.StageTaskFailed {
		result = "failed"
	}
	s.tasksTotal.WithLabelValues(provider, result).Inc()
	if evt.ResultCount > 0 {
		s.taskRecords.WithLabelValues(provider).Add(float64(evt.ResultCount))
	}
	if evt.Dur > 0 {
		s.taskDuration.WithLabelValues(provider).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
