package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/telespot/internal/progress"
	"github.com/JakeFAU/telespot/internal/search"
)

type mapResolver map[search.ProviderID]search.Provider

func (m mapResolver) Get(id search.ProviderID) (search.Provider, bool) {
	p, ok := m[id]
	return p, ok
}

func staticProvider(id search.ProviderID, records ...search.Record) search.Provider {
	return search.ProviderFunc{Name: id, Fn: func(_ context.Context, q search.Query) []search.Record {
		out := make([]search.Record, len(records))
		for i, rec := range records {
			rec.Source = id
			rec.QueryRef = q.Text
			out[i] = rec
		}
		return out
	}}
}

func task(id string, provider search.ProviderID, text string) search.Task {
	return search.Task{ID: id, Provider: provider, Query: search.Query{Text: text, Format: text}}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() map[progress.Stage]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[progress.Stage]int)
	for _, evt := range r.events {
		out[evt.Stage]++
	}
	return out
}

func TestRunIsolatesFailingTasks(t *testing.T) {
	t.Parallel()

	resolver := mapResolver{
		search.ProviderGoogle: staticProvider(search.ProviderGoogle,
			search.Record{Title: "A", URL: "https://a.example"},
			search.Record{Title: "B", URL: "https://b.example"},
		),
		search.ProviderBing: search.ProviderFunc{Name: search.ProviderBing, Fn: func(context.Context, search.Query) []search.Record {
			panic("adapter exploded")
		}},
		search.ProviderDuckDuckGo: staticProvider(search.ProviderDuckDuckGo),
	}
	emitter := &recordingEmitter{}
	o := New(Config{}, resolver, emitter, nil, nil)

	report, err := o.Run(context.Background(), []search.Task{
		task("t1", search.ProviderGoogle, "215-555-1212"),
		task("t2", search.ProviderBing, "215-555-1212"),
		task("t3", search.ProviderDuckDuckGo, "215-555-1212"),
		task("t4", search.ProviderDehashed, "215-555-1212"),
	})
	require.NoError(t, err)
	require.False(t, report.Partial)
	require.NotEqual(t, uuid.Nil, report.RunID)
	require.Len(t, report.Results, 2)
	require.Equal(t, "A", report.Results[0].Title)
	require.Equal(t, "B", report.Results[1].Title)

	require.Len(t, report.Tasks, 4)
	require.NoError(t, report.Tasks[0].Err)
	require.Equal(t, 2, report.Tasks[0].Records)
	require.ErrorIs(t, report.Tasks[1].Err, ErrTaskPanicked)
	require.ErrorContains(t, report.Tasks[1].Err, "adapter exploded")
	require.NoError(t, report.Tasks[2].Err)
	require.Zero(t, report.Tasks[2].Records)
	require.ErrorIs(t, report.Tasks[3].Err, ErrUnknownProvider)

	require.Equal(t, map[progress.Stage]int{
		progress.StageRunStart:   1,
		progress.StageTaskDone:   2,
		progress.StageTaskFailed: 2,
		progress.StageRunDone:    1,
	}, emitter.stages())
}

func TestRunDeduplicatesAcrossTasks(t *testing.T) {
	t.Parallel()

	shared := search.Record{Title: "Listing", URL: "https://dir.example/215"}
	resolver := mapResolver{
		search.ProviderGoogle: staticProvider(search.ProviderGoogle, shared),
		search.ProviderBing:   staticProvider(search.ProviderBing, search.Record{Title: "Listing", URL: "HTTPS://DIR.EXAMPLE/215/"}),
	}
	o := New(Config{}, resolver, nil, nil, nil)
	report, err := o.Run(context.Background(), []search.Task{
		task("t1", search.ProviderGoogle, "2155551212"),
		task("t2", search.ProviderBing, "2155551212"),
	})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	require.Equal(t, 1, report.Duplicates)
}

func TestRunPreservesOrderWithinTask(t *testing.T) {
	t.Parallel()

	var records []search.Record
	for i := 0; i < 20; i++ {
		records = append(records, search.Record{Title: fmt.Sprintf("r%02d", i), URL: fmt.Sprintf("https://o.example/%d", i)})
	}
	o := New(Config{}, mapResolver{search.ProviderBingHTML: staticProvider(search.ProviderBingHTML, records...)}, nil, nil, nil)
	report, err := o.Run(context.Background(), []search.Task{task("t1", search.ProviderBingHTML, "q")})
	require.NoError(t, err)
	require.Len(t, report.Results, 20)
	for i, rec := range report.Results {
		require.Equal(t, fmt.Sprintf("r%02d", i), rec.Title)
	}
}

func TestRunEmptyTaskList(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	o := New(Config{}, mapResolver{}, emitter, nil, nil)
	_, err := o.Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoTasks)
	require.Empty(t, emitter.stages())
}

func TestRunReturnsPartialResultsAtDeadline(t *testing.T) {
	t.Parallel()

	slowStarted := make(chan struct{})
	release := make(chan struct{})
	var slowCtxErr atomic.Value
	resolver := mapResolver{
		search.ProviderGoogle: staticProvider(search.ProviderGoogle, search.Record{Title: "fast", URL: "https://fast.example"}),
		search.ProviderBing: search.ProviderFunc{Name: search.ProviderBing, Fn: func(ctx context.Context, _ search.Query) []search.Record {
			close(slowStarted)
			<-release
			slowCtxErr.Store(fmt.Sprint(ctx.Err()))
			return []search.Record{{Title: "late", URL: "https://late.example"}}
		}},
	}
	emitter := &recordingEmitter{}
	o := New(Config{}, resolver, emitter, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	report, err := o.Run(ctx, []search.Task{
		task("fast", search.ProviderGoogle, "q"),
		task("slow", search.ProviderBing, "q"),
	})
	require.NoError(t, err)
	<-slowStarted
	require.True(t, report.Partial)
	require.Len(t, report.Results, 1)
	require.Equal(t, "fast", report.Results[0].Title)
	require.NoError(t, report.Tasks[0].Err)
	require.ErrorIs(t, report.Tasks[1].Err, ErrAbandoned)

	// The abandoned task is not interrupted; it completes after the run
	// returned and its records stay out of the report.
	close(release)
	require.Eventually(t, func() bool {
		return emitter.stages()[progress.StageTaskDone] == 2
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, "<nil>", slowCtxErr.Load())
	require.Len(t, report.Results, 1)
}

func TestRunDetachesTasksFromCallerValues(t *testing.T) {
	t.Parallel()

	type ctxKey struct{}
	var seen atomic.Value
	resolver := mapResolver{
		search.ProviderGoogle: search.ProviderFunc{Name: search.ProviderGoogle, Fn: func(ctx context.Context, _ search.Query) []search.Record {
			seen.Store(ctx.Value(ctxKey{}))
			return nil
		}},
	}
	o := New(Config{}, resolver, nil, nil, nil)
	ctx := context.WithValue(context.Background(), ctxKey{}, "trace-me")
	_, err := o.Run(ctx, []search.Task{task("t1", search.ProviderGoogle, "q")})
	require.NoError(t, err)
	require.Equal(t, "trace-me", seen.Load())
}

func TestRunRespectsMaxInFlight(t *testing.T) {
	t.Parallel()

	var (
		current atomic.Int32
		peak    atomic.Int32
	)
	slow := search.ProviderFunc{Name: search.ProviderDuckDuckGo, Fn: func(context.Context, search.Query) []search.Record {
		n := current.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return []search.Record{{Title: "x"}}
	}}
	o := New(Config{MaxInFlight: 2}, mapResolver{search.ProviderDuckDuckGo: slow}, nil, nil, nil)

	tasks := make([]search.Task, 10)
	for i := range tasks {
		tasks[i] = task(fmt.Sprintf("t%d", i), search.ProviderDuckDuckGo, "q")
	}
	report, err := o.Run(context.Background(), tasks)
	require.NoError(t, err)
	require.LessOrEqual(t, peak.Load(), int32(2))
	// Records without URLs are never deduplicated.
	require.Len(t, report.Results, 10)
	require.Zero(t, report.Duplicates)
}

func TestRunWithIDEmitsRunMetadata(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	o := New(Config{}, mapResolver{
		search.ProviderBing: staticProvider(search.ProviderBing, search.Record{Title: "x", URL: "https://x.example"}),
	}, emitter, nil, nil)
	runID := uuid.New()
	report, err := o.RunWithID(context.Background(), runID, "2155551212", []search.Task{task("t1", search.ProviderBing, "q")})
	require.NoError(t, err)
	require.Equal(t, runID, report.RunID)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	require.Len(t, emitter.events, 3)
	start := emitter.events[0]
	require.Equal(t, progress.StageRunStart, start.Stage)
	require.Equal(t, 1, start.Tasks)
	require.Equal(t, "2155551212", start.Query)
	require.Equal(t, runID, start.RunUUID())
	require.NoError(t, start.Validate())

	done := emitter.events[2]
	require.Equal(t, progress.StageRunDone, done.Stage)
	require.Equal(t, 1, done.ResultCount)
	require.False(t, done.Partial)
}

func TestRunOpensSpanPerTask(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")
	o := New(Config{}, mapResolver{
		search.ProviderGoogle: staticProvider(search.ProviderGoogle),
	}, nil, tracer, nil)

	_, err := o.Run(context.Background(), []search.Task{
		task("t1", search.ProviderGoogle, "a"),
		task("t2", search.ProviderBing, "b"),
	})
	require.NoError(t, err)

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	var errored int
	for _, span := range ended {
		require.Equal(t, "lookup.task", span.Name())
		if len(span.Events()) > 0 {
			errored++
		}
	}
	require.Equal(t, 1, errored)
}
