package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/analysis"
	"github.com/JakeFAU/telespot/internal/config"
	"github.com/JakeFAU/telespot/internal/lookup"
	"github.com/JakeFAU/telespot/internal/orchestrator"
	"github.com/JakeFAU/telespot/internal/planner"
	"github.com/JakeFAU/telespot/internal/provider"
	"github.com/JakeFAU/telespot/internal/search"
	"github.com/JakeFAU/telespot/internal/storage/memory"
	"github.com/JakeFAU/telespot/internal/store"
)

type fakeLookups struct {
	mu       sync.Mutex
	startErr error
	started  []lookup.Request
	results  map[uuid.UUID]lookup.Result
	running  map[uuid.UUID]bool
}

func newFakeLookups() *fakeLookups {
	return &fakeLookups{results: map[uuid.UUID]lookup.Result{}, running: map[uuid.UUID]bool{}}
}

func (f *fakeLookups) Start(_ context.Context, req lookup.Request) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return uuid.Nil, f.startErr
	}
	f.started = append(f.started, req)
	id := uuid.New()
	f.running[id] = true
	return id, nil
}

func (f *fakeLookups) Result(runID uuid.UUID) (lookup.Result, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if res, ok := f.results[runID]; ok {
		return res, true, nil
	}
	if f.running[runID] {
		return lookup.Result{RunID: runID, Status: store.RunRunning}, false, nil
	}
	return lookup.Result{}, false, lookup.ErrRunNotFound
}

type staticProviders []provider.Status

func (s staticProviders) Statuses() []provider.Status { return s }

func testConfig() config.Config {
	return config.Config{Server: config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 5}}
}

func finishedResult(runID uuid.UUID) lookup.Result {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	results := search.ResultSet{{Title: "listing", URL: "https://a.example", Snippet: "no names here", Source: search.ProviderGoogle}}
	return lookup.Result{
		RunID:  runID,
		Phone:  "2155551212",
		Status: store.RunSuccess,
		Report: orchestrator.Report{
			RunID:   runID,
			Results: results,
			Tasks: []orchestrator.TaskReport{
				{Task: search.Task{ID: "t1", Provider: search.ProviderGoogle, Query: search.Query{Text: "215-555-1212"}}, Records: 1},
				{Task: search.Task{ID: "t2", Provider: search.ProviderBing, Query: search.Query{Text: "215-555-1212"}}, Err: errors.New("boom")},
			},
		},
		Patterns:   analysis.Analyze(results),
		ReportKey:  "2155551212/report.json",
		ReportURI:  "memory://2155551212/report.json",
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}
}

func do(t *testing.T, h http.Handler, method, target, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_StartLookup(t *testing.T) {
	t.Parallel()

	lookups := newFakeLookups()
	server := NewServer(Deps{Lookups: lookups}, testConfig(), zap.NewNop())

	rec := do(t, server.Handler(), http.MethodPost, "/v1/lookups",
		`{"phone":"(215) 555-1212","keyword":"plumber","providers":{"dehashed":true,"bing_html":false}}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	runID, err := uuid.Parse(body["run_id"])
	require.NoError(t, err)
	require.Equal(t, "/v1/lookups/"+runID.String(), rec.Header().Get("Location"))

	require.Len(t, lookups.started, 1)
	got := lookups.started[0]
	require.Equal(t, "(215) 555-1212", got.Phone)
	require.Equal(t, "plumber", got.Constraints.Keyword)
	require.Equal(t, map[search.ProviderID]bool{search.ProviderDehashed: true, search.ProviderBingHTML: false}, got.Providers)
}

func TestServer_StartLookupErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		startErr error
		want     int
	}{
		{name: "invalid json", body: "{invalid", want: http.StatusBadRequest},
		{name: "unknown provider", body: `{"phone":"2155551212","providers":{"yahoo":true}}`, want: http.StatusBadRequest},
		{name: "invalid number", body: `{"phone":"12"}`, startErr: planner.ErrInvalidNumber, want: http.StatusBadRequest},
		{name: "no providers", body: `{"phone":"2155551212"}`, startErr: planner.ErrNoProviders, want: http.StatusUnprocessableEntity},
		{name: "internal", body: `{"phone":"2155551212"}`, startErr: errors.New("uuid exhausted"), want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			lookups := newFakeLookups()
			lookups.startErr = tc.startErr
			server := NewServer(Deps{Lookups: lookups}, testConfig(), nil)
			rec := do(t, server.Handler(), http.MethodPost, "/v1/lookups", tc.body)
			require.Equal(t, tc.want, rec.Code)
			require.Empty(t, lookups.started)
		})
	}
}

func TestServer_GetLookup(t *testing.T) {
	t.Parallel()

	lookups := newFakeLookups()
	doneID, runningID := uuid.New(), uuid.New()
	lookups.results[doneID] = finishedResult(doneID)
	lookups.running[runningID] = true
	server := NewServer(Deps{Lookups: lookups}, testConfig(), nil)

	rec := do(t, server.Handler(), http.MethodGet, "/v1/lookups/"+doneID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var dto lookupDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	require.Equal(t, "success", dto.Status)
	require.Len(t, dto.Results, 1)
	require.NotNil(t, dto.Patterns)
	require.Equal(t, analysis.ConfidenceLow, dto.Patterns.Confidence)
	require.Len(t, dto.Tasks, 2)
	require.Equal(t, "boom", dto.Tasks[1].Error)
	require.Equal(t, "memory://2155551212/report.json", dto.ReportURI)

	rec = do(t, server.Handler(), http.MethodGet, "/v1/lookups/"+runningID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"run_id":"`+runningID.String()+`","status":"running","partial":false,"duplicates":0}`, rec.Body.String())

	rec = do(t, server.Handler(), http.MethodGet, "/v1/lookups/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, server.Handler(), http.MethodGet, "/v1/lookups/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_LookupReport(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	_, err := blobs.PutObject(context.Background(), "2155551212/report.json", "application/json", strings.NewReader(`{"ok":true}`))
	require.NoError(t, err)

	lookups := newFakeLookups()
	doneID, runningID, noReportID := uuid.New(), uuid.New(), uuid.New()
	lookups.results[doneID] = finishedResult(doneID)
	lookups.running[runningID] = true
	missing := finishedResult(noReportID)
	missing.ReportKey = ""
	lookups.results[noReportID] = missing

	server := NewServer(Deps{Lookups: lookups, Reports: blobs, ReportContentType: "application/json"}, testConfig(), nil)

	rec := do(t, server.Handler(), http.MethodGet, "/v1/lookups/"+doneID.String()+"/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, `{"ok":true}`, rec.Body.String())

	rec = do(t, server.Handler(), http.MethodGet, "/v1/lookups/"+runningID.String()+"/report", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, server.Handler(), http.MethodGet, "/v1/lookups/"+noReportID.String()+"/report", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Runs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewRunStore()
	first, second := uuid.New(), uuid.New()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpsertRunStart(ctx, first, "2155551212", 12, start))
	require.NoError(t, repo.UpsertRunStart(ctx, second, "3125550000", 12, start.Add(time.Minute)))
	require.NoError(t, repo.CompleteRun(ctx, first, start.Add(time.Second), store.RunSummary{Status: store.RunSuccess, Results: 3, ReportURI: "file:///tmp/r.json"}))
	require.NoError(t, repo.UpsertProviderStats(ctx, first, "google", 2, 0, 5, start))

	server := NewServer(Deps{Runs: repo}, testConfig(), nil)

	rec := do(t, server.Handler(), http.MethodGet, "/v1/runs?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Runs, 2)
	require.Equal(t, second.String(), list.Runs[0].ID)

	rec = do(t, server.Handler(), http.MethodGet, "/v1/runs?status=SUCCESS", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	require.Equal(t, 3, list.Runs[0].Results)

	rec = do(t, server.Handler(), http.MethodGet, "/v1/runs?status=exploded", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, server.Handler(), http.MethodGet, "/v1/runs?limit=-1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, server.Handler(), http.MethodGet, "/v1/runs/"+first.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"report_uri":"file:///tmp/r.json"`)

	rec = do(t, server.Handler(), http.MethodGet, "/v1/runs/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, server.Handler(), http.MethodGet, "/v1/runs/"+first.String()+"/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var providers struct {
		Providers []providerDTO `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &providers))
	require.Len(t, providers.Providers, 1)
	assert.Equal(t, int64(5), providers.Providers[0].Records)
}

func TestServer_UnavailableDependencies(t *testing.T) {
	t.Parallel()

	server := NewServer(Deps{}, testConfig(), nil)
	for _, target := range []string{"/v1/runs", "/v1/runs/" + uuid.NewString(), "/v1/providers", "/v1/lookups/" + uuid.NewString()} {
		rec := do(t, server.Handler(), http.MethodGet, target, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
	rec := do(t, server.Handler(), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Providers(t *testing.T) {
	t.Parallel()

	statuses := staticProviders{
		{ID: search.ProviderGoogle, Configured: false, Reason: "google_api_key and google_cse_id required"},
		{ID: search.ProviderDuckDuckGo, Configured: true},
	}
	server := NewServer(Deps{Providers: statuses}, testConfig(), nil)
	rec := do(t, server.Handler(), http.MethodGet, "/v1/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"providers":[
		{"id":"google","configured":false,"reason":"google_api_key and google_cse_id required"},
		{"id":"duckduckgo","configured":true}
	]}`, rec.Body.String())
}

func TestServer_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	failing := true
	var mu sync.Mutex
	deps := Deps{
		Lookups: newFakeLookups(),
		Checks: map[string]ReadyCheck{
			"repo": func(context.Context) error {
				mu.Lock()
				defer mu.Unlock()
				if failing {
					return errors.New("connection refused")
				}
				return nil
			},
		},
	}
	server := NewServer(deps, testConfig(), nil)

	rec := do(t, server.Handler(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, server.Handler(), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")

	mu.Lock()
	failing = false
	mu.Unlock()
	rec = do(t, server.Handler(), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, server.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	server := NewServer(Deps{Providers: staticProviders{}}, cfg, nil)

	rec := do(t, server.Handler(), http.MethodGet, "/v1/providers", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, server.Handler(), http.MethodGet, "/v1/providers", "", "X-API-Key", "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, server.Handler(), http.MethodGet, "/v1/providers?api_key=secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, server.Handler(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RequestIDAndRecover(t *testing.T) {
	t.Parallel()

	handler := requestIDMiddleware(recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/panic" {
			panic("kaboom")
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": RequestID(r.Context())})
	})))

	rec := do(t, handler, http.MethodGet, "/ok", "", "X-Request-ID", "req-1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	require.JSONEq(t, `{"id":"req-1"}`, rec.Body.String())

	rec = do(t, handler, http.MethodGet, "/panic", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
