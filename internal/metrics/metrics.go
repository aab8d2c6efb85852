// Package metrics exposes process-wide Prometheus collectors for lookups.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestAttemptsTotal       *prometheus.CounterVec
	requestAttemptSeconds      *prometheus.HistogramVec
	requestRetriesTotal        *prometheus.CounterVec
	requestBackoffSeconds      *prometheus.HistogramVec
	requestExhaustedTotal      *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	adapterRecordsTotal        *prometheus.CounterVec
	dedupeDroppedTotal         prometheus.Counter
	lookupRunsTotal            *prometheus.CounterVec
	activeTasks                prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		requestAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telespot_request_attempts_total",
				Help: "HTTP attempts made by the requester, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		requestAttemptSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telespot_request_attempt_seconds",
				Help:    "Latency of single requester attempts.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
			},
			[]string{"provider"},
		)

		requestRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telespot_request_retries_total",
				Help: "Retries scheduled by the requester, labeled by provider.",
			},
			[]string{"provider"},
		)

		requestBackoffSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telespot_request_backoff_seconds",
				Help:    "Backoff delays chosen before retries.",
				Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13},
			},
			[]string{"provider"},
		)

		requestExhaustedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telespot_request_exhausted_total",
				Help: "Requests that ran out of attempts, labeled by provider.",
			},
			[]string{"provider"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telespot_rate_limit_delays_seconds",
				Help:    "Histogram of per-provider rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider"},
		)

		adapterRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telespot_adapter_records_total",
				Help: "Records returned by provider adapters before deduplication.",
			},
			[]string{"provider"},
		)

		dedupeDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "telespot_dedupe_dropped_total",
				Help: "Records dropped as duplicates.",
			},
		)

		lookupRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telespot_lookup_runs_total",
				Help: "Lookup runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		activeTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "telespot_active_tasks",
				Help: "Tasks currently executing.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAttempt counts one requester attempt.
func ObserveAttempt(provider, outcome string, duration time.Duration) {
	Init()
	requestAttemptsTotal.WithLabelValues(label(provider), outcome).Inc()
	requestAttemptSeconds.WithLabelValues(label(provider)).Observe(duration.Seconds())
}

// ObserveRetry counts a scheduled retry and its delay.
func ObserveRetry(provider string, delay time.Duration) {
	Init()
	requestRetriesTotal.WithLabelValues(label(provider)).Inc()
	requestBackoffSeconds.WithLabelValues(label(provider)).Observe(delay.Seconds())
}

// ObserveExhausted counts a request that ran out of attempts.
func ObserveExhausted(provider string) {
	Init()
	requestExhaustedTotal.WithLabelValues(label(provider)).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(provider string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(label(provider)).Observe(duration.Seconds())
}

// ObserveAdapterRecords adds the records one adapter call produced.
func ObserveAdapterRecords(provider string, n int) {
	Init()
	if n > 0 {
		adapterRecordsTotal.WithLabelValues(label(provider)).Add(float64(n))
	}
}

// ObserveDuplicates adds dropped duplicate records.
func ObserveDuplicates(n int) {
	Init()
	if n > 0 {
		dedupeDroppedTotal.Add(float64(n))
	}
}

// ObserveRun counts a finished lookup run.
func ObserveRun(status string) {
	Init()
	lookupRunsTotal.WithLabelValues(status).Inc()
}

// IncActiveTasks increments the active task gauge.
func IncActiveTasks() {
	Init()
	activeTasks.Inc()
}

// DecActiveTasks decrements the active task gauge.
func DecActiveTasks() {
	Init()
	activeTasks.Dec()
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, ww.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

func label(provider string) string {
	if provider == "" {
		return "unknown"
	}
	return provider
}
