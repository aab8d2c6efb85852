// Package api exposes the HTTP interface for the lookup service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/config"
	"github.com/JakeFAU/telespot/internal/lookup"
	"github.com/JakeFAU/telespot/internal/metrics"
	"github.com/JakeFAU/telespot/internal/provider"
	"github.com/JakeFAU/telespot/internal/store"
)

const defaultRequestTimeout = 60 * time.Second

// LookupService starts lookups and reports their results.
// *lookup.Service satisfies it.
type LookupService interface {
	Start(ctx context.Context, req lookup.Request) (uuid.UUID, error)
	Result(runID uuid.UUID) (lookup.Result, bool, error)
}

// ProviderLister reports provider configuration. *provider.Registry satisfies it.
type ProviderLister interface {
	Statuses() []provider.Status
}

// ReportReader loads exported reports back from blob storage.
type ReportReader interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// ReadyCheck reports whether a downstream is usable.
type ReadyCheck func(ctx context.Context) error

// Deps are the server's collaborators. Any of them may be nil; the routes
// that need a missing one answer 503.
type Deps struct {
	Lookups   LookupService
	Runs      store.RunRepository
	Providers ProviderLister
	Reports   ReportReader
	// ReportContentType is served with downloaded reports.
	ReportContentType string
	Checks            map[string]ReadyCheck
}

// Server wires HTTP handlers to the lookup service and stores.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	timeout := time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	lookups := newLookupHandler(deps, logger)
	runs := newRunsHandler(deps.Runs, logger)

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/providers", s.listProviders)
		r.Route("/lookups", func(r chi.Router) {
			r.Post("/", lookups.Start)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", lookups.Get)
				r.Get("/report", lookups.Report)
			})
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", runs.ListRuns)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", runs.GetRun)
				r.Get("/providers", runs.ListRunProviders)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Lookups == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failures": map[string]string{"lookups": "service not configured"}})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.deps.Checks))
	for name := range s.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	failures := make(map[string]string)
	for _, name := range names {
		if err := s.deps.Checks[name](ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failures", failures))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listProviders(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Providers == nil {
		writeError(w, http.StatusServiceUnavailable, "provider registry unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.deps.Providers.Statuses()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
