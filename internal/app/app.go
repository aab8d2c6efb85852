// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands and the API server.
package app

import (
	"context"
	"errors"
	"fmt"

	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/config"
	"github.com/JakeFAU/telespot/internal/export"
	"github.com/JakeFAU/telespot/internal/id/uuid"
	"github.com/JakeFAU/telespot/internal/lookup"
	"github.com/JakeFAU/telespot/internal/orchestrator"
	"github.com/JakeFAU/telespot/internal/planner"
	"github.com/JakeFAU/telespot/internal/progress"
	"github.com/JakeFAU/telespot/internal/progress/sinks"
	"github.com/JakeFAU/telespot/internal/provider"
	"github.com/JakeFAU/telespot/internal/publisher/pubsub"
	"github.com/JakeFAU/telespot/internal/requester"
	"github.com/JakeFAU/telespot/internal/storage/gcs"
	"github.com/JakeFAU/telespot/internal/storage/local"
	"github.com/JakeFAU/telespot/internal/storage/memory"
	"github.com/JakeFAU/telespot/internal/storage/postgres"
	"github.com/JakeFAU/telespot/internal/storage/sqlite"
	"github.com/JakeFAU/telespot/internal/store"
	"github.com/JakeFAU/telespot/internal/telemetry"
)

// BlobStore stores and reads back exported reports.
type BlobStore interface {
	export.BlobStore
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Options adjust how New builds the container.
type Options struct {
	// Version is stamped on exported reports.
	Version string
	// Registerer receives the progress collectors. Nil uses the default
	// Prometheus registry.
	Registerer prometheus.Registerer
	// Transport replaces the colly transport; tests point it at fakes.
	Transport requester.Transport
	// Sinks are added to the progress hub next to the built-in ones.
	Sinks []progress.Sink
	// DisableExport skips report export, e.g. when the CLI writes its own file.
	DisableExport bool
}

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *provider.Registry
	service  *lookup.Service
	repo     store.RunRepository
	blobs    BlobStore
	exporter *export.Exporter
	hub      *progress.Hub
	tracer   *sdktrace.TracerProvider
	closers  []func() error
}

// New builds every service from cfg. It fails fast when a configured backend
// cannot be reached and releases whatever it had opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	logger.Debug("initializing application services")

	var tracer trace.Tracer
	if cfg.Tracing.Enabled {
		tp, terr := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if terr != nil {
			return nil, fmt.Errorf("init tracing: %w", terr)
		}
		a.tracer = tp
		tracer = tp.Tracer(telemetry.TracerName)
	}

	if a.repo, err = openRepository(ctx, cfg.DB, a); err != nil {
		return nil, err
	}

	format, err := export.ParseFormat(cfg.Storage.Format)
	if err != nil {
		return nil, err
	}
	if !opts.DisableExport {
		if a.blobs, err = openBlobStore(ctx, cfg.Storage, a, logger); err != nil {
			return nil, err
		}
		a.exporter = export.NewExporter(a.blobs, format)
	}

	var publisher lookup.Publisher
	if cfg.PubSub.ProjectID != "" {
		pub, perr := pubsub.Open(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, logger)
		if perr != nil {
			return nil, fmt.Errorf("failed to initialize publisher: %w", perr)
		}
		a.closers = append(a.closers, pub.Close)
		publisher = pub
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, err
	}
	hubSinks := append([]progress.Sink{
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
		sinks.NewStoreSink(a.repo, logger),
	}, opts.Sinks...)
	hubCfg := cfg.HubConfig()
	hubCfg.Logger = logger
	a.hub = progress.NewHub(hubCfg, hubSinks...)

	enabled, err := cfg.EnabledProviders()
	if err != nil {
		return nil, err
	}

	transport := opts.Transport
	if transport == nil {
		transport = requester.NewCollyTransport(cfg.CollyConfig())
	}
	req := requester.New(cfg.RequesterConfig(), transport, requester.NewProviderLimiter(cfg.LimiterConfig()), logger.Named("requester"))
	a.registry = provider.NewRegistry(req, cfg.Credentials(), cfg.ProviderOptions(), logger.Named("provider"))

	runner := orchestrator.New(orchestrator.Config{MaxInFlight: cfg.Search.MaxInFlight}, a.registry, a.hub, tracer, logger.Named("orchestrator"))

	ids := uuid.New()
	deps := lookup.Deps{
		Planner:   planner.New(planner.NANP, ids),
		RunIDs:    ids,
		Runner:    runner,
		Providers: a.registry,
		Repo:      a.repo,
		Publisher: publisher,
		Emitter:   a.hub,
		Logger:    logger.Named("lookup"),
	}
	if a.exporter != nil {
		deps.Exporter = a.exporter
	}
	a.service, err = lookup.New(lookup.Config{
		RunTimeout: cfg.RunTimeout(),
		Enabled:    enabled,
		Version:    opts.Version,
	}, deps)
	if err != nil {
		return nil, err
	}

	logger.Debug("application services initialized")
	return a, nil
}

func openRepository(ctx context.Context, cfg config.DBConfig, a *App) (store.RunRepository, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		repo, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{
			DSN:      cfg.DSN,
			MaxConns: cfg.MaxConns,
			Migrate:  cfg.Migrate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.closers = append(a.closers, func() error { repo.Close(); return nil })
		return repo, nil
	case config.DriverSQLite:
		repo, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil
	case config.DriverMemory, "":
		return memory.NewRunStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}

func openBlobStore(ctx context.Context, cfg config.StorageConfig, a *App, logger *zap.Logger) (BlobStore, error) {
	switch cfg.Backend {
	case config.BackendGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		blobs, err := gcs.Open(ctx, client, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.closers = append(a.closers, blobs.Close)
		return blobs, nil
	case config.BackendLocal:
		blobs, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return blobs, nil
	case config.BackendMemory, "":
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Service returns the lookup service.
func (a *App) Service() *lookup.Service { return a.service }

// Providers returns the provider registry.
func (a *App) Providers() *provider.Registry { return a.registry }

// Runs returns the run repository.
func (a *App) Runs() store.RunRepository { return a.repo }

// Reports returns the report blob store, nil when export is disabled.
func (a *App) Reports() BlobStore { return a.blobs }

// ReportContentType is the MIME type of exported reports.
func (a *App) ReportContentType() string {
	if a.exporter == nil {
		return ""
	}
	return a.exporter.Format().ContentType()
}

// Ready reports whether at least one provider can serve a lookup and the run
// repository answers.
func (a *App) Ready(ctx context.Context) error {
	enabled, err := a.cfg.EnabledProviders()
	if err != nil {
		return err
	}
	if len(a.registry.Active(enabled)) == 0 {
		return planner.ErrNoProviders
	}
	if _, err := a.repo.ListRuns(ctx, nil, 1, 0); err != nil {
		return fmt.Errorf("run repository: %w", err)
	}
	return nil
}

// Close waits for background lookups, flushes progress sinks and shuts down
// every backend. It is called once the command finishes.
func (a *App) Close(ctx context.Context) error {
	a.logger.Debug("shutting down application services")
	var errs []error
	if a.service != nil {
		if err := a.service.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for lookups: %w", err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	errs = append(errs, a.release())
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
		a.tracer = nil
	}
	return errors.Join(errs...)
}

// release closes backends in reverse order of opening.
func (a *App) release() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
