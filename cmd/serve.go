package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/api"
	"github.com/JakeFAU/telespot/internal/app"
	"github.com/JakeFAU/telespot/internal/logging"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP API until
// SIGINT or SIGTERM.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lookup HTTP API",
		Long: `Starts the HTTP API: POST /v1/lookups starts a lookup in the background and
GET /v1/lookups/{run_id} reports it. Run history, provider status, health and
Prometheus metrics are served alongside. The listen port comes from --port,
then $PORT, then server.port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), e, port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}

func runServe(ctx context.Context, e *env, port int) error {
	logger, err := logging.New(logging.Options{Development: e.cfg.Logging.Development, Level: e.cfg.Logging.Level})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	cfg := e.cfg
	if port > 0 {
		cfg.Server.Port = port
	} else if raw := os.Getenv("PORT"); raw != "" {
		if p, perr := strconv.Atoi(raw); perr == nil && p > 0 {
			cfg.Server.Port = p
		}
	}

	a, err := newApp(ctx, cfg, logger, app.Options{Version: version})
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}

	apiServer := api.NewServer(api.Deps{
		Lookups:           a.Service(),
		Runs:              a.Runs(),
		Providers:         a.Providers(),
		Reports:           a.Reports(),
		ReportContentType: a.ReportContentType(),
		Checks:            map[string]api.ReadyCheck{"app": a.Ready},
	}, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
		}
	}

	logger.Info("shutdown initiated")
	wait := time.Duration(cfg.Progress.ShutdownWaitSecs) * time.Second
	if wait <= 0 {
		wait = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wait)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Error("server shutdown error", zap.Error(serr))
	}
	if cerr := a.Close(shutdownCtx); cerr != nil {
		logger.Warn("failed to close application services", zap.Error(cerr))
	}
	logger.Info("shutdown complete")
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
