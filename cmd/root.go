// Package cmd defines and implements the CLI commands for the telespot executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/app"
	"github.com/JakeFAU/telespot/internal/config"
	"github.com/JakeFAU/telespot/internal/logging"
)

// version is stamped at build time with -ldflags "-X github.com/JakeFAU/telespot/cmd.version=...".
var version = "0.1.0"

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	cfgFile string
	noColor bool
	debug   bool
}

// envKeyType keys the loaded environment in the command context.
type envKeyType string

const envKey envKeyType = "env"

// env is what PersistentPreRunE prepares for subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
	opts   *globalOptions
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = app.New

// loadConfig is a variable so tests can inject configuration.
var loadConfig = config.Load

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "telespot",
		Short: "Concurrent multi-provider phone number lookup.",
		Long: `telespot searches a phone number across several web search providers
at once, merges and deduplicates what they return, and summarizes the names,
locations, usernames and emails that keep showing up.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Load configuration once, before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.Quiet(opts.debug)
			if err != nil {
				return err
			}
			ctx := context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger, opts: opts})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default searches ./config.yaml and $HOME/.telespot/)")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	cmd.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "enable debug logging")

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not loaded")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
