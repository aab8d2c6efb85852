package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/app"
	"github.com/JakeFAU/telespot/internal/store"
)

// newRunsCmd creates the 'runs' subcommand, which lists recorded lookups.
func newRunsCmd() *cobra.Command {
	var (
		limit  int
		status string
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent lookup runs from the run repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			var filter *store.RunStatus
			if status != "" {
				parsed, ok := store.ParseRunStatus(strings.ToLower(status))
				if !ok {
					return fmt.Errorf("invalid status %q", status)
				}
				filter = &parsed
			}
			a, err := newApp(cmd.Context(), e.cfg, e.logger, app.Options{Version: version, DisableExport: true})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer func() {
				if cerr := a.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
					e.logger.Warn("failed to close application services", zap.Error(cerr))
				}
			}()

			runs, err := a.Runs().ListRuns(cmd.Context(), filter, limit, 0)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			return printRuns(cmd, runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")
	cmd.Flags().StringVar(&status, "status", "", "only list runs with this status (running, success, partial, error)")
	return cmd
}

func printRuns(cmd *cobra.Command, runs []store.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tPHONE\tSTARTED\tSTATUS\tRESULTS\tDUPLICATES")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
			run.ID, run.Phone, run.StartedAt.Local().Format(time.DateTime), run.Status, run.Results, run.Duplicates)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write runs: %w", err)
	}
	return nil
}
