package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/telespot/internal/provider"
)

// newStatusCmd creates the 'status' subcommand, which reports which providers
// have credentials without sending any request.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"api-status"},
		Short:   "Show provider configuration status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			// The registry never sends a request here, so it needs no requester.
			registry := provider.NewRegistry(nil, e.cfg.Credentials(), e.cfg.ProviderOptions(), e.logger)
			newConsole(cmd.OutOrStdout(), e.opts.noColor).APIStatus(registry.Statuses())
			return nil
		},
	}
}
