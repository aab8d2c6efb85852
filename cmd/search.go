package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/app"
	"github.com/JakeFAU/telespot/internal/export"
	"github.com/JakeFAU/telespot/internal/lookup"
	"github.com/JakeFAU/telespot/internal/search"
)

type searchOptions struct {
	keyword  string
	site     string
	output   string
	verbose  bool
	dehashed bool
	store    bool
}

// newSearchCmd creates the 'search' subcommand.
func newSearchCmd() *cobra.Command {
	opts := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search <phone>",
		Short: "Look up a US phone number across every configured provider",
		Long: `Expands the number into the common ways it is written, searches every
format on every enabled provider in parallel, and prints a pattern summary.
Provider failures never fail the lookup; an invalid number or an empty
provider set fails before any request is sent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.keyword, "keyword", "k", "", "add a keyword to every search")
	cmd.Flags().StringVarP(&opts.site, "site", "s", "", "limit searches to a site")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "save results to a file (.json, .yaml or .txt)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "show every result")
	cmd.Flags().BoolVar(&opts.dehashed, "dehashed", false, "include the Dehashed breach search")
	cmd.Flags().BoolVar(&opts.store, "store", false, "also export the report to the configured storage backend")
	return cmd
}

func runSearch(cmd *cobra.Command, phone string, opts *searchOptions) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	out := newConsole(cmd.OutOrStdout(), e.opts.noColor)
	out.Banner(version)

	a, err := newApp(cmd.Context(), e.cfg, e.logger, app.Options{
		Version:       version,
		DisableExport: !opts.store,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
			e.logger.Warn("failed to close application services", zap.Error(cerr))
		}
	}()

	out.APIStatus(a.Providers().Statuses())
	out.SearchHeader(phone)

	req := lookup.Request{
		Phone:       phone,
		Constraints: search.Constraints{Keyword: opts.keyword, Site: opts.site},
	}
	if opts.dehashed {
		req.Providers = map[search.ProviderID]bool{search.ProviderDehashed: true}
	}

	res, err := a.Service().Lookup(cmd.Context(), req)
	if err != nil && res.RunID == uuid.Nil {
		return err
	}
	out.Tasks(res.Report.Tasks)
	if err != nil {
		return fmt.Errorf("lookup %s failed: %w", res.RunID, err)
	}
	out.Completed(res)

	if len(res.Report.Results) == 0 {
		out.printf("\nNo results found.\n")
		return nil
	}
	if opts.verbose {
		out.Verbose(res.Report.Results)
	}
	out.Summary(res.Report.Results, res.Patterns)

	if res.ReportURI != "" {
		out.printf("\nReport stored at: %s\n", res.ReportURI)
	}
	if opts.output != "" {
		if err := saveResults(opts.output, res); err != nil {
			return err
		}
		out.printf("\nResults saved to: %s\n", opts.output)
	}
	return nil
}

// saveResults writes the report in the format implied by the file extension.
func saveResults(path string, res lookup.Result) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	// #nosec G304 -- the path is supplied by the operator on the command line.
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	doc := export.Document{
		Timestamp: res.FinishedAt,
		Version:   version,
		RunID:     res.RunID.String(),
		Phone:     res.Phone,
		Partial:   res.Report.Partial,
		Results:   res.Report.Results,
		Patterns:  res.Patterns,
	}
	if err := export.Render(f, doc, export.FormatFromPath(path)); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
