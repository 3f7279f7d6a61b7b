package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MacroAcon/tavren/internal/output"
	"github.com/MacroAcon/tavren/internal/search"
)

type contextOptions struct {
	maxPackages int
	maxItems    int
	maxTokens   int
	noHybrid    bool
	jsonOutput  bool
}

func newContextCmd() *cobra.Command {
	var opts contextOptions

	cmd := &cobra.Command{
		Use:   "context <query>",
		Short: "Assemble a token-bounded context across packages",
		Long: `Rank records for the query and pack the best matches, grouped by
data package, into a context block that fits a token budget.

Examples:
  tavren context "how did my sleep change"
  tavren context "spending on groceries" --max-packages 2 --max-tokens 500`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContext(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVar(&opts.maxPackages, "max-packages", 0, "Maximum packages (default from config)")
	cmd.Flags().IntVar(&opts.maxItems, "max-items", 0, "Maximum items per package (default from config)")
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", 0, "Token budget (default from config)")
	cmd.Flags().BoolVar(&opts.noHybrid, "no-hybrid", false, "Rank by vector similarity only")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runContext(ctx context.Context, cmd *cobra.Command, query string, opts contextOptions) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	useHybrid := !opts.noHybrid
	resp, err := a.service.CrossPackageContext(ctx, search.CrossPackageContextRequest{
		QueryText:          query,
		MaxPackages:        opts.maxPackages,
		MaxItemsPerPackage: opts.maxItems,
		MaxTokens:          opts.maxTokens,
		UseHybrid:          &useHybrid,
	})
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if opts.jsonOutput {
		return out.JSON(resp)
	}

	out.Header(fmt.Sprintf("Context for %q: %d items from %d packages, %d tokens",
		query, resp.ItemCount, resp.PackageCount, resp.TokenCount))
	for _, p := range resp.Packages {
		out.KeyValue(p.PackageID, fmt.Sprintf("%s (%d items, best %.3f)", p.Name, p.ItemCount, p.BestScore))
	}
	out.Block(resp.Context)
	out.Status("", fmt.Sprintf("search %d ms, assemble %d ms", resp.Timing.SearchMS, resp.Timing.AssembleMS))
	return nil
}
