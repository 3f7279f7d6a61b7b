package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MacroAcon/tavren/internal/ingest"
	"github.com/MacroAcon/tavren/internal/output"
)

type ingestOptions struct {
	replace     bool
	concurrency int
	jsonOutput  bool
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest [file.jsonl]",
		Short: "Embed and store records from JSONL",
		Long: `Read one JSON record per line, embed its text and store it.

Each line holds package_id and text_content, and optionally
embedding_type (default "content"), metadata, package_name,
package_type and owner_id. Reads stdin when no file is given or the
file is "-". Invalid input stores nothing.

Examples:
  tavren ingest export.jsonl
  tavren ingest export.jsonl --replace-package
  cat export.jsonl | tavren ingest`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runIngest(cmd.Context(), cmd, path, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.replace, "replace-package", false, "Delete each input package's records first")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 4, "Parallel embedding calls")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, path string, opts ingestOptions) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ing, err := a.ingestor()
	if err != nil {
		return err
	}

	runOpts := ingest.DefaultOptions()
	runOpts.ReplacePackages = opts.replace
	runOpts.Concurrency = opts.concurrency

	res, err := ing.Ingest(ctx, r, runOpts)
	if errors.Is(err, ingest.ErrLocked) {
		return fmt.Errorf("%w\nAnother ingest is running; retry when it finishes", err)
	}
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if opts.jsonOutput {
		return out.JSON(res)
	}
	out.Successf("Ingested %d records from %d packages in %s", res.Records, res.Packages, res.Duration.Round(time.Millisecond))
	if res.Replaced > 0 {
		out.Status("", fmt.Sprintf("replaced %d existing records", res.Replaced))
	}
	return nil
}
