package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MacroAcon/tavren/internal/ingest"
	"github.com/MacroAcon/tavren/internal/output"
	"github.com/MacroAcon/tavren/internal/store"
)

func newPackagesCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "packages",
		Short: "List data packages and their record counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPackagesList(cmd.Context(), cmd, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	cmd.AddCommand(newPackagesDeleteCmd())
	return cmd
}

func newPackagesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <package-id>",
		Short: "Delete every record of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPackagesDelete(cmd.Context(), cmd, args[0])
		},
	}
}

func runPackagesList(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
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

	pkgs, err := a.packages.List(ctx)
	if err != nil {
		return err
	}
	if pkgs == nil {
		pkgs = []store.PackageCount{}
	}

	out := output.New(cmd.OutOrStdout())
	if jsonOutput {
		return out.JSON(pkgs)
	}
	if len(pkgs) == 0 {
		out.Status("", "No packages. Run 'tavren ingest' to add records.")
		return nil
	}
	out.Header(fmt.Sprintf("%d packages", len(pkgs)))
	for _, p := range pkgs {
		label := p.Name
		if p.Type != "" {
			label = fmt.Sprintf("%s [%s]", p.Name, p.Type)
		}
		out.KeyValue(p.ID, fmt.Sprintf("%s, %d records", label, p.Records))
	}
	return nil
}

func runPackagesDelete(ctx context.Context, cmd *cobra.Command, packageID string) error {
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

	lock := store.NewWriterLock(a.dataDir)
	ok, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ingest.ErrLocked, lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	n, err := a.store.DeleteByPackage(ctx, packageID)
	if err != nil {
		return err
	}
	output.New(cmd.OutOrStdout()).Successf("Deleted %d records from %s", n, packageID)
	return nil
}
