package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MacroAcon/tavren/configs"
	"github.com/MacroAcon/tavren/internal/config"
	"github.com/MacroAcon/tavren/internal/output"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a .tavren.yaml with default settings",
		Long: `Write a commented .tavren.yaml into the config directory (--config-dir).
An existing file is left untouched unless --force is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())
	path := filepath.Join(configDir, config.ProjectConfigName)

	if _, err := os.Stat(path); err == nil && !force {
		out.Warningf("%s already exists (use --force to overwrite)", path)
		return nil
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	out.Successf("Wrote %s", path)
	return nil
}
