// Package cmd provides the CLI commands for tavren.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MacroAcon/tavren/internal/config"
	terrors "github.com/MacroAcon/tavren/internal/errors"
	"github.com/MacroAcon/tavren/internal/logging"
	"github.com/MacroAcon/tavren/internal/profiling"
	"github.com/MacroAcon/tavren/pkg/version"
)

// Global flags and per-run state.
var (
	debugMode      bool
	configDir      string
	loadedConfig   *config.Config
	loggingCleanup func()
	profileOpts    profiling.Options
	profiler       *profiling.Session
)

// NewRootCmd creates the root command for the tavren CLI.
func NewRootCmd() *cobra.Command {
	loadedConfig = nil
	profileOpts = profiling.Options{}

	cmd := &cobra.Command{
		Use:   "tavren",
		Short: "Hybrid retrieval over personal data packages",
		Long: `tavren ranks stored records against natural-language queries by
blending vector similarity with keyword overlap, expands queries into
alternative phrasings, re-ranks by facets, and packs the best matches
from several data packages into a token-bounded context.

Run 'tavren serve' to expose the retrieval tools over MCP.`,
		Version:            version.Version,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  setupRun,
		PersistentPostRunE: teardownRun,
	}

	cmd.SetVersionTemplate("tavren version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.tavren/logs/")
	cmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory holding the project config (.tavren.yaml)")

	cmd.PersistentFlags().StringVar(&profileOpts.CPUPath, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.HeapPath, "profile-mem", "", "Write heap profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.TracePath, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newContextCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newPackagesCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupRun loads configuration and installs the file logger. Logs never
// go to stdout, which the MCP stdio transport owns.
func setupRun(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" || cmd.Name() == "init" {
		return nil
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	loadedConfig = cfg

	logCfg := logging.ServeConfig(cfg.Server.LogLevel)
	if debugMode {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("command_started", slog.String("command", cmd.CommandPath()))

	if profileOpts.Enabled() {
		profiler, err = profiling.Start(profileOpts)
		if err != nil {
			return err
		}
	}
	return nil
}

func teardownRun(_ *cobra.Command, _ []string) error {
	var err error
	if profiler != nil {
		err = profiler.Stop()
		profiler = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// currentConfig returns the loaded configuration, loading it when the
// command runs outside the root command.
func currentConfig() (*config.Config, error) {
	if loadedConfig != nil {
		return loadedConfig, nil
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}
	loadedConfig = cfg
	return cfg, nil
}

// Execute runs the root command. Structured errors print with their kind
// and suggestion.
func Execute() error {
	err := NewRootCmd().Execute()
	if err == nil {
		return nil
	}
	if _, ok := terrors.As(err); ok {
		_, _ = fmt.Fprint(os.Stderr, terrors.FormatForCLI(err))
	} else {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}
