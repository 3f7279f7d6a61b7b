package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MacroAcon/tavren/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var transport string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the retrieval tools over MCP",
		Long: `Start the MCP server exposing hybrid_search, cross_package_context,
query_expansion_search and faceted_search.

The stdio transport reserves stdout for JSON-RPC; logs go to
~/.tavren/logs/server.log.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Transport: stdio or sse (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "Port for the sse transport (default from config)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, transport string, port int) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	if transport == "" {
		transport = cfg.Server.Transport
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	server, err := mcp.NewServer(a.service, mcp.WithLogger(a.logger), mcp.WithMetrics(a.metrics))
	if err != nil {
		return err
	}

	if transport != "stdio" {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "tavren MCP server listening on :%d (%s)\n", port, transport)
	}
	return server.Serve(ctx, transport, fmt.Sprintf(":%d", port))
}
