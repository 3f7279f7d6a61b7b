package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MacroAcon/tavren/internal/search"
	"github.com/MacroAcon/tavren/internal/telemetry"
	"github.com/MacroAcon/tavren/pkg/version"
)

// ServerName is the implementation name advertised to clients.
const ServerName = "tavren"

// SearchService is the retrieval surface the server exposes.
// search.Service implements it.
type SearchService interface {
	HybridSearch(ctx context.Context, req search.HybridSearchRequest) (*search.HybridSearchResponse, error)
	CrossPackageContext(ctx context.Context, req search.CrossPackageContextRequest) (*search.CrossPackageContextResponse, error)
	QueryExpansionSearch(ctx context.Context, req search.QueryExpansionRequest) (*search.QueryExpansionResponse, error)
	FacetedSearch(ctx context.Context, req search.FacetedSearchRequest) (*search.FacetedSearchResponse, error)
}

// Server bridges MCP clients with the retrieval service.
type Server struct {
	mcp     *mcp.Server
	service SearchService
	logger  *slog.Logger

	metrics *telemetry.QueryMetrics
	mu      sync.RWMutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics exposes query metrics as the query_metrics resource.
func WithMetrics(m *telemetry.QueryMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates an MCP server with the retrieval tools registered.
func NewServer(service SearchService, opts ...Option) (*Server, error) {
	if service == nil {
		return nil, errors.New("search service is required")
	}

	s := &Server{
		service: service,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: version.Version,
	}, nil)

	s.registerTools()
	if s.metrics != nil {
		s.registerQueryMetricsResource()
	}
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Serve runs the server on the given transport until ctx is canceled.
// "stdio" speaks JSON-RPC over stdin/stdout; "sse" and "http" serve the
// streamable HTTP transport on addr.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("starting MCP server",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case "", "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped")
		return nil
	case "sse", "http":
		return s.serveHTTP(ctx, addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", transport)
	}
}

func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.mcp
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		s.logger.Info("MCP server stopped")
		return nil
	}
	return err
}
