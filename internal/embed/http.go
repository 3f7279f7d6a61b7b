package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	terrors "github.com/MacroAcon/tavren/internal/errors"
)

// Wire formats understood by HTTPProvider.
const (
	// FormatOpenAI posts to /v1/embeddings and reads data[0].embedding.
	FormatOpenAI = "openai"
	// FormatOllama posts to /api/embed and reads embeddings[0].
	FormatOllama = "ollama"
)

// maxErrorBody caps how much of a failing response body is kept for logs.
const maxErrorBody = 512

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	Endpoint   string
	Model      string
	Format     string
	APIKey     string
	Dimensions int
	// Timeout bounds each provider round trip.
	Timeout time.Duration
	// RequestsPerSecond and Burst shape outgoing traffic. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	// HTTPClient overrides the default client, for tests.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPProvider calls an embedding model over HTTP. Failures are classified:
// timeouts, transport errors, 429 and 5xx are retryable; other 4xx mean the
// input was rejected and are not.
type HTTPProvider struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *terrors.CircuitBreaker
	logger  *slog.Logger
}

var _ Provider = (*HTTPProvider)(nil)

type openAIRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type ollamaRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewHTTPProvider creates an HTTP provider. The API key falls back to the
// TAVREN_EMBEDDINGS_API_KEY environment variable.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.Endpoint == "" {
		return nil, terrors.ConfigError("embeddings.endpoint is required for the http provider", nil)
	}
	if cfg.Format == "" {
		cfg.Format = FormatOpenAI
	}
	if cfg.Format != FormatOpenAI && cfg.Format != FormatOllama {
		return nil, terrors.ConfigError(fmt.Sprintf("unknown embedding wire format %q", cfg.Format), nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("TAVREN_EMBEDDINGS_API_KEY")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		// No client-level timeout: each request carries its own deadline.
		client = &http.Client{Transport: &http.Transport{
			MaxIdleConns:        8,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     30 * time.Second,
		}}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &HTTPProvider{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		breaker: terrors.NewCircuitBreaker("embedding provider"),
		logger:  cfg.Logger,
	}, nil
}

// Embed requests one vector for text.
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return terrors.CircuitExecute(p.breaker, func() ([]float32, error) {
		return p.embed(ctx, text)
	})
}

func (p *HTTPProvider) embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, p.classifyTransport(err, start)
		}
	}

	url, body, err := p.encode(text)
	if err != nil {
		return nil, terrors.InternalError("failed to encode embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, terrors.InternalError("failed to build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, p.classifyTransport(err, start)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, p.classifyStatus(resp.StatusCode, string(snippet))
	}

	vec, err := p.decode(resp.Body)
	if err != nil {
		return nil, terrors.New(terrors.ErrCodeProviderUnavailable, "malformed embedding response", err)
	}
	return vec, nil
}

func (p *HTTPProvider) encode(text string) (string, []byte, error) {
	base := strings.TrimRight(p.cfg.Endpoint, "/")
	switch p.cfg.Format {
	case FormatOllama:
		body, err := json.Marshal(ollamaRequest{Model: p.cfg.Model, Input: text})
		return base + "/api/embed", body, err
	default:
		body, err := json.Marshal(openAIRequest{Model: p.cfg.Model, Input: text})
		return base + "/v1/embeddings", body, err
	}
}

func (p *HTTPProvider) decode(r io.Reader) ([]float32, error) {
	switch p.cfg.Format {
	case FormatOllama:
		var out ollamaResponse
		if err := json.NewDecoder(r).Decode(&out); err != nil {
			return nil, err
		}
		if len(out.Embeddings) == 0 {
			return nil, errors.New("response holds no embeddings")
		}
		return out.Embeddings[0], nil
	default:
		var out openAIResponse
		if err := json.NewDecoder(r).Decode(&out); err != nil {
			return nil, err
		}
		if len(out.Data) == 0 {
			return nil, errors.New("response holds no embeddings")
		}
		return out.Data[0].Embedding, nil
	}
}

// classifyTransport maps client-side failures. Deadline expiry becomes a
// provider timeout; caller cancellation is passed through untouched.
func (p *HTTPProvider) classifyTransport(err error, start time.Time) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		elapsed := time.Since(start)
		return terrors.New(terrors.ErrCodeProviderTimeout,
			fmt.Sprintf("embedding provider timed out after %dms", elapsed.Milliseconds()), err).
			WithDetail("operation", "embed").
			WithDetail("elapsed_ms", fmt.Sprint(elapsed.Milliseconds()))
	}
	return terrors.New(terrors.ErrCodeProviderUnavailable, "embedding provider unreachable", err)
}

// classifyStatus maps HTTP status codes. The body is logged, never returned.
func (p *HTTPProvider) classifyStatus(status int, body string) error {
	p.logger.Warn("embedding_provider_error",
		slog.Int("status", status),
		slog.String("model", p.cfg.Model),
		slog.String("body", body))

	code := terrors.ErrCodeProviderRejected
	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		code = terrors.ErrCodeProviderUnavailable
	}
	return terrors.New(code, fmt.Sprintf("embedding provider returned status %d", status), nil).
		WithDetail("status", fmt.Sprint(status))
}

// ModelName returns the configured model.
func (p *HTTPProvider) ModelName() string { return p.cfg.Model }

// Dimensions returns the configured vector length.
func (p *HTTPProvider) Dimensions() int { return p.cfg.Dimensions }

// Close drops idle connections.
func (p *HTTPProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
