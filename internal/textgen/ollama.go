package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	terrors "github.com/MacroAcon/tavren/internal/errors"
)

const variantPrompt = `Rewrite the search query below in %d different ways. Keep the meaning, vary the wording.
Reply with one rewrite per line and nothing else.

Query: %s`

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

// OllamaConfig configures an OllamaProvider.
type OllamaConfig struct {
	Endpoint   string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// OllamaProvider asks a local Ollama model for variants via /api/generate.
type OllamaProvider struct {
	cfg     OllamaConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Provider = (*OllamaProvider)(nil)

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaProvider creates an Ollama-backed provider.
func NewOllamaProvider(cfg OllamaConfig) (*OllamaProvider, error) {
	if cfg.Endpoint == "" {
		return nil, terrors.ConfigError("textgen.endpoint is required for the ollama provider", nil)
	}
	if cfg.Model == "" {
		return nil, terrors.ConfigError("textgen.model is required for the ollama provider", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &OllamaProvider{
		cfg:    cfg,
		client: client,
		// Generation is slow; one request in flight per second keeps a local model responsive.
		limiter: rate.NewLimiter(rate.Limit(1), 2),
		logger:  cfg.Logger,
	}, nil
}

// GenerateVariants prompts the model and parses one variant per line.
func (p *OllamaProvider) GenerateVariants(ctx context.Context, text string, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, terrors.New(terrors.ErrCodeTextGenFailed, "text generation rate limit wait aborted", err)
	}

	body, err := json.Marshal(generateRequest{
		Model:   p.cfg.Model,
		Prompt:  fmt.Sprintf(variantPrompt, max, text),
		Stream:  false,
		Options: map[string]any{"temperature": 0.3},
	})
	if err != nil {
		return nil, terrors.InternalError("failed to encode generate request", err)
	}

	url := strings.TrimRight(p.cfg.Endpoint, "/") + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, terrors.InternalError("failed to build generate request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, terrors.New(terrors.ErrCodeTextGenFailed, "text generation request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		p.logger.Debug("textgen_provider_error",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(snippet)))
		return nil, terrors.New(terrors.ErrCodeTextGenFailed,
			fmt.Sprintf("text generation returned status %d", resp.StatusCode), nil)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, terrors.New(terrors.ErrCodeTextGenFailed, "malformed text generation response", err)
	}

	return Dedupe(parseLines(out.Response), text, max), nil
}

// parseLines splits model output into candidate phrasings, stripping list
// markers and quotes the model tends to add.
func parseLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = listMarker.ReplaceAllString(line, "")
		line = strings.Trim(strings.TrimSpace(line), `"'`)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Close drops idle connections.
func (p *OllamaProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
