// Package ingest bulk-loads embedding records from JSONL.
//
// Every record is embedded through the Embedding Generator, so repeated
// text reuses cached vectors. Nothing is written until every record has
// a vector; replacing a package swaps its records in one transaction on
// stores that support it.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MacroAcon/tavren/internal/embed"
	terrors "github.com/MacroAcon/tavren/internal/errors"
	"github.com/MacroAcon/tavren/internal/store"
)

// maxLineBytes bounds one JSONL line.
const maxLineBytes = 4 << 20

// ErrLocked reports another writer holding the data directory.
var ErrLocked = errors.New("another writer holds the data directory lock")

// Line is one JSONL input record. Package fields are optional and, when
// set, are written to the package store.
type Line struct {
	PackageID     string         `json:"package_id"`
	EmbeddingType string         `json:"embedding_type,omitempty"`
	TextContent   string         `json:"text_content"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	PackageName   string         `json:"package_name,omitempty"`
	PackageType   string         `json:"package_type,omitempty"`
	OwnerID       string         `json:"owner_id,omitempty"`
}

// Embedder produces vectors. embed.Generator implements it.
type Embedder interface {
	Embed(ctx context.Context, text string, kind embed.Kind) ([]float32, error)
}

// PackageWriter records package identity. store.PackageStore implements it.
type PackageWriter interface {
	Upsert(ctx context.Context, pkg store.Package) error
}

// Dependencies are the collaborators of an Ingestor.
type Dependencies struct {
	Store    store.Store
	Embedder Embedder
	// Packages is optional.
	Packages PackageWriter
	// Lock is optional; when set it is held for the whole run.
	Lock   *store.WriterLock
	Logger *slog.Logger
}

// Options tune one run.
type Options struct {
	// ReplacePackages deletes each input package's records first.
	ReplacePackages bool
	// Concurrency bounds parallel embedding calls. Defaults to 4.
	Concurrency int
	// Retry governs retries of retryable embedding failures.
	Retry terrors.RetryConfig
}

// DefaultOptions returns the default run options.
func DefaultOptions() Options {
	return Options{Concurrency: 4, Retry: terrors.DefaultRetryConfig()}
}

// Result summarizes a run.
type Result struct {
	Records  int           `json:"records"`
	Packages int           `json:"packages"`
	Replaced int           `json:"replaced"`
	Duration time.Duration `json:"duration"`
}

// Ingestor loads records into a store.
type Ingestor struct {
	store    store.Store
	embedder Embedder
	packages PackageWriter
	lock     *store.WriterLock
	logger   *slog.Logger
}

// New creates an Ingestor.
func New(deps Dependencies) (*Ingestor, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		store:    deps.Store,
		embedder: deps.Embedder,
		packages: deps.Packages,
		lock:     deps.Lock,
		logger:   logger,
	}, nil
}

// Ingest reads every line from r, validates the whole input, embeds every
// record, and only then writes. Invalid input or a failed embedding
// stores nothing, and a replaced package keeps its old records.
func (i *Ingestor) Ingest(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	start := time.Now()
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	if i.lock != nil {
		ok, err := i.lock.TryLock()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrLocked, i.lock.Path())
		}
		defer func() { _ = i.lock.Unlock() }()
	}

	lines, err := ReadLines(r)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	packageIDs := distinctPackages(lines)
	res.Packages = len(packageIDs)

	recs, err := i.embedAll(ctx, lines, opts)
	if err != nil {
		res.Duration = time.Since(start)
		i.logger.Error("ingest failed before writing",
			slog.Int("total", len(lines)),
			slog.String("error", err.Error()))
		return res, err
	}

	if err := i.write(ctx, packageIDs, recs, opts.ReplacePackages, res); err != nil {
		res.Duration = time.Since(start)
		i.logger.Error("ingest failed",
			slog.Int("stored", res.Records),
			slog.Int("total", len(lines)),
			slog.String("error", err.Error()))
		return res, err
	}

	if err := i.writePackages(ctx, lines); err != nil {
		return res, err
	}

	res.Duration = time.Since(start)
	i.logger.Info("ingest complete",
		slog.Int("records", res.Records),
		slog.Int("packages", res.Packages),
		slog.Int("replaced", res.Replaced),
		slog.Int64("duration_ms", res.Duration.Milliseconds()))
	return res, nil
}

// embedAll embeds every line with bounded concurrency. Records keep input
// order.
func (i *Ingestor) embedAll(ctx context.Context, lines []Line, opts Options) ([]*store.EmbeddingRecord, error) {
	retry := opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = func(n int, wait time.Duration, err error) {
			i.logger.Warn("embedding failed, retrying",
				slog.Int("retry", n),
				slog.Int64("wait_ms", wait.Milliseconds()),
				slog.String("error", err.Error()))
		}
	}

	recs := make([]*store.EmbeddingRecord, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for n, line := range lines {
		g.Go(func() error {
			vec, err := terrors.RetryWithResult(gctx, retry, func() ([]float32, error) {
				return i.embedder.Embed(gctx, line.TextContent, kindFor(line.EmbeddingType))
			})
			if err != nil {
				return fmt.Errorf("line %d: %w", n+1, err)
			}
			recs[n] = &store.EmbeddingRecord{
				PackageID:     line.PackageID,
				EmbeddingType: line.EmbeddingType,
				Vector:        vec,
				TextContent:   line.TextContent,
				Metadata:      line.Metadata,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return recs, nil
}

// write stores recs. Replacing uses the store's atomic swap when it has
// one, otherwise deletes then inserts.
func (i *Ingestor) write(ctx context.Context, packageIDs []string, recs []*store.EmbeddingRecord, replace bool, res *Result) error {
	if replace {
		if rp, ok := i.store.(store.Replacer); ok {
			n, err := rp.ReplacePackages(ctx, packageIDs, recs)
			if err != nil {
				return err
			}
			res.Replaced = n
			res.Records = len(recs)
			return nil
		}
		for _, id := range packageIDs {
			n, err := i.store.DeleteByPackage(ctx, id)
			if err != nil {
				return err
			}
			res.Replaced += n
		}
	}

	for n, rec := range recs {
		if err := i.store.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("record %d: %w", n+1, err)
		}
		res.Records++
	}
	return nil
}

// ReadLines parses and validates JSONL input. Blank lines are skipped and
// embedding_type defaults to "content".
func ReadLines(r io.Reader) ([]Line, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var lines []Line
	n := 0
	for scanner.Scan() {
		n++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var line Line
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return nil, lineError(n, "malformed JSON", err)
		}
		if strings.TrimSpace(line.PackageID) == "" {
			return nil, lineError(n, "package_id is required", nil)
		}
		if strings.TrimSpace(line.TextContent) == "" {
			return nil, lineError(n, "text_content is required", nil)
		}
		if line.EmbeddingType == "" {
			line.EmbeddingType = string(embed.KindContent)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, terrors.ValidationError("failed to read input", err)
	}
	return lines, nil
}

func lineError(n int, msg string, cause error) error {
	return terrors.ValidationError(fmt.Sprintf("line %d: %s", n, msg), cause).
		WithDetail("line", strconv.Itoa(n))
}

func (i *Ingestor) writePackages(ctx context.Context, lines []Line) error {
	if i.packages == nil {
		return nil
	}
	seen := make(map[string]bool)
	for _, line := range lines {
		if seen[line.PackageID] || (line.PackageName == "" && line.PackageType == "" && line.OwnerID == "") {
			continue
		}
		seen[line.PackageID] = true
		err := i.packages.Upsert(ctx, store.Package{
			ID:      line.PackageID,
			Name:    line.PackageName,
			Type:    line.PackageType,
			OwnerID: line.OwnerID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func distinctPackages(lines []Line) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, l := range lines {
		if _, ok := seen[l.PackageID]; ok {
			continue
		}
		seen[l.PackageID] = struct{}{}
		ids = append(ids, l.PackageID)
	}
	return ids
}

func kindFor(embeddingType string) embed.Kind {
	if embeddingType == string(embed.KindSummary) {
		return embed.KindSummary
	}
	return embed.KindContent
}
