package cmd

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/MacroAcon/tavren/internal/cache"
	"github.com/MacroAcon/tavren/internal/config"
	"github.com/MacroAcon/tavren/internal/embed"
	"github.com/MacroAcon/tavren/internal/ingest"
	"github.com/MacroAcon/tavren/internal/search"
	"github.com/MacroAcon/tavren/internal/store"
	"github.com/MacroAcon/tavren/internal/telemetry"
	"github.com/MacroAcon/tavren/internal/textgen"
	"github.com/MacroAcon/tavren/pkg/version"
)

// catalogName is the side database holding packages and query metrics
// when records live in a remote vector store.
const catalogName = "catalog.db"

// app holds the components one command run needs.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	dataDir   string
	store     store.Store
	generator *embed.Generator
	variants  textgen.Provider
	catalog   *sql.DB
	packages  *store.PackageStore
	metrics   *telemetry.QueryMetrics
	recorded  *telemetry.SQLiteMetricsStore
	tracing   *telemetry.TracerProvider
	service   *search.Service

	closers []func() error
}

// openApp opens the store, providers and catalog and builds the search
// service. Close releases everything in reverse order.
func openApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	logger := slog.Default()
	a := &app{cfg: cfg, logger: logger, dataDir: dataDirFor(cfg)}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.tracing, err = telemetry.InitTracing(ctx, telemetry.TracingConfig{
		ServiceName:    "tavren",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return a.tracing.Shutdown(context.Background()) })

	a.store, err = store.Open(ctx, cfg.Store, cfg.Embeddings.Dimensions, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	if err := a.openCatalog(ctx); err != nil {
		return nil, err
	}

	provider, err := embed.NewProvider(cfg.Embeddings, logger)
	if err != nil {
		return nil, err
	}
	embeddings, err := cache.New[[]float32]("embeddings", cfg.Embeddings.CacheSize, cfg.Embeddings.CacheTTL,
		cache.WithComputeTimeout(cfg.Embeddings.Timeout),
		cache.WithLogger(logger))
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	a.generator = embed.NewGenerator(provider, embeddings, cfg.Embeddings.Dimensions, embed.WithGeneratorLogger(logger))
	a.closers = append(a.closers, a.generator.Close)

	a.variants, err = textgen.NewProvider(cfg.TextGen, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.variants.Close)

	a.service, err = search.Build(cfg, search.Dependencies{
		Store:    a.store,
		Embedder: a.generator,
		Variants: a.variants,
		Packages: a.packages,
		Metrics:  a.metrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// openCatalog selects the database for packages and metrics: the store's
// own database for SQLite, a side file otherwise.
func (a *app) openCatalog(ctx context.Context) error {
	if s, ok := a.store.(*store.SQLiteStore); ok {
		a.catalog = s.DB()
	} else {
		db, err := store.OpenSQLiteDB(filepath.Join(a.dataDir, catalogName))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		if err := store.ApplyMigrations(ctx, db); err != nil {
			return err
		}
		a.catalog = db
	}
	a.packages = store.NewPackageStore(a.catalog)

	if !a.cfg.Telemetry.Metrics {
		return nil
	}
	if err := telemetry.InitTelemetrySchema(ctx, a.catalog); err != nil {
		return err
	}
	recorded, err := telemetry.NewSQLiteMetricsStore(a.catalog)
	if err != nil {
		return err
	}
	a.recorded = recorded
	mcfg := telemetry.DefaultQueryMetricsConfig()
	mcfg.Logger = a.logger
	a.metrics = telemetry.NewQueryMetricsWithConfig(recorded, mcfg)
	a.closers = append(a.closers, a.metrics.Close)
	return nil
}

// ingestor returns an Ingestor holding the data-dir writer lock.
func (a *app) ingestor() (*ingest.Ingestor, error) {
	return ingest.New(ingest.Dependencies{
		Store:    a.store,
		Embedder: a.generator,
		Packages: a.packages,
		Lock:     store.NewWriterLock(a.dataDir),
		Logger:   a.logger,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func dataDirFor(cfg *config.Config) string {
	if cfg.Store.Path == "" || cfg.Store.Path == ":memory:" {
		return config.DefaultDataDir()
	}
	return filepath.Dir(cfg.Store.Path)
}
