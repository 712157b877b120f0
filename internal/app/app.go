// Package app initializes and holds long-lived application services, acting
// as the dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
	"github.com/JakeFAU/pnrr-announcements/internal/clock/system"
	"github.com/JakeFAU/pnrr-announcements/internal/config"
	"github.com/JakeFAU/pnrr-announcements/internal/crawler"
	"github.com/JakeFAU/pnrr-announcements/internal/docstore"
	"github.com/JakeFAU/pnrr-announcements/internal/extractor"
	"github.com/JakeFAU/pnrr-announcements/internal/extractor/pdftext"
	"github.com/JakeFAU/pnrr-announcements/internal/id/uuid"
	"github.com/JakeFAU/pnrr-announcements/internal/logging"
	"github.com/JakeFAU/pnrr-announcements/internal/metrics"
	"github.com/JakeFAU/pnrr-announcements/internal/pipeline"
	"github.com/JakeFAU/pnrr-announcements/internal/progress"
	"github.com/JakeFAU/pnrr-announcements/internal/progress/sinks"
	"github.com/JakeFAU/pnrr-announcements/internal/reconcile"
	"github.com/JakeFAU/pnrr-announcements/internal/service"
	"github.com/JakeFAU/pnrr-announcements/internal/sources"
	"github.com/JakeFAU/pnrr-announcements/internal/storage/gcs"
	"github.com/JakeFAU/pnrr-announcements/internal/storage/local"
	"github.com/JakeFAU/pnrr-announcements/internal/storage/memory"
	"github.com/JakeFAU/pnrr-announcements/internal/storage/postgres"
	"github.com/JakeFAU/pnrr-announcements/internal/store"
	"github.com/JakeFAU/pnrr-announcements/internal/subscriber"
	"github.com/JakeFAU/pnrr-announcements/internal/telemetry"
)

// Options override pieces of the wiring, mainly for tests.
type Options struct {
	// Registerer receives the progress collectors; nil uses the default.
	Registerer prometheus.Registerer
	// Getter replaces the HTTP/headless page getter.
	Getter crawler.PageGetter
	// Backend replaces the configured document backend.
	Backend docstore.Backend
}

// App holds the shared, long-lived services. It is built once at startup and
// closed on shutdown.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Catalogue *sources.Catalogue
	Runner    *pipeline.Runner
	Service   *service.Service
	Tracker   *sinks.Tracker
	// Runs is nil unless Postgres is configured.
	Runs store.RunRepository

	hub     *progress.Hub
	pool    *pgxpool.Pool
	closers []func(ctx context.Context) error
}

// New builds every service from cfg. It fails fast; anything opened before
// the failure is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: logging.ServiceName,
			Exporter:    cfg.Tracing.Exporter,
			ProjectID:   cfg.Tracing.ProjectID,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.closers = append(a.closers, tp.Shutdown)
		logger.Info("tracing enabled", zap.String("exporter", cfg.Tracing.Exporter))
	}

	a.Catalogue, err = sources.Load(cfg.Sources.Path)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	logger.Info("sources loaded", zap.Int("total", a.Catalogue.Len()), zap.Int("active", len(a.Catalogue.Active())))

	backend := opts.Backend
	if backend == nil {
		backend, err = a.documentBackend(ctx)
		if err != nil {
			return nil, err
		}
	}
	update := docstore.UpdateOptions{
		Attempts: cfg.Store.CASAttempts,
		Backoff:  time.Duration(cfg.Store.CASBackoffMs) * time.Millisecond,
	}
	snapshots := docstore.New[announcement.Snapshot](backend, pipeline.SnapshotDocument, logger)

	var archive pipeline.Archiver
	if cfg.PersistsRunHistory() {
		if archive, err = a.openPostgres(ctx); err != nil {
			return nil, err
		}
	}

	subsRepo, sent, err := a.subscriberStores(ctx, backend, update)
	if err != nil {
		return nil, err
	}
	subs := subscriber.NewService(subsRepo, logger)

	notifier, err := buildNotifier(cfg, sent, logger)
	if err != nil {
		return nil, err
	}

	pub, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return pub.Close() })

	a.Tracker = sinks.NewTracker()
	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics: %w", err)
	}
	sinkList := []progress.Sink{sinks.NewLogSink(logger), promSink, a.Tracker}
	if a.Runs != nil {
		sinkList = append(sinkList, sinks.NewStoreSink(a.Runs, logger))
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger}, sinkList...)

	getter := opts.Getter
	if getter == nil {
		getter = a.pageGetter()
	}
	extract := extractor.New(getter, pdftext.New(0, 0), extractor.Config{
		Category:       cfg.Extract.Category,
		MaxAttachments: cfg.Extract.MaxAttachments,
		BodyMaxChars:   cfg.Extract.BodyMaxChars,
		FetchPDFs:      cfg.Extract.FetchPDFs,
	}, logger)

	clock := system.New()
	deps := pipeline.Deps{
		Sources:     a.Catalogue,
		Getter:      getter,
		Extractor:   extract,
		Engine:      reconcile.New(cfg.Retention()),
		Snapshots:   snapshots,
		Archive:     archive,
		Publisher:   pub,
		Subscribers: subs,
		Progress:    a.hub,
		Clock:       clock,
		IDs:         uuid.New(),
		Update:      update,
	}
	if notifier != nil {
		deps.Notifier = notifier
	}
	a.Runner, err = pipeline.New(deps, pipeline.Config{
		Timeout:           cfg.RunTimeout(),
		SourceConcurrency: cfg.Run.SourceConcurrency,
		DetailConcurrency: cfg.Run.DetailConcurrency,
		MaxLinks:          cfg.Fetch.MaxLinksPerSource,
		Topic:             cfg.Publish.Topic,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	a.Service, err = service.New(service.Deps{
		Runner:      a.Runner,
		Snapshots:   snapshots,
		Sources:     a.Catalogue,
		Progress:    a.Tracker,
		Subscribers: subs,
		Runs:        a.Runs,
		Clock:       clock,
	}, cfg.CacheTTL(), logger)
	if err != nil {
		return nil, fmt.Errorf("build service: %w", err)
	}
	return a, nil
}

func (a *App) documentBackend(ctx context.Context) (docstore.Backend, error) {
	cfg := a.Config.Store
	switch cfg.Backend {
	case config.BackendMemory:
		a.Logger.Warn("using in-memory document store, data is lost on exit")
		return memory.New(), nil
	case config.BackendLocal:
		backend, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		return backend, nil
	case config.BackendGCS:
		return a.gcsBackend(ctx)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// newStorageClient is swapped in tests to simulate missing credentials.
var newStorageClient = func(ctx context.Context) (*storage.Client, error) {
	return storage.NewClient(ctx)
}

// gcsBackend returns the bucket backend, wrapped with the local disk when
// fallback is enabled. A bucket that cannot be initialized degrades to the
// local backend instead of failing startup.
func (a *App) gcsBackend(ctx context.Context) (docstore.Backend, error) {
	cfg := a.Config.Store
	secondary, err := local.New(local.Config{BaseDir: cfg.LocalDir})
	if err != nil {
		return nil, fmt.Errorf("init local store: %w", err)
	}
	client, err := newStorageClient(ctx)
	if err != nil {
		a.Logger.Warn("gcs client unavailable, using local document store",
			zap.String("dir", cfg.LocalDir), zap.Error(err))
		return secondary, nil
	}
	primary, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
	if err != nil {
		_ = client.Close()
		a.Logger.Warn("gcs store unavailable, using local document store",
			zap.String("dir", cfg.LocalDir), zap.Error(err))
		return secondary, nil
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	a.Logger.Info("using gcs document store", zap.String("bucket", cfg.GCSBucket),
		zap.Bool("fallback_local", cfg.FallbackLocal))
	if !cfg.FallbackLocal {
		return primary, nil
	}
	return docstore.NewFallback(primary, secondary, a.Logger), nil
}

func (a *App) openPostgres(ctx context.Context) (pipeline.Archiver, error) {
	db := a.Config.DB
	pool, err := postgres.Connect(ctx, postgres.Config{
		DSN:             db.DSN,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: time.Duration(db.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, func(context.Context) error {
		pool.Close()
		return nil
	})
	if err := postgres.Migrate(ctx, pool, db.ArchiveTable); err != nil {
		return nil, err
	}
	runs, err := postgres.NewRunStore(pool)
	if err != nil {
		return nil, fmt.Errorf("init run store: %w", err)
	}
	archive, err := postgres.NewArchive(pool, db.ArchiveTable)
	if err != nil {
		return nil, fmt.Errorf("init archive: %w", err)
	}
	a.Runs = runs
	a.Logger.Info("postgres run history enabled", zap.String("archive_table", db.ArchiveTable))
	return archive, nil
}

// Hub exposes the progress hub for commands that emit outside a run.
func (a *App) Hub() *progress.Hub {
	return a.hub
}

// Ready reports whether the optional downstreams answer.
func (a *App) Ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close flushes the progress hub and releases every client in reverse order
// of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
		a.hub = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
