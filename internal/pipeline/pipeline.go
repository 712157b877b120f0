// Package pipeline runs one ingestion pass: fetch every active source, extract
// drafts, reconcile them into the announcements snapshot and fan out the new
// items to the publisher and the notifier.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
	"github.com/JakeFAU/pnrr-announcements/internal/crawler"
	"github.com/JakeFAU/pnrr-announcements/internal/docstore"
	"github.com/JakeFAU/pnrr-announcements/internal/progress"
	"github.com/JakeFAU/pnrr-announcements/internal/publisher"
	"github.com/JakeFAU/pnrr-announcements/internal/reconcile"
)

const tracerName = "github.com/JakeFAU/pnrr-announcements/internal/pipeline"

// SnapshotDocument is the name of the announcements document.
const SnapshotDocument = "announcements.json"

// ErrNoSources is returned when no active source is configured.
var ErrNoSources = errors.New("no active sources configured")

// SourceLister yields the sources of a run.
type SourceLister interface {
	Active() []announcement.Source
}

// DraftExtractor turns a fetched page into a draft announcement.
type DraftExtractor interface {
	Extract(ctx context.Context, link string, src announcement.Source, resp crawler.FetchResponse) announcement.Announcement
}

// Archiver keeps the drafts of each run outside the snapshot.
type Archiver interface {
	Store(ctx context.Context, runID uuid.UUID, drafts []announcement.Announcement, at time.Time) error
}

// SubscriberLister yields the active subscribers.
type SubscriberLister interface {
	Active(ctx context.Context) ([]announcement.Subscriber, error)
}

// Notifier delivers new items to subscribers and returns the emails sent.
type Notifier interface {
	Notify(ctx context.Context, subscribers []announcement.Subscriber, items []announcement.Announcement) int
}

// Config tunes a run.
type Config struct {
	Timeout           time.Duration
	SourceConcurrency int
	DetailConcurrency int
	MaxLinks          int
	// Topic receives one publisher.Event per new item.
	Topic string
}

const (
	defaultTimeout           = 20 * time.Minute
	defaultSourceConcurrency = 2
	defaultDetailConcurrency = 3
	defaultMaxLinks          = 10
	defaultTopic             = "announcements"
)

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.SourceConcurrency <= 0 {
		c.SourceConcurrency = defaultSourceConcurrency
	}
	if c.DetailConcurrency <= 0 {
		c.DetailConcurrency = defaultDetailConcurrency
	}
	if c.MaxLinks <= 0 {
		c.MaxLinks = defaultMaxLinks
	}
	if c.Topic == "" {
		c.Topic = defaultTopic
	}
	return c
}

// Deps are the collaborators of a Runner. Archive, Publisher and Notifier are
// optional; a nil Notifier means email is disabled.
type Deps struct {
	Sources     SourceLister
	Getter      crawler.PageGetter
	Extractor   DraftExtractor
	Engine      *reconcile.Engine
	Snapshots   *docstore.Store[announcement.Snapshot]
	Archive     Archiver
	Publisher   publisher.Publisher
	Subscribers SubscriberLister
	Notifier    Notifier
	Progress    progress.Emitter
	Clock       crawler.Clock
	IDs         crawler.IDGenerator
	// Update tunes the CAS retry loop used for the snapshot.
	Update docstore.UpdateOptions
	// Tracer defaults to the global provider.
	Tracer trace.Tracer
}

// Runner executes ingestion runs. It is safe to call Run concurrently; the
// snapshot write is a CAS cycle.
type Runner struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and returns a Runner.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Runner, error) {
	switch {
	case deps.Sources == nil:
		return nil, errors.New("pipeline: sources are required")
	case deps.Getter == nil:
		return nil, errors.New("pipeline: getter is required")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case deps.Engine == nil:
		return nil, errors.New("pipeline: reconcile engine is required")
	case deps.Snapshots == nil:
		return nil, errors.New("pipeline: snapshot store is required")
	case deps.Clock == nil:
		return nil, errors.New("pipeline: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("pipeline: id generator is required")
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{deps: deps, cfg: cfg.withDefaults(), logger: logger}, nil
}

// NotifyEnabled reports whether runs send emails.
func (r *Runner) NotifyEnabled() bool {
	return r.deps.Notifier != nil
}

// EmptySnapshot is the default announcements document.
func EmptySnapshot() announcement.Snapshot {
	return announcement.Snapshot{Announcements: []announcement.Announcement{}}
}

// Run performs one ingestion pass. Per-source and per-URL failures are
// recorded in the stats and never fail the run; a missing source list, an
// expired run context or a failed snapshot write do.
func (r *Runner) Run(ctx context.Context) (RunStats, error) {
	ctx, span := r.deps.Tracer.Start(ctx, "pipeline.run")
	defer span.End()

	stats, err := r.run(ctx)
	span.SetAttributes(
		attribute.String("pnrr.run_id", stats.RunID),
		attribute.Int("pnrr.scraped", stats.Scraped),
		attribute.Int("pnrr.failed", stats.Failed),
		attribute.Int("pnrr.new", stats.New),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return stats, err
}

func (r *Runner) run(ctx context.Context) (RunStats, error) {
	start := r.deps.Clock.Now()
	runID, err := r.newRunID()
	if err != nil {
		return RunStats{StartedAt: start}, err
	}
	stats := RunStats{RunID: runID.String(), StartedAt: start, Sources: []SourceStats{}}
	logger := r.logger.With(zap.String("run_id", stats.RunID))

	sources := r.deps.Sources.Active()
	r.emit(progress.Event{RunID: runID, TS: start, Stage: progress.StageRunStart, Items: int64(len(sources))})
	logger.Info("ingestion run started", zap.Int("sources", len(sources)))

	if len(sources) == 0 {
		return r.fail(runID, stats, logger, ErrNoSources)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	results := r.scrapeAll(runCtx, runID, sources, logger)
	var scraped []announcement.Announcement
	for _, res := range results {
		stats.add(res.stats)
		scraped = append(scraped, res.drafts...)
	}
	if err := runCtx.Err(); err != nil {
		return r.fail(runID, stats, logger, fmt.Errorf("run aborted before reconciliation: %w", err))
	}

	now := r.deps.Clock.Now()
	result, err := r.reconcile(runCtx, scraped, now)
	if err != nil {
		return r.fail(runID, stats, logger, err)
	}
	stats.Reconcile = result.Stats
	stats.New = len(result.New)

	r.archive(runCtx, runID, scraped, now, logger)
	stats.Published = r.publish(runCtx, stats.RunID, result.New, now, logger)
	stats.EmailsSent = r.notify(runCtx, result.New, logger)

	finished := r.deps.Clock.Now()
	stats.FinishedAt = finished
	stats.Duration = finished.Sub(start)
	stats.Success = true
	r.emit(progress.Event{
		RunID: runID,
		TS:    finished,
		Stage: progress.StageRunDone,
		Items: int64(stats.New),
		Dur:   nonNegative(stats.Duration),
	})
	logger.Info("ingestion run finished",
		zap.Int("scraped", stats.Scraped),
		zap.Int("failed", stats.Failed),
		zap.Int("new", stats.New),
		zap.Int("pruned", stats.Reconcile.Pruned),
		zap.Int("emails_sent", stats.EmailsSent),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func (r *Runner) newRunID() (uuid.UUID, error) {
	raw, err := r.deps.IDs.NewID()
	if err != nil {
		return uuid.Nil, fmt.Errorf("run id: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("run id %q: %w", raw, err)
	}
	return id, nil
}

func (r *Runner) fail(runID uuid.UUID, stats RunStats, logger *zap.Logger, err error) (RunStats, error) {
	finished := r.deps.Clock.Now()
	stats.FinishedAt = finished
	stats.Duration = finished.Sub(stats.StartedAt)
	stats.Error = err.Error()
	r.emit(progress.Event{
		RunID: runID,
		TS:    finished,
		Stage: progress.StageRunError,
		Dur:   nonNegative(stats.Duration),
		Note:  err.Error(),
	})
	logger.Error("ingestion run failed", zap.Error(err))
	return stats, err
}

// reconcile merges scraped into the snapshot under the CAS helper. The
// engine reruns on every retry so the result always reflects the snapshot
// that was actually written.
func (r *Runner) reconcile(ctx context.Context, scraped []announcement.Announcement, now time.Time) (reconcile.Result, error) {
	var result reconcile.Result
	_, err := docstore.Update(ctx, r.deps.Snapshots, EmptySnapshot, func(doc *announcement.Snapshot) (bool, error) {
		result = r.deps.Engine.Reconcile(*doc, scraped, now)
		*doc = result.Snapshot
		return true, nil
	}, r.deps.Update)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("save snapshot: %w", err)
	}
	return result, nil
}

func (r *Runner) archive(
	ctx context.Context,
	runID uuid.UUID,
	drafts []announcement.Announcement,
	at time.Time,
	logger *zap.Logger,
) {
	if r.deps.Archive == nil || len(drafts) == 0 {
		return
	}
	if err := r.deps.Archive.Store(ctx, runID, drafts, at); err != nil {
		logger.Warn("archive drafts failed", zap.Int("drafts", len(drafts)), zap.Error(err))
	}
}

func (r *Runner) publish(
	ctx context.Context,
	runID string,
	items []announcement.Announcement,
	at time.Time,
	logger *zap.Logger,
) int {
	if r.deps.Publisher == nil {
		return 0
	}
	published := 0
	for _, item := range items {
		if _, err := r.deps.Publisher.Publish(ctx, r.cfg.Topic, publisher.NewCreated(runID, item, at)); err != nil {
			logger.Warn("publish new announcement failed",
				zap.String("source_id", item.SchoolID),
				zap.String("url", item.Link),
				zap.Error(err),
			)
			continue
		}
		published++
	}
	return published
}

func (r *Runner) notify(ctx context.Context, items []announcement.Announcement, logger *zap.Logger) int {
	if len(items) == 0 {
		return 0
	}
	if r.deps.Notifier == nil {
		logger.Info("email disabled, skipping notification", zap.Int("new", len(items)))
		return 0
	}
	if r.deps.Subscribers == nil {
		return 0
	}
	subs, err := r.deps.Subscribers.Active(ctx)
	if err != nil {
		logger.Warn("load subscribers failed", zap.Error(err))
		return 0
	}
	return r.deps.Notifier.Notify(ctx, subs, items)
}

func (r *Runner) emit(evt progress.Event) {
	r.deps.Progress.Emit(evt)
}

func nonNegative(d time.Duration) time.Duration {
	return max(d, 0)
}
