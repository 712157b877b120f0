package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
	"github.com/JakeFAU/pnrr-announcements/internal/crawler"
	"github.com/JakeFAU/pnrr-announcements/internal/extractor"
	"github.com/JakeFAU/pnrr-announcements/internal/progress"
)

type sourceResult struct {
	stats  SourceStats
	drafts []announcement.Announcement
}

// scrapeAll runs the sources with bounded parallelism. Results keep the
// source order regardless of completion order.
func (r *Runner) scrapeAll(
	ctx context.Context,
	runID uuid.UUID,
	sources []announcement.Source,
	logger *zap.Logger,
) []sourceResult {
	results := make([]sourceResult, len(sources))
	var g errgroup.Group
	g.SetLimit(r.cfg.SourceConcurrency)
	for i, src := range sources {
		g.Go(func() error {
			results[i] = r.scrapeSource(ctx, runID, src, logger.With(zap.String("source_id", src.ID)))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) scrapeSource(
	ctx context.Context,
	runID uuid.UUID,
	src announcement.Source,
	logger *zap.Logger,
) sourceResult {
	ctx, span := r.deps.Tracer.Start(ctx, "pipeline.source",
		trace.WithAttributes(attribute.String("pnrr.source_id", src.ID)))
	res := sourceResult{stats: SourceStats{SourceID: src.ID, Name: src.Name}}
	r.emit(progress.Event{RunID: runID, TS: r.deps.Clock.Now(), Stage: progress.StageSourceStart, Source: src.ID})
	defer func() {
		span.SetAttributes(
			attribute.Int("pnrr.links", res.stats.Links),
			attribute.Int("pnrr.scraped", res.stats.Scraped),
			attribute.Int("pnrr.failed", res.stats.Failed),
		)
		if res.stats.Error != "" {
			span.SetStatus(codes.Error, res.stats.Error)
		}
		span.End()
		evt := progress.Event{
			RunID:  runID,
			TS:     r.deps.Clock.Now(),
			Stage:  progress.StageSourceDone,
			Source: src.ID,
			Items:  int64(res.stats.Scraped),
			Failed: int64(res.stats.Failed),
			Note:   res.stats.Error,
		}
		r.emit(evt)
	}()

	listing, err := r.deps.Getter.Get(ctx, src.ListingURL, src.BaseURL)
	r.emitFetch(runID, src.ID, src.ListingURL, listing, err)
	if err != nil {
		res.stats.Error = err.Error()
		logger.Warn("listing fetch failed", zap.String("url", src.ListingURL), zap.Error(err))
		return res
	}

	links := extractor.ListingLinks(src, listing.Body, r.cfg.MaxLinks)
	res.stats.Links = len(links)
	logger.Debug("listing links", zap.Int("links", len(links)))

	drafts := make([]*announcement.Announcement, len(links))
	var (
		mu     sync.Mutex
		failed int
		g      errgroup.Group
	)
	g.SetLimit(r.cfg.DetailConcurrency)
	for i, link := range links {
		g.Go(func() error {
			resp, err := r.deps.Getter.Get(ctx, link, src.ListingURL)
			r.emitFetch(runID, src.ID, link, resp, err)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				logger.Warn("detail fetch failed", zap.String("url", link), zap.Error(err))
				return nil
			}
			draft := r.deps.Extractor.Extract(ctx, link, src, resp)
			drafts[i] = &draft
			return nil
		})
	}
	_ = g.Wait()

	res.stats.Failed = failed
	for _, d := range drafts {
		if d != nil {
			res.drafts = append(res.drafts, *d)
		}
	}
	res.stats.Scraped = len(res.drafts)
	return res
}

func (r *Runner) emitFetch(runID uuid.UUID, sourceID, url string, resp crawler.FetchResponse, err error) {
	site := crawler.Hostname(url)
	if site == "" {
		site = "unknown"
	}
	evt := progress.Event{
		RunID:       runID,
		TS:          r.deps.Clock.Now(),
		Stage:       progress.StageFetchDone,
		Source:      sourceID,
		Site:        site,
		URL:         url,
		Bytes:       int64(len(resp.Body)),
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Headless:    resp.UsedHeadless,
		Dur:         nonNegative(resp.Duration),
	}
	if err != nil {
		evt.StatusClass = progress.StatusOther
		evt.Note = err.Error()
	}
	r.emit(evt)
}
