// Package service exposes the read and write accessors used by the HTTP API
// and the scheduler on top of the ingestion pipeline and its stores.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
	"github.com/JakeFAU/pnrr-announcements/internal/crawler"
	"github.com/JakeFAU/pnrr-announcements/internal/docstore"
	"github.com/JakeFAU/pnrr-announcements/internal/pipeline"
	"github.com/JakeFAU/pnrr-announcements/internal/progress/sinks"
	"github.com/JakeFAU/pnrr-announcements/internal/store"
)

// ErrFetchInProgress is returned by TriggerFetch while another run is active.
var ErrFetchInProgress = errors.New("fetch already in progress")

// DefaultCacheTTL bounds how long a loaded snapshot is served from memory.
const DefaultCacheTTL = 30 * time.Minute

// Runner executes one ingestion run.
type Runner interface {
	Run(ctx context.Context) (pipeline.RunStats, error)
}

// ProgressSource reports the live state of the latest run.
type ProgressSource interface {
	Snapshot() sinks.Snapshot
}

// SubscriberService manages subscriptions.
type SubscriberService interface {
	Subscribe(ctx context.Context, email string, schoolIDs []string) (announcement.Subscriber, error)
	Unsubscribe(ctx context.Context, email string) (bool, error)
}

// Deps are the collaborators of a Service. Progress, Subscribers and Runs
// are optional.
type Deps struct {
	Runner      Runner
	Snapshots   *docstore.Store[announcement.Snapshot]
	Sources     pipeline.SourceLister
	Progress    ProgressSource
	Subscribers SubscriberService
	Runs        store.RunRepository
	Clock       crawler.Clock
}

// FetchResult is the structured outcome of TriggerFetch.
type FetchResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Count   int    `json:"count"`
	New     int    `json:"new"`
	RunID   string `json:"run_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// FetchStats describes the last completed run, either from this process or
// from the run history store.
type FetchStats struct {
	Origin        string              `json:"origin"`
	Run           *pipeline.RunStats  `json:"run,omitempty"`
	StoredRun     *store.Run          `json:"stored_run,omitempty"`
	StoredSources []store.SourceStats `json:"stored_sources,omitempty"`
}

// Service is safe for concurrent use.
type Service struct {
	deps   Deps
	ttl    time.Duration
	logger *zap.Logger

	running sync.Mutex

	mu       sync.RWMutex
	cached   *announcement.Snapshot
	loadedAt time.Time
	// gen is bumped on every invalidation; a load that started under an
	// older gen must not populate the cache.
	gen  uint64
	last *pipeline.RunStats
}

// New validates deps and returns a Service. A non-positive ttl selects
// DefaultCacheTTL.
func New(deps Deps, ttl time.Duration, logger *zap.Logger) (*Service, error) {
	if deps.Runner == nil || deps.Snapshots == nil || deps.Sources == nil || deps.Clock == nil {
		return nil, errors.New("service: runner, snapshots, sources and clock are required")
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, ttl: ttl, logger: logger}, nil
}

func (s *Service) snapshot(ctx context.Context) (announcement.Snapshot, error) {
	now := s.deps.Clock.Now()
	s.mu.RLock()
	if s.cached != nil && now.Sub(s.loadedAt) < s.ttl {
		snap := *s.cached
		s.mu.RUnlock()
		return snap, nil
	}
	gen := s.gen
	s.mu.RUnlock()

	snap, _, err := s.deps.Snapshots.Load(ctx, pipeline.EmptySnapshot())
	if err != nil {
		return announcement.Snapshot{}, fmt.Errorf("load announcements: %w", err)
	}
	announcement.SortForDisplay(snap.Announcements)

	s.mu.Lock()
	if s.gen == gen {
		s.cached = &snap
		s.loadedAt = now
	}
	s.mu.Unlock()
	return snap, nil
}

// Invalidate drops the cached snapshot.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.gen++
	s.mu.Unlock()
}

// GetAll returns every announcement in display order.
func (s *Service) GetAll(ctx context.Context) ([]announcement.Announcement, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return cloneAll(snap.Announcements), nil
}

// GetByID returns the announcement with id.
func (s *Service) GetByID(ctx context.Context, id int64) (announcement.Announcement, bool, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return announcement.Announcement{}, false, err
	}
	for _, a := range snap.Announcements {
		if a.ID == id {
			return a.Clone(), true, nil
		}
	}
	return announcement.Announcement{}, false, nil
}

// GetBySchool returns the announcements of one source in display order.
func (s *Service) GetBySchool(ctx context.Context, schoolID string) ([]announcement.Announcement, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := []announcement.Announcement{}
	for _, a := range snap.Announcements {
		if a.SchoolID == schoolID {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

// GetLastUpdated returns the time of the last snapshot write, nil before
// the first run.
func (s *Service) GetLastUpdated(ctx context.Context) (*time.Time, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.LastUpdated, nil
}

// Sources returns the active sources.
func (s *Service) Sources() []announcement.Source {
	return s.deps.Sources.Active()
}

// TriggerFetch runs the pipeline unless a run is already active. The run is
// detached from ctx cancellation so a dropped HTTP client does not abort it;
// the run timeout still applies. Failures are reported in the result, and
// the returned error is only set for ErrFetchInProgress or a failed run.
func (s *Service) TriggerFetch(ctx context.Context) (FetchResult, error) {
	if !s.running.TryLock() {
		return FetchResult{Success: false, Error: ErrFetchInProgress.Error()}, ErrFetchInProgress
	}
	defer s.running.Unlock()

	stats, err := s.deps.Runner.Run(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.last = &stats
	s.cached = nil
	s.gen++
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("triggered fetch failed", zap.String("run_id", stats.RunID), zap.Error(err))
		return FetchResult{Success: false, Count: stats.Scraped, RunID: stats.RunID, Error: err.Error()}, err
	}
	return FetchResult{
		Success: true,
		Message: fmt.Sprintf("Fetched %d announcements", stats.Scraped),
		Count:   stats.Scraped,
		New:     stats.New,
		RunID:   stats.RunID,
	}, nil
}

// Running reports whether a triggered run is active.
func (s *Service) Running() bool {
	if s.running.TryLock() {
		s.running.Unlock()
		return false
	}
	return true
}

// GetFetchProgress returns the live view of the latest run.
func (s *Service) GetFetchProgress() sinks.Snapshot {
	if s.deps.Progress == nil {
		return sinks.Snapshot{Running: s.Running()}
	}
	return s.deps.Progress.Snapshot()
}

// GetLastFetchStats returns the last run of this process, or the latest run
// recorded in the history store. ok is false when neither exists.
func (s *Service) GetLastFetchStats(ctx context.Context) (FetchStats, bool, error) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()
	if last != nil {
		run := *last
		return FetchStats{Origin: "memory", Run: &run}, true, nil
	}
	if s.deps.Runs == nil {
		return FetchStats{}, false, nil
	}
	runs, err := s.deps.Runs.ListRuns(ctx, nil, 1, 0)
	if err != nil {
		return FetchStats{}, false, fmt.Errorf("latest run: %w", err)
	}
	if len(runs) == 0 {
		return FetchStats{}, false, nil
	}
	sources, err := s.deps.Runs.ListRunSources(ctx, runs[0].ID, 500, 0)
	if err != nil {
		return FetchStats{}, false, fmt.Errorf("latest run sources: %w", err)
	}
	return FetchStats{Origin: "history", StoredRun: &runs[0], StoredSources: sources}, true, nil
}

// Runs exposes the run history store, nil when not configured.
func (s *Service) Runs() store.RunRepository {
	return s.deps.Runs
}

// Subscribe registers or reactivates a subscriber.
func (s *Service) Subscribe(ctx context.Context, email string, schoolIDs []string) (announcement.Subscriber, error) {
	if s.deps.Subscribers == nil {
		return announcement.Subscriber{}, errors.New("subscriptions are not configured")
	}
	return s.deps.Subscribers.Subscribe(ctx, email, schoolIDs)
}

// Unsubscribe deactivates a subscriber and reports whether it existed.
func (s *Service) Unsubscribe(ctx context.Context, email string) (bool, error) {
	if s.deps.Subscribers == nil {
		return false, errors.New("subscriptions are not configured")
	}
	return s.deps.Subscribers.Unsubscribe(ctx, email)
}

func cloneAll(items []announcement.Announcement) []announcement.Announcement {
	out := make([]announcement.Announcement, len(items))
	for i, a := range items {
		out[i] = a.Clone()
	}
	return out
}
