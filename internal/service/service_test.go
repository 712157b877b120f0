package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
	"github.com/JakeFAU/pnrr-announcements/internal/docstore"
	"github.com/JakeFAU/pnrr-announcements/internal/pipeline"
	"github.com/JakeFAU/pnrr-announcements/internal/progress/sinks"
	"github.com/JakeFAU/pnrr-announcements/internal/store"
	"github.com/JakeFAU/pnrr-announcements/internal/storage/memory"
)

type mutableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mutableClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeRunner struct {
	stats   pipeline.RunStats
	err     error
	release chan struct{}
	started chan struct{}
	ctxErr  error
}

func (f *fakeRunner) Run(ctx context.Context) (pipeline.RunStats, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	f.ctxErr = ctx.Err()
	return f.stats, f.err
}

type sourceList []announcement.Source

func (s sourceList) Active() []announcement.Source { return s }

type fakeProgress struct{ snap sinks.Snapshot }

func (f fakeProgress) Snapshot() sinks.Snapshot { return f.snap }

type fakeSubs struct {
	emails []string
}

func (f *fakeSubs) Subscribe(_ context.Context, email string, ids []string) (announcement.Subscriber, error) {
	f.emails = append(f.emails, email)
	return announcement.Subscriber{Email: email, SchoolIDs: ids, Active: true}, nil
}

func (f *fakeSubs) Unsubscribe(_ context.Context, email string) (bool, error) {
	return email == "known@example.it", nil
}

type fakeRuns struct {
	store.RunRepository
	runs    []store.Run
	sources []store.SourceStats
}

func (f *fakeRuns) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return f.runs, nil
}

func (f *fakeRuns) ListRunSources(context.Context, uuid.UUID, int, int) ([]store.SourceStats, error) {
	return f.sources, nil
}

type fixture struct {
	svc       *Service
	snapshots *docstore.Store[announcement.Snapshot]
	clock     *mutableClock
	runner    *fakeRunner
}

func newFixture(t *testing.T, deps Deps) *fixture {
	t.Helper()
	f := &fixture{
		snapshots: docstore.New[announcement.Snapshot](memory.New(), pipeline.SnapshotDocument, nil),
		clock:     &mutableClock{now: time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC)},
		runner:    &fakeRunner{},
	}
	deps.Snapshots = f.snapshots
	deps.Clock = f.clock
	if deps.Runner == nil {
		deps.Runner = f.runner
	}
	if deps.Sources == nil {
		deps.Sources = sourceList{{ID: "A", Name: "Scuola A", Active: true}}
	}
	svc, err := New(deps, time.Minute, nil)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) save(t *testing.T, items ...announcement.Announcement) {
	t.Helper()
	now := f.clock.Now()
	_, err := f.snapshots.Save(context.Background(), announcement.Snapshot{
		LastUpdated:   &now,
		LastID:        int64(len(items)),
		Announcements: items,
	}, nil)
	require.NoError(t, err)
}

func item(id int64, school, title string, date announcement.Date) announcement.Announcement {
	return announcement.Announcement{
		ID:            id,
		SchoolID:      school,
		Link:          "https://" + school + ".example/" + title,
		Title:         title,
		PublishedDate: date,
		Tags:          []string{"pnrr"},
	}
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()
	_, err := New(Deps{}, 0, nil)
	require.Error(t, err)
}

func TestGetAllSortsForDisplay(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Deps{})
	f.save(t,
		item(1, "A", "Beta", announcement.NewDate(2024, time.January, 5)),
		item(2, "B", "Alfa", announcement.Date{}),
		item(3, "A", "Gamma", announcement.NewDate(2024, time.March, 1)),
	)

	got, err := f.svc.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{3, 1, 2}, []int64{got[0].ID, got[1].ID, got[2].ID})
}

func TestGetAllEmptyBeforeFirstRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Deps{})

	got, err := f.svc.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)

	last, err := f.svc.GetLastUpdated(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestGetByIDAndSchool(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Deps{})
	f.save(t,
		item(1, "A", "Uno", announcement.NewDate(2024, time.January, 5)),
		item(2, "B", "Due", announcement.NewDate(2024, time.January, 6)),
	)
	ctx := context.Background()

	a, ok, err := f.svc.GetByID(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Due", a.Title)

	_, ok, err = f.svc.GetByID(ctx, 99)
	require.NoError(t, err)
	assert.False(t, ok)

	bySchool, err := f.svc.GetBySchool(ctx, "A")
	require.NoError(t, err)
	require.Len(t, bySchool, 1)
	assert.Equal(t, int64(1), bySchool[0].ID)

	none, err := f.svc.GetBySchool(ctx, "Z")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestCacheServesUntilTTL(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Deps{})
	ctx := context.Background()
	f.save(t, item(1, "A", "Uno", announcement.Date{}))

	got, err := f.svc.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)

	f.save(t, item(1, "A", "Uno", announcement.Date{}), item(2, "A", "Due", announcement.Date{}))
	got, err = f.svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1, "cached snapshot served within ttl")

	f.clock.advance(2 * time.Minute)
	got, err = f.svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestReturnedItemsDoNotAliasCache(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Deps{})
	ctx := context.Background()
	f.save(t, item(1, "A", "Uno", announcement.Date{}))

	got, err := f.svc.GetAll(ctx)
	require.NoError(t, err)
	got[0].Tags[0] = "mutated"

	again, err := f.svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pnrr", again[0].Tags[0])
}

func TestTriggerFetchSuccessInvalidatesCache(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Deps{})
	ctx := context.Background()
	f.save(t, item(1, "A", "Uno", announcement.Date{}))
	_, err := f.svc.GetAll(ctx)
	require.NoError(t, err)

	f.save(t, item(1, "A", "Uno", announcement.Date{}), item(2, "A", "Due", announcement.Date{}))
	f.runner.stats = pipeline.RunStats{RunID: "run-1", Success: true, Scraped: 4, New: 1}

	res, err := f.svc.TriggerFetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, FetchResult{
		Success: true,
		Message: "Fetched 4 announcements",
		Count:   4,
		New:     1,
		RunID:   "run-1",
	}, res)

	got, err := f.svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	stats, ok, err := f.svc.GetLastFetchStats(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "memory", stats.Origin)
	require.NotNil(t, stats.Run)
	assert.Equal(t, "run-1", stats.Run.RunID)
}

// gatedBackend parks the next Read after it has fetched its bytes, so the
// caller holds a copy that a concurrent write makes stale.
type gatedBackend struct {
	docstore.Backend
	mu      sync.Mutex
	armed   bool
	reading chan struct{}
	resume  chan struct{}
}

func (g *gatedBackend) arm() {
	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()
}

func (g *gatedBackend) Read(ctx context.Context, name string) ([]byte, int64, error) {
	data, gen, err := g.Backend.Read(ctx, name)
	g.mu.Lock()
	hold := g.armed
	g.armed = false
	g.mu.Unlock()
	if hold {
		close(g.reading)
		<-g.resume
	}
	return data, gen, err
}

func TestTriggerFetchDiscardsInFlightLoad(t *testing.T) {
	t.Parallel()
	backend := &gatedBackend{
		Backend: memory.New(),
		reading: make(chan struct{}),
		resume:  make(chan struct{}),
	}
	snapshots := docstore.New[announcement.Snapshot](backend, pipeline.SnapshotDocument, nil)
	f := newFixture(t, Deps{})
	f.snapshots = snapshots
	svc, err := New(Deps{
		Runner:    f.runner,
		Snapshots: snapshots,
		Sources:   sourceList{{ID: "A", Name: "Scuola A", Active: true}},
		Clock:     f.clock,
	}, time.Minute, nil)
	require.NoError(t, err)
	ctx := context.Background()
	f.save(t, item(1, "A", "Uno", announcement.Date{}))

	backend.arm()
	stale := make(chan []announcement.Announcement, 1)
	go func() {
		got, _ := svc.GetAll(ctx)
		stale <- got
	}()
	<-backend.reading

	f.save(t, item(1, "A", "Uno", announcement.Date{}), item(2, "A", "Due", announcement.Date{}))
	_, err = svc.TriggerFetch(ctx)
	require.NoError(t, err)

	close(backend.resume)
	assert.Len(t, <-stale, 1)

	got, err := svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2, "load started before the run must not be cached")
}

func TestTriggerFetchDetachesFromCallerCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.TriggerFetch(ctx)
	require.NoError(t, err)
	assert.NoError(t, f.runner.ctxErr)
}

func TestTriggerFetchFailure(t *testing.T) {
	t.Parallel()
	runErr := errors.New("no active sources configured")
	f := newFixture(t, Deps{Runner: &fakeRunner{err: runErr, stats: pipeline.RunStats{RunID: "run-2"}}})

	res, err := f.svc.TriggerFetch(context.Background())
	require.ErrorIs(t, err, runErr)
	assert.False(t, res.Success)
	assert.Equal(t, runErr.Error(), res.Error)
	assert.Equal(t, "run-2", res.RunID)
}

func TestTriggerFetchSingleFlight(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{release: make(chan struct{}), started: make(chan struct{})}
	f := newFixture(t, Deps{Runner: runner})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.TriggerFetch(context.Background())
		done <- err
	}()
	<-runner.started
	assert.True(t, f.svc.Running())

	res, err := f.svc.TriggerFetch(context.Background())
	require.ErrorIs(t, err, ErrFetchInProgress)
	assert.False(t, res.Success)

	close(runner.release)
	require.NoError(t, <-done)
	assert.False(t, f.svc.Running())
}

func TestGetFetchProgress(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Deps{})
	assert.Equal(t, sinks.Snapshot{}, f.svc.GetFetchProgress())

	g := newFixture(t, Deps{Progress: fakeProgress{snap: sinks.Snapshot{Running: true, RunID: "r", SourcesTotal: 3}}})
	snap := g.svc.GetFetchProgress()
	assert.True(t, snap.Running)
	assert.Equal(t, int64(3), snap.SourcesTotal)
}

func TestGetLastFetchStatsFallsBackToHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, Deps{})
	_, ok, err := f.svc.GetLastFetchStats(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	histID := uuid.MustParse("018f3c1e-7b7a-7c00-8000-000000000001")
	runs := &fakeRuns{
		runs:    []store.Run{{ID: histID, Status: store.RunSuccess, NewItems: 2}},
		sources: []store.SourceStats{{RunID: histID, SourceID: "A", Scraped: 5}},
	}
	g := newFixture(t, Deps{Runs: runs})
	stats, ok, err := g.svc.GetLastFetchStats(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "history", stats.Origin)
	require.NotNil(t, stats.StoredRun)
	assert.Equal(t, histID, stats.StoredRun.ID)
	assert.Len(t, stats.StoredSources, 1)
}

func TestSubscribeDelegates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, Deps{})
	_, err := f.svc.Subscribe(ctx, "a@b.it", nil)
	require.Error(t, err)

	subs := &fakeSubs{}
	g := newFixture(t, Deps{Subscribers: subs})
	sub, err := g.svc.Subscribe(ctx, "a@b.it", []string{"A"})
	require.NoError(t, err)
	assert.True(t, sub.Active)
	assert.Equal(t, []string{"a@b.it"}, subs.emails)

	ok, err := g.svc.Unsubscribe(ctx, "known@example.it")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = g.svc.Unsubscribe(ctx, "other@example.it")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSourcesReturnsActive(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Deps{})
	assert.Len(t, f.svc.Sources(), 1)
}
