package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
	"github.com/JakeFAU/pnrr-announcements/internal/crawler"
	"github.com/JakeFAU/pnrr-announcements/internal/docstore"
	"github.com/JakeFAU/pnrr-announcements/internal/extractor"
	"github.com/JakeFAU/pnrr-announcements/internal/progress"
	"github.com/JakeFAU/pnrr-announcements/internal/publisher"
	pubmemory "github.com/JakeFAU/pnrr-announcements/internal/publisher/memory"
	"github.com/JakeFAU/pnrr-announcements/internal/reconcile"
	"github.com/JakeFAU/pnrr-announcements/internal/storage/memory"
)

var sourceX = announcement.Source{
	ID:         "X",
	Name:       "Istituto X",
	BaseURL:    "https://x.example",
	ListingURL: "https://x.example/pnrr",
	City:       "Salerno",
	Active:     true,
}

const listingX = `<html><body>
<a href="/">Home</a>
<a href="https://x.example/pnrr">PNRR</a>
<a href="https://x.example/pnrr/avviso-1#top">Avviso</a>
<a href="https://elsewhere.example/news">Altro</a>
<a href="mailto:info@x.example">Scrivici</a>
</body></html>`

const detailX = `<html><head>
<meta property="og:title" content="Avviso Selezione Tutor">
<title>Scuola X</title>
</head><body>
<time datetime="2024-01-10">10 gennaio 2024</time>
<p>Selezione di tutor interni per il progetto PNRR.</p>
</body></html>`

type staticList []announcement.Source

func (s staticList) Active() []announcement.Source {
	var out []announcement.Source
	for _, src := range s {
		if src.Active {
			out = append(out, src)
		}
	}
	return out
}

type fakeGetter struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func (f *fakeGetter) Get(ctx context.Context, url, _ string) (crawler.FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	body, ok := f.pages[url]
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: url, Attempts: 1, Err: err}
	}
	if !ok {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: url, Attempts: 5, Err: errors.New("blocked")}
	}
	return crawler.FetchResponse{
		URL:        url,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(body),
		Duration:   50 * time.Millisecond,
	}, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte{byte(s.n)}).String(), nil
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Stage)
	}
	return out
}

type fakeSubscribers []announcement.Subscriber

func (f fakeSubscribers) Active(context.Context) ([]announcement.Subscriber, error) {
	return f, nil
}

type fakeNotifier struct {
	calls [][]announcement.Announcement
}

func (f *fakeNotifier) Notify(_ context.Context, subs []announcement.Subscriber, items []announcement.Announcement) int {
	f.calls = append(f.calls, items)
	return len(subs)
}

type fakeArchive struct {
	runs   []uuid.UUID
	drafts int
	err    error
}

func (f *fakeArchive) Store(_ context.Context, runID uuid.UUID, drafts []announcement.Announcement, _ time.Time) error {
	f.runs = append(f.runs, runID)
	f.drafts += len(drafts)
	return f.err
}

type fixture struct {
	runner    *Runner
	getter    *fakeGetter
	backend   *memory.Backend
	snapshots *docstore.Store[announcement.Snapshot]
	events    *recorder
	pub       *pubmemory.Publisher
	notifier  *fakeNotifier
	archive   *fakeArchive
}

func newFixture(t *testing.T, sources []announcement.Source, pages map[string]string, withEmail bool) *fixture {
	t.Helper()
	now := time.Date(2024, time.June, 1, 6, 0, 0, 0, time.UTC)
	f := &fixture{
		getter:   &fakeGetter{pages: pages},
		backend:  memory.New(),
		events:   &recorder{},
		pub:      pubmemory.New(),
		notifier: &fakeNotifier{},
		archive:  &fakeArchive{},
	}
	f.snapshots = docstore.New[announcement.Snapshot](f.backend, SnapshotDocument, nil)
	deps := Deps{
		Sources:     staticList(sources),
		Getter:      f.getter,
		Extractor:   extractor.New(nil, nil, extractor.Config{}, nil, extractor.WithClock(func() time.Time { return now })),
		Engine:      reconcile.New(reconcile.DefaultRetention),
		Snapshots:   f.snapshots,
		Archive:     f.archive,
		Publisher:   f.pub,
		Subscribers: fakeSubscribers{{Email: "a@b.it", Active: true}},
		Progress:    f.events,
		Clock:       fixedClock{now: now},
		IDs:         &seqIDs{},
	}
	if withEmail {
		deps.Notifier = f.notifier
	}
	runner, err := New(deps, Config{Topic: "pnrr"}, nil)
	require.NoError(t, err)
	f.runner = runner
	return f
}

func TestRunEndToEndScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []announcement.Source{sourceX}, map[string]string{
		"https://x.example/pnrr":          listingX,
		"https://x.example/pnrr/avviso-1": detailX,
	}, true)

	stats, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	require.True(t, stats.Success)
	assert.Equal(t, 1, stats.Links)
	assert.Equal(t, 1, stats.Scraped)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 1, stats.New)
	assert.Equal(t, 1, stats.Published)
	assert.Equal(t, 1, stats.EmailsSent)
	assert.Equal(t, reconcile.Stats{Created: 1, Total: 1}, stats.Reconcile)
	require.Len(t, stats.Sources, 1)
	assert.Equal(t, "X", stats.Sources[0].SourceID)

	snap, gen, err := f.snapshots.Load(context.Background(), EmptySnapshot())
	require.NoError(t, err)
	require.NotZero(t, gen)
	require.Len(t, snap.Announcements, 1)
	item := snap.Announcements[0]
	assert.Equal(t, int64(1), item.ID)
	assert.Equal(t, "https://x.example/pnrr/avviso-1", item.Link)
	assert.Equal(t, "Avviso Selezione Tutor", item.Title)
	assert.Equal(t, announcement.StatusOpen, item.Status)
	assert.True(t, item.Highlight)
	assert.Equal(t, announcement.NewDate(2024, time.January, 10), item.PublishedDate)
	require.NotNil(t, snap.LastUpdated)

	require.Len(t, f.notifier.calls, 1)
	require.Len(t, f.notifier.calls[0], 1)
	assert.Equal(t, int64(1), f.notifier.calls[0][0].ID)

	require.Len(t, f.pub.Messages(), 1)
	events := f.pub.Events("pnrr")
	require.Len(t, events, 1)
	assert.Equal(t, publisher.EventCreated, events[0].Type)
	assert.Equal(t, stats.RunID, events[0].RunID)

	assert.Equal(t, 1, f.archive.drafts)

	stages := f.events.stages()
	require.NotEmpty(t, stages)
	assert.Equal(t, progress.StageRunStart, stages[0])
	assert.Equal(t, progress.StageRunDone, stages[len(stages)-1])
	assert.Contains(t, stages, progress.StageSourceStart)
	assert.Contains(t, stages, progress.StageSourceDone)
	assert.Contains(t, stages, progress.StageFetchDone)
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []announcement.Source{sourceX}, map[string]string{
		"https://x.example/pnrr":          listingX,
		"https://x.example/pnrr/avviso-1": detailX,
	}, true)

	_, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	second, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.New)
	assert.Equal(t, 1, second.Reconcile.Updated)
	assert.Len(t, f.notifier.calls, 1)
	assert.Len(t, f.pub.Messages(), 1)

	snap, _, err := f.snapshots.Load(context.Background(), EmptySnapshot())
	require.NoError(t, err)
	require.Len(t, snap.Announcements, 1)
	assert.Equal(t, int64(1), snap.Announcements[0].ID)
}

func TestRunWithoutSources(t *testing.T) {
	t.Parallel()

	inactive := sourceX
	inactive.Active = false
	f := newFixture(t, []announcement.Source{inactive}, nil, true)

	stats, err := f.runner.Run(context.Background())
	require.ErrorIs(t, err, ErrNoSources)
	assert.False(t, stats.Success)
	assert.Equal(t, ErrNoSources.Error(), stats.Error)
	assert.Equal(t, []progress.Stage{progress.StageRunStart, progress.StageRunError}, f.events.stages())
	assert.Empty(t, f.backend.Names())
}

func TestRunIsolatesSourceFailures(t *testing.T) {
	t.Parallel()

	broken := announcement.Source{
		ID:         "Y",
		Name:       "Istituto Y",
		BaseURL:    "https://y.example",
		ListingURL: "https://y.example/pnrr",
		Active:     true,
	}
	listing := listingX + `<a href="https://x.example/pnrr/avviso-2">Secondo</a>`
	f := newFixture(t, []announcement.Source{broken, sourceX}, map[string]string{
		"https://x.example/pnrr":          listing,
		"https://x.example/pnrr/avviso-1": detailX,
	}, false)

	stats, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, stats.Sources, 2)
	assert.Equal(t, "Y", stats.Sources[0].SourceID)
	assert.NotEmpty(t, stats.Sources[0].Error)
	assert.Equal(t, 2, stats.Sources[1].Links)
	assert.Equal(t, 1, stats.Sources[1].Scraped)
	assert.Equal(t, 1, stats.Sources[1].Failed)
	assert.Equal(t, 1, stats.New)
	assert.Equal(t, 0, stats.EmailsSent)
	assert.Empty(t, f.notifier.calls)
}

func TestRunRecordsSpans(t *testing.T) {
	t.Parallel()

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	broken := announcement.Source{ID: "Y", Name: "Istituto Y", ListingURL: "https://y.example/pnrr", Active: true}
	f := newFixture(t, []announcement.Source{broken, sourceX}, map[string]string{
		"https://x.example/pnrr":          listingX,
		"https://x.example/pnrr/avviso-1": detailX,
	}, false)
	f.runner.deps.Tracer = tp.Tracer("test")

	_, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	ended := spans.Ended()
	require.Len(t, ended, 3)
	byName := map[string]int{}
	var runSpan sdktrace.ReadOnlySpan
	for _, s := range ended {
		byName[s.Name()]++
		if s.Name() == "pipeline.run" {
			runSpan = s
		}
		if s.Name() == "pipeline.source" && s.Status().Code == codes.Error {
			assert.NotEmpty(t, s.Status().Description)
		}
	}
	assert.Equal(t, 2, byName["pipeline.source"])
	require.NotNil(t, runSpan)
	assert.Equal(t, codes.Unset, runSpan.Status().Code)
	for _, child := range ended {
		if child.Name() == "pipeline.source" {
			assert.Equal(t, runSpan.SpanContext().TraceID(), child.SpanContext().TraceID())
		}
	}
}

func TestRunAbortedBeforeReconcileMergesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []announcement.Source{sourceX}, map[string]string{
		"https://x.example/pnrr":          listingX,
		"https://x.example/pnrr/avviso-1": detailX,
	}, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := f.runner.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, stats.Success)
	assert.Empty(t, f.backend.Names())
	assert.Empty(t, f.pub.Messages())
	assert.Empty(t, f.notifier.calls)
	stages := f.events.stages()
	assert.Equal(t, progress.StageRunError, stages[len(stages)-1])
}

func TestRunArchiveFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []announcement.Source{sourceX}, map[string]string{
		"https://x.example/pnrr":          listingX,
		"https://x.example/pnrr/avviso-1": detailX,
	}, false)
	f.archive.err = errors.New("db down")

	stats, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.New)
	assert.Len(t, f.archive.runs, 1)
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{}, nil)
	require.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	assert.Equal(t, 20*time.Minute, cfg.Timeout)
	assert.Equal(t, 2, cfg.SourceConcurrency)
	assert.Equal(t, 3, cfg.DetailConcurrency)
	assert.Equal(t, 10, cfg.MaxLinks)
	assert.Equal(t, "announcements", cfg.Topic)
}
