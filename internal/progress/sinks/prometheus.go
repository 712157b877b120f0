package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/pnrr-announcements/internal/progress"
)

// PrometheusSink exports run level metrics. Per-request fetch counters live in
// the metrics package; this sink covers what only the run knows.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec
	newItems      prometheus.Counter

	sourceScraped *prometheus.CounterVec
	sourceFailed  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	tracker *runSet
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "announcements_runs_started_total",
			Help: "Ingestion runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "announcements_runs_completed_total",
			Help: "Ingestion runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "announcements_runs_running",
			Help: "Ingestion runs currently in flight.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "announcements_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		newItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "announcements_new_items_total",
			Help: "Announcements first seen by a run.",
		}),
		sourceScraped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "announcements_source_scraped_total",
			Help: "Drafts extracted per source.",
		}, []string{"source"}),
		sourceFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "announcements_source_failed_total",
			Help: "Detail URLs that could not be fetched per source.",
		}, []string{"source"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "announcements_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by mode and status class.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"mode", "status_class"}),
		tracker: newRunSet(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.newItems,
		s.sourceScraped,
		s.sourceFailed,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.tracker.start(evt.RunID) {
				s.runsRunning.Inc()
			}
		case progress.StageRunDone:
			s.finishRun(evt, "success")
			s.newItems.Add(float64(evt.Items))
		case progress.StageRunError:
			s.finishRun(evt, "error")
		case progress.StageSourceDone:
			s.sourceScraped.WithLabelValues(evt.Source).Add(float64(evt.Items))
			s.sourceFailed.WithLabelValues(evt.Source).Add(float64(evt.Failed))
		case progress.StageFetchDone:
			mode := "http"
			if evt.Headless {
				mode = "headless"
			}
			if evt.Dur > 0 {
				s.fetchDuration.WithLabelValues(mode, string(evt.StatusClass)).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runSet struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunSet() *runSet {
	return &runSet{running: make(map[[16]byte]struct{})}
}

func (t *runSet) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runSet) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
