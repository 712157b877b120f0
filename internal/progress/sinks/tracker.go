package sinks

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/pnrr-announcements/internal/progress"
)

// Snapshot is the live view of the most recent run.
type Snapshot struct {
	Running      bool       `json:"running"`
	RunID        string     `json:"run_id,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	SourcesTotal int64      `json:"sources_total"`
	SourcesDone  int64      `json:"sources_done"`
	Active       []string   `json:"active_sources"`
	Fetches      int64      `json:"fetches"`
	Headless     int64      `json:"headless"`
	Scraped      int64      `json:"scraped"`
	Failed       int64      `json:"failed"`
	NewItems     int64      `json:"new_items"`
	Error        string     `json:"error,omitempty"`
}

// Tracker keeps the state of the latest run in memory. A RUN_START for a new
// run replaces the previous state; events of older runs are ignored.
type Tracker struct {
	mu     sync.RWMutex
	runID  [16]byte
	state  Snapshot
	active map[string]struct{}
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]struct{})}
}

// Consume folds the batch into the tracked state.
func (t *Tracker) Consume(_ context.Context, batch []progress.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		if evt.Stage == progress.StageRunStart {
			started := evt.TS
			t.runID = evt.RunID
			t.active = make(map[string]struct{})
			t.state = Snapshot{
				Running:      true,
				RunID:        uuid.UUID(evt.RunID).String(),
				StartedAt:    &started,
				SourcesTotal: evt.Items,
			}
			continue
		}
		if evt.RunID != t.runID {
			continue
		}
		switch evt.Stage {
		case progress.StageSourceStart:
			t.active[evt.Source] = struct{}{}
		case progress.StageSourceDone:
			delete(t.active, evt.Source)
			t.state.SourcesDone++
			t.state.Scraped += evt.Items
			t.state.Failed += evt.Failed
		case progress.StageFetchDone:
			t.state.Fetches++
			if evt.Headless {
				t.state.Headless++
			}
		case progress.StageRunDone, progress.StageRunError:
			finished := evt.TS
			t.state.Running = false
			t.state.FinishedAt = &finished
			t.state.NewItems = evt.Items
			t.state.Error = evt.Note
			clear(t.active)
		}
	}
	return nil
}

// Snapshot returns a copy of the tracked state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.state
	out.Active = make([]string, 0, len(t.active))
	for id := range t.active {
		out.Active = append(out.Active, id)
	}
	slices.Sort(out.Active)
	return out
}

// Close implements the Sink interface; it performs no action.
func (t *Tracker) Close(context.Context) error {
	return nil
}
