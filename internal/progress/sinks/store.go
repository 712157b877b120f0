package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/progress"
	"github.com/JakeFAU/pnrr-announcements/internal/store"
)

// StoreSink persists run history through a store.RunRepository. Source
// deltas are collapsed per batch to reduce write amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume writes run lifecycle rows and collapsed source deltas. Run starts
// are written before source deltas and completions after them, so a row
// always exists for the deltas to reference.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[sourceKey]*pendingDelta)
	var order []sourceKey
	var completions []progress.Event

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, runID, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageRunDone, progress.StageRunError:
			completions = append(completions, evt)
		case progress.StageSourceDone, progress.StageFetchDone:
			if evt.Source == "" {
				continue
			}
			key := sourceKey{runID: runID, source: evt.Source}
			pending := deltas[key]
			if pending == nil {
				pending = &pendingDelta{}
				deltas[key] = pending
				order = append(order, key)
			}
			pending.apply(evt)
		}
	}

	for _, key := range order {
		pending := deltas[key]
		if pending.delta.Empty() {
			continue
		}
		if err := s.repo.ApplySourceDelta(ctx, key.runID, key.source, pending.delta, pending.at); err != nil {
			return fmt.Errorf("apply source delta: %w", err)
		}
	}

	for _, evt := range completions {
		status := store.RunSuccess
		var note *string
		if evt.Stage == progress.StageRunError {
			status = store.RunError
			if evt.Note != "" {
				msg := evt.Note
				note = &msg
			}
		}
		if err := s.repo.CompleteRun(ctx, evt.RunUUID(), evt.TS, status, evt.Items, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type sourceKey struct {
	runID  uuid.UUID
	source string
}

type pendingDelta struct {
	delta store.SourceDelta
	at    time.Time
}

func (p *pendingDelta) apply(evt progress.Event) {
	if evt.TS.After(p.at) {
		p.at = evt.TS
	}
	d := &p.delta
	if evt.Stage == progress.StageSourceDone {
		d.Scraped += evt.Items
		d.Failed += evt.Failed
		if evt.Note != "" {
			msg := evt.Note
			d.Error = &msg
		}
		return
	}
	d.Fetches++
	d.Bytes += evt.Bytes
	if evt.Headless {
		d.Headless++
	}
	switch evt.StatusClass {
	case progress.Status2xx:
		d.Fetch2xx++
	case progress.Status3xx:
		d.Fetch3xx++
	case progress.Status4xx:
		d.Fetch4xx++
	case progress.Status5xx:
		d.Fetch5xx++
	default:
		d.FetchOther++
	}
}
