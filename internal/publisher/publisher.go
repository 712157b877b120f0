// Package publisher defines the fan-out contract for new-announcement events
// and the payload sent to every broker.
package publisher

import (
	"context"
	"time"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
)

// EventCreated is the type of the event emitted for a newly seen announcement.
const EventCreated = "announcement.created"

// Publisher pushes a JSON-encodable payload to a topic and returns the broker
// message id when the broker assigns one.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
	Close() error
}

// Event is the payload published once per new announcement.
type Event struct {
	Type         string                    `json:"type"`
	RunID        string                    `json:"run_id"`
	OccurredAt   time.Time                 `json:"occurred_at"`
	Announcement announcement.Announcement `json:"announcement"`
}

// NewCreated builds the event for a newly seen item.
func NewCreated(runID string, item announcement.Announcement, at time.Time) Event {
	return Event{Type: EventCreated, RunID: runID, OccurredAt: at, Announcement: item}
}

// Key returns the broker partition/ordering key of the event.
func (e Event) Key() string {
	return e.Announcement.Key().String()
}

// NoOp discards every payload.
type NoOp struct{}

// Publish does nothing.
func (NoOp) Publish(context.Context, string, any) (string, error) { return "", nil }

// Close does nothing.
func (NoOp) Close() error { return nil }
