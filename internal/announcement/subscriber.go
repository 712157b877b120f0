package announcement

import (
	"slices"
	"time"
)

// Subscriber is a notification recipient. An empty SchoolIDs set means every
// source.
type Subscriber struct {
	Email     string    `json:"email" bson:"email"`
	SchoolIDs []string  `json:"school_ids" bson:"school_ids"`
	Active    bool      `json:"active" bson:"active"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Covers reports whether schoolID is within the subscriber's scope.
func (s Subscriber) Covers(schoolID string) bool {
	return len(s.SchoolIDs) == 0 || slices.Contains(s.SchoolIDs, schoolID)
}

// SubscriberList is the persisted subscribers document.
type SubscriberList struct {
	Subscribers []Subscriber `json:"subscribers"`
}

// SentRecord is the persisted per-subscriber sent-set document.
type SentRecord struct {
	SentKeys  []string   `json:"sent_keys"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}
