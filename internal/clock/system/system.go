// Package system provides the wall clock used outside of tests.
package system

import "time"

// Clock implements crawler.Clock. Readings are UTC with microsecond
// precision so they survive a round trip through timestamptz columns.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
