package crawler

import (
	"context"
	"time"
)

// Fetcher performs a single fetch attempt and returns the response for any
// HTTP status. Errors are reserved for transport failures.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// PageGetter retrieves a page with every fallback strategy available and only
// fails once all of them are exhausted.
type PageGetter interface {
	Get(ctx context.Context, url, referer string) (FetchResponse, error)
}

// HeadlessDetector decides whether a plain HTTP response is an anti-bot
// challenge that warrants a headless fetch.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
