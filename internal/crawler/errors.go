package crawler

import (
	"errors"
	"fmt"
)

// ErrHeadlessUnavailable marks a challenge page that needed a headless fetch
// when none was configured.
var ErrHeadlessUnavailable = errors.New("headless fetcher not configured")

// FetchError reports a URL that could not be retrieved after every strategy
// was exhausted.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
