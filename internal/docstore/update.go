package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/metrics"
)

// ErrRetriesExhausted is returned by Update when every attempt hit a
// generation conflict.
var ErrRetriesExhausted = errors.New("docstore: retries exhausted")

const (
	defaultAttempts = 8
	defaultBackoff  = 200 * time.Millisecond
)

// Mutator edits doc in place and reports whether it changed. Returning an
// error aborts the update without writing.
type Mutator[T any] func(doc *T) (bool, error)

// UpdateOptions tunes the retry loop of Update.
type UpdateOptions struct {
	// Attempts is the total number of read-modify-write cycles (default 8).
	Attempts int
	// Backoff is multiplied by the attempt number between cycles (default 200ms).
	Backoff time.Duration
	// Sleep replaces the context-aware sleep, mainly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Update runs a compare-and-swap read-modify-write cycle on the document,
// retrying on ConflictError with linear backoff. It returns the document as
// written (or as read when the mutator made no change).
func Update[T any](ctx context.Context, s *Store[T], def func() T, mutate Mutator[T], opts UpdateOptions) (T, error) {
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		doc, gen, err := s.Load(ctx, def())
		if err != nil {
			return zero, err
		}
		changed, err := mutate(&doc)
		if err != nil {
			return zero, err
		}
		if !changed {
			return doc, nil
		}
		if _, err = s.Save(ctx, doc, &gen); err == nil {
			return doc, nil
		}
		if !errors.Is(err, ErrConflict) {
			return zero, err
		}
		lastErr = err
		metrics.ObserveConflict(s.name)
		s.logger.Debug("document update conflict",
			zap.String("document", s.name),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, backoff*time.Duration(attempt)); err != nil {
			return zero, fmt.Errorf("update %s: %w", s.name, err)
		}
	}
	return zero, fmt.Errorf("update %s after %d attempts: %w: %w", s.name, attempts, ErrRetriesExhausted, lastErr)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
