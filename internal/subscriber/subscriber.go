// Package subscriber validates and persists notification subscriptions.
package subscriber

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
)

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidationError rejects caller input before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Repository persists subscribers. Emails passed in are already normalized.
type Repository interface {
	// Upsert creates or re-activates the subscriber, keeping created_at.
	Upsert(ctx context.Context, email string, schoolIDs []string, now time.Time) (announcement.Subscriber, error)
	// Deactivate soft-deletes the subscriber and reports whether it existed.
	Deactivate(ctx context.Context, email string, now time.Time) (bool, error)
	// ListActive returns active subscribers.
	ListActive(ctx context.Context) ([]announcement.Subscriber, error)
}

// Service is the entry point used by the API and the pipeline.
type Service struct {
	repo   Repository
	now    func() time.Time
	logger *zap.Logger
}

// NewService wraps repo.
func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, now: time.Now, logger: logger}
}

// Subscribe validates input and upserts the subscriber. An empty schoolIDs
// means every source.
func (s *Service) Subscribe(ctx context.Context, email string, schoolIDs []string) (announcement.Subscriber, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return announcement.Subscriber{}, err
	}
	sub, err := s.repo.Upsert(ctx, normalized, NormalizeSchoolIDs(schoolIDs), s.now().UTC())
	if err != nil {
		return announcement.Subscriber{}, fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info("subscriber saved", zap.String("email", normalized), zap.Strings("school_ids", sub.SchoolIDs))
	return sub, nil
}

// Unsubscribe deactivates the subscriber and reports whether it existed.
func (s *Service) Unsubscribe(ctx context.Context, email string) (bool, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return false, err
	}
	found, err := s.repo.Deactivate(ctx, normalized, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("unsubscribe: %w", err)
	}
	s.logger.Info("subscriber deactivated", zap.String("email", normalized), zap.Bool("found", found))
	return found, nil
}

// Active lists active subscribers.
func (s *Service) Active(ctx context.Context) ([]announcement.Subscriber, error) {
	subs, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return subs, nil
}

// NormalizeEmail trims, lowercases and validates email.
func NormalizeEmail(email string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(email))
	if value == "" {
		return "", &ValidationError{Field: "email", Reason: "required"}
	}
	if !emailRe.MatchString(value) {
		return "", &ValidationError{Field: "email", Reason: "malformed address"}
	}
	return value, nil
}

// NormalizeSchoolIDs trims, de-duplicates and sorts ids. It returns nil when
// nothing is left.
func NormalizeSchoolIDs(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return slices.Compact(out)
}
