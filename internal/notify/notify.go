// Package notify emails subscribers about announcements they have not been
// told about yet.
package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
	"github.com/JakeFAU/pnrr-announcements/internal/metrics"
)

const defaultMaxItems = 50

// Sender delivers one plain-text message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SentStore persists, per subscriber, the announcement keys already sent.
type SentStore interface {
	// Unsent returns the subset of keys not yet recorded for email, in input
	// order.
	Unsent(ctx context.Context, email string, keys []string) ([]string, error)
	// MarkSent records keys for email. It must be safe against concurrent
	// writers.
	MarkSent(ctx context.Context, email string, keys []string) error
}

// Config tunes message composition.
type Config struct {
	// BaseURL of the public API, used for the unsubscribe link.
	BaseURL string
	// MaxItems caps the items listed in one message (default 50).
	MaxItems int
}

// Notifier dedupes and dispatches notifications.
type Notifier struct {
	sender Sender
	sent   SentStore
	cfg    Config
	logger *zap.Logger
}

// New builds a Notifier.
func New(sender Sender, sent SentStore, cfg Config, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultMaxItems
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Notifier{sender: sender, sent: sent, cfg: cfg, logger: logger}
}

// Notify sends at most one message per active subscriber and returns the
// number of messages sent. Failures are isolated per subscriber.
func (n *Notifier) Notify(ctx context.Context, subscribers []announcement.Subscriber, items []announcement.Announcement) int {
	if len(items) == 0 {
		return 0
	}
	sent := 0
	for _, sub := range subscribers {
		if ctx.Err() != nil {
			break
		}
		if !sub.Active {
			continue
		}
		ok, err := n.notifyOne(ctx, sub, items)
		if err != nil {
			n.logger.Warn("notification skipped", zap.String("email", sub.Email), zap.Error(err))
			continue
		}
		if ok {
			sent++
		}
	}
	return sent
}

func (n *Notifier) notifyOne(ctx context.Context, sub announcement.Subscriber, items []announcement.Announcement) (bool, error) {
	scoped := make([]announcement.Announcement, 0, len(items))
	keys := make([]string, 0, len(items))
	for _, item := range items {
		key := item.Key()
		if !key.Valid() || !sub.Covers(item.SchoolID) {
			continue
		}
		scoped = append(scoped, item)
		keys = append(keys, key.String())
	}
	if len(scoped) == 0 {
		return false, nil
	}

	unsent, err := n.sent.Unsent(ctx, sub.Email, keys)
	if err != nil {
		return false, fmt.Errorf("read sent set: %w", err)
	}
	if len(unsent) == 0 {
		return false, nil
	}
	pending := make(map[string]struct{}, len(unsent))
	for _, k := range unsent {
		pending[k] = struct{}{}
	}
	batch := scoped[:0]
	for _, item := range scoped {
		if _, ok := pending[item.Key().String()]; ok {
			batch = append(batch, item)
		}
	}

	subject := Subject(len(batch))
	body := n.Body(batch, sub.Email)
	if err := n.sender.Send(ctx, sub.Email, subject, body); err != nil {
		metrics.ObserveNotification("send_failed")
		return false, fmt.Errorf("send: %w", err)
	}
	metrics.ObserveNotification("sent")

	if err := n.sent.MarkSent(ctx, sub.Email, unsent); err != nil {
		metrics.ObserveNotification("persist_failed")
		n.logger.Warn("sent set not updated", zap.String("email", sub.Email), zap.Error(err))
	}
	n.logger.Info("notification sent", zap.String("email", sub.Email), zap.Int("items", len(batch)))
	return true, nil
}

// Subject states the item count.
func Subject(count int) string {
	return fmt.Sprintf("%d new announcement(s)", count)
}

// Body renders the plain-text message for email.
func (n *Notifier) Body(items []announcement.Announcement, email string) string {
	lines := []string{"New announcements are available:", ""}
	for i, item := range items {
		if i == n.cfg.MaxItems {
			break
		}
		school := strings.TrimSpace(item.SchoolName)
		if school == "" {
			school = item.SchoolID
		}
		lines = append(lines, fmt.Sprintf("- %s (%s) %s", strings.TrimSpace(item.Title), school, item.PublishedDate.String()))
		if link := strings.TrimSpace(item.Link); link != "" {
			lines = append(lines, "  "+link)
		}
	}
	lines = append(lines, "")
	if n.cfg.BaseURL != "" {
		lines = append(lines, "Unsubscribe: "+n.cfg.BaseURL+"/unsubscribe?email="+url.QueryEscape(email))
	} else {
		lines = append(lines, "Unsubscribe: open the app and use /api/unsubscribe with your email.")
	}
	return strings.Join(lines, "\n")
}
