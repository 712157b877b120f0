package notify

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
	"github.com/JakeFAU/pnrr-announcements/internal/docstore"
	"github.com/JakeFAU/pnrr-announcements/internal/hash/sha256"
)

// DocumentSentStore keeps one sent-set document per subscriber, named after
// the SHA-256 of the email.
type DocumentSentStore struct {
	backend docstore.Backend
	opts    docstore.UpdateOptions
	now     func() time.Time
	logger  *zap.Logger
}

// NewDocumentSentStore builds a SentStore over backend.
func NewDocumentSentStore(backend docstore.Backend, opts docstore.UpdateOptions, logger *zap.Logger) *DocumentSentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentSentStore{backend: backend, opts: opts, now: time.Now, logger: logger}
}

// DocumentName returns the sent-set document name for email.
func DocumentName(email string) string {
	return "notifications/" + sha256.Sum([]byte(email)) + ".json"
}

func (s *DocumentSentStore) store(email string) *docstore.Store[announcement.SentRecord] {
	return docstore.New[announcement.SentRecord](s.backend, DocumentName(email), s.logger)
}

func emptyRecord() announcement.SentRecord {
	return announcement.SentRecord{SentKeys: []string{}}
}

// Unsent implements SentStore.
func (s *DocumentSentStore) Unsent(ctx context.Context, email string, keys []string) ([]string, error) {
	record, _, err := s.store(email).Load(ctx, emptyRecord())
	if err != nil {
		return nil, err
	}
	sent := make(map[string]struct{}, len(record.SentKeys))
	for _, k := range record.SentKeys {
		sent[k] = struct{}{}
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := sent[k]; !ok {
			out = append(out, k)
		}
	}
	return out, nil
}

// MarkSent implements SentStore. An unchanged set is not rewritten.
func (s *DocumentSentStore) MarkSent(ctx context.Context, email string, keys []string) error {
	_, err := docstore.Update(ctx, s.store(email), emptyRecord, func(doc *announcement.SentRecord) (bool, error) {
		merged := append(slices.Clone(doc.SentKeys), keys...)
		slices.Sort(merged)
		merged = slices.Compact(merged)
		if slices.Equal(merged, doc.SentKeys) {
			return false, nil
		}
		now := s.now().UTC()
		doc.SentKeys = merged
		doc.UpdatedAt = &now
		return true, nil
	}, s.opts)
	return err
}
