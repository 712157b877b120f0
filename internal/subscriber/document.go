package subscriber

import (
	"context"
	"strings"
	"time"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
	"github.com/JakeFAU/pnrr-announcements/internal/docstore"
)

// DocumentName is the subscribers document in the document store.
const DocumentName = "subscribers.json"

// DocumentRepository keeps every subscriber in one JSON document mutated
// with compare-and-swap updates.
type DocumentRepository struct {
	store *docstore.Store[announcement.SubscriberList]
	opts  docstore.UpdateOptions
}

// NewDocumentRepository binds the repository to store.
func NewDocumentRepository(store *docstore.Store[announcement.SubscriberList], opts docstore.UpdateOptions) *DocumentRepository {
	return &DocumentRepository{store: store, opts: opts}
}

func emptyList() announcement.SubscriberList {
	return announcement.SubscriberList{Subscribers: []announcement.Subscriber{}}
}

// Upsert implements Repository.
func (r *DocumentRepository) Upsert(
	ctx context.Context,
	email string,
	schoolIDs []string,
	now time.Time,
) (announcement.Subscriber, error) {
	var saved announcement.Subscriber
	_, err := docstore.Update(ctx, r.store, emptyList, func(doc *announcement.SubscriberList) (bool, error) {
		for i := range doc.Subscribers {
			sub := &doc.Subscribers[i]
			if !strings.EqualFold(sub.Email, email) {
				continue
			}
			sub.Email = email
			sub.SchoolIDs = schoolIDs
			sub.Active = true
			sub.UpdatedAt = now
			if sub.CreatedAt.IsZero() {
				sub.CreatedAt = now
			}
			saved = *sub
			return true, nil
		}
		saved = announcement.Subscriber{
			Email:     email,
			SchoolIDs: schoolIDs,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		doc.Subscribers = append(doc.Subscribers, saved)
		return true, nil
	}, r.opts)
	if err != nil {
		return announcement.Subscriber{}, err
	}
	return saved, nil
}

// Deactivate implements Repository.
func (r *DocumentRepository) Deactivate(ctx context.Context, email string, now time.Time) (bool, error) {
	var found bool
	_, err := docstore.Update(ctx, r.store, emptyList, func(doc *announcement.SubscriberList) (bool, error) {
		found = false
		for i := range doc.Subscribers {
			sub := &doc.Subscribers[i]
			if strings.EqualFold(sub.Email, email) {
				sub.Active = false
				sub.UpdatedAt = now
				found = true
				return true, nil
			}
		}
		return false, nil
	}, r.opts)
	if err != nil {
		return false, err
	}
	return found, nil
}

// ListActive implements Repository.
func (r *DocumentRepository) ListActive(ctx context.Context) ([]announcement.Subscriber, error) {
	doc, _, err := r.store.Load(ctx, emptyList())
	if err != nil {
		return nil, err
	}
	out := make([]announcement.Subscriber, 0, len(doc.Subscribers))
	for _, sub := range doc.Subscribers {
		if sub.Active {
			out = append(out, sub)
		}
	}
	return out, nil
}
