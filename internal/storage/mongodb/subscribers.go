package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
)

// SubscriberRepository implements subscriber.Repository with one document
// per email.
type SubscriberRepository struct {
	coll *mongo.Collection
}

// NewSubscriberRepository binds the repository to coll.
func NewSubscriberRepository(coll *mongo.Collection) *SubscriberRepository {
	return &SubscriberRepository{coll: coll}
}

// Upsert re-activates or creates the subscriber; created_at is only set on
// insert.
func (r *SubscriberRepository) Upsert(
	ctx context.Context,
	email string,
	schoolIDs []string,
	now time.Time,
) (announcement.Subscriber, error) {
	if schoolIDs == nil {
		schoolIDs = []string{}
	}
	update := bson.M{
		"$set": bson.M{
			"school_ids": schoolIDs,
			"active":     true,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var sub announcement.Subscriber
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"email": email}, update, opts).Decode(&sub)
	if err != nil {
		return announcement.Subscriber{}, fmt.Errorf("upsert subscriber: %w", err)
	}
	return sub, nil
}

// Deactivate soft-deletes the subscriber.
func (r *SubscriberRepository) Deactivate(ctx context.Context, email string, now time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"email": email},
		bson.M{"$set": bson.M{"active": false, "updated_at": now}},
	)
	if err != nil {
		return false, fmt.Errorf("deactivate subscriber: %w", err)
	}
	return res.MatchedCount > 0, nil
}

// ListActive returns active subscribers ordered by email.
func (r *SubscriberRepository) ListActive(ctx context.Context) ([]announcement.Subscriber, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"active": true}, options.Find().SetSort(bson.D{{Key: "email", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	out := []announcement.Subscriber{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode subscribers: %w", err)
	}
	return out, nil
}
