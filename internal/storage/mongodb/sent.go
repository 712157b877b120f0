package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SentStore implements notify.SentStore with one document per
// (email, key) pair under a unique index.
type SentStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewSentStore binds the store to coll.
func NewSentStore(coll *mongo.Collection) *SentStore {
	return &SentStore{coll: coll, now: time.Now}
}

type sentKey struct {
	Key string `bson:"key"`
}

// Unsent returns the keys with no record for email, in input order.
func (s *SentStore) Unsent(ctx context.Context, email string, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	cursor, err := s.coll.Find(ctx,
		bson.M{"email": email, "key": bson.M{"$in": keys}},
		options.Find().SetProjection(bson.M{"key": 1, "_id": 0}),
	)
	if err != nil {
		return nil, fmt.Errorf("find sent keys: %w", err)
	}
	var found []sentKey
	if err := cursor.All(ctx, &found); err != nil {
		return nil, fmt.Errorf("decode sent keys: %w", err)
	}
	seen := make(map[string]struct{}, len(found))
	for _, f := range found {
		seen[f.Key] = struct{}{}
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; !ok {
			out = append(out, k)
		}
	}
	return out, nil
}

// MarkSent records keys for email. Concurrent writers racing on the same
// pair hit the unique index, which counts as recorded.
func (s *SentStore) MarkSent(ctx context.Context, email string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	now := s.now().UTC()
	models := make([]mongo.WriteModel, 0, len(keys))
	for _, k := range keys {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"email": email, "key": k}).
			SetUpdate(bson.M{"$setOnInsert": bson.M{"sent_at": now}}).
			SetUpsert(true))
	}
	_, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil && !onlyDuplicates(err) {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

func onlyDuplicates(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return true
}
