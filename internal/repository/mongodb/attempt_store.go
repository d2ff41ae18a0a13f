// Package mongodb implements repository.AttemptStore on a MongoDB collection.
// Writes are guarded by a per-document version counter.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/and161185/bruteguard/internal/errs"
	"github.com/and161185/bruteguard/internal/model"
	"github.com/and161185/bruteguard/internal/repository"
)

// CollectionName is the default collection for attempt records.
const CollectionName = "login_attempts"

// Connect opens a client and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

type attemptDoc struct {
	Key          string     `bson:"_id"`
	Attempts     int        `bson:"attempts"`
	LastAttempt  time.Time  `bson:"last_attempt"`
	BlockedUntil *time.Time `bson:"blocked_until"`
	Version      int64      `bson:"version"`
}

func (d *attemptDoc) record() *model.AttemptRecord {
	rec := &model.AttemptRecord{
		Key:          d.Key,
		Attempts:     d.Attempts,
		LastAttempt:  d.LastAttempt.UTC(),
		BlockedUntil: d.BlockedUntil,
	}
	if rec.BlockedUntil != nil {
		t := rec.BlockedUntil.UTC()
		rec.BlockedUntil = &t
	}
	return rec
}

// AttemptStore keeps one document per client key. Timestamps are stored with
// millisecond precision.
type AttemptStore struct {
	coll *mongo.Collection
}

var (
	_ repository.AttemptStore = (*AttemptStore)(nil)
	_ repository.Sweeper      = (*AttemptStore)(nil)
)

// NewAttemptStore constructs a store over coll.
func NewAttemptStore(coll *mongo.Collection) *AttemptStore {
	return &AttemptStore{coll: coll}
}

// EnsureIndexes creates the sparse index used by ClearExpired.
func (s *AttemptStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "blocked_until", Value: 1}},
		Options: options.Index().SetSparse(true),
	})
	if err != nil {
		return fmt.Errorf("%w: create index: %v", errs.ErrStorage, err)
	}
	return nil
}

func (s *AttemptStore) find(ctx context.Context, key string) (*attemptDoc, error) {
	var doc attemptDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	return &doc, nil
}

// Get returns the record for key, or nil.
func (s *AttemptStore) Get(ctx context.Context, key string) (*model.AttemptRecord, error) {
	doc, err := s.find(ctx, key)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.record(), nil
}

// Upsert reads the document, applies fn and writes it back only if the
// version is unchanged. A lost race is reported as errs.ErrConflict.
func (s *AttemptStore) Upsert(ctx context.Context, key string, fn repository.Mutation) (*model.AttemptRecord, error) {
	doc, err := s.find(ctx, key)
	if err != nil {
		return nil, err
	}
	var cur *model.AttemptRecord
	if doc != nil {
		cur = doc.record()
	}

	next := fn(model.CloneRecord(cur))
	if next == nil {
		return cur, nil
	}
	next.Key = key

	if doc == nil {
		_, err := s.coll.InsertOne(ctx, attemptDoc{
			Key:          key,
			Attempts:     next.Attempts,
			LastAttempt:  next.LastAttempt,
			BlockedUntil: next.BlockedUntil,
			Version:      1,
		})
		if mongo.IsDuplicateKeyError(err) {
			return nil, errs.ErrConflict
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		return next, nil
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: key}, {Key: "version", Value: doc.Version}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "attempts", Value: next.Attempts},
			{Key: "last_attempt", Value: next.LastAttempt},
			{Key: "blocked_until", Value: next.BlockedUntil},
			{Key: "version", Value: doc.Version + 1},
		}}},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	if res.MatchedCount == 0 {
		return nil, errs.ErrConflict
	}
	return next, nil
}

// ClearExpired resets every document whose block ended at or before now.
func (s *AttemptStore) ClearExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.D{{Key: "blocked_until", Value: bson.D{{Key: "$ne", Value: nil}, {Key: "$lte", Value: now}}}},
		bson.D{
			{Key: "$set", Value: bson.D{{Key: "attempts", Value: 0}, {Key: "blocked_until", Value: nil}}},
			{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	return res.ModifiedCount, nil
}
