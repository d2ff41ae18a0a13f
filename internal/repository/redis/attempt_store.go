// Package redis implements repository.AttemptStore on Redis using
// WATCH/MULTI/EXEC as an optimistic compare-and-swap.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/and161185/bruteguard/internal/errs"
	"github.com/and161185/bruteguard/internal/model"
	"github.com/and161185/bruteguard/internal/repository"
)

const (
	// DefaultPrefix namespaces attempt keys.
	DefaultPrefix = "bg:attempt"
	// DefaultRecordTTL lets idle records age out.
	DefaultRecordTTL = 24 * time.Hour
)

// Options configure the store. Zero values fall back to defaults.
type Options struct {
	Prefix    string
	RecordTTL time.Duration
}

// AttemptStore keeps one JSON value per client key.
type AttemptStore struct {
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ repository.AttemptStore = (*AttemptStore)(nil)

// NewAttemptStore constructs a store over an existing client.
func NewAttemptStore(rdb goredis.UniversalClient, opts Options) *AttemptStore {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.RecordTTL <= 0 {
		opts.RecordTTL = DefaultRecordTTL
	}
	return &AttemptStore{rdb: rdb, prefix: opts.Prefix, ttl: opts.RecordTTL}
}

type storedRecord struct {
	Attempts     int        `json:"attempts"`
	LastAttempt  time.Time  `json:"last_attempt"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

func (s *AttemptStore) key(clientKey string) string {
	return s.prefix + ":" + clientKey
}

func decode(clientKey string, data []byte) (*model.AttemptRecord, error) {
	var sr storedRecord
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("decode attempt record: %w", err)
	}
	return &model.AttemptRecord{
		Key:          clientKey,
		Attempts:     sr.Attempts,
		LastAttempt:  sr.LastAttempt,
		BlockedUntil: sr.BlockedUntil,
	}, nil
}

func encode(rec *model.AttemptRecord) ([]byte, error) {
	return json.Marshal(storedRecord{
		Attempts:     rec.Attempts,
		LastAttempt:  rec.LastAttempt,
		BlockedUntil: rec.BlockedUntil,
	})
}

// ttlFor keeps a record at least until its block ends.
func (s *AttemptStore) ttlFor(rec *model.AttemptRecord) time.Duration {
	ttl := s.ttl
	if rec.BlockedUntil != nil {
		if left := time.Until(*rec.BlockedUntil) + time.Minute; left > ttl {
			ttl = left
		}
	}
	return ttl
}

func read(ctx context.Context, c goredis.Cmdable, key, clientKey string) (*model.AttemptRecord, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(clientKey, data)
}

// Get returns the record for key, or nil.
func (s *AttemptStore) Get(ctx context.Context, key string) (*model.AttemptRecord, error) {
	rec, err := read(ctx, s.rdb, s.key(key), key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	return rec, nil
}

// Upsert watches the key, applies fn and writes inside MULTI/EXEC. A write by
// another client between WATCH and EXEC aborts the transaction and is
// reported as errs.ErrConflict.
func (s *AttemptStore) Upsert(ctx context.Context, key string, fn repository.Mutation) (*model.AttemptRecord, error) {
	rk := s.key(key)
	var result *model.AttemptRecord

	err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := read(ctx, tx, rk, key)
		if err != nil {
			return err
		}
		next := fn(model.CloneRecord(cur))
		if next == nil {
			result = cur
			return nil
		}
		next.Key = key
		data, err := encode(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, rk, data, s.ttlFor(next))
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}, rk)

	if errors.Is(err, goredis.TxFailedErr) {
		return nil, errs.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	return result, nil
}
