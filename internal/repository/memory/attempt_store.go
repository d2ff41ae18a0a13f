// Package memory contains an in-process AttemptStore with per-key locking.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/bruteguard/internal/model"
	"github.com/and161185/bruteguard/internal/repository"
)

type entry struct {
	mu  sync.Mutex
	rec *model.AttemptRecord
}

// AttemptStore keeps records in a map. The map lock is only held to find an
// entry; updates serialize on the entry's own mutex.
type AttemptStore struct {
	mu      sync.Mutex
	entries map[string]*entry
}

var (
	_ repository.AttemptStore = (*AttemptStore)(nil)
	_ repository.Sweeper      = (*AttemptStore)(nil)
)

// NewAttemptStore constructs an empty store.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{entries: make(map[string]*entry)}
}

func (s *AttemptStore) lookup(key string, create bool) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok && create {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

// Get returns a copy of the record for key, or nil.
func (s *AttemptStore) Get(ctx context.Context, key string) (*model.AttemptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := s.lookup(key, false)
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return model.CloneRecord(e.rec), nil
}

// Upsert applies fn under the key's mutex.
func (s *AttemptStore) Upsert(ctx context.Context, key string, fn repository.Mutation) (*model.AttemptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := s.lookup(key, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	next := fn(model.CloneRecord(e.rec))
	if next == nil {
		return model.CloneRecord(e.rec), nil
	}
	stored := next.Clone()
	stored.Key = key
	e.rec = &stored
	return model.CloneRecord(e.rec), nil
}

// ClearExpired resets records whose block ended at or before now.
func (s *AttemptStore) ClearExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	all := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	s.mu.Unlock()

	var n int64
	for _, e := range all {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		e.mu.Lock()
		if e.rec.BlockExpiredAt(now) {
			e.rec.Attempts = 0
			e.rec.BlockedUntil = nil
			n++
		}
		e.mu.Unlock()
	}
	return n, nil
}

