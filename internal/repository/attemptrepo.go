package repository

import (
	"context"
	"time"

	"github.com/and161185/bruteguard/internal/model"
)

// Mutation computes the next record from the current one (nil for an unseen key).
// Returning nil leaves the stored state untouched. Optimistic stores may call it
// more than once, so it must not have side effects.
type Mutation func(cur *model.AttemptRecord) *model.AttemptRecord

// AttemptStore keeps one AttemptRecord per client key.
type AttemptStore interface {
	// Get returns the record for key, or nil when the key was never seen.
	Get(ctx context.Context, key string) (*model.AttemptRecord, error)

	// Upsert applies fn atomically with respect to all other operations on key
	// and returns the record as stored afterwards.
	Upsert(ctx context.Context, key string, fn Mutation) (*model.AttemptRecord, error)
}

// Sweeper is implemented by stores that can clear finished blocks in bulk.
type Sweeper interface {
	// ClearExpired resets every record whose block ended at or before now.
	ClearExpired(ctx context.Context, now time.Time) (int64, error)
}
