package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/bruteguard/internal/model"
)

func increment(now time.Time) func(cur *model.AttemptRecord) *model.AttemptRecord {
	return func(cur *model.AttemptRecord) *model.AttemptRecord {
		if cur == nil {
			return &model.AttemptRecord{Attempts: 1, LastAttempt: now}
		}
		cur.Attempts++
		cur.LastAttempt = now
		return cur
	}
}

func TestAttemptStore_GetUnseen(t *testing.T) {
	t.Parallel()
	s := NewAttemptStore()

	rec, err := s.Get(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestAttemptStore_UpsertCreatesAndUpdates(t *testing.T) {
	t.Parallel()
	s := NewAttemptStore()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	rec, err := s.Upsert(ctx, "k", increment(now))
	require.NoError(t, err)
	require.Equal(t, "k", rec.Key)
	require.Equal(t, 1, rec.Attempts)

	rec, err = s.Upsert(ctx, "k", increment(now))
	require.NoError(t, err)
	require.Equal(t, 2, rec.Attempts)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, 2, got.Attempts)
	require.True(t, got.LastAttempt.Equal(now))
}

func TestAttemptStore_NilMutationDoesNotCreate(t *testing.T) {
	t.Parallel()
	s := NewAttemptStore()
	ctx := context.Background()

	rec, err := s.Upsert(ctx, "k", func(*model.AttemptRecord) *model.AttemptRecord { return nil })
	require.NoError(t, err)
	require.Nil(t, rec)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestAttemptStore_ReturnsCopies(t *testing.T) {
	t.Parallel()
	s := NewAttemptStore()
	ctx := context.Background()
	until := time.Now().Add(time.Hour)

	_, err := s.Upsert(ctx, "k", func(*model.AttemptRecord) *model.AttemptRecord {
		return &model.AttemptRecord{Attempts: 10, BlockedUntil: &until}
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	*got.BlockedUntil = time.Time{}
	got.Attempts = 99

	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, 10, again.Attempts)
	require.True(t, again.BlockedUntil.Equal(until))
}

func TestAttemptStore_ConcurrentUpsertsAreSerialized(t *testing.T) {
	t.Parallel()
	s := NewAttemptStore()
	ctx := context.Background()
	now := time.Now()

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Upsert(ctx, "hot", increment(now)); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "hot")
	require.NoError(t, err)
	require.Equal(t, n, got.Attempts)
}

func TestAttemptStore_ClearExpired(t *testing.T) {
	t.Parallel()
	s := NewAttemptStore()
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	set := func(key string, until *time.Time) {
		_, err := s.Upsert(ctx, key, func(*model.AttemptRecord) *model.AttemptRecord {
			return &model.AttemptRecord{Attempts: 10, BlockedUntil: until}
		})
		require.NoError(t, err)
	}
	set("expired", &past)
	set("active", &future)
	set("counting", nil)

	n, err := s.ClearExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, _ := s.Get(ctx, "expired")
	require.Equal(t, 0, got.Attempts)
	require.Nil(t, got.BlockedUntil)

	got, _ = s.Get(ctx, "active")
	require.Equal(t, 10, got.Attempts)
	require.NotNil(t, got.BlockedUntil)
}

func TestAttemptStore_CanceledContext(t *testing.T) {
	t.Parallel()
	s := NewAttemptStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
	_, err = s.Upsert(ctx, "k", increment(time.Now()))
	require.ErrorIs(t, err, context.Canceled)
}
