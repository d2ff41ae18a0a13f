// Package background runs periodic maintenance next to the request path.
package background

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/bruteguard/internal/repository"
)

const defaultRunTimeout = 30 * time.Second

// Sweeper periodically clears blocks that have already ended, so that
// records do not wait for the next lazy observation.
type Sweeper struct {
	store    repository.Sweeper
	log      *zap.Logger
	interval time.Duration
	now      func() time.Time
	timeout  time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewSweeper creates a sweeper. interval must be positive.
func NewSweeper(store repository.Sweeper, log *zap.Logger, interval time.Duration) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		store:    store,
		log:      log,
		interval: interval,
		now:      time.Now,
		timeout:  defaultRunTimeout,
		stopCh:   make(chan struct{}),
	}
}

// Start runs a sweep immediately and then on every tick until ctx is done or
// Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopCh:
			s.log.Info("sweeper stopped")
			return
		case <-ctx.Done():
			s.log.Info("sweeper context cancelled")
			return
		}
	}
}

// RunOnce performs a single sweep and returns the number of cleared records.
func (s *Sweeper) RunOnce(ctx context.Context) int64 {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.store.ClearExpired(runCtx, s.now())
	if err != nil {
		s.log.Error("sweep expired blocks", zap.Error(err))
		return 0
	}
	if n > 0 {
		s.log.Info("expired blocks cleared", zap.Int64("records", n))
	}
	return n
}

// Stop signals the loop to exit. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
