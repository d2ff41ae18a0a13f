// Package lockout tracks failed login attempts per client key and decides
// whether a key is temporarily locked out.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/bruteguard/internal/errs"
	"github.com/and161185/bruteguard/internal/model"
	"github.com/and161185/bruteguard/internal/repository"
)

// Guard is the single reader and writer of an AttemptStore.
type Guard struct {
	store  repository.AttemptStore
	cfg    Config
	policy Policy
	log    *zap.Logger
}

// New constructs a Guard. A nil logger disables logging.
func New(store repository.AttemptStore, cfg Config, log *zap.Logger) (*Guard, error) {
	if store == nil {
		return nil, errors.New("lockout: nil store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("lockout config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{store: store, cfg: cfg, policy: cfg.policy(), log: log}, nil
}

// Config returns the active configuration.
func (g *Guard) Config() Config { return g.cfg }

// Remaining is how many failures are left for a key with the given count.
func (g *Guard) Remaining(attempts int) int { return g.policy.Remaining(attempts) }

// ValidateKey rejects empty, oversized and non-printable client keys.
func ValidateKey(key string) error {
	if err := validate.Var(key, "required,max=255,printascii"); err != nil || strings.ContainsRune(key, ' ') {
		return fmt.Errorf("%w: client key", errs.ErrValidation)
	}
	return nil
}

// RecordFailure counts one failed attempt at now. Storage errors are returned,
// never swallowed.
func (g *Guard) RecordFailure(ctx context.Context, key string, now time.Time) (model.FailureResult, error) {
	if err := ValidateKey(key); err != nil {
		return model.FailureResult{}, err
	}

	var imposed bool
	rec, err := g.upsert(ctx, key, func(cur *model.AttemptRecord) *model.AttemptRecord {
		next := g.policy.Fail(cur, now)
		imposed = !cur.BlockedAt(now) && next.BlockedAt(now)
		return next
	})
	if err != nil {
		g.log.Error("record failure", zap.String("key", key), zap.Error(err))
		return model.FailureResult{}, err
	}
	if rec == nil {
		return model.FailureResult{}, fmt.Errorf("%w: upsert returned no record", errs.ErrStorage)
	}

	res := model.FailureResult{
		Attempts:     rec.Attempts,
		Blocked:      rec.BlockedAt(now),
		BlockedUntil: rec.BlockedUntil,
	}
	if imposed {
		g.log.Warn("client key blocked",
			zap.String("key", key),
			zap.Int("attempts", rec.Attempts),
			zap.Timep("blocked_until", rec.BlockedUntil))
	}
	return res, nil
}

// IsBlocked reports whether key is locked out at now. It fails open.
func (g *Guard) IsBlocked(ctx context.Context, key string, now time.Time) bool {
	return g.PreCheck(ctx, key, now).Blocked
}

// PreCheck is IsBlocked that also returns the block end. An expired block is
// cleared on observation. Any error is logged and reported as not blocked.
func (g *Guard) PreCheck(ctx context.Context, key string, now time.Time) model.Decision {
	if err := ValidateKey(key); err != nil {
		g.log.Warn("precheck: invalid client key, failing open", zap.Error(err))
		return model.Decision{}
	}

	rec, err := g.get(ctx, key)
	if err != nil {
		g.log.Error("precheck: store read failed, failing open", zap.String("key", key), zap.Error(err))
		return model.Decision{}
	}

	switch {
	case rec.BlockedAt(now):
		return model.Decision{Blocked: true, BlockedUntil: rec.BlockedUntil}
	case rec.BlockExpiredAt(now):
		after, err := g.upsert(ctx, key, expire(now))
		if err != nil {
			g.log.Error("precheck: lazy reset failed, failing open", zap.String("key", key), zap.Error(err))
			return model.Decision{}
		}
		// a concurrent failure may have re-blocked the key
		if after.BlockedAt(now) {
			return model.Decision{Blocked: true, BlockedUntil: after.BlockedUntil}
		}
		g.log.Info("block expired", zap.String("key", key))
	}
	return model.Decision{}
}

// Reset clears the counter for key. existed is false for an unseen key.
func (g *Guard) Reset(ctx context.Context, key string) (existed bool, err error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	rec, err := g.upsert(ctx, key, cleared)
	if err != nil {
		g.log.Error("reset", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return rec != nil, nil
}

// GetStatus reads the stored counter. Blocked is evaluated at now; nothing
// is written.
func (g *Guard) GetStatus(ctx context.Context, key string, now time.Time) (model.Status, error) {
	if err := ValidateKey(key); err != nil {
		return model.Status{}, err
	}
	rec, err := g.get(ctx, key)
	if err != nil {
		return model.Status{}, err
	}
	st := model.Status{Key: key}
	if rec != nil {
		st.Attempts = rec.Attempts
		st.BlockedUntil = rec.BlockedUntil
		st.Blocked = rec.BlockedAt(now)
	}
	return st, nil
}

// RecordOutcome applies the result of a credential check. On success the
// counter is reset when ResetOnSuccess is set and a zero result is returned.
func (g *Guard) RecordOutcome(ctx context.Context, key string, success bool, now time.Time) (model.FailureResult, error) {
	if !success {
		return g.RecordFailure(ctx, key, now)
	}
	if !g.cfg.ResetOnSuccess {
		return model.FailureResult{}, ValidateKey(key)
	}
	_, err := g.Reset(ctx, key)
	return model.FailureResult{}, err
}

func (g *Guard) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.cfg.StoreTimeout)
}

func (g *Guard) get(ctx context.Context, key string) (*model.AttemptRecord, error) {
	ctx, cancel := g.scoped(ctx)
	defer cancel()
	rec, err := g.store.Get(ctx, key)
	if err != nil {
		return nil, asStorage(err)
	}
	return rec, nil
}

// upsert retries lost optimistic races up to MaxRetries times.
func (g *Guard) upsert(ctx context.Context, key string, fn repository.Mutation) (*model.AttemptRecord, error) {
	var lastErr error
	for try := 0; try <= g.cfg.MaxRetries; try++ {
		rec, err := g.upsertOnce(ctx, key, fn)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, errs.ErrConflict) {
			return nil, asStorage(err)
		}
		lastErr = err
		g.log.Debug("upsert conflict", zap.String("key", key), zap.Int("try", try+1))
	}
	return nil, fmt.Errorf("%w: gave up after %d conflicts: %v", errs.ErrStorage, g.cfg.MaxRetries+1, lastErr)
}

func (g *Guard) upsertOnce(ctx context.Context, key string, fn repository.Mutation) (*model.AttemptRecord, error) {
	ctx, cancel := g.scoped(ctx)
	defer cancel()
	return g.store.Upsert(ctx, key, fn)
}

func asStorage(err error) error {
	if errors.Is(err, errs.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %v", errs.ErrStorage, err)
}
