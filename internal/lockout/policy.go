package lockout

import (
	"time"

	"github.com/and161185/bruteguard/internal/model"
	"github.com/and161185/bruteguard/internal/repository"
)

// Policy is the pure part of the state machine. Every method is a function of
// (record, now) and is safe to run more than once per write.
type Policy struct {
	Threshold     int
	BlockDuration time.Duration
}

// Fail returns the record after one failure at now.
//
// An active block is kept as is apart from LastAttempt. An expired block
// restarts the count. Otherwise the count grows and a block is imposed once
// it reaches Threshold.
func (p Policy) Fail(cur *model.AttemptRecord, now time.Time) *model.AttemptRecord {
	next := model.AttemptRecord{}
	if cur != nil {
		next = cur.Clone()
	}
	next.LastAttempt = now

	switch {
	case next.BlockedAt(now):
		return &next
	case next.BlockExpiredAt(now):
		next.Attempts = 1
		next.BlockedUntil = nil
	default:
		next.Attempts++
	}

	if next.Attempts >= p.Threshold {
		until := now.Add(p.BlockDuration)
		next.BlockedUntil = &until
	}
	return &next
}

// Remaining is how many failures are left before a block.
func (p Policy) Remaining(attempts int) int {
	if r := p.Threshold - attempts; r > 0 {
		return r
	}
	return 0
}

// cleared zeroes the counter of an existing record; unseen keys are left alone.
func cleared(cur *model.AttemptRecord) *model.AttemptRecord {
	if cur == nil {
		return nil
	}
	cur.Attempts = 0
	cur.BlockedUntil = nil
	return cur
}

// expire clears the record only if its block has ended at now. A block set by
// a concurrent writer in the meantime is left untouched.
func expire(now time.Time) repository.Mutation {
	return func(cur *model.AttemptRecord) *model.AttemptRecord {
		if !cur.BlockExpiredAt(now) {
			return nil
		}
		return cleared(cur)
	}
}
