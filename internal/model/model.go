// Package model defines domain entities used by the guard, services and stores.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// AttemptRecord is the per-client failure counter. One record per Key.
type AttemptRecord struct {
	Key          string     // client identifier, unique
	Attempts     int        // consecutive failures (>= 0)
	LastAttempt  time.Time  // most recent recorded failure
	BlockedUntil *time.Time // set only while locked out
}

// Clone returns a deep copy so callers never share BlockedUntil.
func (r AttemptRecord) Clone() AttemptRecord {
	if r.BlockedUntil != nil {
		t := *r.BlockedUntil
		r.BlockedUntil = &t
	}
	return r
}

// BlockedAt reports whether the record holds a block that is still active at now.
func (r *AttemptRecord) BlockedAt(now time.Time) bool {
	return r != nil && r.BlockedUntil != nil && r.BlockedUntil.After(now)
}

// BlockExpiredAt reports whether the record holds a block that has ended at now.
func (r *AttemptRecord) BlockExpiredAt(now time.Time) bool {
	return r != nil && r.BlockedUntil != nil && !r.BlockedUntil.After(now)
}

// CloneRecord copies a possibly-nil record.
func CloneRecord(r *AttemptRecord) *AttemptRecord {
	if r == nil {
		return nil
	}
	c := r.Clone()
	return &c
}

// Status is the read-only view returned by GetStatus.
type Status struct {
	Key          string
	Attempts     int
	Blocked      bool // BlockedUntil is in the future at read time
	BlockedUntil *time.Time
}

// FailureResult is the state after a recorded failure.
type FailureResult struct {
	Attempts     int
	Blocked      bool
	BlockedUntil *time.Time
}

// Decision is the outcome of a pre-login check.
type Decision struct {
	Blocked      bool
	BlockedUntil *time.Time
}

// User represents an account known to the reference credential gateway.
type User struct {
	ID        uuid.UUID // PK
	Username  string    // unique
	PwdHash   []byte    // Argon2id(password, SaltAuth)
	SaltAuth  []byte    // per-user salt
	CreatedAt time.Time
}
