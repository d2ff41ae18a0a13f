// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/guard/service layers.
var (
	// ErrValidation indicates a malformed input (e.g., empty client key); storage is never touched.
	ErrValidation = errors.New("validation")

	// ErrStorage indicates a transient or permanent persistence failure.
	ErrStorage = errors.New("storage unavailable")

	// ErrConflict indicates a lost optimistic concurrency race; callers may retry.
	ErrConflict = errors.New("concurrency conflict")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBlocked indicates the client key is temporarily locked out.
	ErrBlocked = errors.New("blocked")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")
)
