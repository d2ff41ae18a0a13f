// Package crypto implements password hashing and verification for the
// reference credential gateway.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPassword returns Argon2id hash of password using the provided salt.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyPassword verifies password against expected Argon2id hash and salt.
func VerifyPassword(password, salt, expected []byte) bool {
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

var (
	dummyOnce sync.Once
	dummySalt []byte
	dummyHash []byte
)

// VerifyDummy runs the same Argon2id work as VerifyPassword against a fixed
// hash and always returns false. Used for unknown accounts so response time
// does not reveal whether a username exists.
func VerifyDummy(password []byte) bool {
	dummyOnce.Do(func() {
		dummySalt = make([]byte, 16)
		dummyHash = HashPassword([]byte("\x00no-such-user"), dummySalt)
	})
	_ = VerifyPassword(password, dummySalt, dummyHash)
	return false
}
