// Package ident provides the two "opaque" primitives the storage engine
// needs but does not care about the internals of: a unique connection
// identifier, and a fixed-width password digest. Neither the session
// dispatcher nor the table registry inspects these values beyond equality,
// per spec.md §1 ("the engine only needs 'opaque unique identifier'" /
// "opaque fixed-width digest").
package ident

import (
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// DigestSize is the fixed width, in bytes, of a password digest. It must
// equal the declared width of every `password` column a table defines.
const DigestSize = 32

// NewConnectionID returns a fresh, process-wide unique identifier suitable
// for naming a session slot and its data streams.
func NewConnectionID() string {
	return uuid.NewString()
}

// Digest returns the fixed-width digest of plaintext. It is deterministic:
// the same plaintext always yields the same digest, which is required for
// the wire protocol to compare a submitted digest against the one stored in
// the `users` table (spec.md §4.3, `user <name> <password>`).
func Digest(plaintext string) [DigestSize]byte {
	return blake2b.Sum256([]byte(plaintext))
}

// DigestBytes is Digest with a []byte return, convenient for callers that
// need to write the digest into a row or compare it against raw column
// bytes read off disk.
func DigestBytes(plaintext string) []byte {
	d := Digest(plaintext)
	return d[:]
}

// VerifyDigest reports whether plaintext's digest matches stored, which is
// expected to be exactly DigestSize bytes (e.g. a password column's raw
// on-disk value).
func VerifyDigest(plaintext string, stored []byte) (bool, error) {
	if len(stored) != DigestSize {
		return false, fmt.Errorf("ident: stored digest has width %d, want %d", len(stored), DigestSize)
	}
	want := DigestBytes(plaintext)
	if len(want) != len(stored) {
		return false, nil
	}
	for i := range want {
		if want[i] != stored[i] {
			return false, nil
		}
	}
	return true, nil
}
