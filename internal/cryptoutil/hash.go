package cryptoutil

import (
	"crypto/sha256"
	"crypto/subtle"
)

// SecretEqual compares a presented secret with the expected one in constant time.
// Both sides are hashed first so the comparison does not leak the expected length.
func SecretEqual(got, want string) bool {
	g := sha256.Sum256([]byte(got))
	w := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(g[:], w[:]) == 1
}
