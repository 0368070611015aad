package cryptoutils

import (
	"crypto/subtle"

	"github.com/zeebo/blake3"
)

// Fingerprint returns the BLAKE3-256 digest of payload.
func Fingerprint(payload []byte) []byte {
	sum := blake3.Sum256(payload)
	return sum[:]
}

// SameFingerprint compares two digests in constant time.
func SameFingerprint(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
