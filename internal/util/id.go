package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 24-character random hex id, used for request ids.
func NewID() string {
	return randomHex(12)
}

// ShortID returns a 12-character random hex id. Object keys use it to keep
// repeated uploads of the same filename apart.
func ShortID() string {
	return randomHex(6)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
