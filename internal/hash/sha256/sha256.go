// Package sha256 provides content digests for exported reports.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces hex SHA-256 digests. Exporters use them to name report
// objects by content.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Short returns the first n hex characters of the digest.
func (h *Hasher) Short(data []byte, n int) string {
	full, _ := h.Hash(data)
	if n <= 0 || n > len(full) {
		return full
	}
	return full[:n]
}
