// Package sha256 digests binary documents for their blob keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/gov-crawler/internal/crawler"
)

var _ crawler.Hasher = (*Hasher)(nil)

// Hasher implements crawler.Hasher.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex SHA-256 digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
