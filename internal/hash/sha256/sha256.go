// Package sha256 hashes page bodies for content-addressed artifact paths.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// Hasher is a crawler.Hasher producing lowercase hex SHA-256 digests.
type Hasher struct{}

var _ crawler.Hasher = Hasher{}

// New returns a Hasher.
func New() Hasher {
	return Hasher{}
}

// Hash never fails; the error satisfies crawler.Hasher.
func (Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
