// Package sha256 content-addresses downloaded documents.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Hasher implements fetch.Hasher.
type Hasher struct{}

// New returns a Hasher.
func New() Hasher {
	return Hasher{}
}

// Hash returns the hex SHA-256 digest of data.
func (Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashReader digests r to EOF and reports how many bytes it consumed.
func (Hasher) HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hash stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
