// Package checksum computes the SHA-256 digests that identify archived
// passport documents and their detached signatures.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
)

// Sum returns the hex SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumReader returns the hex SHA-256 digest of everything read from r.
func SumReader(r io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Verify reports whether data hashes to expected, comparing in constant time.
func Verify(data []byte, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(Sum(data)), []byte(expected)) == 1
}
