// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization for deterministic hashing of governance artifacts. Evidence
// records, decision-audit entries, and exported reports hash through this
// package so identical content always yields identical digests regardless
// of map iteration order.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
func JCS(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal failed: %w", err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform failed: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of the canonical form of v,
// prefixed with the algorithm name.
func Hash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return "sha256:" + HashBytes(b), nil
}

// HashBytes computes the SHA-256 digest of raw bytes as a hex string.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ShortHash returns the first n hex characters of the SHA-256 digest of
// data. Evidence fingerprints use n=16; key-material prefixes use n=32.
func ShortHash(data []byte, n int) string {
	s := HashBytes(data)
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}
