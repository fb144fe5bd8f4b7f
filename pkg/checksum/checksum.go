// Package checksum provides SHA-256 utilities for package payload integrity.
// Every published blueprint version records the checksum of its serialized
// payload so reads can detect corruption regardless of which storage tier
// (blob store or database chunks) the payload came back from.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Bytes computes the hex-encoded SHA-256 digest of an in-memory payload.
func SHA256Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyBytes reports whether the payload matches the expected digest.
func VerifyBytes(data []byte, expected string) bool {
	return SHA256Bytes(data) == expected
}
