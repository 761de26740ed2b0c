// Package checksum provides SHA-256 digests of workspace file content. File
// reads return the digest alongside the bytes so API clients can detect
// truncated transfers and compare revisions without diffing content.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Bytes returns the lowercase hex SHA256 digest of data.
func SHA256Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
