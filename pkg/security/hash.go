package security

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashBytes computes the SHA-384 digest of raw bytes. The digest is always
// 48 bytes (96 hex characters when encoded with [HexDigest]).
func HashBytes(data []byte) []byte {
	sum := sha512.Sum384(data)
	return sum[:]
}

// HashObject computes the SHA-384 digest of a structured object over a
// canonical JSON-equivalent serialization. The object is marshaled to JSON,
// decoded into generic maps, and re-marshaled; encoding/json emits map keys
// in sorted order, so property order in the input never affects the digest.
func HashObject(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("hashing object: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("hashing object: %w", err)
	}

	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("hashing object: %w", err)
	}
	return HashBytes(canonical), nil
}

// HexDigest encodes a digest as lowercase hex.
func HexDigest(digest []byte) string {
	return hex.EncodeToString(digest)
}
