// Package browserstore provides the browser's local persistent data store:
// a bounded disk-backed resource cache, a cookie jar, and capped
// history/bookmark logs sharing a single metadata index.
package browserstore

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// HashSize is the size of a BLAKE3 hash in bytes (256 bits).
const HashSize = 32

// Hash represents a BLAKE3 256-bit digest.
type Hash [HashSize]byte

// String returns the hex-encoded representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ShortString returns a shortened hex representation for display.
func (h Hash) ShortString() string {
	return hex.EncodeToString(h[:8])
}

// IsZero returns true if the hash is all zeros (uninitialized).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	if len(text) != HashSize*2 {
		return fmt.Errorf("invalid hash length: expected %d hex chars, got %d", HashSize*2, len(text))
	}
	_, err := hex.Decode(h[:], text)
	return err
}

// ParseHash parses a hex-encoded hash string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return Hash{}, err
	}
	return h, nil
}

// HashBytes computes the BLAKE3 hash of the given bytes.
func HashBytes(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// KeyHash computes the content-address for a logical resource key, such as
// a normalized URL. Blob files on disk are named by this hash, so the
// row/file correspondence needs no separate path bookkeeping.
func KeyHash(key string) Hash {
	return HashBytes([]byte(key))
}

// Blob storage key layout.

const blobKeyPrefix = "blobs"

// BlobStorageKey returns the backend storage key for a blob.
// Format: blobs/{hex[:2]}/{hex}
func BlobStorageKey(h Hash) string {
	hex := h.String()
	return blobKeyPrefix + "/" + hex[:2] + "/" + hex
}

// ParseBlobStorageKey extracts a Hash from a backend storage key.
func ParseBlobStorageKey(key string) (Hash, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != blobKeyPrefix {
		return Hash{}, fmt.Errorf("invalid blob key format: %s", key)
	}
	return ParseHash(parts[2])
}
