package types

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the size of every digest produced by the validator
const HashSize = 32

// Hash is a 32-byte digest. It is the canonical identifier of a validated
// announcement or share.
type Hash [HashSize]byte

// String returns the hash as lowercase hex
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether every byte of the hash is zero
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// HashFromBytes copies a 32-byte slice into a Hash
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length %d, want %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// HashFromString parses a hex encoded hash
func HashFromString(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("failed to decode hash: %v", err)
	}
	return HashFromBytes(b)
}
