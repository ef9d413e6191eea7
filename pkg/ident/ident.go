// Package ident provides the hash and identifier primitives (C2) shared by
// every other package in this module: SHA-256 hex digests, time-ordered
// UUIDv7 generation, and the genesis hash constant for TRACE event chains.
package ident

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// GenesisHash is the previous_event_hash value for the first event in any
// session: exactly 64 ASCII '0' characters, a string rather than a
// byte-zero sequence.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

func init() {
	if len(GenesisHash) != 64 {
		panic("ident: GenesisHash must be exactly 64 characters")
	}
}

// SHA256Hex returns the lowercase hex-encoded SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewUUID returns a new time-ordered (UUIDv7) identifier.
func NewUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the global random source is broken; fall back
		// to a random v4 rather than panic in a library function.
		return uuid.NewString()
	}
	return id.String()
}
