// Package ident provides compact URL-safe encodings for UUID identifiers
// used in challenge ids, token ids, and WebAuthn user handles.
package ident

import (
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

// Compress encodes the UUID's 16 raw bytes as base64url without padding.
// The result is URL-safe: no '+', '/', or '='.
func Compress(id uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// Decompress reverses [Compress].
func Decompress(s string) (uuid.UUID, error) {
	var id uuid.UUID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid compressed uuid size")
	}

	copy(id[:], raw)
	return id, nil
}

// New returns a fresh compressed identifier.
func New() string {
	return Compress(uuid.New())
}
