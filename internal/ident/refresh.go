package ident

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

const refreshSecretSize = 32

// EncodeRefreshToken packs a compressed family id and a 256-bit secret into
// one opaque base64url string. The family id rides inside the token so
// redemption needs no extra lookup to find the family.
func EncodeRefreshToken(familyID string, secret []byte) (string, error) {
	family, err := Decompress(familyID)
	if err != nil {
		return "", err
	}
	if len(secret) != refreshSecretSize {
		return "", errors.New("invalid refresh secret size")
	}

	raw := make([]byte, 0, len(family)+refreshSecretSize)
	raw = append(raw, family[:]...)
	raw = append(raw, secret...)
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeRefreshToken reverses [EncodeRefreshToken]. Malformed input of any
// kind reports a single generic error.
func DecodeRefreshToken(token string) (familyID string, secret []byte, err error) {
	raw, decErr := base64.RawURLEncoding.DecodeString(token)
	if decErr != nil {
		return "", nil, errors.New("malformed refresh token")
	}
	if len(raw) != 16+refreshSecretSize {
		return "", nil, errors.New("malformed refresh token")
	}

	var family uuid.UUID
	copy(family[:], raw[:16])
	return Compress(family), raw[16:], nil
}

// NewRefreshSecret returns 256 bits of CSPRNG secret material.
func NewRefreshSecret() ([]byte, error) {
	secret := make([]byte, refreshSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// HashRefreshToken is the storage digest for a refresh token. Only this hex
// digest is ever persisted.
func HashRefreshToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
