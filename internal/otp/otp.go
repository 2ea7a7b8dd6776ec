package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const challengeTokenSize = 32

// NewCode returns a zero-padded numeric one-time code drawn uniformly from
// [0, 10^digits).
func NewCode(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	code := b.String()
	if len(code) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return code, nil
}

// NewChallengeToken returns a 256-bit random token, base64url without padding.
func NewChallengeToken() (string, error) {
	var raw [challengeTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashCodeRaw binds a code (or challenge token) to its recipient address:
// HMAC-SHA256(secret, email | 0x00 | value). A digest leaked for one address
// cannot be replayed against another.
func HashCodeRaw(secret []byte, email, value string) [sha256.Size]byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(email))
	mac.Write([]byte{0})
	mac.Write([]byte(value))

	var digest [sha256.Size]byte
	copy(digest[:], mac.Sum(nil))
	return digest
}

// HashCode is the hex form of HashCodeRaw, used where digests key Redis rows.
func HashCode(secret []byte, email, value string) string {
	digest := HashCodeRaw(secret, email, value)
	return hex.EncodeToString(digest[:])
}

// TimingSafeMatch compares two hex digests in constant time. Differing
// lengths report false without shortcutting on content.
func TimingSafeMatch(a, b string) bool {
	if len(a) != len(b) {
		// Equal-cost comparison against self keeps the length branch from
		// being observably cheaper.
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GuardDigest returns a fixed-cost comparison target for branches where no
// real challenge was found, so "missing" and "wrong code" take the same time.
func GuardDigest(secret []byte) string {
	return HashCode(secret, "timing-guard@invalid.local", "000000")
}
