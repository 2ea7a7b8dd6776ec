package otp

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestNewCode(t *testing.T) {
	for _, digits := range []int{6, 8, 10} {
		code, err := NewCode(digits)
		if err != nil {
			t.Fatalf("NewCode(%d) failed: %v", digits, err)
		}
		if len(code) != digits {
			t.Fatalf("NewCode(%d) returned %q", digits, code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("NewCode(%d) returned non-digit %q", digits, code)
			}
		}
	}

	for _, digits := range []int{0, 5, 11, -1} {
		if _, err := NewCode(digits); err == nil {
			t.Fatalf("NewCode(%d) should be rejected", digits)
		}
	}
}

func TestNewChallengeToken(t *testing.T) {
	a, err := NewChallengeToken()
	if err != nil {
		t.Fatalf("NewChallengeToken failed: %v", err)
	}
	b, err := NewChallengeToken()
	if err != nil {
		t.Fatalf("NewChallengeToken failed: %v", err)
	}

	if a == b {
		t.Fatal("tokens must not repeat")
	}
	if strings.ContainsAny(a, "+/=") {
		t.Fatalf("token is not url-safe: %q", a)
	}
	if len(a) != 43 {
		t.Fatalf("unexpected token length %d", len(a))
	}
}

func TestHashCodeBindsRecipient(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")

	h1 := HashCode(secret, "alice@example.com", "123456")
	h2 := HashCode(secret, "alice@example.com", "123456")
	if h1 != h2 {
		t.Fatal("digest must be deterministic")
	}

	if HashCode(secret, "bob@example.com", "123456") == h1 {
		t.Fatal("digest must differ per recipient")
	}
	if HashCode(secret, "alice@example.com", "654321") == h1 {
		t.Fatal("digest must differ per code")
	}
	if HashCode([]byte("another-secret-another-secret-32"), "alice@example.com", "123456") == h1 {
		t.Fatal("digest must differ per secret")
	}

	raw := HashCodeRaw(secret, "alice@example.com", "123456")
	if hex.EncodeToString(raw[:]) != h1 {
		t.Fatal("HashCode must be the hex form of HashCodeRaw")
	}
}

func TestTimingSafeMatch(t *testing.T) {
	if !TimingSafeMatch("abc123", "abc123") {
		t.Fatal("equal digests must match")
	}
	if TimingSafeMatch("abc123", "abc124") {
		t.Fatal("different digests must not match")
	}
	if TimingSafeMatch("abc123", "abc1234") {
		t.Fatal("different lengths must not match")
	}
	if !TimingSafeMatch("", "") {
		t.Fatal("empty digests are equal")
	}
}

func TestGuardDigest(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")

	if GuardDigest(secret) != GuardDigest(secret) {
		t.Fatal("guard digest must be stable per secret")
	}
	if GuardDigest(secret) == GuardDigest([]byte("another-secret-another-secret-32")) {
		t.Fatal("guard digest must depend on the secret")
	}
	if len(GuardDigest(secret)) != 64 {
		t.Fatal("guard digest must be a full sha256 hex string")
	}
}
