package stores

import (
	"context"
	"testing"
	"time"
)

func TestRevocationIndex(t *testing.T) {
	rdb := newStoreRedis(t)
	index := NewRevocationIndex(rdb, "")
	ctx := context.Background()

	revoked, err := index.IsRevoked(ctx, "jti1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("unknown token id must not be revoked")
	}

	if err := index.Revoke(ctx, "jti1", time.Hour); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	revoked, err = index.IsRevoked(ctx, "jti1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Fatal("expected jti1 revoked")
	}

	sibling, err := index.IsRevoked(ctx, "jti2")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if sibling {
		t.Fatal("jti2 must be unaffected")
	}
}

func TestRevocationIndexSkipsNonPositiveTTL(t *testing.T) {
	rdb := newStoreRedis(t)
	index := NewRevocationIndex(rdb, "")
	ctx := context.Background()

	// A token past its expiry needs no denial entry.
	if err := index.Revoke(ctx, "jti1", 0); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	revoked, err := index.IsRevoked(ctx, "jti1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("zero-ttl revoke must be a no-op")
	}
}
