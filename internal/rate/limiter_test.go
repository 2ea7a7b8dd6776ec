package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func exerciseStore(t *testing.T, store HitStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Now()

	// Burst up to the budget.
	for i := 0; i < 3; i++ {
		limited, err := store.Touch(ctx, "email:alice", base, time.Minute, 3)
		if err != nil {
			t.Fatalf("Touch failed: %v", err)
		}
		if limited {
			t.Fatalf("hit %d should be admitted", i+1)
		}
	}

	// Over budget within the window.
	limited, err := store.Touch(ctx, "email:alice", base.Add(time.Second), time.Minute, 3)
	if err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if !limited {
		t.Fatal("fourth hit inside the window should be refused")
	}

	// Other identities keep their own budget.
	limited, err = store.Touch(ctx, "email:bob", base.Add(time.Second), time.Minute, 3)
	if err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if limited {
		t.Fatal("a different key must not share the budget")
	}

	// Once the oldest hits age out the identity is admitted again. The
	// refused fourth call recorded nothing, so nothing lingers from it.
	limited, err = store.Touch(ctx, "email:alice", base.Add(time.Minute+time.Second), time.Minute, 3)
	if err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if limited {
		t.Fatal("hit after the window slid should be admitted")
	}
}

func TestMemoryStoreSlidingWindow(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestRedisStoreSlidingWindow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exerciseStore(t, NewRedisStore(client, ""))
}

func TestMemoryStoreReset(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	if _, err := store.Touch(ctx, "k", now, time.Minute, 1); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	limited, err := store.Touch(ctx, "k", now, time.Minute, 1)
	if err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if !limited {
		t.Fatal("expected the budget to be spent")
	}

	store.Reset()

	limited, err = store.Touch(ctx, "k", now, time.Minute, 1)
	if err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if limited {
		t.Fatal("reset must clear recorded hits")
	}
}

func TestLimiterComposesKeysAndHonorsZeroBudgets(t *testing.T) {
	store := NewMemoryStore()
	limiter := New(store)
	ctx := context.Background()

	// A disabled budget never limits and records nothing.
	for i := 0; i < 5; i++ {
		limited, err := limiter.IsLimited(ctx, "email", "alice@example.com", 0, time.Minute)
		if err != nil {
			t.Fatalf("IsLimited failed: %v", err)
		}
		if limited {
			t.Fatal("zero budget must never limit")
		}
	}

	if _, err := limiter.IsLimited(ctx, "email", "alice@example.com", 1, time.Minute); err != nil {
		t.Fatalf("IsLimited failed: %v", err)
	}

	// Same identity under a different scope key is a separate window.
	limited, err := limiter.IsLimited(ctx, "ip", "alice@example.com", 1, time.Minute)
	if err != nil {
		t.Fatalf("IsLimited failed: %v", err)
	}
	if limited {
		t.Fatal("scopes must not share windows")
	}

	limited, err = limiter.IsLimited(ctx, "email", "alice@example.com", 1, time.Minute)
	if err != nil {
		t.Fatalf("IsLimited failed: %v", err)
	}
	if !limited {
		t.Fatal("second hit in the email scope should be refused")
	}
}
