package rate

import (
	"context"
	"sort"
	"sync"
	"time"
)

// HitStore records hit timestamps per key. Touch must be atomic with respect
// to concurrent calls on the same key: two callers at the budget boundary
// must not both observe "not yet at limit".
type HitStore interface {
	Touch(ctx context.Context, key string, now time.Time, window time.Duration, maxHits int) (limited bool, err error)
}

// Limiter enforces sliding-window admission budgets on top of a [HitStore].
type Limiter struct {
	store HitStore
	now   func() time.Time
}

// New creates a [Limiter] backed by the given store.
func New(store HitStore) *Limiter {
	return &Limiter{
		store: store,
		now:   time.Now,
	}
}

// IsLimited reports whether the identity has exhausted its budget for the
// scope. A refused call records nothing; an admitted call records one hit.
func (l *Limiter) IsLimited(ctx context.Context, storeKey, identityKey string, maxHits int, window time.Duration) (bool, error) {
	if maxHits <= 0 || window <= 0 {
		return false, nil
	}
	return l.store.Touch(ctx, storeKey+":"+identityKey, l.now(), window, maxHits)
}

// MemoryStore is the default single-instance [HitStore]. Its lifetime is the
// Engine's; restarting the process resets all windows, an accepted trade-off
// favoring simplicity over enforcement across restarts.
type MemoryStore struct {
	mu   sync.Mutex
	hits map[string][]int64
}

// NewMemoryStore creates an empty in-process hit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hits: make(map[string][]int64),
	}
}

// Touch implements [HitStore].
func (s *MemoryStore) Touch(_ context.Context, key string, now time.Time, window time.Duration, maxHits int) (bool, error) {
	cutoff := now.Add(-window).UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	hits := s.hits[key]
	idx := sort.Search(len(hits), func(i int) bool { return hits[i] > cutoff })
	hits = hits[idx:]

	if len(hits) >= maxHits {
		s.hits[key] = hits
		return true, nil
	}

	s.hits[key] = append(hits, now.UnixNano())
	return false, nil
}

// Reset clears all recorded hits. Intended for tests.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = make(map[string][]int64)
}
