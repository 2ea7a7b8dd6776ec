package rate

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// touchLua atomically prunes, checks, and records a hit on a sorted set.
// KEYS[1] = window key
// ARGV[1] = cutoff (unix nanos, exclusive)
// ARGV[2] = now (unix nanos)
// ARGV[3] = max hits
// ARGV[4] = window in milliseconds
// ARGV[5] = unique member for this hit
//
// Returns 1 when the caller is over budget (nothing recorded), 0 otherwise.
var touchLua = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
  return 1
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 0
`)

// RedisStore is a [HitStore] over Redis sorted sets, for deployments where
// several instances must enforce one budget.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	seq    func() string
}

// NewRedisStore creates a [HitStore] backed by the given Redis client.
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "prl"
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
		seq:    uniqueMember(),
	}
}

// Touch implements [HitStore].
func (s *RedisStore) Touch(ctx context.Context, key string, now time.Time, window time.Duration, maxHits int) (bool, error) {
	cutoff := now.Add(-window).UnixNano()

	result, err := touchLua.Run(ctx, s.redis,
		[]string{s.prefix + ":" + key},
		cutoff,
		now.UnixNano(),
		maxHits,
		window.Milliseconds(),
		s.seq(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return result == 1, nil
}

// Members must be unique per hit or ZADD would collapse two hits into one.
// A per-process epoch keeps members distinct across restarts too.
func uniqueMember() func() string {
	epoch := strconv.FormatInt(time.Now().UnixNano(), 36)
	var mu sync.Mutex
	var n uint64
	return func() string {
		mu.Lock()
		n++
		v := n
		mu.Unlock()
		return epoch + "-" + strconv.FormatUint(v, 36)
	}
}
