package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationIndex records individually revoked access-token IDs. Entries are
// set with the token's remaining lifetime so the index never outlives the
// tokens it denies.
type RevocationIndex struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRevocationIndex(redisClient redis.UniversalClient, prefix string) *RevocationIndex {
	if prefix == "" {
		prefix = "prt"
	}
	return &RevocationIndex{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RevocationIndex) key(tokenID string) string {
	return s.prefix + ":jr:" + tokenID
}

func (s *RevocationIndex) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, s.key(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
	}
	return nil
}

// IsRevoked is consulted on every access-token validation. It must stay a
// single EXISTS call.
func (s *RevocationIndex) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
	}
	return n == 1, nil
}
