package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCeremonyNotFound         = errors.New("webauthn ceremony not found")
	ErrCeremonyRedisUnavailable = errors.New("webauthn ceremony redis unavailable")
)

// WebAuthnChallengeStore holds pending ceremony session data, keyed by the
// ceremony challenge. Records are one-shot: Consume removes atomically, so a
// ceremony response can never verify twice, and Redis TTL expires abandoned
// ceremonies.
type WebAuthnChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewWebAuthnChallengeStore(redisClient redis.UniversalClient, prefix string) *WebAuthnChallengeStore {
	if prefix == "" {
		prefix = "pwc"
	}
	return &WebAuthnChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *WebAuthnChallengeStore) key(challenge string) string {
	return s.prefix + ":" + challenge
}

func (s *WebAuthnChallengeStore) Save(ctx context.Context, challenge string, sessionData []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(challenge), sessionData, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCeremonyRedisUnavailable, err)
	}
	return nil
}

func (s *WebAuthnChallengeStore) Consume(ctx context.Context, challenge string) ([]byte, error) {
	data, err := s.redis.GetDel(ctx, s.key(challenge)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCeremonyNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrCeremonyRedisUnavailable, err)
	}
	return data, nil
}
