package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	emailChallengeRecordVersionV1 = 1
)

var (
	ErrChallengeNotFound         = errors.New("email challenge not found")
	ErrChallengeUsed             = errors.New("email challenge already used")
	ErrChallengeExpired          = errors.New("email challenge expired")
	ErrChallengeAttemptsExceeded = errors.New("email challenge attempts exceeded")
	ErrChallengeCodeMismatch     = errors.New("email challenge code mismatch")
	ErrChallengeRedisUnavailable = errors.New("email challenge redis unavailable")
)

// consumeChallengeLua atomically resolves one verification attempt.
// KEYS[1] = record key
// ARGV[1] = provided code hash (32 bytes)
// ARGV[2] = max attempts (int string)
// ARGV[3] = current unix timestamp (int string)
// ARGV[4] = used-grace in milliseconds (int string)
//
// Record layout: version(1) attempts(2 BE) expiresAt(8 BE) usedAt(8 BE)
// codeHash(32) trailing length-prefixed metadata.
//
// Terminal states never mutate: a used, expired, or exhausted challenge is
// reported as-is without touching the attempt counter. Only a live challenge
// with a wrong code increments.
//
// Returns:
//
//	record bytes on success
//	error string: "not_found", "used", "expired", "attempts_exceeded", "code_mismatch"
var consumeChallengeLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local providedHash = ARGV[1]
local maxAttempts = tonumber(ARGV[2])
local nowUnix = tonumber(ARGV[3])
local usedGraceMs = tonumber(ARGV[4])

local version = string.byte(data, 1)
if version ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local a0 = string.byte(data, 2)
local a1 = string.byte(data, 3)
local attempts = a0 * 256 + a1

local function be64(offset)
  local v = 0
  for i = offset, offset + 7 do
    v = v * 256 + string.byte(data, i)
  end
  return v
end

local expiresAt = be64(4)
local usedAt = be64(12)

if usedAt > 0 then
  return {err='used'}
end

if nowUnix > expiresAt then
  return {err='expired'}
end

if attempts >= maxAttempts then
  return {err='attempts_exceeded'}
end

local storedHash = string.sub(data, 20, 51)

if storedHash ~= providedHash then
  attempts = attempts + 1
  local newA0 = math.floor(attempts / 256)
  local newA1 = attempts % 256
  local newData = string.sub(data, 1, 1) .. string.char(newA0, newA1) .. string.sub(data, 4)
  local ttlMs = redis.call('PTTL', KEYS[1])
  if ttlMs <= 0 then
    redis.call('DEL', KEYS[1])
    return {err='expired'}
  end
  redis.call('SET', KEYS[1], newData, 'PX', ttlMs)
  return {err='code_mismatch'}
end

-- Mark used, keep the record observable for the grace window so a replay
-- is reported as "used" rather than "not_found".
local u = {}
local v = nowUnix
for i = 8, 1, -1 do
  u[i] = v % 256
  v = math.floor(v / 256)
end
local usedBytes = string.char(u[1], u[2], u[3], u[4], u[5], u[6], u[7], u[8])
local newData = string.sub(data, 1, 11) .. usedBytes .. string.sub(data, 20)
if usedGraceMs > 0 then
  redis.call('SET', KEYS[1], newData, 'PX', usedGraceMs)
else
  redis.call('DEL', KEYS[1])
end
return data
`)

type EmailChallengeRecord struct {
	ID        string
	Email     string
	IP        string
	UserAgent string
	CodeHash  [32]byte
	Attempts  uint16
	ExpiresAt int64
	UsedAt    int64
	CreatedAt int64
}

type EmailChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewEmailChallengeStore(redisClient redis.UniversalClient, prefix string) *EmailChallengeStore {
	if prefix == "" {
		prefix = "pec"
	}
	return &EmailChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *EmailChallengeStore) key(lookupHash string) string {
	return s.prefix + ":" + lookupHash
}

// Save persists a freshly issued challenge under its lookup hash. The key
// TTL covers the live window plus the used-grace so terminal states stay
// observable; Redis expiry is the garbage collector.
func (s *EmailChallengeStore) Save(
	ctx context.Context,
	lookupHash string,
	record *EmailChallengeRecord,
	ttl time.Duration,
) error {
	encoded, err := encodeEmailChallengeRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(lookupHash), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}

	return nil
}

// Consume resolves one verification attempt atomically. On success the
// challenge transitions to used and its pre-consumption record is returned.
func (s *EmailChallengeStore) Consume(
	ctx context.Context,
	lookupHash string,
	providedHash [32]byte,
	maxAttempts int,
	usedGrace time.Duration,
) (*EmailChallengeRecord, error) {
	key := s.key(lookupHash)
	nowUnix := time.Now().Unix()

	result, err := consumeChallengeLua.Run(ctx, s.redis,
		[]string{key},
		string(providedHash[:]),
		maxAttempts,
		nowUnix,
		usedGrace.Milliseconds(),
	).Result()

	if err != nil {
		switch err.Error() {
		case "not_found":
			return nil, ErrChallengeNotFound
		case "used":
			return nil, ErrChallengeUsed
		case "expired":
			return nil, ErrChallengeExpired
		case "attempts_exceeded":
			return nil, ErrChallengeAttemptsExceeded
		case "code_mismatch":
			return nil, ErrChallengeCodeMismatch
		default:
			return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected lua result type", ErrChallengeRedisUnavailable)
	}

	record, decErr := decodeEmailChallengeRecord([]byte(data))
	if decErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, decErr)
	}

	// Final constant-time comparison in Go as defense-in-depth
	// (Lua already checked, but Lua string comparison is not constant-time)
	if subtle.ConstantTimeCompare(record.CodeHash[:], providedHash[:]) != 1 {
		return nil, ErrChallengeCodeMismatch
	}

	return record, nil
}

func encodeEmailChallengeRecord(record *EmailChallengeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(emailChallengeRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.UsedAt); err != nil {
		return nil, err
	}
	buf.Write(record.CodeHash[:])

	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}
	for _, field := range []string{record.ID, record.Email, record.IP, record.UserAgent} {
		if len(field) > 65535 {
			return nil, errors.New("email challenge field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeEmailChallengeRecord(data []byte) (*EmailChallengeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != emailChallengeRecordVersionV1 {
		return nil, errors.New("invalid email challenge record version")
	}

	record := &EmailChallengeRecord{}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.UsedAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}

	for _, target := range []*string{&record.ID, &record.Email, &record.IP, &record.UserAgent} {
		var fieldLen uint16
		if err := binary.Read(reader, binary.BigEndian, &fieldLen); err != nil {
			return nil, err
		}
		field := make([]byte, fieldLen)
		if _, err := io.ReadFull(reader, field); err != nil {
			return nil, err
		}
		*target = string(field)
	}

	return record, nil
}
