package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	refreshRecordVersionV1 = 1
)

var (
	ErrRefreshNotFound         = errors.New("refresh token not found")
	ErrRefreshExpired          = errors.New("refresh token expired")
	ErrRefreshReuse            = errors.New("refresh token reuse")
	ErrFamilyRevoked           = errors.New("refresh token family revoked")
	ErrRefreshRedisUnavailable = errors.New("refresh token redis unavailable")
)

// rotateRefreshLua atomically validates and rotates one refresh token. The
// successor record is derived inside the script from the redeemed record:
// same user, same family, fresh lifetime.
// KEYS[1] = redeemed token key
// KEYS[2] = successor token key
// ARGV[1] = current unix timestamp (int string)
// ARGV[2] = successor TTL in seconds (int string)
// ARGV[3] = family-revocation key prefix
//
// Record layout: version(1) revokedAt(8 BE) expiresAt(8 BE) createdAt(8 BE)
// then len-prefixed userID, familyID, role.
//
// Redeeming an already-revoked token is the reuse-after-rotation theft
// signal: the whole family is revoked before the error is returned.
//
// Returns:
//
//	redeemed record bytes on success
//	error string: "not_found", "family_revoked", "reuse", "expired"
var rotateRefreshLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local nowUnix = tonumber(ARGV[1])
local ttlSec = tonumber(ARGV[2])

local function be64(offset)
  local v = 0
  for i = offset, offset + 7 do
    v = v * 256 + string.byte(data, i)
  end
  return v
end

local function be64str(v)
  local r = {}
  for i = 8, 1, -1 do
    r[i] = v % 256
    v = math.floor(v / 256)
  end
  return string.char(r[1], r[2], r[3], r[4], r[5], r[6], r[7], r[8])
end

local version = string.byte(data, 1)
if version ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local revokedAt = be64(2)
local expiresAt = be64(10)

local uidLen = string.byte(data, 26) * 256 + string.byte(data, 27)
local fidOffset = 28 + uidLen
local fidLen = string.byte(data, fidOffset) * 256 + string.byte(data, fidOffset + 1)
local familyID = string.sub(data, fidOffset + 2, fidOffset + 1 + fidLen)
local familyKey = ARGV[3] .. familyID

if redis.call('EXISTS', familyKey) == 1 then
  return {err='family_revoked'}
end

if revokedAt > 0 then
  redis.call('SET', familyKey, '1', 'EX', ttlSec)
  return {err='reuse'}
end

if nowUnix > expiresAt then
  return {err='expired'}
end

local ttlMs = redis.call('PTTL', KEYS[1])
if ttlMs <= 0 then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

local redeemed = string.sub(data, 1, 1) .. be64str(nowUnix) .. string.sub(data, 10)
local successor = string.sub(data, 1, 1) .. string.rep(string.char(0), 8) ..
  be64str(nowUnix + ttlSec) .. be64str(nowUnix) .. string.sub(data, 26)

redis.call('SET', KEYS[1], redeemed, 'PX', ttlMs)
redis.call('SET', KEYS[2], successor, 'EX', ttlSec)
return data
`)

// revokeAllLua revokes every refresh family recorded for a user.
// KEYS[1] = user family-index key
// ARGV[1] = family-revocation key prefix
// ARGV[2] = revocation TTL in seconds (int string)
//
// Returns the number of families revoked.
var revokeAllLua = redis.NewScript(`
local families = redis.call('SMEMBERS', KEYS[1])
for _, fid in ipairs(families) do
  redis.call('SET', ARGV[1] .. fid, '1', 'EX', tonumber(ARGV[2]))
end
redis.call('DEL', KEYS[1])
return #families
`)

type RefreshTokenRecord struct {
	UserID    string
	FamilyID  string
	Role      string
	RevokedAt int64
	ExpiresAt int64
	CreatedAt int64
}

// RefreshTokenStore persists hashed refresh tokens grouped into rotation
// families. Only digests are stored; raw tokens never reach this layer.
type RefreshTokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRefreshTokenStore(redisClient redis.UniversalClient, prefix string) *RefreshTokenStore {
	if prefix == "" {
		prefix = "prt"
	}
	return &RefreshTokenStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RefreshTokenStore) tokenKey(tokenHash string) string {
	return s.prefix + ":t:" + tokenHash
}

func (s *RefreshTokenStore) familyKeyPrefix() string {
	return s.prefix + ":fr:"
}

func (s *RefreshTokenStore) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Create stores the first token of a new family and indexes the family under
// its owner for logout-everywhere.
func (s *RefreshTokenStore) Create(
	ctx context.Context,
	tokenHash string,
	record *RefreshTokenRecord,
	ttl time.Duration,
) error {
	encoded, err := encodeRefreshTokenRecord(record)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.tokenKey(tokenHash), encoded, ttl)
	pipe.SAdd(ctx, s.userKey(record.UserID), record.FamilyID)
	pipe.Expire(ctx, s.userKey(record.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
	}

	return nil
}

// Rotate redeems a token and writes its successor in the same family in one
// atomic step. The redeemed record is returned so the caller can mint the
// successor's access token for the same user.
func (s *RefreshTokenStore) Rotate(
	ctx context.Context,
	providedHash, nextHash string,
	ttl time.Duration,
) (*RefreshTokenRecord, error) {
	result, err := rotateRefreshLua.Run(ctx, s.redis,
		[]string{s.tokenKey(providedHash), s.tokenKey(nextHash)},
		time.Now().Unix(),
		int(ttl.Seconds()),
		s.familyKeyPrefix(),
	).Result()

	if err != nil {
		switch err.Error() {
		case "not_found":
			return nil, ErrRefreshNotFound
		case "family_revoked":
			return nil, ErrFamilyRevoked
		case "reuse":
			return nil, ErrRefreshReuse
		case "expired":
			return nil, ErrRefreshExpired
		default:
			return nil, fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected lua result type", ErrRefreshRedisUnavailable)
	}

	record, decErr := decodeRefreshTokenRecord([]byte(data))
	if decErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, decErr)
	}

	return record, nil
}

// RevokeFamily invalidates every token descended from one original login.
func (s *RefreshTokenStore) RevokeFamily(ctx context.Context, familyID string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.familyKeyPrefix()+familyID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
	}
	return nil
}

// RevokeAllForUser revokes every family owned by the user and returns how
// many were affected. Other users' families are untouched.
func (s *RefreshTokenStore) RevokeAllForUser(ctx context.Context, userID string, ttl time.Duration) (int, error) {
	count, err := revokeAllLua.Run(ctx, s.redis,
		[]string{s.userKey(userID)},
		s.familyKeyPrefix(),
		int(ttl.Seconds()),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
	}
	return count, nil
}

// IsFamilyRevoked is the revocation oracle consulted on the access-token hot
// path: one EXISTS, no row fetch.
func (s *RefreshTokenStore) IsFamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.familyKeyPrefix()+familyID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRefreshRedisUnavailable, err)
	}
	return n == 1, nil
}

func encodeRefreshTokenRecord(record *RefreshTokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(refreshRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.RevokedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}

	for _, field := range []string{record.UserID, record.FamilyID, record.Role} {
		if len(field) > 65535 {
			return nil, errors.New("refresh token field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeRefreshTokenRecord(data []byte) (*RefreshTokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != refreshRecordVersionV1 {
		return nil, errors.New("invalid refresh token record version")
	}

	record := &RefreshTokenRecord{}

	if err := binary.Read(reader, binary.BigEndian, &record.RevokedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}

	for _, target := range []*string{&record.UserID, &record.FamilyID, &record.Role} {
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
