package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/workgate"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// rotateJTIScript swaps the current jti only if it still equals ARGV[1]. An
// empty ARGV[2] clears the key.
const rotateJTIScript = `
local current = redis.call("GET", KEYS[1]) or ""
if current ~= ARGV[1] then
  return 0
end
if ARGV[2] == "" then
  redis.call("DEL", KEYS[1])
else
  redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
end
return 1
`

var rotateJTILua = redis.NewScript(rotateJTIScript)

// Store implements workgate.SessionBackend on Redis.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ workgate.SessionBackend = (*Store)(nil)

// NewStore creates a [Store]. ttl bounds how long a current-jti key lives and
// should be at least the longest token lifetime; it is also the blacklist
// lifetime for tokens that are already past their expiry.
func NewStore(client redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "wg"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Store{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *Store) currentKey(kind workgate.PrincipalKind, id int64) string {
	return s.prefix + ":cur:" + string(kind) + ":" + strconv.FormatInt(id, 10)
}

func (s *Store) blacklistKey(jti string) string {
	return s.prefix + ":bl:" + jti
}

// CurrentJTI returns "" when no session is recorded.
func (s *Store) CurrentJTI(ctx context.Context, kind workgate.PrincipalKind, id int64) (string, error) {
	jti, err := s.redis.Get(ctx, s.currentKey(kind, id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return jti, nil
}

func (s *Store) SetCurrentJTI(ctx context.Context, kind workgate.PrincipalKind, id int64, jti string) error {
	key := s.currentKey(kind, id)
	var err error
	if jti == "" {
		err = s.redis.Del(ctx, key).Err()
	} else {
		err = s.redis.Set(ctx, key, jti, s.ttl).Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RotateJTI replaces expected with next in one Lua call.
func (s *Store) RotateJTI(ctx context.Context, kind workgate.PrincipalKind, id int64, expected, next string) (bool, error) {
	res, err := rotateJTILua.Run(ctx, s.redis,
		[]string{s.currentKey(kind, id)},
		expected, next, s.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return res == 1, nil
}

// Blacklist stores jti until expiresAt.
func (s *Store) Blacklist(ctx context.Context, jti string, principalID int64, kind workgate.PrincipalKind, expiresAt time.Time) error {
	now := s.now()
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		ttl = s.ttl
	}

	data, err := Encode(&Entry{
		JTI:         jti,
		PrincipalID: principalID,
		Kind:        string(kind),
		ExpiresAt:   expiresAt.Unix(),
		RevokedAt:   now.Unix(),
	})
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.blacklistKey(jti), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *Store) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.blacklistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// Lookup returns the blacklist entry for jti, or nil when there is none.
func (s *Store) Lookup(ctx context.Context, jti string) (*Entry, error) {
	data, err := s.redis.Get(ctx, s.blacklistKey(jti)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	e, err := Decode(data)
	if err != nil {
		return nil, err
	}
	e.JTI = jti
	return e, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
