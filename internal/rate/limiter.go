package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds login throttle parameters.
type Config struct {
	Prefix           string
	EnableIPThrottle bool
	MaxAttempts      int
	Window           time.Duration
}

// Limiter counts failed logins per identifier and per IP.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter]. A nil client yields a nil Limiter, whose methods allow everything.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if redisClient == nil {
		return nil
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "wg"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Check returns ErrRateLimited when either counter is over budget.
func (l *Limiter) Check(ctx context.Context, kind, identifier, ip string) error {
	if l == nil {
		return nil
	}
	if err := l.checkCounter(ctx, l.identifierKey(kind, identifier)); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, l.ipKey(ip)); err != nil {
			return err
		}
	}
	return nil
}

// Fail records a failed attempt and reports ErrRateLimited once the budget is exceeded.
func (l *Limiter) Fail(ctx context.Context, kind, identifier, ip string) error {
	if l == nil {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.identifierKey(kind, identifier))
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, l.ipKey(ip))
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// Reset clears the identifier counter after a successful login. The IP counter is
// left alone so one valid account cannot launder a spraying IP.
func (l *Limiter) Reset(ctx context.Context, kind, identifier string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.identifierKey(kind, identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the current identifier counter. Missing keys read as zero.
func (l *Limiter) Attempts(ctx context.Context, kind, identifier string) (int, error) {
	if l == nil {
		return 0, nil
	}
	count, err := l.redis.Get(ctx, l.identifierKey(kind, identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) identifierKey(kind, identifier string) string {
	return l.config.Prefix + ":ll:" + kind + ":" + strings.ToLower(strings.TrimSpace(identifier))
}

func (l *Limiter) ipKey(ip string) string {
	return l.config.Prefix + ":lip:" + ip
}

func (l *Limiter) checkCounter(ctx context.Context, key string) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: TTL is set on the first hit only.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}
