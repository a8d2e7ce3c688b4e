package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds one limiter's budget. A zero Max disables the limiter.
type Config struct {
	Max    int
	Window time.Duration
}

// Limiter enforces a fixed-window budget per subject within one scope.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	scope  string
	config Config
}

// New creates a [Limiter] for scope backed by the given Redis client.
func New(redisClient redis.UniversalClient, prefix, scope string, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
		scope:  scope,
		config: cfg,
	}
}

// Enabled reports whether the limiter counts anything.
func (l *Limiter) Enabled() bool {
	return l != nil && l.config.Max > 0 && l.config.Window > 0
}

// Check returns ErrRateLimited when subject has already spent its budget.
// It does not count an attempt.
func (l *Limiter) Check(ctx context.Context, subject string) error {
	if !l.Enabled() {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(subject)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(l.config.Max) {
		return ErrRateLimited
	}
	return nil
}

// Hit counts one attempt for subject and returns ErrRateLimited when the
// attempt exceeds the budget.
func (l *Limiter) Hit(ctx context.Context, subject string) error {
	if !l.Enabled() {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.key(subject))
	if err != nil {
		return err
	}
	if count > int64(l.config.Max) {
		return ErrRateLimited
	}
	return nil
}

// Reset clears subject's counter, e.g. after a successful sign-in.
func (l *Limiter) Reset(ctx context.Context, subject string) error {
	if !l.Enabled() {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the current counter for subject. Missing keys return zero.
func (l *Limiter) Attempts(ctx context.Context, subject string) (int, error) {
	if !l.Enabled() {
		return 0, nil
	}
	count, err := l.redis.Get(ctx, l.key(subject)).Int64()
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

func (l *Limiter) key(subject string) string {
	return l.prefix + ":rl:" + l.scope + ":" + subject
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}
