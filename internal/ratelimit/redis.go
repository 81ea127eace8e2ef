package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/avapipe/internal/config"
	"github.com/vyrodovalexey/avapipe/internal/observability"
)

// DefaultKeyPrefix is prepended to every Redis key.
const DefaultKeyPrefix = "ratelimit:"

// Redis client defaults.
const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// fixedWindowScript increments the window counter and starts its expiry on
// the first hit.
// KEYS[1] = key
// ARGV[1] = window in milliseconds
// Returns {count, pttl}.
var fixedWindowScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	return {current, ttl}
`)

// NewRedisClient creates a client for the shared redis settings.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})
}

// FixedWindowLimiter allows limit requests per key in each window, counted
// in Redis. It does not own the client.
type FixedWindowLimiter struct {
	client redis.Scripter
	limit  int
	window time.Duration
	prefix string
	logger observability.Logger
}

var _ Limiter = (*FixedWindowLimiter)(nil)

// RedisOption is a functional option for the fixed window limiter.
type RedisOption func(*FixedWindowLimiter)

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *FixedWindowLimiter) {
		l.prefix = prefix
	}
}

// WithRedisLogger sets the logger.
func WithRedisLogger(logger observability.Logger) RedisOption {
	return func(l *FixedWindowLimiter) {
		l.logger = logger
	}
}

// NewFixedWindowLimiter creates a Redis backed fixed window limiter.
func NewFixedWindowLimiter(
	client redis.Scripter,
	limit int,
	window time.Duration,
	opts ...RedisOption,
) (*FixedWindowLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if limit < 1 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if window < time.Millisecond {
		return nil, fmt.Errorf("window must be at least 1ms, got %s", window)
	}

	l := &FixedWindowLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: DefaultKeyPrefix,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow implements Limiter. Redis failures are returned to the caller.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	key = l.prefix + key

	res, err := fixedWindowScript.Run(ctx, l.client, []string{key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		l.logger.Error("rate limit store failed",
			observability.String("key", key),
			observability.Error(err),
		)
		return nil, fmt.Errorf("rate limit store: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("rate limit store: unexpected reply of %d values", len(res))
	}

	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if ttl < 0 {
		ttl = l.window
	}

	if count <= l.limit {
		return &Result{
			Allowed:   true,
			Limit:     l.limit,
			Remaining: l.limit - count,
		}, nil
	}

	return &Result{
		Allowed:    false,
		Limit:      l.limit,
		RetryAfter: ttl,
	}, nil
}

// Close implements Limiter.
func (l *FixedWindowLimiter) Close() error {
	return nil
}
