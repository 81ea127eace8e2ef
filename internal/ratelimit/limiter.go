// Package ratelimit provides the limiters behind the rateLimit action.
// TokenBucketLimiter keeps per-key token buckets in memory, and
// FixedWindowLimiter counts requests per key in Redis so several gateway
// replicas share one budget.
package ratelimit

import (
	"context"
	"time"
)

// Store names accepted by the rateLimit action.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Limiter decides whether one more request is allowed for a key.
type Limiter interface {
	// Allow consumes one unit of the key's budget when available.
	Allow(ctx context.Context, key string) (*Result, error)

	// Close releases background resources owned by the limiter.
	Close() error
}

// Result represents the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Limit is the maximum number of requests allowed.
	Limit int

	// Remaining is the number of requests remaining in the current window.
	Remaining int

	// RetryAfter is the duration to wait before retrying (when not allowed).
	RetryAfter time.Duration
}
