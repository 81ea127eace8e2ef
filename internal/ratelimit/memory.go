package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avapipe/internal/observability"
)

// Bucket cleanup defaults.
const (
	// DefaultBucketTTL is how long an idle bucket is kept.
	DefaultBucketTTL = 10 * time.Minute

	// MinCleanupInterval is the minimum interval for cleanup operations.
	MinCleanupInterval = 10 * time.Second

	// MaxCleanupInterval is the maximum interval for cleanup operations.
	MaxCleanupInterval = time.Minute
)

type bucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// TokenBucketLimiter keeps one token bucket per key.
// Call Close to stop the background cleanup goroutine.
type TokenBucketLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket

	ttl       time.Duration
	cleanup   bool
	logger    observability.Logger
	now       func() time.Time
	stopCh    chan struct{}
	closeOnce sync.Once
}

var _ Limiter = (*TokenBucketLimiter)(nil)

// MemoryOption is a functional option for the token bucket limiter.
type MemoryOption func(*TokenBucketLimiter)

// WithBucketTTL sets how long idle buckets are kept.
func WithBucketTTL(ttl time.Duration) MemoryOption {
	return func(l *TokenBucketLimiter) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithoutCleanup disables the background cleanup goroutine. Idle buckets
// can still be removed with CleanupExpired.
func WithoutCleanup() MemoryOption {
	return func(l *TokenBucketLimiter) {
		l.cleanup = false
	}
}

// WithMemoryLogger sets the logger.
func WithMemoryLogger(logger observability.Logger) MemoryOption {
	return func(l *TokenBucketLimiter) {
		l.logger = logger
	}
}

// withClock replaces time.Now in tests.
func withClock(now func() time.Time) MemoryOption {
	return func(l *TokenBucketLimiter) {
		l.now = now
	}
}

// NewTokenBucketLimiter creates a limiter refilling rps tokens per second up
// to burst. A burst below 1 is raised to 1.
func NewTokenBucketLimiter(rps float64, burst int, opts ...MemoryOption) *TokenBucketLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &TokenBucketLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucket),
		ttl:     DefaultBucketTTL,
		cleanup: true,
		logger:  observability.NopLogger(),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cleanup {
		go l.cleanupLoop(cleanupInterval(l.ttl))
	}
	return l
}

// Allow implements Limiter.
func (l *TokenBucketLimiter) Allow(_ context.Context, key string) (*Result, error) {
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastAccess = now
	limiter := b.limiter
	l.mu.Unlock()

	if limiter.AllowN(now, 1) {
		return &Result{
			Allowed:   true,
			Limit:     l.burst,
			Remaining: int(limiter.TokensAt(now)),
		}, nil
	}

	return &Result{
		Allowed:    false,
		Limit:      l.burst,
		RetryAfter: l.retryAfter(limiter, now),
	}, nil
}

// retryAfter is the time until one token is available again, at least a
// second so it can be sent as a Retry-After header.
func (l *TokenBucketLimiter) retryAfter(limiter *rate.Limiter, now time.Time) time.Duration {
	wait := time.Second
	if l.rps > 0 {
		missing := 1 - limiter.TokensAt(now)
		if d := time.Duration(missing / float64(l.rps) * float64(time.Second)); d > wait {
			wait = d
		}
	}
	return wait
}

// Len returns the number of tracked keys.
func (l *TokenBucketLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// CleanupExpired removes buckets idle for longer than the TTL.
func (l *TokenBucketLimiter) CleanupExpired() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastAccess) > l.ttl {
			delete(l.buckets, key)
			removed++
		}
	}

	if removed > 0 {
		l.logger.Debug("cleaned up expired rate limiter entries",
			observability.Int("removed", removed),
			observability.Int("remaining", len(l.buckets)),
		)
	}
	return removed
}

func (l *TokenBucketLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.CleanupExpired()
		case <-l.stopCh:
			return
		}
	}
}

// Close implements Limiter. It is safe to call more than once.
func (l *TokenBucketLimiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCh)
	})
	return nil
}

func cleanupInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval < MinCleanupInterval {
		return MinCleanupInterval
	}
	if interval > MaxCleanupInterval {
		return MaxCleanupInterval
	}
	return interval
}
