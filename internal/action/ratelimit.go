package action

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/vyrodovalexey/avapipe/internal/config"
	"github.com/vyrodovalexey/avapipe/internal/observability"
	"github.com/vyrodovalexey/avapipe/internal/pipeline"
	"github.com/vyrodovalexey/avapipe/internal/ratelimit"
	"github.com/vyrodovalexey/avapipe/internal/util"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
)

type rateLimitParams struct {
	RPS       float64         `yaml:"rps"`
	Burst     int             `yaml:"burst"`
	PerClient bool            `yaml:"perClient"`
	KeyHeader string          `yaml:"keyHeader"`
	KeyPrefix string          `yaml:"keyPrefix"`
	Store     string          `yaml:"store"`
	Window    config.Duration `yaml:"window"`
}

// rateLimit rejects requests over budget with *util.RateLimitError, which
// the error handler answers with 429 and Retry-After. The memory store keeps
// token buckets of rps and burst; the redis store allows ceil(rps*window)
// requests per fixed window.
func rateLimit(spec Spec) (pipeline.Action, error) {
	p := rateLimitParams{Store: ratelimit.StoreMemory}
	if err := spec.Decode(&p); err != nil {
		return nil, err
	}
	if p.RPS <= 0 {
		return nil, errors.New("rps must be positive")
	}
	if p.Burst <= 0 {
		p.Burst = int(math.Ceil(p.RPS))
	}

	var keyFn ratelimit.KeyFunc = ratelimit.GlobalKeyFunc
	switch {
	case p.KeyHeader != "":
		if err := util.ValidateHeaderName(p.KeyHeader); err != nil {
			return nil, err
		}
		keyFn = ratelimit.HeaderKeyFunc(p.KeyHeader)
	case p.PerClient:
		keyFn = ratelimit.ClientIPKeyFunc
	}
	prefix := p.KeyPrefix
	if prefix == "" {
		prefix = spec.Group
	}
	keyFn = ratelimit.PrefixKeyFunc(prefix, keyFn)

	limiter, err := newLimiter(spec, p)
	if err != nil {
		return nil, err
	}
	spec.Track(limiter)

	logger := spec.Logger
	return func(w http.ResponseWriter, r *http.Request, next pipeline.Continue) error {
		key := keyFn(r)
		res, err := limiter.Allow(r.Context(), key)
		if err != nil {
			return err
		}

		w.Header().Set(HeaderRateLimitLimit, strconv.Itoa(res.Limit))
		w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))

		if !res.Allowed {
			logger.Warn("rate limit exceeded",
				observability.String("key", key),
				observability.String("path", r.URL.Path),
			)
			return util.NewRateLimitError(res.Limit, retryAfter(res.RetryAfter))
		}
		return next(w, r)
	}, nil
}

func newLimiter(spec Spec, p rateLimitParams) (ratelimit.Limiter, error) {
	switch p.Store {
	case ratelimit.StoreMemory:
		return ratelimit.NewTokenBucketLimiter(p.RPS, p.Burst, ratelimit.WithMemoryLogger(spec.Logger)), nil
	case ratelimit.StoreRedis:
		client, err := spec.RedisClient()
		if err != nil {
			return nil, err
		}
		window := p.Window.OrDefault(time.Second)
		limit := int(math.Ceil(p.RPS * window.Seconds()))
		return ratelimit.NewFixedWindowLimiter(client, limit, window, ratelimit.WithRedisLogger(spec.Logger))
	default:
		return nil, fmt.Errorf("unknown store %q", p.Store)
	}
}

// retryAfter rounds d up to whole seconds, at least one.
func retryAfter(d time.Duration) time.Duration {
	seconds := math.Ceil(d.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}
