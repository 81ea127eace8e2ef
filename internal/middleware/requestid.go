package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/avapipe/internal/observability"
)

// RequestIDOption is a functional option for the RequestID middleware.
type RequestIDOption func(*requestIDConfig)

type requestIDConfig struct {
	header    string
	generator func() string
}

// WithRequestIDHeader sets the header carrying the request ID.
func WithRequestIDHeader(header string) RequestIDOption {
	return func(c *requestIDConfig) {
		if header != "" {
			c.header = header
		}
	}
}

// WithRequestIDGenerator replaces the uuid generator.
func WithRequestIDGenerator(generator func() string) RequestIDOption {
	return func(c *requestIDConfig) {
		if generator != nil {
			c.generator = generator
		}
	}
}

// RequestID returns a middleware that makes sure every request carries a
// request ID. An incoming ID is kept; otherwise one is generated and set on
// the request so that upstream services see it too. The ID is echoed in the
// response and stored in the request context.
func RequestID(opts ...RequestIDOption) func(http.Handler) http.Handler {
	cfg := &requestIDConfig{
		header:    HeaderXRequestID,
		generator: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(cfg.header)
			if requestID == "" {
				requestID = cfg.generator()
				r.Header.Set(cfg.header, requestID)
			}

			ctx := observability.ContextWithRequestID(r.Context(), requestID)
			r = r.WithContext(ctx)

			w.Header().Set(cfg.header, requestID)

			next.ServeHTTP(w, r)
		})
	}
}
