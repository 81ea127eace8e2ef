package middleware

import (
	"errors"
	"io"
	"net/http"

	"github.com/vyrodovalexey/avapipe/internal/observability"
)

// ErrBodyTooLarge is returned by the request body once the limit is read.
var ErrBodyTooLarge = errors.New("request body size exceeded")

// BodyLimit returns a middleware that limits the request body size.
// If the declared Content-Length exceeds the limit, it returns a 413
// Request Entity Too Large error. Bodies without a declared length fail
// with ErrBodyTooLarge when read past the limit.
func BodyLimit(maxSize int64, logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				logger.Warn("request body too large",
					observability.Int64("content_length", r.ContentLength),
					observability.Int64("max_size", maxSize),
					observability.String("path", r.URL.Path),
				)

				w.Header().Set(HeaderContentType, ContentTypeJSON)
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = io.WriteString(w, ErrRequestEntityTooLarge)
				return
			}

			if r.Body != nil && r.Body != http.NoBody {
				r.Body = &limitedReadCloser{
					ReadCloser: r.Body,
					remaining:  maxSize,
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// limitedReadCloser wraps an io.ReadCloser and limits the number of bytes that can be read.
type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
}

// Read reads up to len(p) bytes into p, respecting the remaining limit.
// Reading exactly up to the limit is allowed; one more byte fails.
func (l *limitedReadCloser) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrBodyTooLarge
	}

	// Read one byte past the limit to tell "exactly at limit" from "over".
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}

	n, err := l.ReadCloser.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n + int(l.remaining), ErrBodyTooLarge
	}
	return n, err
}
