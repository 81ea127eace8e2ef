package ratelimit

import (
	"net/http"
	"strings"

	"github.com/vyrodovalexey/avapipe/internal/util"
)

// GlobalKey is the key shared by every request when limiting is not per client.
const GlobalKey = "global"

// KeyFunc extracts a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// GlobalKeyFunc puts every request in the same bucket.
func GlobalKeyFunc(*http.Request) string {
	return GlobalKey
}

// ClientIPKeyFunc keys requests by client IP.
func ClientIPKeyFunc(r *http.Request) string {
	return util.ClientIP(r)
}

// HeaderKeyFunc keys requests by a header value, falling back to the
// client IP when the header is absent.
func HeaderKeyFunc(header string) KeyFunc {
	return func(r *http.Request) string {
		if value := r.Header.Get(header); value != "" {
			return value
		}
		return util.ClientIP(r)
	}
}

// PrefixKeyFunc namespaces the keys produced by fn.
func PrefixKeyFunc(prefix string, fn KeyFunc) KeyFunc {
	if prefix == "" {
		return fn
	}
	return func(r *http.Request) string {
		return strings.Join([]string{prefix, fn(r)}, ":")
	}
}
