package middleware

import (
	"bufio"
	"net"
	"net/http"
)

// HeadersConfig contains header manipulation configuration. The yaml tags
// match the parameters of the headers action.
type HeadersConfig struct {
	RequestSet     map[string]string `yaml:"requestSet"`
	RequestAdd     map[string]string `yaml:"requestAdd"`
	RequestRemove  []string          `yaml:"requestRemove"`
	ResponseSet    map[string]string `yaml:"responseSet"`
	ResponseAdd    map[string]string `yaml:"responseAdd"`
	ResponseRemove []string          `yaml:"responseRemove"`
}

// IsEmpty reports whether the configuration changes nothing.
func (c HeadersConfig) IsEmpty() bool {
	return len(c.RequestSet) == 0 && len(c.RequestAdd) == 0 && len(c.RequestRemove) == 0 &&
		!c.hasResponse()
}

func (c HeadersConfig) hasResponse() bool {
	return len(c.ResponseSet) > 0 || len(c.ResponseAdd) > 0 || len(c.ResponseRemove) > 0
}

// Headers returns a middleware that manipulates headers. Response changes
// are applied just before the status line is written, so they also cover
// headers set by later handlers.
func Headers(cfg HeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for key, value := range cfg.RequestSet {
				r.Header.Set(key, value)
			}
			for key, value := range cfg.RequestAdd {
				r.Header.Add(key, value)
			}
			for _, key := range cfg.RequestRemove {
				r.Header.Del(key)
			}

			if !cfg.hasResponse() {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(&headerResponseWriter{ResponseWriter: w, cfg: cfg}, r)
		})
	}
}

// headerResponseWriter wraps http.ResponseWriter to manipulate response headers.
type headerResponseWriter struct {
	http.ResponseWriter
	cfg           HeadersConfig
	headerWritten bool
}

// WriteHeader manipulates headers before writing.
func (rw *headerResponseWriter) WriteHeader(code int) {
	rw.apply()
	rw.ResponseWriter.WriteHeader(code)
}

// Write ensures headers are manipulated before writing body.
func (rw *headerResponseWriter) Write(b []byte) (int, error) {
	rw.apply()
	return rw.ResponseWriter.Write(b)
}

func (rw *headerResponseWriter) apply() {
	if rw.headerWritten {
		return
	}
	rw.headerWritten = true

	h := rw.ResponseWriter.Header()
	for key, value := range rw.cfg.ResponseSet {
		h.Set(key, value)
	}
	for key, value := range rw.cfg.ResponseAdd {
		h.Add(key, value)
	}
	for _, key := range rw.cfg.ResponseRemove {
		h.Del(key)
	}
}

// Flush implements http.Flusher interface for streaming support.
func (rw *headerResponseWriter) Flush() {
	rw.apply()
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker interface for WebSocket support.
func (rw *headerResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *headerResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
