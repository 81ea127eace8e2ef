package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/vyrodovalexey/avapipe/internal/endpoint"
	"github.com/vyrodovalexey/avapipe/internal/middleware"
	"github.com/vyrodovalexey/avapipe/internal/observability"
	"github.com/vyrodovalexey/avapipe/internal/util"
)

// ReverseProxy forwards requests to one service endpoint.
type ReverseProxy struct {
	name      string
	target    *url.URL
	stripPath bool
	timeout   time.Duration
	transport http.RoundTripper
	breaker   *middleware.CircuitBreaker
	logger    observability.Logger
	rp        *httputil.ReverseProxy
}

// Option is a functional option for configuring the proxy.
type Option func(*ReverseProxy)

// WithProxyLogger sets the logger for the proxy.
func WithProxyLogger(logger observability.Logger) Option {
	return func(p *ReverseProxy) {
		p.logger = logger
	}
}

// WithTransport sets the transport for the proxy.
func WithTransport(transport http.RoundTripper) Option {
	return func(p *ReverseProxy) {
		p.transport = transport
	}
}

// WithTimeout bounds each forwarded request.
func WithTimeout(timeout time.Duration) Option {
	return func(p *ReverseProxy) {
		p.timeout = timeout
	}
}

// WithStripPath removes the static prefix of the matched apiEndpoint path
// before forwarding.
func WithStripPath(strip bool) Option {
	return func(p *ReverseProxy) {
		p.stripPath = strip
	}
}

// WithCircuitBreaker guards the backend with cb.
func WithCircuitBreaker(cb *middleware.CircuitBreaker) Option {
	return func(p *ReverseProxy) {
		p.breaker = cb
	}
}

// New creates a proxy for serviceEndpoint, an absolute http(s) URL.
func New(name, serviceEndpoint string, opts ...Option) (*ReverseProxy, error) {
	if err := util.ValidateURL(serviceEndpoint); err != nil {
		return nil, err
	}
	target, err := url.Parse(serviceEndpoint)
	if err != nil {
		return nil, err
	}

	p := &ReverseProxy{
		name:      name,
		target:    target,
		transport: http.DefaultTransport,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.rp = &httputil.ReverseProxy{
		Rewrite:      p.rewrite,
		Transport:    p.transport,
		ErrorHandler: p.captureError,
	}
	return p, nil
}

// Name returns the proxy name.
func (p *ReverseProxy) Name() string {
	return p.name
}

// Target returns the service endpoint URL.
func (p *ReverseProxy) Target() *url.URL {
	return p.target
}

type forwardKey struct{}

// forward carries per-request state between Forward and the
// httputil callbacks.
type forward struct {
	path string
	err  error
}

// Forward proxies the request. A backend answering with any status,
// including 5xx, is a handled request; the 5xx still counts as a breaker
// failure. A transport failure returns *util.BackendError without writing
// a response, and an open breaker returns *util.CircuitOpenError.
func (p *ReverseProxy) Forward(w http.ResponseWriter, r *http.Request) error {
	state := &forward{path: r.URL.Path}
	if p.stripPath {
		if ec, ok := endpoint.FromRequest(r); ok {
			state.path = StripPrefix(r.URL.Path, ec.Rule)
		}
	}

	ctx := context.WithValue(r.Context(), forwardKey{}, state)
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	r = r.WithContext(ctx)

	run := func() error {
		rw := util.NewStatusCapturingResponseWriter(w)
		p.rp.ServeHTTP(rw, r)
		if state.err != nil {
			if errors.Is(state.err, context.Canceled) {
				// The client went away; that says nothing about the backend.
				return nil
			}
			return state.err
		}
		if rw.StatusCode >= http.StatusInternalServerError {
			return util.NewServerError(rw.StatusCode)
		}
		return nil
	}

	var err error
	if p.breaker != nil {
		err = p.breaker.Execute(run)
	} else {
		err = run()
	}

	switch {
	case p.breaker != nil && middleware.IsRejection(err):
		p.logger.Warn("circuit breaker rejected request",
			observability.String("path", r.URL.Path),
			observability.String("state", p.breaker.State().String()),
		)
		return util.NewCircuitOpenError(p.breaker.Name(), p.breaker.State().String())
	case state.err != nil:
		p.logger.Error("proxy error",
			observability.String("target", p.target.String()),
			observability.String("path", r.URL.Path),
			observability.Error(state.err),
		)
		return util.NewBackendErrorWithCause(p.name, "request failed", state.err)
	}
	return nil
}

func (p *ReverseProxy) rewrite(pr *httputil.ProxyRequest) {
	if state, ok := pr.In.Context().Value(forwardKey{}).(*forward); ok && state.path != pr.In.URL.Path {
		pr.Out.URL.Path = state.path
		pr.Out.URL.RawPath = ""
	}
	pr.SetURL(p.target)
	pr.SetXForwarded()
	observability.InjectTraceContext(pr.In.Context(), pr.Out)
}

func (p *ReverseProxy) captureError(_ http.ResponseWriter, r *http.Request, err error) {
	if state, ok := r.Context().Value(forwardKey{}).(*forward); ok {
		state.err = err
	}
}

// StripPrefix removes from path the longest static prefix of the rule's
// path patterns that path starts with, on a segment boundary. The literal
// part of a glob is everything before its first meta character; regex
// rules are left alone.
func StripPrefix(path string, rule *endpoint.Rule) string {
	if rule == nil || rule.PathRegex != "" {
		return path
	}

	best := ""
	for _, pattern := range rule.Paths {
		prefix := pattern
		if i := strings.IndexAny(pattern, `*?[{\`); i >= 0 {
			prefix = pattern[:i]
		}
		prefix = strings.TrimRight(prefix, "/")
		if prefix == "" || len(prefix) <= len(best) {
			continue
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			best = prefix
		}
	}

	stripped := strings.TrimPrefix(path, best)
	if stripped == "" {
		return "/"
	}
	return stripped
}
