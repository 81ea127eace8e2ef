package router

import (
	"fmt"
	"net/http"

	"github.com/vyrodovalexey/avapipe/internal/endpoint"
	"github.com/vyrodovalexey/avapipe/internal/observability"
	"github.com/vyrodovalexey/avapipe/internal/pipeline"
	"github.com/vyrodovalexey/avapipe/internal/util"
)

// defaultPathPattern is used for rules without paths or pathRegex.
const defaultPathPattern = "**"

// ErrorHandler writes the response for a pipeline that failed.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Router dispatches the requests of one virtual host. It is immutable once
// built.
type Router struct {
	hostKey      string
	host         PathMatcher
	routes       []*CompiledRoute
	logger       observability.Logger
	metrics      *observability.Metrics
	errorHandler ErrorHandler
}

// CompiledRoute is a rule with its matchers and pipeline resolved.
type CompiledRoute struct {
	Rule      *endpoint.Rule
	Pipeline  *pipeline.Pipeline
	PathRegex PathMatcher
	Paths     []PathMatcher
}

// Option is a functional option for configuring the router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Router) {
		r.metrics = metrics
	}
}

// WithErrorHandler sets the handler for failed pipelines.
func WithErrorHandler(h ErrorHandler) Option {
	return func(r *Router) {
		r.errorHandler = h
	}
}

// New compiles the router for one host entry. Every rule must have a
// pipeline in pipelines, keyed by endpoint name. Invalid host or path
// patterns and unbound endpoints are reported as
// *util.ConfigurationError.
func New(entry *endpoint.HostEntry, pipelines map[string]*pipeline.Pipeline, opts ...Option) (*Router, error) {
	rt := &Router{
		hostKey:      entry.Key,
		logger:       observability.NopLogger(),
		errorHandler: defaultErrorHandler,
	}
	for _, opt := range opts {
		opt(rt)
	}

	host, err := NewHostKeyMatcher(entry.Key, entry.IsRegex)
	if err != nil {
		return nil, util.NewConfigurationErrorWithCause("apiEndpoints",
			fmt.Sprintf("invalid host pattern %q", entry.Key), err)
	}
	rt.host = host

	rt.routes = make([]*CompiledRoute, 0, len(entry.Routes))
	for _, rule := range entry.Routes {
		route, err := compileRoute(rule, pipelines)
		if err != nil {
			return nil, err
		}
		rt.routes = append(rt.routes, route)
	}

	return rt, nil
}

func compileRoute(rule *endpoint.Rule, pipelines map[string]*pipeline.Pipeline) (*CompiledRoute, error) {
	field := "apiEndpoints." + rule.APIEndpointName

	p, ok := pipelines[rule.APIEndpointName]
	if !ok {
		return nil, util.NewConfigurationError(field, "no pipeline is bound to this apiEndpoint")
	}

	route := &CompiledRoute{Rule: rule, Pipeline: p}

	if rule.PathRegex != "" {
		m, err := NewRegexMatcher(rule.PathRegex)
		if err != nil {
			return nil, util.NewConfigurationErrorWithCause(field+".pathRegex",
				fmt.Sprintf("invalid path regex %q", rule.PathRegex), err)
		}
		route.PathRegex = m
		return route, nil
	}

	patterns := rule.Paths
	if len(patterns) == 0 {
		patterns = []string{defaultPathPattern}
	}
	for _, pattern := range patterns {
		m, err := NewPathMatcher(pattern)
		if err != nil {
			return nil, util.NewConfigurationErrorWithCause(field+".paths",
				fmt.Sprintf("invalid path pattern %q", pattern), err)
		}
		route.Paths = append(route.Paths, m)
	}

	return route, nil
}

// HostKey returns the host key the router serves.
func (rt *Router) HostKey() string {
	return rt.hostKey
}

// Routes returns the compiled routes in match order.
func (rt *Router) Routes() []*CompiledRoute {
	return append([]*CompiledRoute(nil), rt.routes...)
}

// MatchHost reports whether the router serves host. host must not carry
// a port.
func (rt *Router) MatchHost(host string) bool {
	return rt.host.Match(host)
}

// Match returns the first rule that accepts host and path.
func (rt *Router) Match(host, path string) (*endpoint.Rule, bool) {
	if !rt.host.Match(host) {
		return nil, false
	}
	route := rt.matchRoute(path)
	if route == nil {
		return nil, false
	}
	return route.Rule, true
}

// matchRoute walks the routes in order. A route with pathRegex is decided
// by the regex alone.
func (rt *Router) matchRoute(path string) *CompiledRoute {
	for _, route := range rt.routes {
		if route.matches(path) {
			return route
		}
	}
	return nil
}

func (c *CompiledRoute) matches(path string) bool {
	if c.PathRegex != nil {
		return c.PathRegex.Match(path)
	}
	for _, m := range c.Paths {
		if m.Match(path) {
			return true
		}
	}
	return false
}

// Middleware returns the mountable form of the router. Requests for other
// hosts, and requests no route accepts, go to next.
func (rt *Router) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rt.serve(w, r, next)
		})
	}
}

func (rt *Router) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	host := util.StripPort(r.Host)
	if !rt.host.Match(host) {
		next.ServeHTTP(w, r)
		return
	}

	route := rt.matchRoute(r.URL.Path)
	if route == nil {
		rt.metrics.RecordRouteMiss(rt.hostKey)
		next.ServeHTTP(w, r)
		return
	}

	name := route.Rule.APIEndpointName
	rt.metrics.RecordRouteMatch(rt.hostKey, name)
	rt.logger.Debug("route matched",
		observability.String("host", rt.hostKey),
		observability.String("api_endpoint", name),
		observability.String("pipeline", route.Pipeline.Name()),
		observability.String("path", r.URL.Path),
	)

	ec := endpoint.NewContext(route.Rule, rt.hostKey, route.Pipeline.Name())
	r = r.WithContext(endpoint.WithContext(r.Context(), ec))

	if err := route.Pipeline.Execute(w, r, next); err != nil {
		rt.logger.Error("pipeline failed",
			observability.String("api_endpoint", name),
			observability.String("pipeline", route.Pipeline.Name()),
			observability.Error(err),
		)
		rt.errorHandler(w, r, err)
	}
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, _ error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(`{"error":"internal server error"}`))
}
