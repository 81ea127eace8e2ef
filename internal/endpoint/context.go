package endpoint

import (
	"context"
	"net/http"
	"sync"
)

type contextKey struct{}

// Context is the per-request dispatch state: the rule the request matched,
// the host key it matched under, the pipeline it runs, and a value bag
// actions use to pass data to later steps.
type Context struct {
	Rule     *Rule
	HostKey  string
	Pipeline string

	mu     sync.RWMutex
	values map[string]any
}

// NewContext creates a request context.
func NewContext(rule *Rule, hostKey, pipeline string) *Context {
	return &Context{Rule: rule, HostKey: hostKey, Pipeline: pipeline}
}

// Set stores a value for later steps.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = value
}

// Get returns a value stored by an earlier step.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// APIEndpointName returns the matched endpoint name, or "" for a nil
// context.
func (c *Context) APIEndpointName() string {
	if c == nil || c.Rule == nil {
		return ""
	}
	return c.Rule.APIEndpointName
}

// WithContext attaches ec to ctx.
func WithContext(ctx context.Context, ec *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ec)
}

// FromContext returns the request context attached to ctx.
func FromContext(ctx context.Context) (*Context, bool) {
	ec, ok := ctx.Value(contextKey{}).(*Context)
	return ec, ok && ec != nil
}

// FromRequest returns the request context attached to r.
func FromRequest(r *http.Request) (*Context, bool) {
	return FromContext(r.Context())
}
