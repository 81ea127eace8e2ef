package condition

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avapipe/internal/config"
	"github.com/vyrodovalexey/avapipe/internal/endpoint"
	"github.com/vyrodovalexey/avapipe/internal/pipeline"
	"github.com/vyrodovalexey/avapipe/internal/util"
)

func resolve(t *testing.T, name string, params config.Params) pipeline.Predicate {
	t.Helper()
	p, err := NewDefaultRegistry().Resolve(&config.Condition{Name: name, Params: params})
	require.NoError(t, err)
	return p
}

func request(method, target string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestBuiltins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cond     string
		params   config.Params
		req      *http.Request
		expected bool
	}{
		{name: "always", cond: NameAlways, req: request("GET", "/", nil), expected: true},
		{name: "never", cond: NameNever, req: request("GET", "/", nil), expected: false},
		{
			name: "path exact", cond: NamePathExact, params: config.Params{"path": "/ping"},
			req: request("GET", "/ping", nil), expected: true,
		},
		{
			name: "path exact ignores query", cond: NamePathExact, params: config.Params{"path": "/ping"},
			req: request("GET", "/ping?x=1", nil), expected: true,
		},
		{
			name: "path exact mismatch", cond: NamePathExact, params: config.Params{"path": "/ping"},
			req: request("GET", "/ping/x", nil), expected: false,
		},
		{
			name: "path regex", cond: NamePathMatch, params: config.Params{"pattern": `^/users/\d+$`},
			req: request("GET", "/users/12", nil), expected: true,
		},
		{
			name: "method list", cond: NameMethod, params: config.Params{"methods": []any{"get", "HEAD"}},
			req: request("HEAD", "/", nil), expected: true,
		},
		{
			name: "method single", cond: NameMethod, params: config.Params{"methods": "POST"},
			req: request("GET", "/", nil), expected: false,
		},
		{
			name: "method wildcard", cond: NameMethod, params: config.Params{"methods": "*"},
			req: request("DELETE", "/", nil), expected: true,
		},
		{
			name: "host glob", cond: NameHostMatch, params: config.Params{"pattern": "*.example.com"},
			req: func() *http.Request {
				r := request("GET", "/", nil)
				r.Host = "API.example.com:8443"
				return r
			}(),
			expected: true,
		},
		{
			name: "header present", cond: NameHeaderMatch, params: config.Params{"header": "X-Debug"},
			req: request("GET", "/", map[string]string{"X-Debug": ""}), expected: true,
		},
		{
			name: "header absent", cond: NameHeaderMatch, params: config.Params{"header": "X-Debug"},
			req: request("GET", "/", nil), expected: false,
		},
		{
			name: "header value regex", cond: NameHeaderMatch,
			params: config.Params{"header": "User-Agent", "value": "^curl/"},
			req:    request("GET", "/", map[string]string{"User-Agent": "curl/8.0"}), expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, resolve(t, tt.cond, tt.params)(tt.req))
		})
	}
}

func TestComposites(t *testing.T) {
	t.Parallel()

	get := map[string]any{"name": NameMethod, "methods": "GET"}
	ping := map[string]any{"name": NamePathExact, "path": "/ping"}

	allOfPred := resolve(t, NameAllOf, config.Params{"conditions": []any{get, ping}})
	oneOfPred := resolve(t, NameOneOf, config.Params{"conditions": []any{get, ping}})
	notPred := resolve(t, NameNot, config.Params{"condition": ping})

	tests := []struct {
		name    string
		req     *http.Request
		allOf   bool
		oneOf   bool
		negated bool
	}{
		{name: "both", req: request("GET", "/ping", nil), allOf: true, oneOf: true, negated: false},
		{name: "method only", req: request("GET", "/x", nil), allOf: false, oneOf: true, negated: true},
		{name: "path only", req: request("POST", "/ping", nil), allOf: false, oneOf: true, negated: false},
		{name: "neither", req: request("POST", "/x", nil), allOf: false, oneOf: false, negated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.allOf, allOfPred(tt.req), "allOf")
			assert.Equal(t, tt.oneOf, oneOfPred(tt.req), "oneOf")
			assert.Equal(t, tt.negated, notPred(tt.req), "not")
		})
	}
}

func TestExpression(t *testing.T) {
	t.Parallel()

	rule := &endpoint.Rule{APIEndpointName: "admin", Scopes: []string{"admin"}, Methods: []string{"GET"}}
	withEndpoint := func(r *http.Request) *http.Request {
		ec := endpoint.NewContext(rule, "*", "internal")
		return r.WithContext(endpoint.WithContext(r.Context(), ec))
	}

	tests := []struct {
		name     string
		expr     string
		req      *http.Request
		expected bool
	}{
		{
			name: "method and path", expr: `request.method == "GET" && request.path.startsWith("/v1/")`,
			req: request("GET", "/v1/users", nil), expected: true,
		},
		{
			name: "header", expr: `request.headers["X-Env"] == "dev"`,
			req: request("GET", "/", map[string]string{"X-Env": "dev"}), expected: true,
		},
		{
			name: "missing header is false", expr: `request.headers["X-Env"] == "dev"`,
			req: request("GET", "/", nil), expected: false,
		},
		{
			name: "query", expr: `request.query["debug"] == "1"`,
			req: request("GET", "/?debug=1", nil), expected: true,
		},
		{
			name: "endpoint scopes", expr: `"admin" in endpoint.scopes && endpoint.name == "admin"`,
			req: withEndpoint(request("GET", "/", nil)), expected: true,
		},
		{
			name: "endpoint pipeline", expr: `endpoint.pipeline == "internal"`,
			req: withEndpoint(request("GET", "/", nil)), expected: true,
		},
		{
			name: "no endpoint context", expr: `endpoint.name == ""`,
			req: request("GET", "/", nil), expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := resolve(t, NameExpression, config.Params{"expression": tt.expr})
			assert.Equal(t, tt.expected, p(tt.req))
		})
	}
}

func TestResolve_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		cond   *config.Condition
		errMsg string
	}{
		{name: "nil", cond: nil, errMsg: "condition is required"},
		{name: "unknown", cond: &config.Condition{Name: "bogus"}, errMsg: `unknown condition "bogus"`},
		{name: "path exact without path", cond: &config.Condition{Name: NamePathExact}, errMsg: "path is required"},
		{
			name:   "bad path regex",
			cond:   &config.Condition{Name: NamePathMatch, Params: config.Params{"pattern": "(["}},
			errMsg: "invalid parameters",
		},
		{name: "method without methods", cond: &config.Condition{Name: NameMethod}, errMsg: "methods is required"},
		{
			name:   "invalid method",
			cond:   &config.Condition{Name: NameMethod, Params: config.Params{"methods": "FETCH"}},
			errMsg: "invalid HTTP method",
		},
		{
			name:   "invalid host glob",
			cond:   &config.Condition{Name: NameHostMatch, Params: config.Params{"pattern": "[a"}},
			errMsg: "invalid glob pattern",
		},
		{
			name:   "invalid header name",
			cond:   &config.Condition{Name: NameHeaderMatch, Params: config.Params{"header": "bad header"}},
			errMsg: "invalid header name",
		},
		{name: "allOf without list", cond: &config.Condition{Name: NameAllOf}, errMsg: "non-empty list"},
		{
			name: "allOf with unknown child",
			cond: &config.Condition{Name: NameAllOf, Params: config.Params{
				"conditions": []any{map[string]any{"name": "bogus"}},
			}},
			errMsg: `unknown condition "bogus"`,
		},
		{name: "not without child", cond: &config.Condition{Name: NameNot}, errMsg: "condition is required"},
		{
			name:   "expression syntax",
			cond:   &config.Condition{Name: NameExpression, Params: config.Params{"expression": "request.method =="}},
			errMsg: "failed to compile expression",
		},
		{
			name:   "expression not bool",
			cond:   &config.Condition{Name: NameExpression, Params: config.Params{"expression": "1 + 2"}},
			errMsg: "expression must return bool",
		},
		{
			name:   "expression undeclared variable",
			cond:   &config.Condition{Name: NameExpression, Params: config.Params{"expression": "user.id == 1"}},
			errMsg: "failed to compile expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := NewDefaultRegistry().Resolve(tt.cond)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.True(t, util.IsConfigurationError(err))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.Empty(t, r.Names())

	r.Register("internal", func(config.Params, *Registry) (pipeline.Predicate, error) {
		return func(req *http.Request) bool { return req.Header.Get("X-Internal") == "1" }, nil
	})
	assert.Equal(t, []string{"internal"}, r.Names())

	p, err := r.Resolve(&config.Condition{Name: "internal"})
	require.NoError(t, err)
	assert.True(t, p(request("GET", "/", map[string]string{"X-Internal": "1"})))

	_, err = r.Resolve(&config.Condition{Name: NameAlways})
	assert.Error(t, err)

	assert.Contains(t, NewDefaultRegistry().Names(), NameExpression)
}
