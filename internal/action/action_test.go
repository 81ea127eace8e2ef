package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avapipe/internal/config"
	"github.com/vyrodovalexey/avapipe/internal/endpoint"
	"github.com/vyrodovalexey/avapipe/internal/observability"
	"github.com/vyrodovalexey/avapipe/internal/pipeline"
	"github.com/vyrodovalexey/avapipe/internal/util"
)

func build(t *testing.T, r *Registry, name string, params config.Params, global *config.Config) pipeline.Action {
	t.Helper()
	factory, ok := r.Resolve(name, "g")
	require.True(t, ok, name)
	a, err := factory(params, global)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func buildErr(t *testing.T, name string, params config.Params, global *config.Config) error {
	t.Helper()
	factory, ok := NewDefaultRegistry().Resolve(name, "g")
	require.True(t, ok, name)
	_, err := factory(params, global)
	return err
}

// terminal writes 204 and records that the pipeline continued.
type terminal struct {
	called bool
	req    *http.Request
}

func (t *terminal) next(w http.ResponseWriter, r *http.Request) error {
	t.called = true
	t.req = r
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewDefaultRegistry()
	assert.Equal(t, []string{
		NameBodyLimit, NameDirectResponse, NameHeaders, NameLog, NameProxy, NameRateLimit, NameRequestID,
	}, r.Names())

	_, ok := r.Resolve("bogus", "g")
	assert.False(t, ok)

	var got Spec
	r.Register("custom", func(spec Spec) (pipeline.Action, error) {
		got = spec
		return func(w http.ResponseWriter, req *http.Request, next pipeline.Continue) error {
			return next(w, req)
		}, nil
	})
	global := &config.Config{}
	build(t, r, "custom", config.Params{"k": "v"}, global)
	assert.Equal(t, "custom", got.Name)
	assert.Equal(t, "g", got.Group)
	assert.Equal(t, "v", got.Params.String("k"))
	assert.Same(t, global, got.Global)
	assert.NotNil(t, got.Logger)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestRegistry_Close(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var order []int
	r.Register("res", func(spec Spec) (pipeline.Action, error) {
		n := len(order)
		spec.Track(closerFunc(func() error {
			order = append(order, n)
			if n == 0 {
				return errors.New("first failed")
			}
			return nil
		}))
		order = append(order, -1)
		return func(http.ResponseWriter, *http.Request, pipeline.Continue) error { return nil }, nil
	})
	build(t, r, "res", nil, nil)
	build(t, r, "res", nil, nil)
	order = nil

	err := r.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first failed")
	assert.Equal(t, []int{1, 0}, order, "closed in reverse order")

	assert.NoError(t, r.Close())
}

func TestHeaders(t *testing.T) {
	t.Parallel()

	a := build(t, NewDefaultRegistry(), NameHeaders, config.Params{
		"requestSet":  map[string]any{"X-Upstream": "1"},
		"responseSet": map[string]any{"X": "1"},
	}, nil)

	term := &terminal{}
	rec := httptest.NewRecorder()
	require.NoError(t, a(rec, httptest.NewRequest(http.MethodGet, "/ping", nil), term.next))

	assert.True(t, term.called)
	assert.Equal(t, "1", term.req.Header.Get("X-Upstream"))
	assert.Equal(t, "1", rec.Header().Get("X"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDirectResponse(t *testing.T) {
	t.Parallel()

	a := build(t, NewDefaultRegistry(), NameDirectResponse, config.Params{
		"status":      201,
		"body":        `{"ok":true}`,
		"contentType": "application/json",
		"headers":     map[string]any{"X-Served-By": "gateway"},
	}, nil)

	term := &terminal{}
	rec := httptest.NewRecorder()
	require.NoError(t, a(rec, httptest.NewRequest(http.MethodGet, "/", nil), term.next))

	assert.False(t, term.called)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "gateway", rec.Header().Get("X-Served-By"))

	a = build(t, NewDefaultRegistry(), NameDirectResponse, nil, nil)
	rec = httptest.NewRecorder()
	require.NoError(t, a(rec, httptest.NewRequest(http.MethodGet, "/", nil), term.next))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	a := build(t, NewDefaultRegistry(), NameRequestID, config.Params{"header": "X-Correlation-ID"}, nil)

	term := &terminal{}
	rec := httptest.NewRecorder()
	require.NoError(t, a(rec, httptest.NewRequest(http.MethodGet, "/", nil), term.next))

	id := rec.Header().Get("X-Correlation-ID")
	assert.NotEmpty(t, id)
	assert.Equal(t, id, term.req.Header.Get("X-Correlation-ID"))
	assert.Equal(t, id, observability.RequestIDFromContext(term.req.Context()))
}

func TestLog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := observability.NewLoggerWithWriter(observability.LogConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)

	a := build(t, NewDefaultRegistry(WithLogger(logger)), NameLog,
		config.Params{"message": "hit", "level": "warn"}, nil)

	rule := &endpoint.Rule{APIEndpointName: "api"}
	req := httptest.NewRequest(http.MethodGet, "/v1/x", nil)
	req = req.WithContext(endpoint.WithContext(req.Context(), endpoint.NewContext(rule, "*", "main")))

	term := &terminal{}
	require.NoError(t, a(httptest.NewRecorder(), req, term.next))
	assert.True(t, term.called)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "hit", entry["message"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "/v1/x", entry["path"])
	assert.Equal(t, "api", entry["api_endpoint"])
	assert.Equal(t, "main", entry["pipeline"])
	assert.Equal(t, NameLog, entry["action"])
	assert.Equal(t, "g", entry["group"])
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()

	a := build(t, NewDefaultRegistry(), NameBodyLimit, config.Params{"maxBytes": 4}, nil)

	term := &terminal{}
	rec := httptest.NewRecorder()
	require.NoError(t, a(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")), term.next))
	assert.False(t, term.called)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRateLimit_Memory(t *testing.T) {
	t.Parallel()

	r := NewDefaultRegistry()
	defer r.Close()
	a := build(t, r, NameRateLimit, config.Params{"rps": 1, "burst": 1, "perClient": true}, nil)

	send := func(remote string) (*httptest.ResponseRecorder, *terminal, error) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		term := &terminal{}
		err := a(rec, req, term.next)
		return rec, term, err
	}

	rec, _, err := send("10.0.0.1:1000")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(HeaderRateLimitLimit))
	assert.Equal(t, "0", rec.Header().Get(HeaderRateLimitRemaining))

	rec, term, err := send("10.0.0.1:1001")
	require.ErrorIs(t, err, util.ErrRateLimited)
	assert.False(t, term.called)
	var rle *util.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 1, rle.Limit)
	assert.GreaterOrEqual(t, rle.RetryAfter, time.Second)
	assert.Zero(t, rle.RetryAfter%time.Second, "whole seconds")
	assert.Equal(t, "0", rec.Header().Get(HeaderRateLimitRemaining))

	rec, _, err = send("10.0.0.2:1000")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code, "other clients have their own budget")
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{in: 0, want: time.Second},
		{in: 200 * time.Millisecond, want: time.Second},
		{in: time.Second, want: time.Second},
		{in: 1500 * time.Millisecond, want: 2 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, retryAfter(tt.in), tt.in.String())
	}
}

func TestRateLimit_Redis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	global := &config.Config{Redis: &config.RedisConfig{Address: mr.Addr()}}

	r := NewDefaultRegistry()
	a := build(t, r, NameRateLimit, config.Params{"rps": 2, "store": "redis", "window": "1s"}, global)

	send := func() error {
		return a(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), (&terminal{}).next)
	}

	require.NoError(t, send())
	require.NoError(t, send())
	err := send()
	require.ErrorIs(t, err, util.ErrRateLimited)
	var rle *util.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 2, rle.Limit)
	assert.Equal(t, time.Second, rle.RetryAfter)
	assert.True(t, mr.Exists("ratelimit:g:global"))

	mr.Close()
	err = a(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), (&terminal{}).next)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit store")

	assert.NoError(t, r.Close())
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		action string
		params config.Params
		global *config.Config
		errMsg string
	}{
		{name: "headers empty", action: NameHeaders, errMsg: "at least one header operation"},
		{
			name: "headers bad name", action: NameHeaders,
			params: config.Params{"responseSet": map[string]any{"bad header": "1"}}, errMsg: "invalid header name",
		},
		{name: "direct bad status", action: NameDirectResponse, params: config.Params{"status": 42}, errMsg: "status code"},
		{name: "request id bad header", action: NameRequestID, params: config.Params{"header": "a b"}, errMsg: "invalid header name"},
		{name: "log bad level", action: NameLog, params: config.Params{"level": "loud"}, errMsg: "invalid log level"},
		{name: "body limit zero", action: NameBodyLimit, errMsg: "maxBytes must be positive"},
		{name: "rate limit no rps", action: NameRateLimit, errMsg: "rps must be positive"},
		{
			name: "rate limit unknown store", action: NameRateLimit,
			params: config.Params{"rps": 1, "store": "disk"}, errMsg: `unknown store "disk"`,
		},
		{
			name: "rate limit redis without settings", action: NameRateLimit,
			params: config.Params{"rps": 1, "store": "redis"}, global: &config.Config{}, errMsg: "redis.address is required",
		},
		{
			name: "rate limit bad window", action: NameRateLimit,
			params: config.Params{"rps": 1, "window": "soon"}, errMsg: "invalid duration",
		},
		{name: "proxy no endpoint", action: NameProxy, errMsg: "serviceEndpoint is required"},
		{
			name: "proxy bad scheme", action: NameProxy,
			params: config.Params{"serviceEndpoint": "ftp://files"}, errMsg: "scheme must be http or https",
		},
		{
			name: "proxy negative idle conns", action: NameProxy,
			params: config.Params{"serviceEndpoint": "http://users", "maxIdleConnsPerHost": -1},
			errMsg: "maxIdleConnsPerHost must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := buildErr(t, tt.action, tt.params, tt.global)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestProxy(t *testing.T) {
	t.Parallel()

	paths := make(chan string, 1)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer backend.Close()

	a := build(t, NewDefaultRegistry(), NameProxy, config.Params{
		"serviceEndpoint": backend.URL,
		"stripPath":       true,
		"circuitBreaker":  map[string]any{"threshold": 1, "timeout": "1m"},
	}, nil)

	rule := &endpoint.Rule{APIEndpointName: "users", Paths: []string{"/users/**"}}
	req := httptest.NewRequest(http.MethodGet, "/users/42", nil)
	req = req.WithContext(endpoint.WithContext(req.Context(), endpoint.NewContext(rule, "*", "p")))

	term := &terminal{}
	rec := httptest.NewRecorder()
	require.NoError(t, a(rec, req, term.next))
	assert.False(t, term.called)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/42", <-paths)
}

func TestProxy_TunedTransport(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	a := build(t, NewDefaultRegistry(), NameProxy, config.Params{
		"serviceEndpoint":     backend.URL,
		"maxIdleConnsPerHost": 4,
		"idleConnTimeout":     "30s",
	}, nil)

	rec := httptest.NewRecorder()
	require.NoError(t, a(rec, httptest.NewRequest(http.MethodGet, "/", nil), (&terminal{}).next))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProxyParams_Transport(t *testing.T) {
	t.Parallel()

	rt, err := (&proxyParams{}).transport()
	require.NoError(t, err)
	assert.Nil(t, rt, "untuned proxies share the default transport")

	rt, err = (&proxyParams{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     config.Duration(30 * time.Second),
	}).transport()
	require.NoError(t, err)
	tr, ok := rt.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 4, tr.MaxIdleConnsPerHost)
	assert.Equal(t, 30*time.Second, tr.IdleConnTimeout)
	assert.NotSame(t, http.DefaultTransport, rt)
}

func TestProxy_BackendDown(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.NotFoundHandler())
	url := backend.URL
	backend.Close()

	a := build(t, NewDefaultRegistry(), NameProxy, config.Params{
		"serviceEndpoint": url,
		"circuitBreaker":  map[string]any{"threshold": 1, "timeout": "1m"},
	}, nil)

	err := a(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), (&terminal{}).next)
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrBackendUnavail)

	err = a(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), (&terminal{}).next)
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrCircuitOpen)
}
