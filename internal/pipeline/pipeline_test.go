package pipeline

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vyrodovalexey/avapipe/internal/config"
	"github.com/vyrodovalexey/avapipe/internal/observability"
	"github.com/vyrodovalexey/avapipe/internal/util"
)

// recorder collects the names of actions as they run.
type recorder struct {
	calls []string
}

func (rec *recorder) pass(name string) Action {
	return func(w http.ResponseWriter, r *http.Request, next Continue) error {
		rec.calls = append(rec.calls, name)
		return next(w, r)
	}
}

func (rec *recorder) stop(name string, status int) Action {
	return func(w http.ResponseWriter, _ *http.Request, _ Continue) error {
		rec.calls = append(rec.calls, name)
		w.WriteHeader(status)
		return nil
	}
}

// actionMap resolves actions from a fixed map and records group hints.
type actionMap struct {
	mu      sync.Mutex
	actions map[string]Action
	factory map[string]ActionFactory
	groups  []string
}

func (m *actionMap) Resolve(name, group string) (ActionFactory, bool) {
	m.mu.Lock()
	m.groups = append(m.groups, group)
	m.mu.Unlock()
	if f, ok := m.factory[name]; ok {
		return f, true
	}
	a, ok := m.actions[name]
	if !ok {
		return nil, false
	}
	return func(config.Params, *config.Config) (Action, error) { return a, nil }, true
}

// conditionMap resolves conditions from a fixed map.
type conditionMap map[string]Predicate

func (m conditionMap) Resolve(cond *config.Condition) (Predicate, error) {
	p, ok := m[cond.Name]
	if !ok {
		return nil, errors.New("unknown condition")
	}
	return p, nil
}

var (
	always = Predicate(func(*http.Request) bool { return true })
	never  = Predicate(func(*http.Request) bool { return false })
)

func step(action string) config.PolicyStep {
	return config.PolicyStep{Action: config.ActionConfig{Name: action}}
}

func conditionalStep(cond, action string) config.PolicyStep {
	return config.PolicyStep{
		Condition: &config.Condition{Name: cond},
		Action:    config.ActionConfig{Name: action},
	}
}

func notFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
}

func TestPipeline_GroupThenStepOrder(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	actions := &actionMap{actions: map[string]Action{
		"s1": rec.pass("s1"),
		"s2": rec.pass("s2"),
		"s3": rec.pass("s3"),
	}}

	p, err := NewBuilder(actions, conditionMap{}).Build("p", config.PolicyGroups{
		{Name: "A", Steps: []config.PolicyStep{step("s1"), step("s2")}},
		{Name: "B", Steps: []config.PolicyStep{step("s3")}},
	}, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, p.Execute(w, httptest.NewRequest(http.MethodGet, "/", nil), notFound()))

	assert.Equal(t, []string{"s1", "s2", "s3"}, rec.calls)
	assert.Equal(t, []string{"A", "A", "B"}, actions.groups)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 3, p.Len())
	assert.Equal(t, "p", p.Name())
	assert.Equal(t, "B", p.Steps()[2].Group)
}

func TestPipeline_ConditionalSkip(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	actions := &actionMap{actions: map[string]Action{
		"s1": rec.pass("s1"),
		"s2": rec.pass("s2"),
		"s3": rec.stop("s3", http.StatusOK),
	}}

	p, err := NewBuilder(actions, conditionMap{"always": always, "never": never}).Build("p",
		config.PolicyGroups{{Name: "g", Steps: []config.PolicyStep{
			conditionalStep("always", "s1"),
			conditionalStep("never", "s2"),
			step("s3"),
		}}}, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, p.Execute(w, httptest.NewRequest(http.MethodGet, "/", nil), notFound()))

	assert.Equal(t, []string{"s1", "s3"}, rec.calls)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPipeline_ShortCircuit(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	actions := &actionMap{actions: map[string]Action{
		"s1": rec.stop("s1", http.StatusAccepted),
		"s2": rec.pass("s2"),
	}}

	p, err := NewBuilder(actions, nil).Build("p",
		config.PolicyGroups{{Name: "g", Steps: []config.PolicyStep{step("s1"), step("s2")}}}, nil)
	require.NoError(t, err)

	fellThrough := false
	w := httptest.NewRecorder()
	require.NoError(t, p.Execute(w, httptest.NewRequest(http.MethodGet, "/", nil),
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { fellThrough = true })))

	assert.Equal(t, []string{"s1"}, rec.calls)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.False(t, fellThrough)
}

func TestPipeline_ErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	rec := &recorder{}
	actions := &actionMap{actions: map[string]Action{
		"s1": rec.pass("s1"),
		"fail": func(http.ResponseWriter, *http.Request, Continue) error {
			return boom
		},
		"s3": rec.pass("s3"),
	}}

	p, err := NewBuilder(actions, nil).Build("p",
		config.PolicyGroups{{Name: "g", Steps: []config.PolicyStep{step("s1"), step("fail"), step("s3")}}}, nil)
	require.NoError(t, err)

	err = p.Execute(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), notFound())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"s1"}, rec.calls)
}

func TestPipeline_EmptyFallsThrough(t *testing.T) {
	t.Parallel()

	p, err := NewBuilder(&actionMap{}, nil).Build("empty", nil, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, p.Execute(w, httptest.NewRequest(http.MethodGet, "/", nil), notFound()))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.NoError(t, p.Execute(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), nil))
}

func TestPipeline_ConditionSeesDerivedRequest(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	rewrite := func(w http.ResponseWriter, r *http.Request, next Continue) error {
		r2 := r.Clone(r.Context())
		r2.Header.Set("X-Stage", "2")
		return next(w, r2)
	}
	actions := &actionMap{actions: map[string]Action{"rewrite": rewrite, "s2": rec.pass("s2")}}
	conditions := conditionMap{"staged": func(r *http.Request) bool { return r.Header.Get("X-Stage") == "2" }}

	p, err := NewBuilder(actions, conditions).Build("p",
		config.PolicyGroups{{Name: "g", Steps: []config.PolicyStep{step("rewrite"), conditionalStep("staged", "s2")}}}, nil)
	require.NoError(t, err)

	require.NoError(t, p.Execute(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), notFound()))
	assert.Equal(t, []string{"s2"}, rec.calls)
}

func TestBuilder_Errors(t *testing.T) {
	t.Parallel()

	factoryErr := errors.New("bad params")
	actions := &actionMap{
		actions: map[string]Action{"ok": (&recorder{}).pass("ok")},
		factory: map[string]ActionFactory{
			"broken": func(config.Params, *config.Config) (Action, error) { return nil, factoryErr },
			"empty":  func(config.Params, *config.Config) (Action, error) { return nil, nil },
		},
	}

	tests := []struct {
		name       string
		actions    ActionResolver
		conditions ConditionResolver
		steps      []config.PolicyStep
		wantMsg    string
	}{
		{
			name:    "unknown action",
			actions: actions,
			steps:   []config.PolicyStep{step("ok"), step("missing")},
			wantMsg: `could not find action "missing" for policy "g" in pipeline "p"`,
		},
		{
			name:    "factory error",
			actions: actions,
			steps:   []config.PolicyStep{step("broken")},
			wantMsg: "bad params",
		},
		{
			name:    "nil action",
			actions: actions,
			steps:   []config.PolicyStep{step("empty")},
			wantMsg: "produced no step",
		},
		{
			name:       "unknown condition",
			actions:    actions,
			conditions: conditionMap{},
			steps:      []config.PolicyStep{conditionalStep("nope", "ok")},
			wantMsg:    `invalid condition "nope"`,
		},
		{
			name:    "no condition resolver",
			actions: actions,
			steps:   []config.PolicyStep{conditionalStep("always", "ok")},
			wantMsg: "no condition resolver configured",
		},
		{
			name:    "no action resolver",
			steps:   []config.PolicyStep{step("ok")},
			wantMsg: "no action resolver configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := NewBuilder(tt.actions, tt.conditions).Build("p",
				config.PolicyGroups{{Name: "g", Steps: tt.steps}}, nil)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.True(t, util.IsConfigurationError(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestBuilder_PassesParamsAndGlobal(t *testing.T) {
	t.Parallel()

	global := &config.Config{}
	var gotParams config.Params
	var gotGlobal *config.Config
	actions := &actionMap{factory: map[string]ActionFactory{
		"capture": func(params config.Params, g *config.Config) (Action, error) {
			gotParams, gotGlobal = params, g
			return (&recorder{}).pass("capture"), nil
		},
	}}

	_, err := NewBuilder(actions, nil).Build("p", config.PolicyGroups{{Name: "g", Steps: []config.PolicyStep{{
		Action: config.ActionConfig{Name: "capture", Params: config.Params{"status": 201}},
	}}}}, global)
	require.NoError(t, err)

	assert.Equal(t, config.Params{"status": 201}, gotParams)
	assert.Same(t, global, gotGlobal)
}

func TestPipeline_TracingAndMetrics(t *testing.T) {
	t.Parallel()

	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	metrics := observability.NewMetrics("test")

	boom := errors.New("boom")
	actions := &actionMap{actions: map[string]Action{
		"s1": (&recorder{}).pass("s1"),
		"fail": func(http.ResponseWriter, *http.Request, Continue) error {
			return boom
		},
	}}

	p, err := NewBuilder(actions, conditionMap{"never": never},
		WithTracer(provider.Tracer("test")),
		WithMetrics(metrics),
		WithLogger(observability.NopLogger()),
	).Build("traced", config.PolicyGroups{{Name: "g", Steps: []config.PolicyStep{
		conditionalStep("never", "s1"),
		step("fail"),
	}}}, nil)
	require.NoError(t, err)

	err = p.Execute(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), notFound())
	require.ErrorIs(t, err, boom)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "pipeline.execute", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Len(t, ended[0].Events(), 2)

	assert.Equal(t, 1, testutil.CollectAndCount(metrics.Registry(), "test_pipeline_executions_total"))
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.Registry(), "test_pipeline_steps_total"))
}

func TestFromMiddleware(t *testing.T) {
	t.Parallel()

	setHeader := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Mw", "1")
			next.ServeHTTP(w, r)
		})
	}
	block := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
	}

	t.Run("continues", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("downstream")
		w := httptest.NewRecorder()
		err := FromMiddleware(setHeader)(w, httptest.NewRequest(http.MethodGet, "/", nil),
			func(http.ResponseWriter, *http.Request) error { return boom })

		assert.ErrorIs(t, err, boom)
		assert.Equal(t, "1", w.Header().Get("X-Mw"))
	})

	t.Run("handles", func(t *testing.T) {
		t.Parallel()

		called := false
		w := httptest.NewRecorder()
		err := FromMiddleware(block)(w, httptest.NewRequest(http.MethodGet, "/", nil),
			func(http.ResponseWriter, *http.Request) error { called = true; return nil })

		assert.NoError(t, err)
		assert.False(t, called)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
