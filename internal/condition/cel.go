package condition

import (
	"fmt"
	"net/http"

	"github.com/google/cel-go/cel"

	"github.com/vyrodovalexey/avapipe/internal/endpoint"
	"github.com/vyrodovalexey/avapipe/internal/observability"
	"github.com/vyrodovalexey/avapipe/internal/pipeline"
	"github.com/vyrodovalexey/avapipe/internal/util"
)

// celEvaluator compiles expression conditions against one shared
// environment.
type celEvaluator struct {
	env    *cel.Env
	logger observability.Logger
}

func newCELEvaluator(logger observability.Logger) (*celEvaluator, error) {
	env, err := cel.NewEnv(
		// Request attributes: method, path, host, headers, query
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),

		// Matched endpoint: name, host, methods, scopes, pipeline
		cel.Variable("endpoint", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &celEvaluator{env: env, logger: logger}, nil
}

// compile type-checks expr and returns a predicate for it. The expression
// must produce a bool. A runtime evaluation error makes the predicate
// false.
func (e *celEvaluator) compile(expr string) (pipeline.Predicate, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	return func(r *http.Request) bool {
		out, _, err := program.Eval(activation(r))
		if err != nil {
			e.logger.Debug("expression evaluation failed",
				observability.String("expression", expr),
				observability.Error(err),
			)
			return false
		}
		b, ok := out.Value().(bool)
		return ok && b
	}, nil
}

func activation(r *http.Request) map[string]any {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[http.CanonicalHeaderKey(k)] = v[0]
		}
	}
	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	ep := map[string]any{
		"name":     "",
		"host":     "",
		"pipeline": "",
		"methods":  []string{},
		"scopes":   []string{},
	}
	if ec, ok := endpoint.FromRequest(r); ok {
		ep["pipeline"] = ec.Pipeline
		ep["host"] = ec.HostKey
		if ec.Rule != nil {
			ep["name"] = ec.Rule.APIEndpointName
			ep["methods"] = nonNil(ec.Rule.Methods)
			ep["scopes"] = nonNil(ec.Rule.Scopes)
		}
	}

	return map[string]any{
		"request": map[string]any{
			"method":  r.Method,
			"path":    r.URL.Path,
			"host":    util.StripPort(r.Host),
			"headers": headers,
			"query":   query,
		},
		"endpoint": ep,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
