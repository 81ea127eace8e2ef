package condition

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/vyrodovalexey/avapipe/internal/config"
	"github.com/vyrodovalexey/avapipe/internal/pipeline"
	"github.com/vyrodovalexey/avapipe/internal/util"
)

// Built-in condition names.
const (
	NameAlways      = "always"
	NameNever       = "never"
	NameAllOf       = "allOf"
	NameOneOf       = "oneOf"
	NameNot         = "not"
	NamePathExact   = "pathExact"
	NamePathMatch   = "pathMatch"
	NameMethod      = "method"
	NameHostMatch   = "hostMatch"
	NameHeaderMatch = "headerMatch"
	NameExpression  = "expression"
)

func registerBuiltins(r *Registry) {
	r.Register(NameAlways, func(config.Params, *Registry) (pipeline.Predicate, error) {
		return func(*http.Request) bool { return true }, nil
	})
	r.Register(NameNever, func(config.Params, *Registry) (pipeline.Predicate, error) {
		return func(*http.Request) bool { return false }, nil
	})
	r.Register(NameAllOf, allOf)
	r.Register(NameOneOf, oneOf)
	r.Register(NameNot, not)
	r.Register(NamePathExact, pathExact)
	r.Register(NamePathMatch, pathMatch)
	r.Register(NameMethod, method)
	r.Register(NameHostMatch, hostMatch)
	r.Register(NameHeaderMatch, headerMatch)
	r.Register(NameExpression, expression)
}

func children(params config.Params, r *Registry) ([]pipeline.Predicate, error) {
	raw, ok := params["conditions"].([]any)
	if !ok || len(raw) == 0 {
		return nil, errors.New("conditions must be a non-empty list")
	}
	preds := make([]pipeline.Predicate, 0, len(raw))
	for i, v := range raw {
		p, err := r.resolveValue(v)
		if err != nil {
			return nil, fmt.Errorf("conditions[%d]: %w", i, err)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func allOf(params config.Params, r *Registry) (pipeline.Predicate, error) {
	preds, err := children(params, r)
	if err != nil {
		return nil, err
	}
	return func(req *http.Request) bool {
		for _, p := range preds {
			if !p(req) {
				return false
			}
		}
		return true
	}, nil
}

func oneOf(params config.Params, r *Registry) (pipeline.Predicate, error) {
	preds, err := children(params, r)
	if err != nil {
		return nil, err
	}
	return func(req *http.Request) bool {
		for _, p := range preds {
			if p(req) {
				return true
			}
		}
		return false
	}, nil
}

func not(params config.Params, r *Registry) (pipeline.Predicate, error) {
	raw, ok := params["condition"]
	if !ok {
		return nil, errors.New("condition is required")
	}
	p, err := r.resolveValue(raw)
	if err != nil {
		return nil, err
	}
	return func(req *http.Request) bool { return !p(req) }, nil
}

func requiredString(params config.Params, key string) (string, error) {
	s := params.String(key)
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

func pathExact(params config.Params, _ *Registry) (pipeline.Predicate, error) {
	path, err := requiredString(params, "path")
	if err != nil {
		return nil, err
	}
	return func(req *http.Request) bool { return req.URL.Path == path }, nil
}

func pathMatch(params config.Params, _ *Registry) (pipeline.Predicate, error) {
	pattern, err := requiredString(params, "pattern")
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return func(req *http.Request) bool { return re.MatchString(req.URL.Path) }, nil
}

func method(params config.Params, _ *Registry) (pipeline.Predicate, error) {
	var p struct {
		Methods config.StringList `yaml:"methods"`
	}
	if err := params.Decode(&p); err != nil {
		return nil, err
	}
	if len(p.Methods) == 0 {
		return nil, errors.New("methods is required")
	}

	allowed := make(map[string]bool, len(p.Methods))
	for _, m := range p.Methods {
		m = strings.ToUpper(m)
		if err := util.ValidateHTTPMethod(m); err != nil {
			return nil, err
		}
		allowed[m] = true
	}
	if allowed["*"] {
		return func(*http.Request) bool { return true }, nil
	}
	return func(req *http.Request) bool { return allowed[req.Method] }, nil
}

// hostMatch tests the request host, without port, against a glob. Host
// names have no path separator, so * spans labels here.
func hostMatch(params config.Params, _ *Registry) (pipeline.Predicate, error) {
	pattern, err := requiredString(params, "pattern")
	if err != nil {
		return nil, err
	}
	pattern = strings.ToLower(pattern)
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	return func(req *http.Request) bool {
		ok, err := doublestar.Match(pattern, strings.ToLower(util.StripPort(req.Host)))
		return err == nil && ok
	}, nil
}

// headerMatch is true when the header is present and, if value is given,
// when the regex matches one of its values.
func headerMatch(params config.Params, _ *Registry) (pipeline.Predicate, error) {
	name, err := requiredString(params, "header")
	if err != nil {
		return nil, err
	}
	if err := util.ValidateHeaderName(name); err != nil {
		return nil, err
	}

	value := params.String("value")
	if value == "" {
		return func(req *http.Request) bool { return len(req.Header.Values(name)) > 0 }, nil
	}

	re, err := regexp.Compile(value)
	if err != nil {
		return nil, err
	}
	return func(req *http.Request) bool {
		for _, v := range req.Header.Values(name) {
			if re.MatchString(v) {
				return true
			}
		}
		return false
	}, nil
}

func expression(params config.Params, r *Registry) (pipeline.Predicate, error) {
	expr, err := requiredString(params, "expression")
	if err != nil {
		return nil, err
	}
	eval, err := r.evaluator()
	if err != nil {
		return nil, err
	}
	return eval.compile(expr)
}
