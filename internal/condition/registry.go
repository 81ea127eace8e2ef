package condition

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vyrodovalexey/avapipe/internal/config"
	"github.com/vyrodovalexey/avapipe/internal/observability"
	"github.com/vyrodovalexey/avapipe/internal/pipeline"
	"github.com/vyrodovalexey/avapipe/internal/util"
)

// Factory builds a predicate from condition parameters. Composite
// conditions resolve their children through the registry they are given.
type Factory func(params config.Params, r *Registry) (pipeline.Predicate, error)

// Registry maps condition names to factories. It implements
// pipeline.ConditionResolver.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    observability.Logger

	celOnce sync.Once
	cel     *celEvaluator
	celErr  error
}

// Option is a functional option for configuring the registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefaultRegistry creates a registry with the built-in conditions.
func NewDefaultRegistry(opts ...Option) *Registry {
	r := NewRegistry(opts...)
	registerBuiltins(r)
	return r
}

// Register adds or replaces a condition factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns the registered condition names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve implements pipeline.ConditionResolver.
func (r *Registry) Resolve(cond *config.Condition) (pipeline.Predicate, error) {
	if cond == nil {
		return nil, util.NewConfigurationError("condition", "condition is required")
	}

	r.mu.RLock()
	f, ok := r.factories[cond.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, util.NewConfigurationError("condition", fmt.Sprintf("unknown condition %q", cond.Name))
	}

	predicate, err := f(cond.Params, r)
	if err != nil {
		return nil, util.NewConfigurationErrorWithCause("condition",
			fmt.Sprintf("invalid parameters for condition %q", cond.Name), err)
	}
	return predicate, nil
}

// resolveValue resolves a nested condition descriptor taken from params.
func (r *Registry) resolveValue(v any) (pipeline.Predicate, error) {
	cond, err := config.ConditionFromValue(v)
	if err != nil {
		return nil, err
	}
	return r.Resolve(cond)
}

// evaluator returns the shared CEL evaluator, creating it on first use.
func (r *Registry) evaluator() (*celEvaluator, error) {
	r.celOnce.Do(func() {
		r.cel, r.celErr = newCELEvaluator(r.logger)
	})
	return r.cel, r.celErr
}
