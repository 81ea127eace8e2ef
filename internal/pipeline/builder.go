package pipeline

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avapipe/internal/config"
	"github.com/vyrodovalexey/avapipe/internal/observability"
	"github.com/vyrodovalexey/avapipe/internal/util"
)

// ConditionResolver turns a condition descriptor into a predicate.
type ConditionResolver interface {
	Resolve(cond *config.Condition) (Predicate, error)
}

// ActionFactory creates an Action from its parameters and the full
// configuration.
type ActionFactory func(params config.Params, global *config.Config) (Action, error)

// ActionResolver looks up the factory for an action name. The group name
// is a hint the resolver may use to scope what it returns.
type ActionResolver interface {
	Resolve(name, group string) (ActionFactory, bool)
}

// Builder compiles policy groups into pipelines.
type Builder struct {
	actions    ActionResolver
	conditions ConditionResolver
	logger     observability.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
}

// Option is a functional option for configuring the builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithMetrics sets the metrics recorder used by built pipelines.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(b *Builder) {
		b.metrics = metrics
	}
}

// WithTracer sets the tracer used by built pipelines.
func WithTracer(tracer trace.Tracer) Option {
	return func(b *Builder) {
		b.tracer = tracer
	}
}

// NewBuilder creates a pipeline builder.
func NewBuilder(actions ActionResolver, conditions ConditionResolver, opts ...Option) *Builder {
	b := &Builder{
		actions:    actions,
		conditions: conditions,
		logger:     observability.NopLogger(),
		tracer:     otel.Tracer("avapipe/pipeline"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build compiles policies, in group order and then step order. An action
// name the resolver does not know, a failing action factory and a
// condition that cannot be resolved are all reported as
// *util.ConfigurationError.
func (b *Builder) Build(name string, policies config.PolicyGroups, global *config.Config) (*Pipeline, error) {
	b.logger.Debug("processing pipeline", observability.String("pipeline", name))

	steps := make([]Step, 0, len(policies))
	for _, group := range policies {
		for i := range group.Steps {
			step, err := b.buildStep(name, group.Name, i, &group.Steps[i], global)
			if err != nil {
				return nil, err
			}
			steps = append(steps, step)
		}
	}

	return &Pipeline{
		name:    name,
		steps:   steps,
		logger:  b.logger,
		metrics: b.metrics,
		tracer:  b.tracer,
	}, nil
}

func (b *Builder) buildStep(
	pipelineName, group string,
	index int,
	cfg *config.PolicyStep,
	global *config.Config,
) (Step, error) {
	field := fmt.Sprintf("pipelines.%s.policies.%s[%d]", pipelineName, group, index)
	actionName := cfg.Action.Name

	if b.actions == nil {
		return Step{}, util.NewConfigurationError(field, "no action resolver configured")
	}
	factory, ok := b.actions.Resolve(actionName, group)
	if !ok {
		return Step{}, util.NewConfigurationError(field+".action",
			fmt.Sprintf("could not find action %q for policy %q in pipeline %q", actionName, group, pipelineName))
	}

	action, err := factory(cfg.Action.Params, global)
	if err != nil {
		return Step{}, util.NewConfigurationErrorWithCause(field+".action",
			fmt.Sprintf("invalid parameters for action %q", actionName), err)
	}
	if action == nil {
		return Step{}, util.NewConfigurationError(field+".action",
			fmt.Sprintf("action %q produced no step", actionName))
	}

	var predicate Predicate
	if cfg.Condition != nil {
		if b.conditions == nil {
			return Step{}, util.NewConfigurationError(field+".condition", "no condition resolver configured")
		}
		predicate, err = b.conditions.Resolve(cfg.Condition)
		if err != nil {
			return Step{}, util.NewConfigurationErrorWithCause(field+".condition",
				fmt.Sprintf("invalid condition %q", cfg.Condition.Name), err)
		}
	}

	b.logger.Debug("adding policy step",
		observability.String("pipeline", pipelineName),
		observability.String("group", group),
		observability.String("action", actionName),
		observability.Bool("conditional", predicate != nil),
	)

	return Step{
		Group:      group,
		ActionName: actionName,
		Condition:  predicate,
		Action:     action,
	}, nil
}
