package gateway

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avapipe/internal/action"
	"github.com/vyrodovalexey/avapipe/internal/condition"
	"github.com/vyrodovalexey/avapipe/internal/config"
	"github.com/vyrodovalexey/avapipe/internal/endpoint"
	"github.com/vyrodovalexey/avapipe/internal/observability"
	"github.com/vyrodovalexey/avapipe/internal/pipeline"
	"github.com/vyrodovalexey/avapipe/internal/router"
)

type bootstrapOptions struct {
	actions    pipeline.ActionResolver
	conditions pipeline.ConditionResolver
	logger     observability.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
}

// BootstrapOption is a functional option for Bootstrap.
type BootstrapOption func(*bootstrapOptions)

// WithActionResolver replaces the built-in action registry. The caller
// owns whatever the resolver allocates.
func WithActionResolver(r pipeline.ActionResolver) BootstrapOption {
	return func(o *bootstrapOptions) {
		o.actions = r
	}
}

// WithConditionResolver replaces the built-in condition registry.
func WithConditionResolver(r pipeline.ConditionResolver) BootstrapOption {
	return func(o *bootstrapOptions) {
		o.conditions = r
	}
}

// WithLogger sets the logger for the builders and routers.
func WithLogger(logger observability.Logger) BootstrapOption {
	return func(o *bootstrapOptions) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics recorder for pipelines and routers.
func WithMetrics(metrics *observability.Metrics) BootstrapOption {
	return func(o *bootstrapOptions) {
		o.metrics = metrics
	}
}

// WithTracer sets the tracer for pipeline spans.
func WithTracer(tracer trace.Tracer) BootstrapOption {
	return func(o *bootstrapOptions) {
		o.tracer = tracer
	}
}

// Bootstrap compiles cfg and mounts one router per host on app, in host
// table order. Nothing is mounted unless every pipeline and router builds.
// Errors are *util.ConfigurationError or config.ValidationErrors.
//
// When no action resolver is given the built-in registry is used and app
// closes it on Close.
func Bootstrap(app *App, cfg *config.Config, opts ...BootstrapOption) (*App, error) {
	o := &bootstrapOptions{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(o)
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	var owned *action.Registry
	if o.actions == nil {
		owned = action.NewDefaultRegistry(action.WithLogger(o.logger))
		o.actions = owned
	}
	if o.conditions == nil {
		o.conditions = condition.NewDefaultRegistry(condition.WithLogger(o.logger))
	}

	routers, err := buildRouters(app, cfg, o)
	if err != nil {
		if owned != nil {
			if cerr := owned.Close(); cerr != nil {
				o.logger.Warn("failed to release action resources", observability.Error(cerr))
			}
		}
		return nil, err
	}

	if owned != nil {
		app.OnClose(owned)
	}
	for _, rt := range routers {
		o.logger.Debug("mounting router",
			observability.String("host", rt.HostKey()),
			observability.Int("routes", len(rt.Routes())),
		)
		app.Use(rt.Middleware())
	}

	o.logger.Info("gateway bootstrapped",
		observability.Int("pipelines", cfg.Pipelines.Len()),
		observability.Int("hosts", len(routers)),
	)
	return app, nil
}

func buildRouters(app *App, cfg *config.Config, o *bootstrapOptions) ([]*router.Router, error) {
	builderOpts := []pipeline.Option{
		pipeline.WithLogger(o.logger),
		pipeline.WithMetrics(o.metrics),
	}
	if o.tracer != nil {
		builderOpts = append(builderOpts, pipeline.WithTracer(o.tracer))
	}
	builder := pipeline.NewBuilder(o.actions, o.conditions, builderOpts...)

	bound := make(map[string]*pipeline.Pipeline)
	for name, pc := range cfg.Pipelines.All() {
		p, err := builder.Build(name, pc.Policies, cfg)
		if err != nil {
			return nil, err
		}
		// ValidateConfig rejects an endpoint bound twice.
		for _, ep := range pc.APIEndpoints {
			bound[ep] = p
		}
	}

	table := endpoint.BuildHostTable(cfg.APIEndpoints, endpoint.WithLogger(o.logger))

	routers := make([]*router.Router, 0, table.Len())
	for _, entry := range table.Hosts() {
		rt, err := router.New(entry, bound,
			router.WithLogger(o.logger),
			router.WithMetrics(o.metrics),
			router.WithErrorHandler(app.HandleError),
		)
		if err != nil {
			return nil, err
		}
		routers = append(routers, rt)
	}
	return routers, nil
}
