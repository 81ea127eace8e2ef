package action

import (
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/avapipe/internal/config"
	"github.com/vyrodovalexey/avapipe/internal/observability"
	"github.com/vyrodovalexey/avapipe/internal/pipeline"
	"github.com/vyrodovalexey/avapipe/internal/ratelimit"
)

// Spec is what a factory gets to build one action instance.
type Spec struct {
	// Name is the action name as written in the policy step.
	Name string

	// Group is the policy group the step belongs to. Factories use it to
	// namespace per-instance resources.
	Group string

	// Params are the step parameters without the name key.
	Params config.Params

	// Global is the full configuration being built.
	Global *config.Config

	// Logger is scoped to the action and group.
	Logger observability.Logger

	registry *Registry
}

// Decode decodes the parameters into v using yaml struct tags.
func (s Spec) Decode(v any) error {
	return s.Params.Decode(v)
}

// Track registers a resource released by Registry.Close.
func (s Spec) Track(c io.Closer) {
	if s.registry != nil {
		s.registry.track(c)
	}
}

// RedisClient returns the Redis client shared by every action of the
// registry.
func (s Spec) RedisClient() (redis.Scripter, error) {
	if s.registry == nil {
		return nil, errors.New("no action registry")
	}
	return s.registry.redisClient(s.Global)
}

// Factory builds an action instance.
type Factory func(spec Spec) (pipeline.Action, error)

// Registry maps action names to factories. It implements
// pipeline.ActionResolver and owns the resources the built actions hold.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	logger    observability.Logger

	redis       redis.Scripter
	closers     []io.Closer
	ownedClient bool
}

// Option is a functional option for configuring the registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithRedisClient shares an existing Redis client. The registry does not
// close it.
func WithRedisClient(client redis.Scripter) Option {
	return func(r *Registry) {
		r.redis = client
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

// NewDefaultRegistry creates a registry with the built-in actions.
func NewDefaultRegistry(opts ...Option) *Registry {
	r := NewRegistry(opts...)
	registerBuiltins(r)
	return r
}

// Register adds or replaces an action factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve implements pipeline.ActionResolver.
func (r *Registry) Resolve(name, group string) (pipeline.ActionFactory, bool) {
	r.mu.Lock()
	f, ok := r.factories[name]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	return func(params config.Params, global *config.Config) (pipeline.Action, error) {
		return f(Spec{
			Name:   name,
			Group:  group,
			Params: params,
			Global: global,
			Logger: r.logger.With(
				observability.String("action", name),
				observability.String("group", group),
			),
			registry: r,
		})
	}, true
}

func (r *Registry) track(c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, c)
}

func (r *Registry) redisClient(global *config.Config) (redis.Scripter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.redis != nil {
		return r.redis, nil
	}
	if global == nil || global.Redis == nil || global.Redis.Address == "" {
		return nil, errors.New("redis.address is required for the redis store")
	}

	client := ratelimit.NewRedisClient(global.Redis)
	r.redis = client
	r.ownedClient = true
	r.closers = append(r.closers, client)
	return client, nil
}

// Close releases every tracked resource in reverse creation order.
func (r *Registry) Close() error {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	if r.ownedClient {
		r.redis = nil
		r.ownedClient = false
	}
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
