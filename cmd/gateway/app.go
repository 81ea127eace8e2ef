package main

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/avapipe/internal/action"
	"github.com/vyrodovalexey/avapipe/internal/config"
	"github.com/vyrodovalexey/avapipe/internal/gateway"
	"github.com/vyrodovalexey/avapipe/internal/health"
	"github.com/vyrodovalexey/avapipe/internal/observability"
	"github.com/vyrodovalexey/avapipe/internal/ratelimit"
)

// application holds all application components.
type application struct {
	server        *gateway.Server
	healthChecker *health.Checker
	metrics       *observability.Metrics
	metricsServer *http.Server
	tracer        *observability.Tracer
	redis         *redis.Client
	logger        observability.Logger

	mu      sync.Mutex
	config  *config.Config
	mounted *gateway.App
}

// initApplication initializes all application components.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	metrics := observability.NewMetrics("gateway")
	metrics.SetBuildInfo(version, gitCommit, buildTime)

	app := &application{
		healthChecker: health.NewChecker(version),
		metrics:       metrics,
		tracer:        initTracer(cfg, logger),
		logger:        logger,
	}

	// The client is shared by every rebuilt gateway; a changed redis
	// section takes effect on restart.
	if cfg.Redis != nil {
		app.redis = ratelimit.NewRedisClient(cfg.Redis)
		app.healthChecker.RegisterCheck("redis", health.RedisCheck(app.redis))
	}

	mounted, handler, err := app.build(cfg)
	if err != nil {
		fatalWithSync(logger, "failed to bootstrap gateway", observability.Error(err))
		return nil
	}

	app.config = cfg
	app.mounted = mounted
	app.server = gateway.NewServer(handler,
		gateway.WithHTTPConfig(cfg.HTTP),
		gateway.WithServerLogger(logger),
	)
	app.healthChecker.RegisterCheck("gateway", health.ServerCheck(app.server.IsRunning))

	return app
}

// build bootstraps a fresh App for cfg and wraps it in the request chain.
func (a *application) build(cfg *config.Config) (*gateway.App, http.Handler, error) {
	registryOpts := []action.Option{action.WithLogger(a.logger)}
	if a.redis != nil {
		registryOpts = append(registryOpts, action.WithRedisClient(a.redis))
	}
	actions := action.NewDefaultRegistry(registryOpts...)

	opts := []gateway.BootstrapOption{
		gateway.WithActionResolver(actions),
		gateway.WithLogger(a.logger),
		gateway.WithMetrics(a.metrics),
	}
	if a.tracer != nil {
		opts = append(opts, gateway.WithTracer(a.tracer.Tracer()))
	}

	mounted, err := gateway.Bootstrap(gateway.NewApp(gateway.WithAppLogger(a.logger)), cfg, opts...)
	if err != nil {
		if cerr := actions.Close(); cerr != nil {
			a.logger.Warn("failed to release action resources", observability.Error(cerr))
		}
		return nil, nil, err
	}
	mounted.OnClose(actions)

	return mounted, buildMiddlewareChain(mounted, a.logger, a.tracer), nil
}

// reload swaps in an App built from cfg. The previous App keeps serving
// when the new one fails to build; the watcher's error callback counts
// that failure.
func (a *application) reload(cfg *config.Config) error {
	mounted, handler, err := a.build(cfg)
	if err != nil {
		return fmt.Errorf("rebuild gateway: %w", err)
	}

	a.mu.Lock()
	previous := a.mounted
	a.mounted = mounted
	a.config = cfg
	a.mu.Unlock()

	a.server.SetHandler(handler)
	a.metrics.RecordReload(true)

	if previous != nil {
		if err := previous.Close(); err != nil {
			a.logger.Warn("failed to release previous gateway resources", observability.Error(err))
		}
	}

	a.logger.Info("gateway reloaded",
		observability.Int("pipelines", cfg.Pipelines.Len()),
		observability.Int("routers", mounted.Len()),
	)
	return nil
}

// currentConfig returns the configuration being served.
func (a *application) currentConfig() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

// close releases the mounted App and the shared Redis client.
func (a *application) close() error {
	a.mu.Lock()
	mounted := a.mounted
	a.mounted = nil
	a.mu.Unlock()

	var err error
	if mounted != nil {
		err = mounted.Close()
	}
	if a.redis != nil {
		if cerr := a.redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
		a.redis = nil
	}
	return err
}
