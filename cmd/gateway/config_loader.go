package main

import (
	"github.com/vyrodovalexey/avapipe/internal/config"
	"github.com/vyrodovalexey/avapipe/internal/observability"
)

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting avapipe",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fatalWithSync(logger, "failed to load configuration", observability.Error(err))
		return nil
	}

	if err := config.ValidateConfig(cfg); err != nil {
		fatalWithSync(logger, "invalid configuration", observability.Error(err))
		return nil
	}

	logger.Info("configuration loaded",
		observability.Int("pipelines", cfg.Pipelines.Len()),
		observability.Int("api_endpoints", cfg.APIEndpoints.Len()),
		observability.String("listen_address", cfg.ListenAddress()),
	)

	return cfg
}

// tracerConfig maps the tracing section onto the tracer settings.
func tracerConfig(cfg *config.Config) observability.TracerConfig {
	tracerCfg := observability.TracerConfig{
		ServiceName:  "avapipe",
		SamplingRate: 1.0,
	}

	if cfg.Tracing != nil {
		tracerCfg.Enabled = cfg.Tracing.Enabled
		tracerCfg.SamplingRate = cfg.Tracing.SamplingRate
		tracerCfg.OTLPEndpoint = cfg.Tracing.OTLPEndpoint
		if cfg.Tracing.ServiceName != "" {
			tracerCfg.ServiceName = cfg.Tracing.ServiceName
		}
	}

	return tracerCfg
}

// initTracer initializes the tracer.
func initTracer(cfg *config.Config, logger observability.Logger) *observability.Tracer {
	tracer, err := observability.NewTracer(tracerConfig(cfg))
	if err != nil {
		fatalWithSync(logger, "failed to initialize tracer", observability.Error(err))
		return nil
	}
	return tracer
}
