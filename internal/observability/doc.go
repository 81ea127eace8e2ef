// Package observability provides logging, metrics, and tracing for the
// pipeline gateway.
//
// # Logging
//
// Logger is a small interface over zap. Components accept it through a
// functional option and default to NopLogger:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "debug"})
//	logger.Info("pipeline built", observability.String("pipeline", name))
//
// # Metrics
//
// Metrics owns a private Prometheus registry with router and pipeline
// counters. A nil *Metrics is valid and records nothing, so tests and
// library callers can leave it unset.
//
// # Tracing
//
// Tracer wraps an OpenTelemetry provider. Pipelines open one span per
// execution and add an event per policy step.
package observability
