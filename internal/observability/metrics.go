package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline outcome label values.
const (
	OutcomeHandled     = "handled"
	OutcomeFallthrough = "fallthrough"
	OutcomeFailed      = "failed"
)

// Step result label values.
const (
	StepExecuted = "executed"
	StepSkipped  = "skipped"
)

// Metrics holds all Prometheus metrics for the dispatch core. All methods
// are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	routeMatches       *prometheus.CounterVec
	routeMisses        *prometheus.CounterVec
	pipelineExecutions *prometheus.CounterVec
	pipelineDuration   *prometheus.HistogramVec
	steps              *prometheus.CounterVec
	reloads            *prometheus.CounterVec
	buildInfo          *prometheus.GaugeVec
	startTime          prometheus.Gauge
	registry           *prometheus.Registry
}

// NewMetrics creates a new Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.routeMatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "route_matches_total",
			Help:      "Total number of requests bound to an API endpoint",
		},
		[]string{"host", "endpoint"},
	)

	m.routeMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "route_misses_total",
			Help: "Total number of requests a virtual host " +
				"declined because no route matched",
		},
		[]string{"host"},
	)

	m.pipelineExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "executions_total",
			Help:      "Total number of pipeline executions by outcome",
		},
		[]string{"pipeline", "outcome"},
	)

	m.pipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Pipeline execution duration in seconds",
			Buckets: []float64{
				.0005, .001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"pipeline", "outcome"},
	)

	m.steps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "steps_total",
			Help: "Total number of policy steps evaluated, " +
				"by whether the action ran or its condition skipped it",
		},
		[]string{"pipeline", "action", "result"},
	)

	m.reloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Total number of configuration reload attempts",
		},
		[]string{"result"},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information for the gateway",
		},
		[]string{"version", "commit", "build_time"},
	)

	m.startTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Start time of the gateway in unix seconds",
		},
	)

	m.registry.MustRegister(
		m.routeMatches,
		m.routeMisses,
		m.pipelineExecutions,
		m.pipelineDuration,
		m.steps,
		m.reloads,
		m.buildInfo,
		m.startTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.startTime.SetToCurrentTime()

	return m
}

// RecordRouteMatch records a request bound to an endpoint under a host key.
func (m *Metrics) RecordRouteMatch(host, endpoint string) {
	if m == nil {
		return
	}
	m.routeMatches.WithLabelValues(host, endpoint).Inc()
}

// RecordRouteMiss records a request declined by a host router.
func (m *Metrics) RecordRouteMiss(host string) {
	if m == nil {
		return
	}
	m.routeMisses.WithLabelValues(host).Inc()
}

// RecordPipeline records one finished pipeline execution.
func (m *Metrics) RecordPipeline(pipeline, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.pipelineExecutions.WithLabelValues(pipeline, outcome).Inc()
	m.pipelineDuration.WithLabelValues(pipeline, outcome).Observe(duration.Seconds())
}

// RecordStep records a policy step that ran or was skipped by its condition.
func (m *Metrics) RecordStep(pipeline, action, result string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(pipeline, action, result).Inc()
}

// RecordReload records a configuration reload attempt.
func (m *Metrics) RecordReload(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.reloads.WithLabelValues(result).Inc()
}

// SetBuildInfo sets the build information metric.
func (m *Metrics) SetBuildInfo(version, commit, buildTime string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
