package pipeline

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avapipe/internal/observability"
)

// Continue advances a request to the next step of the pipeline. Actions may
// wrap the writer or derive the request before passing them on.
type Continue func(w http.ResponseWriter, r *http.Request) error

// Action is one compiled policy step. It handles the request by returning
// without calling next, forwards it by calling next, or fails by returning
// an error.
type Action func(w http.ResponseWriter, r *http.Request, next Continue) error

// Predicate decides whether a step runs for a request.
type Predicate func(r *http.Request) bool

// Step is a compiled policy step.
type Step struct {
	Group      string
	ActionName string
	Condition  Predicate
	Action     Action
}

// Pipeline is an immutable, ordered list of steps.
type Pipeline struct {
	name    string
	steps   []Step
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// Steps returns a copy of the compiled steps.
func (p *Pipeline) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

// Len returns the number of steps.
func (p *Pipeline) Len() int {
	return len(p.steps)
}

// Execute runs the steps in order. Steps whose condition is false are
// skipped. When every step has been passed, fallback serves the request.
// The returned error is the error of the step that failed, if any.
func (p *Pipeline) Execute(w http.ResponseWriter, r *http.Request, fallback http.Handler) error {
	start := time.Now()

	ctx, span := p.tracer.Start(r.Context(), "pipeline.execute",
		trace.WithAttributes(
			attribute.String("pipeline.name", p.name),
			attribute.Int("pipeline.steps", len(p.steps)),
		),
	)
	defer span.End()

	exec := &execution{pipeline: p, fallback: fallback, span: span}
	err := exec.from(0)(w, r.WithContext(ctx))

	outcome := observability.OutcomeHandled
	switch {
	case err != nil:
		outcome = observability.OutcomeFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case exec.fellThrough:
		outcome = observability.OutcomeFallthrough
	}
	span.SetAttributes(attribute.String("pipeline.outcome", outcome))
	p.metrics.RecordPipeline(p.name, outcome, time.Since(start))

	return err
}

type execution struct {
	pipeline    *Pipeline
	fallback    http.Handler
	span        trace.Span
	fellThrough bool
}

// from returns the continuation that resumes at step index start.
func (e *execution) from(start int) Continue {
	return func(w http.ResponseWriter, r *http.Request) error {
		steps := e.pipeline.steps
		for i := start; i < len(steps); i++ {
			step := steps[i]
			if step.Condition != nil && !step.Condition(r) {
				e.record(i, step, observability.StepSkipped)
				continue
			}
			e.record(i, step, observability.StepExecuted)
			return step.Action(w, r, e.from(i+1))
		}

		e.fellThrough = true
		if e.fallback != nil {
			e.fallback.ServeHTTP(w, r)
		}
		return nil
	}
}

func (e *execution) record(index int, step Step, result string) {
	e.span.AddEvent("pipeline.step", trace.WithAttributes(
		attribute.Int("step.index", index),
		attribute.String("step.group", step.Group),
		attribute.String("step.action", step.ActionName),
		attribute.String("step.result", result),
	))
	e.pipeline.metrics.RecordStep(e.pipeline.name, step.ActionName, result)

	if result == observability.StepSkipped {
		e.pipeline.logger.Debug("policy step skipped",
			observability.String("pipeline", e.pipeline.name),
			observability.String("group", step.Group),
			observability.String("action", step.ActionName),
		)
	}
}

// FromMiddleware adapts a net/http middleware into an Action. The wrapped
// handler continues the pipeline; a middleware that never calls it
// handles the request.
func FromMiddleware(mw func(http.Handler) http.Handler) Action {
	return func(w http.ResponseWriter, r *http.Request, next Continue) error {
		var nextErr error
		h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nextErr = next(w, r)
		}))
		h.ServeHTTP(w, r)
		return nextErr
	}
}
