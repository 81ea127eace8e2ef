package main

import (
	"net/http"

	"github.com/vyrodovalexey/avapipe/internal/middleware"
	"github.com/vyrodovalexey/avapipe/internal/observability"
)

// buildMiddlewareChain wraps the mounted app. The execution order
// (outermost executes first):
// Recovery -> RequestID -> Logging -> Tracing -> [app]
func buildMiddlewareChain(
	handler http.Handler,
	logger observability.Logger,
	tracer *observability.Tracer,
) http.Handler {
	h := handler

	if tracer != nil {
		h = observability.TracingMiddleware(tracer)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.RequestID()(h)
	h = middleware.Recovery(logger)(h)

	return h
}
