package gateway

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/vyrodovalexey/avapipe/internal/middleware"
	"github.com/vyrodovalexey/avapipe/internal/observability"
	"github.com/vyrodovalexey/avapipe/internal/util"
)

// App is the host application routers are mounted on. Middleware runs in
// Use order and the not found handler ends the chain. Mounting is done
// before the App is served; Use must not race with ServeHTTP.
type App struct {
	middlewares []func(http.Handler) http.Handler
	notFound    http.Handler
	handler     http.Handler
	logger      observability.Logger

	closeMu sync.Mutex
	closers []io.Closer
}

// AppOption is a functional option for configuring the app.
type AppOption func(*App)

// WithAppLogger sets the logger.
func WithAppLogger(logger observability.Logger) AppOption {
	return func(a *App) {
		a.logger = logger
	}
}

// WithNotFoundHandler replaces the JSON 404 handler.
func WithNotFoundHandler(h http.Handler) AppOption {
	return func(a *App) {
		a.notFound = h
	}
}

// NewApp creates an empty app.
func NewApp(opts ...AppOption) *App {
	a := &App{
		notFound: http.HandlerFunc(NotFound),
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.handler = a.notFound
	return a
}

// Use appends a middleware. Earlier mounts keep their position.
func (a *App) Use(mw func(http.Handler) http.Handler) {
	a.middlewares = append(a.middlewares, mw)

	h := a.notFound
	for i := len(a.middlewares) - 1; i >= 0; i-- {
		h = a.middlewares[i](h)
	}
	a.handler = h
}

// Len returns the number of mounted middlewares.
func (a *App) Len() int {
	return len(a.middlewares)
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// OnClose registers a resource released by Close.
func (a *App) OnClose(c io.Closer) {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()
	a.closers = append(a.closers, c)
}

// Close releases the resources registered with OnClose.
func (a *App) Close() error {
	a.closeMu.Lock()
	closers := a.closers
	a.closers = nil
	a.closeMu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotFound writes the JSON 404 response for requests no router handled.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSONError(w, http.StatusNotFound, middleware.ErrNotFound)
}

// HandleError writes the response for a failed pipeline:
// rate limited 429, open circuit 503, timeout 504, backend failure 502,
// oversized body 413 and 500 for anything else.
func (a *App) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)

	fields := []observability.Field{
		observability.String("path", r.URL.Path),
		observability.Int("status", status),
		observability.Error(err),
	}
	switch {
	case util.IsClientError(err), errors.Is(err, middleware.ErrBodyTooLarge):
		a.logger.Debug("request rejected", fields...)
	case util.IsServerError(err):
		a.logger.Warn("upstream failure", fields...)
	default:
		a.logger.Error("pipeline failed", fields...)
	}

	var rle *util.RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		w.Header().Set(middleware.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(rle.RetryAfter.Seconds()))))
	}

	switch status {
	case http.StatusTooManyRequests:
		writeJSONError(w, status, middleware.ErrRateLimitExceeded)
	case http.StatusServiceUnavailable:
		writeJSONError(w, status, middleware.ErrServiceUnavailable)
	case http.StatusGatewayTimeout:
		writeJSONError(w, status, middleware.ErrGatewayTimeout)
	case http.StatusBadGateway:
		writeJSONError(w, status, middleware.ErrBadGateway)
	case http.StatusRequestEntityTooLarge:
		writeJSONError(w, status, middleware.ErrRequestEntityTooLarge)
	default:
		writeJSONError(w, http.StatusInternalServerError, middleware.ErrInternalServerError)
	}
}

// StatusForError maps a pipeline error to an HTTP status code.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, util.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, util.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, util.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, util.ErrBackendUnavail):
		return http.StatusBadGateway
	case errors.Is(err, middleware.ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONError(w http.ResponseWriter, status int, body string) {
	w.Header().Set(middleware.HeaderContentType, middleware.ContentTypeJSON)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
