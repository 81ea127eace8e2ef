package action

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vyrodovalexey/avapipe/internal/endpoint"
	"github.com/vyrodovalexey/avapipe/internal/middleware"
	"github.com/vyrodovalexey/avapipe/internal/observability"
	"github.com/vyrodovalexey/avapipe/internal/pipeline"
	"github.com/vyrodovalexey/avapipe/internal/util"
)

// Built-in action names.
const (
	NameHeaders        = "headers"
	NameDirectResponse = "directResponse"
	NameRequestID      = "requestId"
	NameLog            = "log"
	NameBodyLimit      = "bodyLimit"
	NameRateLimit      = "rateLimit"
	NameProxy          = "proxy"
)

func registerBuiltins(r *Registry) {
	r.Register(NameHeaders, headers)
	r.Register(NameDirectResponse, directResponse)
	r.Register(NameRequestID, requestID)
	r.Register(NameLog, logAction)
	r.Register(NameBodyLimit, bodyLimit)
	r.Register(NameRateLimit, rateLimit)
	r.Register(NameProxy, proxyAction)
}

func headers(spec Spec) (pipeline.Action, error) {
	var cfg middleware.HeadersConfig
	if err := spec.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.IsEmpty() {
		return nil, errors.New("at least one header operation is required")
	}

	for _, set := range []map[string]string{cfg.RequestSet, cfg.RequestAdd, cfg.ResponseSet, cfg.ResponseAdd} {
		for name := range set {
			if err := util.ValidateHeaderName(name); err != nil {
				return nil, err
			}
		}
	}
	for _, name := range append(append([]string{}, cfg.RequestRemove...), cfg.ResponseRemove...) {
		if err := util.ValidateHeaderName(name); err != nil {
			return nil, err
		}
	}

	return pipeline.FromMiddleware(middleware.Headers(cfg)), nil
}

type directResponseParams struct {
	Status      int               `yaml:"status"`
	Body        string            `yaml:"body"`
	ContentType string            `yaml:"contentType"`
	Headers     map[string]string `yaml:"headers"`
}

// directResponse answers the request itself and ends the pipeline.
func directResponse(spec Spec) (pipeline.Action, error) {
	p := directResponseParams{Status: http.StatusOK}
	if err := spec.Decode(&p); err != nil {
		return nil, err
	}
	if err := util.ValidateHTTPStatusCode(p.Status); err != nil {
		return nil, err
	}
	if p.ContentType == "" {
		p.ContentType = "text/plain; charset=utf-8"
	}
	for name := range p.Headers {
		if err := util.ValidateHeaderName(name); err != nil {
			return nil, err
		}
	}

	return func(w http.ResponseWriter, _ *http.Request, _ pipeline.Continue) error {
		h := w.Header()
		for k, v := range p.Headers {
			h.Set(k, v)
		}
		if p.Body != "" {
			h.Set(middleware.HeaderContentType, p.ContentType)
		}
		w.WriteHeader(p.Status)
		if p.Body != "" {
			_, _ = io.WriteString(w, p.Body)
		}
		return nil
	}, nil
}

func requestID(spec Spec) (pipeline.Action, error) {
	header := spec.Params.String("header")
	if header != "" {
		if err := util.ValidateHeaderName(header); err != nil {
			return nil, err
		}
	}
	return pipeline.FromMiddleware(middleware.RequestID(middleware.WithRequestIDHeader(header))), nil
}

func bodyLimit(spec Spec) (pipeline.Action, error) {
	var p struct {
		MaxBytes int64 `yaml:"maxBytes"`
	}
	if err := spec.Decode(&p); err != nil {
		return nil, err
	}
	if p.MaxBytes <= 0 {
		return nil, errors.New("maxBytes must be positive")
	}
	return pipeline.FromMiddleware(middleware.BodyLimit(p.MaxBytes, spec.Logger)), nil
}

// logAction writes one entry per request and continues.
func logAction(spec Spec) (pipeline.Action, error) {
	message := spec.Params.String("message")
	if message == "" {
		message = "pipeline request"
	}

	var write func(msg string, fields ...observability.Field)
	switch level := strings.ToLower(spec.Params.String("level")); level {
	case "debug":
		write = spec.Logger.Debug
	case "", "info":
		write = spec.Logger.Info
	case "warn", "warning":
		write = spec.Logger.Warn
	case "error":
		write = spec.Logger.Error
	default:
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	return func(w http.ResponseWriter, r *http.Request, next pipeline.Continue) error {
		fields := []observability.Field{
			observability.String("method", r.Method),
			observability.String("host", r.Host),
			observability.String("path", r.URL.Path),
		}
		if ec, ok := endpoint.FromRequest(r); ok {
			fields = append(fields,
				observability.String("api_endpoint", ec.APIEndpointName()),
				observability.String("pipeline", ec.Pipeline),
			)
		}
		if id := observability.RequestIDFromContext(r.Context()); id != "" {
			fields = append(fields, observability.String("request_id", id))
		}
		write(message, fields...)
		return next(w, r)
	}, nil
}
