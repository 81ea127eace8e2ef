package action

import (
	"errors"
	"net/http"

	"github.com/vyrodovalexey/avapipe/internal/config"
	"github.com/vyrodovalexey/avapipe/internal/middleware"
	"github.com/vyrodovalexey/avapipe/internal/pipeline"
	"github.com/vyrodovalexey/avapipe/internal/proxy"
)

type circuitBreakerParams struct {
	Threshold int             `yaml:"threshold"`
	Timeout   config.Duration `yaml:"timeout"`
}

type proxyParams struct {
	ServiceEndpoint     string                `yaml:"serviceEndpoint"`
	StripPath           bool                  `yaml:"stripPath"`
	Timeout             config.Duration       `yaml:"timeout"`
	MaxIdleConnsPerHost int                   `yaml:"maxIdleConnsPerHost"`
	IdleConnTimeout     config.Duration       `yaml:"idleConnTimeout"`
	CircuitBreaker      *circuitBreakerParams `yaml:"circuitBreaker"`
}

// transport returns a dedicated transport when connection pooling is tuned,
// or nil to share http.DefaultTransport.
func (p *proxyParams) transport() (http.RoundTripper, error) {
	if p.MaxIdleConnsPerHost == 0 && p.IdleConnTimeout == 0 {
		return nil, nil
	}
	if p.MaxIdleConnsPerHost < 0 {
		return nil, errors.New("maxIdleConnsPerHost must not be negative")
	}
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, errors.New("default transport is not an *http.Transport")
	}
	t := base.Clone()
	if p.MaxIdleConnsPerHost > 0 {
		t.MaxIdleConnsPerHost = p.MaxIdleConnsPerHost
	}
	t.IdleConnTimeout = p.IdleConnTimeout.OrDefault(t.IdleConnTimeout)
	return t, nil
}

// proxyAction forwards the request and ends the pipeline unless forwarding
// fails, in which case the error propagates.
func proxyAction(spec Spec) (pipeline.Action, error) {
	var p proxyParams
	if err := spec.Decode(&p); err != nil {
		return nil, err
	}
	if p.ServiceEndpoint == "" {
		return nil, errors.New("serviceEndpoint is required")
	}

	name := spec.Group + ":" + p.ServiceEndpoint
	opts := []proxy.Option{
		proxy.WithProxyLogger(spec.Logger),
		proxy.WithStripPath(p.StripPath),
		proxy.WithTimeout(p.Timeout.Duration()),
	}
	transport, err := p.transport()
	if err != nil {
		return nil, err
	}
	if transport != nil {
		opts = append(opts, proxy.WithTransport(transport))
	}
	if p.CircuitBreaker != nil {
		opts = append(opts, proxy.WithCircuitBreaker(middleware.NewCircuitBreaker(
			name,
			p.CircuitBreaker.Threshold,
			p.CircuitBreaker.Timeout.Duration(),
			middleware.WithCircuitBreakerLogger(spec.Logger),
		)))
	}

	rp, err := proxy.New(name, p.ServiceEndpoint, opts...)
	if err != nil {
		return nil, err
	}

	return func(w http.ResponseWriter, r *http.Request, _ pipeline.Continue) error {
		return rp.Forward(w, r)
	}, nil
}
