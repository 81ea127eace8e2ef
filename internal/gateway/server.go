package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avapipe/internal/config"
	"github.com/vyrodovalexey/avapipe/internal/observability"
)

// Server defaults.
const (
	DefaultReadTimeout       = 30 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1MB
	DefaultHealthPath        = "/healthz"
)

// State represents the server state.
type State int32

const (
	// StateStopped indicates the server is stopped.
	StateStopped State = iota
	// StateStarting indicates the server is starting.
	StateStarting
	// StateRunning indicates the server is running.
	StateRunning
	// StateStopping indicates the server is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// handlerRef lets the served handler be swapped as one pointer.
type handlerRef struct {
	h http.Handler
}

// Server serves an App behind a gin engine. Every request gin does not
// route itself falls through to the current App.
type Server struct {
	address         string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	healthPath      string
	logger          observability.Logger

	handler   atomic.Pointer[handlerRef]
	state     atomic.Int32
	engine    *gin.Engine
	server    *http.Server
	listener  net.Listener
	startTime time.Time
	mu        sync.RWMutex
	done      chan struct{}
}

// ServerOption is a functional option for configuring the server.
type ServerOption func(*Server)

// WithAddress sets the listen address.
func WithAddress(addr string) ServerOption {
	return func(s *Server) {
		s.address = addr
	}
}

// WithHTTPConfig applies the http section of the configuration.
func WithHTTPConfig(cfg *config.HTTPConfig) ServerOption {
	return func(s *Server) {
		if cfg == nil {
			return
		}
		if cfg.Address != "" {
			s.address = cfg.Address
		}
		s.readTimeout = cfg.ReadTimeout.OrDefault(s.readTimeout)
		s.writeTimeout = cfg.WriteTimeout.OrDefault(s.writeTimeout)
		s.shutdownTimeout = cfg.ShutdownTimeout.OrDefault(s.shutdownTimeout)
	}
}

// WithShutdownTimeout bounds Stop when its context has no deadline.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// WithHealthPath changes the liveness path. An empty path disables it.
func WithHealthPath(path string) ServerOption {
	return func(s *Server) {
		s.healthPath = path
	}
}

// WithServerLogger sets the logger.
func WithServerLogger(logger observability.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server for handler.
func NewServer(handler http.Handler, opts ...ServerOption) *Server {
	s := &Server{
		address:         config.DefaultHTTPAddress,
		readTimeout:     DefaultReadTimeout,
		writeTimeout:    DefaultWriteTimeout,
		shutdownTimeout: DefaultShutdownTimeout,
		healthPath:      DefaultHealthPath,
		logger:          observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.SetHandler(handler)
	s.state.Store(int32(StateStopped))

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.setupRoutes()

	return s
}

// setupRoutes registers the health route and hands everything else to
// the current handler.
func (s *Server) setupRoutes() {
	s.engine.Use(gin.Recovery())
	s.engine.RedirectTrailingSlash = false
	s.engine.RedirectFixedPath = false

	if s.healthPath != "" {
		s.engine.GET(s.healthPath, func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	// gin presets 404 for NoRoute; the App decides the status itself.
	s.engine.NoRoute(func(c *gin.Context) {
		c.Status(http.StatusOK)
	}, gin.WrapH(http.HandlerFunc(s.serveCurrent)))
}

func (s *Server) serveCurrent(w http.ResponseWriter, r *http.Request) {
	ref := s.handler.Load()
	if ref == nil || ref.h == nil {
		NotFound(w, r)
		return
	}
	ref.h.ServeHTTP(w, r)
}

// SetHandler atomically replaces the served handler. In-flight requests
// finish on the handler they started with.
func (s *Server) SetHandler(h http.Handler) {
	s.handler.Store(&handlerRef{h: h})
}

// Handler returns the current handler.
func (s *Server) Handler() http.Handler {
	if ref := s.handler.Load(); ref != nil {
		return ref.h
	}
	return nil
}

// ServeHTTP implements http.Handler through the gin engine.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrServerNotStopped
	}

	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.engine,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.done = done
	s.startTime = time.Now()
	s.mu.Unlock()

	s.state.Store(int32(StateRunning))
	s.logger.Info("server started", observability.String("address", ln.Addr().String()))

	go s.serve(srv, ln, done)
	return nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener, done chan struct{}) {
	defer close(done)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("server error", observability.Error(err))
	}
}

// Stop shuts the server down gracefully, closing connections that are
// still open once the deadline passes.
func (s *Server) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrServerNotRunning
	}
	defer s.state.Store(int32(StateStopped))

	s.logger.Info("stopping server")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}

	s.mu.RLock()
	srv, done := s.server, s.done
	s.mu.RUnlock()

	if err := srv.Shutdown(ctx); err != nil {
		if closeErr := srv.Close(); closeErr != nil {
			return fmt.Errorf("failed to close server: %w", closeErr)
		}
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}
	<-done

	s.logger.Info("server stopped")
	return nil
}

// Addr returns the bound address once the server is running.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.address
	}
	return s.listener.Addr().String()
}

// State returns the current server state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.State() == StateRunning
}

// Uptime returns the time since the last successful Start.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() || !s.IsRunning() {
		return 0
	}
	return time.Since(s.startTime)
}
