package monitor

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server serves /metrics, /healthz and /livez
type Server struct {
	addr    string
	server  *http.Server
	logger  *slog.Logger
	errored chan error
}

// ServerOption configures the server
type ServerOption func(*Server)

// WithServerLogger sets the logger
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates the monitoring server. Either metrics or health may be nil.
func NewServer(addr string, metrics *Metrics, health *Registry, options ...ServerOption) *Server {
	s := &Server{
		addr:    addr,
		logger:  slog.Default(),
		errored: make(chan error, 1),
	}
	for _, opt := range options {
		opt(s)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           NewMux(metrics, health),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// NewMux routes the monitoring endpoints
func NewMux(metrics *Metrics, health *Registry) *http.ServeMux {
	mux := http.NewServeMux()
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}
	if health != nil {
		mux.Handle("/healthz", NewHandler(health, 5*time.Second))
	}
	mux.Handle("/livez", LivenessHandler())
	return mux
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.logger.Info("monitoring server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitoring server failed", "error", err)
			s.errored <- err
		}
	}()

	return nil
}

// Errors receives a fatal serve error
func (s *Server) Errors() <-chan error {
	return s.errored
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
