// Package server owns the listeners: the public greeting listener and the
// optional Prometheus listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mnehpets/hello/config"
	"github.com/mnehpets/hello/endpoint"
	"github.com/mnehpets/hello/greeter"
	"github.com/mnehpets/hello/middleware"
)

// MetricsNamespace prefixes every metric the server exports.
const MetricsNamespace = "hello"

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewHandler builds the public handler: one route, POST /.
func NewHandler(cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) http.Handler {
	mux := http.NewServeMux()
	greeter.Routes(mux, endpoint.NewDecoder(cfg.MaxBodyBytes),
		middleware.RequestLogger(logger),
		middleware.NewMetrics(MetricsNamespace, reg),
		middleware.NewResponseHeadersProcessor(),
		middleware.Recover(logger),
	)
	return mux
}

// Server runs the HTTP listeners.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	http      *http.Server
	ln        net.Listener
	metrics   *http.Server
	metricsLn net.Listener
}

// New creates a Server. gatherer may be nil when cfg.MetricsAddr is empty.
func New(cfg *config.Config, handler http.Handler, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		http: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
			ErrorLog:     zap.NewStdLog(logger.Named("http")),
		},
	}
	if cfg.MetricsAddr != "" && gatherer != nil {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
			ErrorLog: zap.NewStdLog(logger.Named("metrics")),
		}))
		s.metrics = &http.Server{
			Addr:        cfg.MetricsAddr,
			Handler:     mux,
			ReadTimeout: cfg.ReadTimeout,
			IdleTimeout: cfg.IdleTimeout,
		}
	}
	return s
}

// Listen binds the sockets without serving yet, so that bind failures such
// as an address already in use are reported to the caller.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	s.ln = ln

	if s.metrics != nil {
		mln, err := net.Listen("tcp", s.metrics.Addr)
		if err != nil {
			ln.Close()
			s.ln = nil
			return fmt.Errorf("listen metrics %s: %w", s.metrics.Addr, err)
		}
		s.metricsLn = mln
	}
	return nil
}

// Addr returns the bound public address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.http.Addr
}

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (s *Server) MetricsAddr() string {
	if s.metricsLn != nil {
		return s.metricsLn.Addr().String()
	}
	if s.metrics != nil {
		return s.metrics.Addr
	}
	return ""
}

// Serve serves until ctx is cancelled or a listener fails, then shuts down
// gracefully within the configured shutdown timeout. Listen must have been
// called.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("server: Serve called before Listen")
	}

	errCh := make(chan error, 2)
	go func() { errCh <- serve(s.http, s.ln) }()
	if s.metrics != nil {
		go func() { errCh <- serve(s.metrics, s.metricsLn) }()
	}

	fields := []zap.Field{zap.String("addr", s.Addr())}
	if s.metrics != nil {
		fields = append(fields, zap.String("metrics_addr", s.MetricsAddr()))
	}
	s.logger.Info("server listening", fields...)

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	case serveErr = <-errCh:
		s.logger.Error("listener failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	if s.metrics != nil {
		err = errors.Join(err, s.metrics.Shutdown(shutdownCtx))
	}
	if err != nil {
		s.logger.Error("shutdown error", zap.Error(err))
	} else {
		s.logger.Info("server stopped")
	}
	return errors.Join(serveErr, err)
}

// Run binds and serves; it is Listen followed by Serve.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", ln.Addr(), err)
	}
	return nil
}
