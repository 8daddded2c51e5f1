// Package server wires the message bus runtime and its gRPC lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	messagebusapi "github.com/suoke-life/messagebus/internal/api/grpc/messagebus"
	runtimepkg "github.com/suoke-life/messagebus/internal/runtime"
	configpkg "github.com/suoke-life/messagebus/internal/runtime/config"
	errspkg "github.com/suoke-life/messagebus/internal/runtime/errors"
	loggingpkg "github.com/suoke-life/messagebus/internal/runtime/logging"
	metricspkg "github.com/suoke-life/messagebus/internal/runtime/metrics"
)

const shutdownTimeout = 10 * time.Second

// Options customise a Server. Zero values select production defaults.
type Options struct {
	// Registry receives every collector. Defaults to the Prometheus default
	// registry, which also carries the Go and process collectors.
	Registry *prometheus.Registry
	// Dependencies are passed to the runtime service.
	Dependencies runtimepkg.ServiceDependencies
}

// Server hosts the message bus gRPC API, the standard health service and the
// Prometheus endpoint.
type Server struct {
	conf    *configpkg.Config
	logger  loggingpkg.ServiceLogger
	service *runtimepkg.Service

	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server

	metricsServer *http.Server
}

// New listens on conf.GRPCAddr and builds a Server.
func New(ctx context.Context, conf *configpkg.Config, logger loggingpkg.ServiceLogger, opts Options) (*Server, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	listener, err := net.Listen("tcp", conf.GRPCAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", conf.GRPCAddr, err)
	}
	s, err := NewWithListener(ctx, listener, conf, logger, opts)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	return s, nil
}

// NewWithListener builds a Server that serves gRPC on listener.
func NewWithListener(ctx context.Context, listener net.Listener, conf *configpkg.Config, logger loggingpkg.ServiceLogger, opts Options) (*Server, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if opts.Registry != nil {
		registerer, gatherer = opts.Registry, opts.Registry
	}

	deps := opts.Dependencies
	if deps.Metrics == nil {
		deps.Metrics = metricspkg.NewCollector(registerer)
	}

	service, err := runtimepkg.TryNewService(ctx, conf, logger, deps)
	if err != nil {
		return nil, fmt.Errorf("create message bus service: %w", err)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(messagebusapi.UnaryServerInterceptor(deps.Metrics, logger)),
	)
	messagebusapi.RegisterMessageBusServiceServer(grpcServer, messagebusapi.NewService(
		service,
		errspkg.NewHandler(logger, deps.Metrics),
	))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	setHealth(healthServer, service.Healthy())
	service.OnHealthChange(func(healthy bool) { setHealth(healthServer, healthy) })

	s := &Server{
		conf:       conf,
		logger:     logger.With(loggingpkg.LogFields{"component": "server"}),
		service:    service,
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
	}

	if conf.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{Registry: registerer}))
		s.metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", conf.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s, nil
}

func setHealth(h *health.Server, healthy bool) {
	st := grpc_health_v1.HealthCheckResponse_SERVING
	if !healthy {
		st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	h.SetServingStatus("", st)
	h.SetServingStatus(messagebusapi.ServiceName, st)
}

// Addr returns the gRPC listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Service returns the runtime service behind the API.
func (s *Server) Service() *runtimepkg.Service {
	return s.service
}

// Run creates a server from conf and serves it until ctx is cancelled.
func Run(ctx context.Context, conf *configpkg.Config, logger loggingpkg.ServiceLogger) error {
	s, err := New(ctx, conf, logger, Options{})
	if err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the gRPC and metrics servers until ctx is cancelled, then stops
// them gracefully and releases every resource.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	defer s.Close()

	s.logger.Info("Message bus listening", loggingpkg.LogFields{"addr": s.Addr()})

	serveErr := make(chan error, 2)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()
	if s.metricsServer != nil {
		s.logger.Info("Metrics endpoint listening", loggingpkg.LogFields{"addr": s.metricsServer.Addr})
		go func() {
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("serve metrics: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down message bus", nil)
		s.health.Shutdown()
		s.shutdownMetrics()
		s.grpcServer.GracefulStop()
		return nil
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

func (s *Server) shutdownMetrics() {
	if s.metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.metricsServer.Shutdown(ctx); err != nil {
		s.logger.Error("Metrics server shutdown failed", err, nil)
	}
}

// Close releases server resources. Safe to call after Serve returned.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.metricsServer != nil {
		_ = s.metricsServer.Close()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.service != nil {
		if err := s.service.Close(); err != nil {
			s.logger.Error("Close message bus service failed", err, nil)
		}
	}
}
