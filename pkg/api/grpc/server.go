package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the name the orchestrator reports health under, besides
// the server-wide "" entry
const ServiceName = "unite.WorkflowOrchestrator"

// DefaultCheckInterval is how often pool health is mirrored when no
// interval is configured
const DefaultCheckInterval = 5 * time.Second

// HealthChecker reports whether executions can be accepted
type HealthChecker interface {
	IsHealthy() bool
}

// Server represents the gRPC API server
type Server struct {
	server   *grpc.Server
	listener net.Listener
	health   *health.Server
	checker  HealthChecker
	interval time.Duration
	logger   *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Config holds gRPC server configuration
type Config struct {
	Port          int
	Health        HealthChecker
	CheckInterval time.Duration
	Logger        *zap.Logger
}

// NewServer creates a new gRPC server exposing grpc.health.v1
func NewServer(cfg *Config) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	s := &Server{
		server:   grpcServer,
		listener: listener,
		health:   healthServer,
		checker:  cfg.Health,
		interval: interval,
		logger:   cfg.Logger,
		stopCh:   make(chan struct{}),
	}
	s.refresh()

	return s, nil
}

// Addr returns the address the server listens on
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start starts the gRPC server
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.listener.Addr().String()))

	go s.watch()

	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// watch mirrors pool health into the health service until shutdown
func (s *Server) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

func (s *Server) refresh() {
	status := healthpb.HealthCheckResponse_SERVING
	if s.checker != nil && !s.checker.IsHealthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Shutdown reports NOT_SERVING and gracefully stops the server. Streams
// still open when ctx expires are closed forcibly.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	s.stopOnce.Do(func() { close(s.stopCh) })
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
		<-done
		s.logger.Warn("gRPC server stopped forcibly")
	}

	s.logger.Info("gRPC server shut down complete")
	return nil
}
