// Package server provides the gRPC health endpoint lifecycle.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported next to the overall ("")
// status.
const ServiceName = "ideafilter.Filter"

// ShutdownTimeout bounds GracefulStop before the server is stopped hard.
const ShutdownTimeout = 30 * time.Second

// HealthServer serves grpc.health.v1 and tracks whether the filter has a
// usable rule set. It starts NOT_SERVING.
type HealthServer struct {
	addr   string
	server *grpc.Server
	health *health.Server
	logger zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewHealthServer creates a health server that will listen on addr.
func NewHealthServer(addr string, logger zerolog.Logger) (*HealthServer, error) {
	if addr == "" {
		return nil, fmt.Errorf("addr cannot be empty")
	}

	server := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)

	s := &HealthServer{
		addr:   addr,
		server: server,
		health: healthServer,
		logger: logger.With().Str("component", "health").Logger(),
	}
	s.SetServing(false)
	return s, nil
}

// SetServing switches the overall and the filter service status.
func (s *HealthServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	s.logger.Debug().Stringer("status", status).Msg("health status changed")
}

// Start binds the listener and serves until Shutdown.
func (s *HealthServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener.
func (s *HealthServer) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("health endpoint listening")
	return s.server.Serve(listener)
}

// Addr returns the bound address, or the configured one before Start.
func (s *HealthServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown marks every service NOT_SERVING and stops gracefully, forcing a
// stop when ctx ends or ShutdownTimeout passes.
func (s *HealthServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	case <-time.After(ShutdownTimeout):
		s.server.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}
