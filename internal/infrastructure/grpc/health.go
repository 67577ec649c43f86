// Package grpc serves the standard gRPC health protocol, mirroring the
// engine's health checks so orchestrators can probe it without HTTP.
package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"liquidity_engine/internal/auth"
	"liquidity_engine/internal/core"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// EngineService is the service name reported alongside the overall status
const EngineService = "liquidity_engine.Engine"

const defaultSyncInterval = 5 * time.Second

type HealthServer struct {
	monitor  core.IHealthMonitor
	interval time.Duration
	logger   core.ILogger

	server *grpc.Server
	health *health.Server
}

// NewHealthServer builds the gRPC server. When authz is non-nil its interceptor
// guards every unary method other than the health service.
func NewHealthServer(monitor core.IHealthMonitor, authz *auth.Authorizer, interval time.Duration, logger core.ILogger) *HealthServer {
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	var opts []grpc.ServerOption
	if authz != nil {
		opts = append(opts, grpc.ChainUnaryInterceptor(authz.UnaryServerInterceptor()))
	}

	s := &HealthServer{
		monitor:  monitor,
		interval: interval,
		logger:   logger.WithField("component", "grpc_health"),
		server:   grpc.NewServer(opts...),
		health:   health.NewServer(),
	}
	grpc_health_v1.RegisterHealthServer(s.server, s.health)
	s.sync()
	return s
}

// Serve blocks until ctx is cancelled, refreshing the reported status every interval
func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gRPC health server serving", "addr", lis.Addr().String())
		errCh <- s.server.Serve(lis)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			s.server.GracefulStop()
			return nil
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("grpc health server: %w", err)
			}
			return nil
		case <-ticker.C:
			s.sync()
		}
	}
}

// ListenAndServe listens on addr and calls Serve
func (s *HealthServer) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

func (s *HealthServer) sync() {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if s.monitor != nil && !s.monitor.IsHealthy() {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(EngineService, status)
}
