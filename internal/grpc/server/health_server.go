package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SyncEngineService is the health service name reported for the sync engine
const SyncEngineService = "feedboard.sync.v1.SyncEngine"

// Checker reports whether a dependency of the engine is usable
type Checker func(ctx context.Context) error

// HealthServer serves the standard gRPC health protocol. The engine status
// follows the checker: SERVING while it succeeds, NOT_SERVING otherwise.
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	checker    Checker
	interval   time.Duration
	logger     *zap.Logger
}

// NewHealthServer creates a new gRPC health server
func NewHealthServer(checker Checker, interval time.Duration, logger *zap.Logger) *HealthServer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	return &HealthServer{
		grpcServer: grpcServer,
		health:     hs,
		checker:    checker,
		interval:   interval,
		logger:     logger.Named("health_server"),
	}
}

// Serve serves on the listener until ctx is cancelled
func (s *HealthServer) Serve(ctx context.Context, listener net.Listener) error {
	s.check(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpcServer.Serve(listener)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping gRPC server...")
			s.health.Shutdown()
			s.grpcServer.GracefulStop()
			s.logger.Info("gRPC server stopped")
			return nil
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("gRPC server error: %w", err)
			}
			return nil
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled
func (s *HealthServer) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.logger.Info("Starting gRPC server", zap.String("addr", addr))
	return s.Serve(ctx, listener)
}

func (s *HealthServer) check(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.checker != nil {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.checker(checkCtx)
		cancel()
		if err != nil {
			s.logger.Warn("Health check failed", zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(SyncEngineService, status)
}
