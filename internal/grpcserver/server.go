// Package grpcserver exposes the standard gRPC health service so orchestrators can
// probe the matcher's dependencies over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/face-attendance/internal/logging"
)

// ServiceName is the health service key reported alongside the overall ("") status.
const ServiceName = "attendance.FaceMatcher"

// Pinger checks one dependency. Ping must honour ctx.
type Pinger func(ctx context.Context) error

// Server wraps a grpc.Server carrying the health service.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	checks   map[string]Pinger
	interval time.Duration
	logger   *zap.Logger
}

// New builds a server whose health status follows checks. Every check runs each
// interval; any failure flips the service to NOT_SERVING until the next success.
func New(logger *zap.Logger, interval time.Duration, checks map[string]Pinger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	s := &Server{
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		checks:   checks,
		interval: interval,
		logger:   logger.Named("grpc"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return s
}

// Probe runs every check once and updates the published status.
func (s *Server) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, check := range s.checks {
		checkCtx, cancel := context.WithTimeout(ctx, s.interval)
		err := check(checkCtx)
		cancel()
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			s.logger.Warn("dependency check failed",
				zap.String("dependency", name),
				zap.Error(logging.NewOperationError("grpcserver.probe", "", err)),
			)
		}
	}
	s.setStatus(status)
	return status
}

// Serve accepts connections on lis until ctx is cancelled, then drains in-flight RPCs.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.grpc.Serve(lis)
		if errors.Is(err, grpc.ErrServerStopped) {
			err = nil
		}
		errCh <- err
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.Probe(ctx)

	for {
		select {
		case err := <-errCh:
			return err
		case <-ticker.C:
			s.Probe(ctx)
		case <-ctx.Done():
			s.health.Shutdown()
			s.grpc.GracefulStop()
			return <-errCh
		}
	}
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
