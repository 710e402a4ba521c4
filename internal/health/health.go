// Package health exposes the standard gRPC health service so orchestrators
// can tell when the store has been seeded and feeds are running.
package health

import (
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name reported alongside the overall "" service.
const Service = "fleet.Feeder"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    *slog.Logger
}

// New starts in NOT_SERVING until SetServing(true).
func New(logger *slog.Logger) *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	s := &Server{grpc: gs, health: hs, log: logger.With("component", "health")}
	s.SetServing(false)
	return s
}

func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
	s.log.Info("health status", "status", status.String())
}

// Serve blocks until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("health listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Stop reports NOT_SERVING to watchers and drains open calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
