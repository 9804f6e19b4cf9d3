package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer exposes readiness over the standard gRPC health protocol.
type HealthServer struct {
	healthpb.UnimplementedHealthServer

	readiness readinessChecker
}

// NewHealthServer creates the health service wrapper.
func NewHealthServer(r readinessChecker) *HealthServer {
	return &HealthServer{readiness: r}
}

// Register attaches the health service to a gRPC server.
func (s *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s)
}

// Check reports SERVING while downstream dependencies answer.
func (s *HealthServer) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if err := s.readiness.Check(ctx); err != nil {
		return &healthpb.HealthCheckResponse{
			Status: healthpb.HealthCheckResponse_NOT_SERVING,
		}, nil
	}
	return &healthpb.HealthCheckResponse{
		Status: healthpb.HealthCheckResponse_SERVING,
	}, nil
}

// Watch sends the current status once and holds the stream open until the
// client goes away. Clients that need a single answer should use Check.
func (s *HealthServer) Watch(req *healthpb.HealthCheckRequest, stream healthpb.Health_WatchServer) error {
	resp, err := s.Check(stream.Context(), req)
	if err != nil {
		return err
	}
	if err := stream.Send(resp); err != nil {
		return err
	}
	<-stream.Context().Done()
	if err := stream.Context().Err(); err != nil && err != context.Canceled {
		return status.Error(codes.Canceled, err.Error())
	}
	return nil
}
