package health

import (
	"context"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewGRPCServer exposes the checker through the standard gRPC health
// protocol under the overall ("") and serviceName entries.
func NewGRPCServer(c *Checker, serviceName string) *grpc.Server {
	hs := grpchealth.NewServer()
	set := func(healthy bool) {
		status := healthpb.HealthCheckResponse_SERVING
		if !healthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(serviceName, status)
	}
	set(c.IsSystemHealthy())
	c.OnChange(set)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

// ServeGRPC listens on addr until ctx is done
func ServeGRPC(ctx context.Context, srv *grpc.Server, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	return srv.Serve(lis)
}
