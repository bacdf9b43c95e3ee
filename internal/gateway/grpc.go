// ABOUTME: gRPC server exposing the standard grpc.health.v1 service
// ABOUTME: Serving status follows the gateway lifecycle and database reachability

package gateway

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the gRPC health service name reported for the gateway.
const ServiceName = "switchboard.Gateway"

// newGRPCServer creates the gRPC server with the health service registered.
func newGRPCServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}

// setServing updates both the overall and the gateway service status.
func (g *Gateway) setServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
}

// watchDatabase flips the health status when the database stops answering.
func (g *Gateway) watchDatabase(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval/2)
			err := g.store.Ping(pingCtx)
			cancel()
			if ok := err == nil; ok != healthy {
				healthy = ok
				g.setServing(ok)
				if ok {
					g.logger.Info("database reachable again")
				} else {
					g.logger.Error("database unreachable", "error", err)
				}
			}
		}
	}
}
