package modelclient

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthChecker probes an external model backend's liveness over the
// standard gRPC health-checking protocol. Model backends (embedding
// servers, extraction services) in this deployment expose it alongside
// their primary RPC surface. The pipeline's health-check tick does not
// call it; it judges health from its own statistics.
type HealthChecker struct {
	conn *grpc.ClientConn
}

// NewHealthChecker dials target (host:port) without TLS, matching the
// teacher's in-cluster service-to-service trust model.
func NewHealthChecker(target string) (*HealthChecker, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("modelclient: dial %s: %w", target, err)
	}
	return &HealthChecker{conn: conn}, nil
}

// Check returns nil if the backend reports SERVING.
func (h *HealthChecker) Check(ctx context.Context, service string) error {
	client := healthpb.NewHealthClient(h.conn)
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return fmt.Errorf("modelclient: health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("modelclient: backend status %s", resp.GetStatus())
	}
	return nil
}

// Close releases the underlying connection.
func (h *HealthChecker) Close() error { return h.conn.Close() }
