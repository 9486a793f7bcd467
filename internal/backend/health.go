package backend

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// HealthProbe checks a backend's standard gRPC health service.
type HealthProbe struct {
	addr   string
	conn   *grpc.ClientConn
	client healthpb.HealthClient
}

// NewHealthProbe creates a probe for addr. The connection is established
// lazily on the first check.
func NewHealthProbe(addr string) (*HealthProbe, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: false,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create health client for %s: %w", addr, err)
	}
	return &HealthProbe{
		addr:   addr,
		conn:   conn,
		client: healthpb.NewHealthClient(conn),
	}, nil
}

// Check reports whether the backend's overall health status is SERVING.
func (p *HealthProbe) Check(ctx context.Context) (bool, error) {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false, fmt.Errorf("health check %s: %w", p.addr, err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Close releases the connection.
func (p *HealthProbe) Close() error {
	return p.conn.Close()
}
