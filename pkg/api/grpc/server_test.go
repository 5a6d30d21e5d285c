package grpc

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type flagChecker struct {
	healthy atomic.Bool
}

func (f *flagChecker) IsHealthy() bool {
	return f.healthy.Load()
}

func startServer(t *testing.T, checker HealthChecker) (*Server, healthpb.HealthClient) {
	t.Helper()
	s, err := NewServer(&Config{
		Port:          0,
		Health:        checker,
		CheckInterval: 10 * time.Millisecond,
		Logger:        zap.NewNop(),
	})
	require.NoError(t, err)

	go func() { _ = s.Start() }()

	target := fmt.Sprintf("127.0.0.1:%d", s.Addr().(*net.TCPAddr).Port)
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return s, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	status, err := servingStatus(client, service)
	require.NoError(t, err)
	return status
}

func servingStatus(client healthpb.HealthClient, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	return resp.GetStatus(), err
}

func TestHealth_FollowsPool(t *testing.T) {
	checker := &flagChecker{}
	checker.healthy.Store(true)
	s, client := startServer(t, checker)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ServiceName))

	checker.healthy.Store(false)
	assert.Eventually(t, func() bool {
		status, err := servingStatus(client, ServiceName)
		return err == nil && status == healthpb.HealthCheckResponse_NOT_SERVING
	}, 5*time.Second, 10*time.Millisecond)

	checker.healthy.Store(true)
	assert.Eventually(t, func() bool {
		status, err := servingStatus(client, ServiceName)
		return err == nil && status == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHealth_NotServingAfterShutdown(t *testing.T) {
	checker := &flagChecker{}
	checker.healthy.Store(true)
	s, client := startServer(t, checker)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
