package health

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return s, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("check %q: %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealthTransitions(t *testing.T) {
	s, c := startServer(t)
	if st := check(t, c, ""); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("initial status %v", st)
	}
	s.SetServing(true)
	if st := check(t, c, Service); st != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("after seed %v", st)
	}
	s.SetServing(false)
	if st := check(t, c, ""); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("after reset %v", st)
	}
}
