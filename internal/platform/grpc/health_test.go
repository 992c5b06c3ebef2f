package grpc

import (
	"context"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func TestWaitForHealthServing(t *testing.T) {
	server, stop := startHealthServer(t)
	defer stop()
	server.SetServing("", true)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := WaitForHealth(ctx, server.Addr().String(), "", nil); err != nil {
		t.Fatalf("wait for health: %v", err)
	}
}

func TestWaitForHealthTransitionsToServing(t *testing.T) {
	server, stop := startHealthServer(t)
	defer stop()

	go func() {
		time.Sleep(200 * time.Millisecond)
		server.SetServing("cart.router", true)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := WaitForHealth(ctx, server.Addr().String(), "cart.router", nil); err != nil {
		t.Fatalf("wait for health after transition: %v", err)
	}
}

func TestWaitForHealthRespectsContext(t *testing.T) {
	server, stop := startHealthServer(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := WaitForHealth(ctx, server.Addr().String(), "", nil); err == nil {
		t.Fatal("expected context error, got nil")
	}
}

func TestWaitForHealthRequiresAddress(t *testing.T) {
	if err := WaitForHealth(context.Background(), "", "", nil); err == nil {
		t.Fatal("expected missing address error")
	}
	if err := WaitForConnHealth(context.Background(), nil, "", nil); err == nil {
		t.Fatal("expected missing connection error")
	}
}

func TestHealthServerReportsComponentStatus(t *testing.T) {
	server, stop := startHealthServer(t)
	defer stop()
	server.SetServing("cart.projector", false)

	conn, err := gogrpc.NewClient(server.Addr().String(), DefaultClientDialOptions()...)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "cart.projector"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status = %v, want %v", resp.GetStatus(), grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
}

func startHealthServer(t *testing.T) (*HealthServer, func()) {
	t.Helper()

	server, err := NewHealthServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("new health server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	stop := func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("health server did not stop")
		}
	}
	return server, stop
}

func TestHealthServerCloseReleasesListener(t *testing.T) {
	server, err := NewHealthServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("new health server: %v", err)
	}
	addr := server.Addr().String()
	if err := server.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	again, err := NewHealthServer(addr)
	if err != nil {
		t.Fatalf("rebind %s after close: %v", addr, err)
	}
	_ = again.Close()
}
