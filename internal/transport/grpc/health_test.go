package grpc

import (
	"context"
	"errors"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestHealthReporter_FollowsPing(t *testing.T) {
	var fail bool
	h := NewHealthReporter(pingerFunc(func(ctx context.Context) error {
		if fail {
			return errors.New("down")
		}
		return nil
	}), nil)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := h.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			t.Fatalf("Check error: %v", err)
		}
		return resp.GetStatus()
	}

	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("initial status = %v, want NOT_SERVING", got)
	}
	if got := h.Check(context.Background()); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("Check = %v, want SERVING", got)
	}
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v, want SERVING", got)
	}

	fail = true
	h.Check(context.Background())
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status after failed ping = %v, want NOT_SERVING", got)
	}
}

func TestHealthReporter_RunStopsWithContext(t *testing.T) {
	h := NewHealthReporter(pingerFunc(func(ctx context.Context) error { return nil }), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, 0)
		close(done)
	}()
	cancel()
	<-done

	resp, err := h.Server().Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status after shutdown = %v, want NOT_SERVING", resp.GetStatus())
	}
}
