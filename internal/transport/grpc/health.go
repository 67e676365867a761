package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service key reported next to the overall ("")
// status.
const ServiceName = "groupbook.v1.Groupbook"

type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthReporter serves grpc.health.v1 and keeps it in step with the
// database: SERVING while pings succeed, NOT_SERVING otherwise.
type HealthReporter struct {
	srv  *health.Server
	db   Pinger
	log  *slog.Logger
	last healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthReporter(db Pinger, log *slog.Logger) *HealthReporter {
	if log == nil {
		log = slog.Default()
	}
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	srv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{
		srv:  srv,
		db:   db,
		log:  log.With(slog.String("component", "grpc.health")),
		last: healthpb.HealthCheckResponse_NOT_SERVING,
	}
}

func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Check pings the database once and publishes the result.
func (h *HealthReporter) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.db.PingContext(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		if h.last != status {
			h.log.WarnContext(ctx, "database ping failed", slog.Any("err", err))
		}
	} else if h.last != status {
		h.log.InfoContext(ctx, "database reachable")
	}
	h.last = status
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(ServiceName, status)
	return status
}

// Run checks every interval until ctx is done, then marks the service as
// shutting down.
func (h *HealthReporter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	h.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			h.Check(checkCtx)
			cancel()
		}
	}
}

// Server exposes the underlying health server.
func (h *HealthReporter) Server() healthpb.HealthServer {
	return h.srv
}
