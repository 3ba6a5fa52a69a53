package monitor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/velocap/internal/lidar/pipeline"
	"github.com/banshee-data/velocap/internal/monitoring"
)

// HealthService is the gRPC health service name that tracks the capture.
// The empty service name reports the process itself.
const HealthService = "velocap.Capture"

// HealthReporter publishes capture state through the standard gRPC health
// protocol: SERVING while the capture runs, NOT_SERVING otherwise.
type HealthReporter struct {
	health *health.Server

	mu       sync.Mutex
	server   *grpc.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewHealthReporter returns a reporter whose capture service starts as
// NOT_SERVING.
func NewHealthReporter() *HealthReporter {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{health: hs}
}

// Health exposes the underlying health server.
func (h *HealthReporter) Health() *health.Server { return h.health }

// Update sets the capture service status from a capture state.
func (h *HealthReporter) Update(state pipeline.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == pipeline.StateRunning {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(HealthService, status)
}

// Watch polls c every interval and updates the status until ctx is done.
func (h *HealthReporter) Watch(ctx context.Context, c CaptureStatus, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := pipeline.State(-1)
	for {
		if s := c.State(); s != last {
			h.Update(s)
			last = s
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Start serves the health service on addr in the background.
func (h *HealthReporter) Start(addr string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server != nil {
		return fmt.Errorf("health server already running")
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, h.health)
	h.server = srv
	h.listener = lis

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		monitoring.Logf("gRPC health server listening on %s", lis.Addr())
		if err := srv.Serve(lis); err != nil {
			monitoring.Logf("gRPC health server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (h *HealthReporter) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (h *HealthReporter) Stop() {
	h.health.Shutdown()

	h.mu.Lock()
	srv := h.server
	h.server = nil
	h.listener = nil
	h.mu.Unlock()

	if srv != nil {
		// Open Watch streams hold GracefulStop; force them closed after a grace period.
		done := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			srv.Stop()
			<-done
		}
	}
	h.wg.Wait()
	monitoring.Logf("gRPC health server stopped")
}
