package diag

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/diagscope/diagscope/internal/domain/lifecycle"
	"github.com/diagscope/diagscope/internal/domain/response"
	"github.com/diagscope/diagscope/internal/domain/session"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// ServerState reports the lifecycle state of the server.
type ServerState interface {
	State() lifecycle.State
}

// QueueStats reports the ready-event queue.
type QueueStats interface {
	QueueDepth() int
	QueueCapacity() int
	DroppedEvents() int64
}

// HealthChecker verifies component health.
type HealthChecker struct {
	server  ServerState
	queue   QueueStats
	version string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(server ServerState, queue QueueStats, version string) *HealthChecker {
	return &HealthChecker{
		server:  server,
		queue:   queue,
		version: version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.server != nil {
		state := h.server.State()
		checks["server"] = state.String()
		// Stopping means the reply is racing a shutdown
		if state == lifecycle.StateStopping {
			healthy = false
		}
	} else {
		checks["server"] = "not configured"
	}

	if h.queue != nil {
		depth := h.queue.QueueDepth()
		capacity := h.queue.QueueCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}

		if percentFull > 90 {
			// >90% full: listeners are not keeping up
			checks["notify"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["notify"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}

		if drops := h.queue.DroppedEvents(); drops > 0 {
			checks["notify_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["notify"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Resolve implements response.Response: 200 when healthy, 503 otherwise.
func (h *HealthChecker) Resolve(*session.Params) response.WireResponse {
	health := h.Check()
	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	return response.JSON(status, health).WithHeader("Cache-Control", "no-store")
}
