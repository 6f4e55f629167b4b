package diag

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/diagscope/diagscope/internal/domain/lifecycle"
	"github.com/diagscope/diagscope/internal/domain/session"
)

type fakeState lifecycle.State

func (f fakeState) State() lifecycle.State { return lifecycle.State(f) }

type fakeQueue struct {
	depth, capacity int
	dropped         int64
}

func (q fakeQueue) QueueDepth() int      { return q.depth }
func (q fakeQueue) QueueCapacity() int   { return q.capacity }
func (q fakeQueue) DroppedEvents() int64 { return q.dropped }

func TestHealthChecker_Check(t *testing.T) {
	tests := []struct {
		name        string
		server      ServerState
		queue       QueueStats
		wantStatus  string
		wantChecks  map[string]string
		wantMissing []string
	}{
		{
			name:        "healthy",
			server:      fakeState(lifecycle.StateRunning),
			queue:       fakeQueue{depth: 1, capacity: 100},
			wantStatus:  "healthy",
			wantChecks:  map[string]string{"server": "running", "notify": "ok: 1/100 (1%)"},
			wantMissing: []string{"notify_drops"},
		},
		{
			name:       "queue backpressure",
			server:     fakeState(lifecycle.StateRunning),
			queue:      fakeQueue{depth: 95, capacity: 100, dropped: 3},
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"notify": "degraded: 95/100 (95%)", "notify_drops": "3 dropped"},
		},
		{
			name:       "stopping",
			server:     fakeState(lifecycle.StateStopping),
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"server": "stopping", "notify": "not configured"},
		},
		{
			name:       "nothing configured",
			wantStatus: "healthy",
			wantChecks: map[string]string{"server": "not configured", "notify": "not configured"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker(tt.server, tt.queue, "1.2.3")
			got := h.Check()

			if got.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", got.Status, tt.wantStatus)
			}
			if got.Version != "1.2.3" {
				t.Errorf("Version = %q", got.Version)
			}
			for k, v := range tt.wantChecks {
				if got.Checks[k] != v {
					t.Errorf("Checks[%q] = %q, want %q", k, got.Checks[k], v)
				}
			}
			for _, k := range tt.wantMissing {
				if _, ok := got.Checks[k]; ok {
					t.Errorf("Checks[%q] should be absent", k)
				}
			}
			if got.Checks["goroutines"] == "" {
				t.Error("goroutines check missing")
			}
		})
	}
}

func TestHealthChecker_Resolve(t *testing.T) {
	healthy := NewHealthChecker(fakeState(lifecycle.StateRunning), fakeQueue{capacity: 10}, "")
	w := healthy.Resolve(session.New(http.MethodGet, "/health"))
	if w.Status != http.StatusOK {
		t.Errorf("healthy Status = %d, want 200", w.Status)
	}
	if w.Header.Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q", w.Header.Get("Cache-Control"))
	}

	var body HealthResponse
	if err := json.Unmarshal(w.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("body status = %q", body.Status)
	}

	degraded := NewHealthChecker(nil, fakeQueue{depth: 10, capacity: 10}, "")
	if w := degraded.Resolve(session.New(http.MethodGet, "/health")); w.Status != http.StatusServiceUnavailable {
		t.Errorf("degraded Status = %d, want 503", w.Status)
	}
}
