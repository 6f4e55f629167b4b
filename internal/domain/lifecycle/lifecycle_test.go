package lifecycle

import (
	"errors"
	"strings"
	"testing"
)

func TestHandle_URLs(t *testing.T) {
	h := Handle{IP: "192.168.1.20", Port: 8080}
	if got := h.URL(); got != "http://192.168.1.20:8080" {
		t.Errorf("URL() = %q", got)
	}
	if got := h.LocalURL(); got != "http://127.0.0.1:8080" {
		t.Errorf("LocalURL() = %q", got)
	}

	v6 := Handle{IP: "fe80::1", Port: 80}
	if got := v6.URL(); got != "http://[fe80::1]:80" {
		t.Errorf("IPv6 URL() = %q", got)
	}

	if (Handle{}).URL() != "" || (Handle{}).LocalURL() != "" {
		t.Error("zero Handle should have empty URLs")
	}
}

func TestEvent_Message(t *testing.T) {
	h := Handle{IP: "10.0.0.5", Port: 9000}

	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"started", Event{Status: StatusStarted, Handle: h}, "was started at http://10.0.0.5:9000"},
		{"already", Event{Status: StatusAlreadyRunning, Handle: h}, "already running"},
		{"failed", Event{Status: StatusStartFailed, Err: errors.New("address in use")}, "address in use"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.Message(); !strings.Contains(got, tt.want) {
				t.Errorf("Message() = %q, want containing %q", got, tt.want)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	if StateRunning.String() != "running" || StateStopping.String() != "stopping" {
		t.Error("unexpected state names")
	}
	if !strings.HasPrefix(State(42).String(), "unknown") {
		t.Errorf("State(42) = %q", State(42).String())
	}
}
