// Package lifecycle holds the types shared by the server guard, its
// notification queue and the embedding API.
package lifecycle

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// State is the server guard's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Status is the human-readable outcome of a start request.
type Status string

const (
	StatusStarted        Status = "started"
	StatusAlreadyRunning Status = "already running"
	StatusStartFailed    Status = "error starting"
)

// Handle describes a live server instance.
type Handle struct {
	Addr net.Addr
	// IP is the address clients on the network should use. For a server
	// bound to 0.0.0.0 or :: it is the first non-loopback IPv4 address.
	IP         string
	Port       int
	StartedAt  time.Time
	Generation uint64
}

// URL returns the base URL built from IP and Port.
func (h Handle) URL() string {
	if h.IP == "" {
		return ""
	}
	return "http://" + net.JoinHostPort(h.IP, strconv.Itoa(h.Port))
}

// LocalURL returns the loopback URL for the same port.
func (h Handle) LocalURL() string {
	if h.Port == 0 {
		return ""
	}
	return "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(h.Port))
}

// Event is one ready notification.
type Event struct {
	Status Status
	Handle Handle
	// Err is set when Status is StatusStartFailed.
	Err error
	At  time.Time
}

// IP returns the reachable IP of the instance, "" after a failed start.
func (e Event) IP() string { return e.Handle.IP }

// Port returns the bound port, 0 after a failed start.
func (e Event) Port() int { return e.Handle.Port }

// Message renders the event for banners and logs.
func (e Event) Message() string {
	switch e.Status {
	case StatusStartFailed:
		if e.Err != nil {
			return fmt.Sprintf("Error starting diagscope: %v", e.Err)
		}
		return "Error starting diagscope"
	case StatusAlreadyRunning:
		return fmt.Sprintf("diagscope is already running at %s (local %s)", e.Handle.URL(), e.Handle.LocalURL())
	default:
		return fmt.Sprintf("diagscope was started at %s (local %s)", e.Handle.URL(), e.Handle.LocalURL())
	}
}

// Listener receives ready notifications. OnReady runs on the notifier's
// worker goroutine and must not block for long.
type Listener interface {
	OnReady(Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Event)

// OnReady calls f(e).
func (f ListenerFunc) OnReady(e Event) { f(e) }
