// Package inbound defines the inbound port interfaces for the diagnostic
// server core. The CLI and the embedding API call these interfaces.
package inbound

import (
	"context"

	"github.com/diagscope/diagscope/internal/domain/lifecycle"
)

// ServerController starts and stops the diagnostic server.
type ServerController interface {
	// Start ensures a server is running. A live server is reused unless
	// force is set. listener (may be nil) receives exactly one ready event.
	Start(ctx context.Context, force bool, listener lifecycle.Listener) (lifecycle.Handle, error)

	// Stop tears down the running server. It reports whether a server was
	// actually stopped.
	Stop(ctx context.Context) (bool, error)

	// IsRunning reports whether a live server instance exists.
	IsRunning() bool
}
