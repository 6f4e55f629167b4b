// Package outbound defines the outbound port interfaces the server guard
// uses to create listening servers.
package outbound

import (
	"context"
	"net"
)

// Binder creates a listening server. Adapters implement this for a concrete
// transport (net/http).
type Binder interface {
	// Bind listens on addr and starts serving in the background.
	// It returns once the socket is bound, or with the bind error.
	Bind(ctx context.Context, addr string) (BoundServer, error)
}

// BoundServer is one live server instance.
type BoundServer interface {
	// Addr returns the bound address.
	Addr() net.Addr

	// Alive reports whether the accept loop is still running.
	Alive() bool

	// Close stops accepting, drains in-flight requests until ctx expires,
	// then joins the accept loop. Close is idempotent.
	Close(ctx context.Context) error
}
