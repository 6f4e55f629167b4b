package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/diagscope/diagscope/internal/port/outbound"
)

// HTTPTransport is the inbound adapter that serves a Dispatcher over HTTP.
// It implements outbound.Binder so the server guard can create and replace
// listening servers.
type HTTPTransport struct {
	dispatcher        Dispatcher
	logger            *slog.Logger
	metrics           *Metrics
	compression       bool
	readHeaderTimeout time.Duration
	idleTimeout       time.Duration
	maxBodyBytes      int64
	unmetered         []string
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithMetrics enables request metrics.
func WithMetrics(m *Metrics) Option {
	return func(t *HTTPTransport) {
		t.metrics = m
	}
}

// WithCompression enables gzip compression of replies for clients that
// accept it.
func WithCompression(enabled bool) Option {
	return func(t *HTTPTransport) {
		t.compression = enabled
	}
}

// WithReadHeaderTimeout bounds how long a client may take to send headers.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.readHeaderTimeout = d
		}
	}
}

// WithUnmeteredPaths excludes paths from the request metrics, typically
// the health probe and the metrics scrape endpoint.
func WithUnmeteredPaths(paths ...string) Option {
	return func(t *HTTPTransport) {
		t.unmetered = append(t.unmetered, paths...)
	}
}

// DefaultMaxBodyBytes is the request body limit when none is configured.
const DefaultMaxBodyBytes = 10 << 20

// WithMaxBodyBytes limits request bodies. 0 means unlimited.
func WithMaxBodyBytes(n int64) Option {
	return func(t *HTTPTransport) {
		t.maxBodyBytes = n
	}
}

// NewHTTPTransport creates an HTTP transport serving d.
func NewHTTPTransport(d Dispatcher, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		dispatcher:        d,
		logger:            slog.Default(),
		readHeaderTimeout: 10 * time.Second,
		idleTimeout:       60 * time.Second,
		maxBodyBytes:      DefaultMaxBodyBytes,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Handler builds the middleware chain around the dispatcher:
// Metrics -> RequestID -> gzip (optional) -> dispatch.
func (t *HTTPTransport) Handler() http.Handler {
	var handler http.Handler = dispatchHandler(t.dispatcher, t.maxBodyBytes)
	if t.compression {
		handler = gzhttp.GzipHandler(handler)
	}
	handler = RequestIDMiddleware(t.logger)(handler)
	if t.metrics != nil {
		handler = MetricsMiddleware(t.metrics, t.unmetered...)(handler)
	}
	return handler
}

// Bind listens on addr and serves in a background goroutine. The route
// table is frozen before the first request can arrive.
func (t *HTTPTransport) Bind(ctx context.Context, addr string) (outbound.BoundServer, error) {
	if f, ok := t.dispatcher.(interface{ Freeze() }); ok {
		f.Freeze()
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: t.readHeaderTimeout,
		IdleTimeout:       t.idleTimeout,
		ErrorLog:          slog.NewLogLogger(t.logger.Handler(), slog.LevelWarn),
	}

	b := &boundServer{
		srv:    srv,
		ln:     ln,
		done:   make(chan struct{}),
		logger: t.logger,
	}

	go func() {
		defer close(b.done)
		t.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("HTTP server stopped unexpectedly", "error", err)
		}
	}()

	return b, nil
}

// boundServer is one listening http.Server.
type boundServer struct {
	srv    *http.Server
	ln     net.Listener
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (b *boundServer) Addr() net.Addr {
	return b.ln.Addr()
}

func (b *boundServer) Alive() bool {
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

// Close shuts down gracefully until ctx expires, then force-closes the
// remaining connections and waits for the accept loop to exit.
func (b *boundServer) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		err := b.srv.Shutdown(ctx)
		if err != nil {
			b.logger.Warn("graceful shutdown incomplete, closing connections", "error", err)
			_ = b.srv.Close()
		}
		<-b.done
		b.closeErr = err
		b.logger.Info("HTTP server shutdown complete", "addr", b.ln.Addr().String())
	})
	return b.closeErr
}

// Compile-time check that HTTPTransport implements the Binder port.
var _ outbound.Binder = (*HTTPTransport)(nil)
