package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/diagscope/diagscope/internal/domain/lifecycle"
	"github.com/diagscope/diagscope/internal/port/inbound"
	"github.com/diagscope/diagscope/internal/port/outbound"
)

var _ inbound.ServerController = (*ServerGuard)(nil)

var (
	// ErrBind matches every failure to bind the listening socket.
	ErrBind = errors.New("bind failed")
	// ErrAlreadyStopping is returned while a teardown is in flight.
	ErrAlreadyStopping = errors.New("server is stopping")
)

// BindError reports a failed bind attempt.
type BindError struct {
	Addr string
	Err  error
}

// Error implements the error interface.
func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

// Unwrap supports errors.Is(err, ErrBind) and the underlying cause.
func (e *BindError) Unwrap() []error {
	return []error{ErrBind, e.Err}
}

// DefaultListenAddr binds the loopback interface on an ephemeral port.
const DefaultListenAddr = "127.0.0.1:0"

// ServerGuard owns at most one live server instance and serializes its
// start and stop transitions. Bind and shutdown run outside the mutex with
// the state parked in Starting or Stopping; concurrent callers wait on the
// settled channel of the transition in flight.
type ServerGuard struct {
	binder   outbound.Binder
	notifier *Notifier
	logger   *slog.Logger

	listenAddr      string
	shutdownTimeout time.Duration
	now             func() time.Time
	interfaceAddrs  func() ([]net.Addr, error)

	mu         sync.Mutex
	state      lifecycle.State
	current    outbound.BoundServer
	handle     lifecycle.Handle
	generation uint64
	settled    chan struct{}
}

// GuardOption configures ServerGuard.
type GuardOption func(*ServerGuard)

// WithListenAddr sets the address passed to the binder.
func WithListenAddr(addr string) GuardOption {
	return func(g *ServerGuard) {
		if addr != "" {
			g.listenAddr = addr
		}
	}
}

// WithShutdownTimeout bounds how long Stop and forced restarts wait for
// in-flight requests.
func WithShutdownTimeout(d time.Duration) GuardOption {
	return func(g *ServerGuard) {
		if d > 0 {
			g.shutdownTimeout = d
		}
	}
}

// NewServerGuard creates a guard in StateStopped.
func NewServerGuard(binder outbound.Binder, notifier *Notifier, logger *slog.Logger, opts ...GuardOption) *ServerGuard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &ServerGuard{
		binder:          binder,
		notifier:        notifier,
		logger:          logger,
		listenAddr:      DefaultListenAddr,
		shutdownTimeout: 10 * time.Second,
		now:             time.Now,
		interfaceAddrs:  net.InterfaceAddrs,
		state:           lifecycle.StateStopped,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start ensures a server is running and emits exactly one ready event to
// listener and every subscriber.
//
// A live instance is reused unless force is set. Otherwise any previous
// instance is closed first, so its port is free, and a new one is bound.
func (g *ServerGuard) Start(ctx context.Context, force bool, listener lifecycle.Listener) (lifecycle.Handle, error) {
	g.mu.Lock()
	for g.state == lifecycle.StateStarting {
		settled := g.settled
		g.mu.Unlock()
		select {
		case <-settled:
		case <-ctx.Done():
			return lifecycle.Handle{}, ctx.Err()
		}
		g.mu.Lock()
	}
	if g.state == lifecycle.StateStopping {
		g.mu.Unlock()
		return lifecycle.Handle{}, ErrAlreadyStopping
	}

	if g.state == lifecycle.StateRunning && g.current.Alive() && !force {
		h := g.handle
		g.mu.Unlock()
		g.logger.Info("server already running", "url", h.URL(), "generation", h.Generation)
		g.notify(lifecycle.Event{Status: lifecycle.StatusAlreadyRunning, Handle: h}, listener)
		return h, nil
	}

	previous := g.current
	g.current = nil
	g.handle = lifecycle.Handle{}
	g.state = lifecycle.StateStarting
	settled := make(chan struct{})
	g.settled = settled
	g.mu.Unlock()

	if previous != nil {
		g.logger.Info("closing previous server instance", "addr", previous.Addr(), "force", force)
		g.closeServer(previous)
	}

	srv, err := g.binder.Bind(ctx, g.listenAddr)

	g.mu.Lock()
	if err != nil {
		g.state = lifecycle.StateStopped
		g.settled = nil
		close(settled)
		g.mu.Unlock()

		bindErr := &BindError{Addr: g.listenAddr, Err: err}
		g.logger.Error("server start failed", "addr", g.listenAddr, "error", err)
		g.notify(lifecycle.Event{Status: lifecycle.StatusStartFailed, Err: bindErr}, listener)
		return lifecycle.Handle{}, bindErr
	}

	g.generation++
	h := g.describe(srv.Addr(), g.generation)
	g.current = srv
	g.handle = h
	g.state = lifecycle.StateRunning
	g.settled = nil
	close(settled)
	g.mu.Unlock()

	g.logger.Info("server started", "addr", srv.Addr().String(), "url", h.URL(), "generation", h.Generation)
	g.notify(lifecycle.Event{Status: lifecycle.StatusStarted, Handle: h}, listener)
	return h, nil
}

// Stop tears down the running server and reports whether one was stopped.
// With no server it returns false without touching any socket.
func (g *ServerGuard) Stop(ctx context.Context) (bool, error) {
	g.mu.Lock()
	for g.state == lifecycle.StateStarting {
		settled := g.settled
		g.mu.Unlock()
		select {
		case <-settled:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		g.mu.Lock()
	}

	switch g.state {
	case lifecycle.StateStopping:
		g.mu.Unlock()
		return false, ErrAlreadyStopping
	case lifecycle.StateStopped:
		g.mu.Unlock()
		return false, nil
	}

	srv := g.current
	settled := make(chan struct{})
	g.state = lifecycle.StateStopping
	g.settled = settled
	g.mu.Unlock()

	g.logger.Info("stopping server", "addr", srv.Addr().String())
	shutdownCtx, cancel := context.WithTimeout(ctx, g.shutdownTimeout)
	err := srv.Close(shutdownCtx)
	cancel()

	g.mu.Lock()
	g.current = nil
	g.handle = lifecycle.Handle{}
	g.state = lifecycle.StateStopped
	g.settled = nil
	close(settled)
	g.mu.Unlock()

	if err != nil {
		g.logger.Warn("server shutdown incomplete", "error", err)
		return true, fmt.Errorf("stop server: %w", err)
	}
	g.logger.Info("server stopped")
	return true, nil
}

// IsRunning reports whether a live server instance exists.
func (g *ServerGuard) IsRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == lifecycle.StateRunning && g.current != nil && g.current.Alive()
}

// Current returns the handle of the running instance.
func (g *ServerGuard) Current() (lifecycle.Handle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != lifecycle.StateRunning {
		return lifecycle.Handle{}, false
	}
	return g.handle, true
}

// State returns the current lifecycle state.
func (g *ServerGuard) State() lifecycle.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Subscribe registers l for every future ready event.
func (g *ServerGuard) Subscribe(l lifecycle.Listener) func() {
	if g.notifier == nil {
		return func() {}
	}
	return g.notifier.Subscribe(l)
}

func (g *ServerGuard) notify(ev lifecycle.Event, l lifecycle.Listener) {
	if g.notifier == nil {
		return
	}
	ev.At = g.now()
	g.notifier.Notify(ev, l)
}

func (g *ServerGuard) closeServer(srv outbound.BoundServer) {
	ctx, cancel := context.WithTimeout(context.Background(), g.shutdownTimeout)
	defer cancel()
	if err := srv.Close(ctx); err != nil {
		g.logger.Warn("previous server did not shut down cleanly", "error", err)
	}
}

// describe builds the Handle for a bound address.
func (g *ServerGuard) describe(addr net.Addr, generation uint64) lifecycle.Handle {
	h := lifecycle.Handle{Addr: addr, StartedAt: g.now(), Generation: generation}

	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return h
	}
	h.Port, _ = strconv.Atoi(port)

	ip := net.ParseIP(host)
	if ip == nil || !ip.IsUnspecified() {
		h.IP = host
		return h
	}

	h.IP = "127.0.0.1"
	if lan := g.firstLANAddress(); lan != "" {
		h.IP = lan
	}
	return h
}

func (g *ServerGuard) firstLANAddress() string {
	addrs, err := g.interfaceAddrs()
	if err != nil {
		g.logger.Debug("listing interface addresses failed", "error", err)
		return ""
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}
