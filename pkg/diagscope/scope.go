// Package diagscope embeds a diagnostic HTTP server in a host process.
//
// A Scope owns an ordered handler table and a server that is started and
// stopped on demand:
//
//	s, err := diagscope.New(diagscope.WithFiles("/var/lib/app", false))
//	if err != nil { ... }
//	defer s.Close(context.Background())
//
//	_ = s.Handle("/status", diagscope.Static{Status: 200, MIMEType: "text/plain", Body: []byte("ok")})
//	h, err := s.Start(ctx, false, diagscope.ListenerFunc(func(ev diagscope.Event) {
//		log.Println(ev.Message())
//	}))
//
// Handlers must be registered before the first Start; the table is frozen
// when the server binds.
package diagscope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"

	"github.com/diagscope/diagscope/internal/adapter/inbound/diag"
	httpadapter "github.com/diagscope/diagscope/internal/adapter/inbound/http"
	"github.com/diagscope/diagscope/internal/adapter/outbound/cel"
	"github.com/diagscope/diagscope/internal/adapter/outbound/sqlite"
	"github.com/diagscope/diagscope/internal/adapter/outbound/tracing"
	"github.com/diagscope/diagscope/internal/config"
	"github.com/diagscope/diagscope/internal/domain/lifecycle"
	"github.com/diagscope/diagscope/internal/domain/response"
	"github.com/diagscope/diagscope/internal/domain/route"
	"github.com/diagscope/diagscope/internal/domain/session"
	"github.com/diagscope/diagscope/internal/port/inbound"
	"github.com/diagscope/diagscope/internal/service"
)

// Handler contract and reply types.
type (
	Response      = response.Response
	ResponseFunc  = response.Func
	WireResponse  = response.WireResponse
	Static        = response.Static
	NotFound      = response.NotFound
	SessionParams = session.Params
	Rule          = route.Rule
	RuleFunc      = route.RuleFunc
	EntryOption   = route.EntryOption
	RouteInfo     = route.RouteInfo
)

// Lifecycle types.
type (
	Event        = lifecycle.Event
	Listener     = lifecycle.Listener
	ListenerFunc = lifecycle.ListenerFunc
	Handle       = lifecycle.Handle
	State        = lifecycle.State
)

// Errors returned by Scope.
var (
	ErrFrozen          = route.ErrFrozen
	ErrInvalidEntry    = route.ErrInvalidEntry
	ErrBind            = service.ErrBind
	ErrAlreadyStopping = service.ErrAlreadyStopping
	ErrClosed          = errors.New("diagscope: scope is closed")
)

// WithPriority orders an entry before entries of lower priority.
func WithPriority(p int) EntryOption {
	return route.WithPriority(p)
}

var _ inbound.ServerController = (*Scope)(nil)

// Scope is an embedded diagnostic server.
type Scope struct {
	router    *route.Router
	transport *httpadapter.HTTPTransport
	notifier  *service.Notifier
	guard     *service.ServerGuard
	registry  *prometheus.Registry
	tracing   *tracing.Provider

	cancel context.CancelFunc
	// startMu orders Start against Close so no server is bound after
	// Close has stopped the guard.
	startMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// New wires a Scope. The server is not started.
func New(opts ...Option) (*Scope, error) {
	o := options{
		addr:         service.DefaultListenAddr,
		compression:  true,
		maxBodyBytes: httpadapter.DefaultMaxBodyBytes,
		queueSize:    100,
		diagnostics:  true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	s := &Scope{closed: make(chan struct{})}

	s.registry = o.registry
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	metrics := httpadapter.NewMetrics(s.registry)

	tracer := o.tracer
	if tracer == nil && o.exporter != "" {
		p, err := tracing.NewProvider(tracing.Config{
			Enabled:        true,
			Exporter:       o.exporter,
			ServiceName:    "diagscope",
			ServiceVersion: o.version,
			Writer:         o.traceOut,
		})
		if err != nil {
			return nil, err
		}
		s.tracing = p
		tracer = p.Tracer()
	}
	if tracer == nil {
		tracer = otel.Tracer("github.com/diagscope/diagscope")
	}

	slash := route.SlashStrict
	if o.stripSlash {
		slash = route.SlashStrip
	}
	s.router = route.New(
		route.WithLogger(o.logger),
		route.WithTracer(tracer),
		route.WithObserver(metrics),
		route.WithTrailingSlash(slash),
	)

	s.notifier = service.NewNotifier(o.logger, service.WithQueueSize(o.queueSize))
	s.notifier.Subscribe(metrics)

	transportOpts := []httpadapter.Option{
		httpadapter.WithLogger(o.logger),
		httpadapter.WithMetrics(metrics),
		httpadapter.WithCompression(o.compression),
		httpadapter.WithMaxBodyBytes(o.maxBodyBytes),
	}
	if o.readHeaderTimeout > 0 {
		transportOpts = append(transportOpts, httpadapter.WithReadHeaderTimeout(o.readHeaderTimeout))
	}
	if o.diagnostics {
		// registerDiagnostics always wires both endpoints.
		transportOpts = append(transportOpts, httpadapter.WithUnmeteredPaths(diag.HealthPath, diag.MetricsPath))
	}
	s.transport = httpadapter.NewHTTPTransport(s.router, transportOpts...)

	s.guard = service.NewServerGuard(s.transport, s.notifier, o.logger,
		service.WithListenAddr(o.addr),
		service.WithShutdownTimeout(o.shutdownTimeout),
	)

	if o.diagnostics {
		if err := registerDiagnostics(s, o); err != nil {
			s.shutdownTracing()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.notifier.Start(ctx)

	return s, nil
}

func registerDiagnostics(s *Scope, o options) error {
	deps := diag.Deps{
		Logger:    o.logger,
		Version:   o.version,
		StartedAt: time.Now(),
		Health:    diag.NewHealthChecker(s.guard, s.notifier, o.version),
		Gatherer:  s.registry,
		Config:    o.configDump,
	}

	if o.filesRoot != "" {
		explorer, err := diag.NewExplorer(o.filesRoot, o.allowDelete, o.logger)
		if err != nil {
			return err
		}
		deps.Files = explorer
	}
	if o.databasesDir != "" {
		deps.Databases = sqlite.NewBrowser(o.databasesDir, o.logger)
	}
	if len(o.static) > 0 {
		ev, err := cel.NewEvaluator(o.logger)
		if err != nil {
			return fmt.Errorf("create expression evaluator: %w", err)
		}
		deps.Rules = ev
		for _, sr := range o.static {
			deps.Routes = append(deps.Routes, config.RouteConfig{
				Name:     sr.Name,
				Match:    sr.Match,
				Priority: sr.Priority,
				Status:   sr.Status,
				MIMEType: sr.MIMEType,
				Body:     sr.Body,
			})
		}
	}

	return diag.Register(s.router, deps)
}

// Register adds a named entry matched by rule.
func (s *Scope) Register(name string, rule Rule, resp Response, opts ...EntryOption) error {
	return s.router.Register(name, rule, resp, opts...)
}

// Handle registers resp for one exact path.
func (s *Scope) Handle(pattern string, resp Response, opts ...EntryOption) error {
	return s.router.Handle(pattern, resp, opts...)
}

// HandlePrefix registers resp for prefix and every path below it.
func (s *Scope) HandlePrefix(prefix string, resp Response, opts ...EntryOption) error {
	return s.router.HandlePrefix(prefix, resp, opts...)
}

// HandleMethod registers resp for one method on one exact path.
func (s *Scope) HandleMethod(method, pattern string, resp Response, opts ...EntryOption) error {
	return s.router.HandleMethod(method, pattern, resp, opts...)
}

// Routes lists the registered entries in dispatch order.
func (s *Scope) Routes() []RouteInfo {
	return s.router.Routes()
}

// Start ensures the server is running. A live server is reused unless
// force is set. listener, which may be nil, receives exactly one event
// asynchronously, as does every subscriber.
func (s *Scope) Start(ctx context.Context, force bool, listener Listener) (Handle, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	select {
	case <-s.closed:
		return Handle{}, ErrClosed
	default:
	}
	return s.guard.Start(ctx, force, listener)
}

// Stop shuts the server down and reports whether one was running.
func (s *Scope) Stop(ctx context.Context) (bool, error) {
	return s.guard.Stop(ctx)
}

// IsRunning reports whether a live server is bound.
func (s *Scope) IsRunning() bool {
	return s.guard.IsRunning()
}

// Current returns the running server's handle.
func (s *Scope) Current() (Handle, bool) {
	return s.guard.Current()
}

// Subscribe registers l for every future ready event. The returned
// function removes it.
func (s *Scope) Subscribe(l Listener) func() {
	return s.guard.Subscribe(l)
}

// Gatherer exposes the metrics registry.
func (s *Scope) Gatherer() prometheus.Gatherer {
	return s.registry
}

// Close stops the server, flushes pending events and releases the
// tracer. The Scope cannot be started again.
func (s *Scope) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		s.startMu.Lock()
		close(s.closed)
		if _, err := s.guard.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		s.startMu.Unlock()

		s.notifier.Stop()
		s.cancel()
		if s.tracing != nil {
			if err := s.tracing.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *Scope) shutdownTracing() {
	if s.tracing != nil {
		_ = s.tracing.Shutdown(context.Background())
	}
}
