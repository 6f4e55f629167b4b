package route

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/diagscope/diagscope/internal/ctxkey"
	"github.com/diagscope/diagscope/internal/domain/response"
	"github.com/diagscope/diagscope/internal/domain/session"
)

const tracerName = "github.com/diagscope/diagscope/internal/domain/route"

// FallbackRoute is the route name reported when no entry matched.
const FallbackRoute = "fallback"

var (
	// ErrFrozen is returned when registering after the table was frozen.
	ErrFrozen = errors.New("route table is frozen")
	// ErrInvalidEntry is returned for a nil rule/response, an empty name
	// or a duplicate name.
	ErrInvalidEntry = errors.New("invalid route entry")
	// ErrHandlerFailure marks any failure raised inside a handler.
	ErrHandlerFailure = errors.New("handler failure")
)

// HandlerError describes a handler that panicked or returned an unusable reply.
type HandlerError struct {
	Route string
	Panic any
	Cause error
	Stack []byte
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	switch {
	case e.Panic != nil:
		return fmt.Sprintf("route %q: handler panic: %v", e.Route, e.Panic)
	case e.Cause != nil:
		return fmt.Sprintf("route %q: %v", e.Route, e.Cause)
	default:
		return fmt.Sprintf("route %q: handler failure", e.Route)
	}
}

// Unwrap supports errors.Is(err, ErrHandlerFailure) and the wrapped cause.
func (e *HandlerError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrHandlerFailure, e.Cause}
	}
	return []error{ErrHandlerFailure}
}

// Observer receives one callback per dispatch. Implementations must be
// safe for concurrent use.
type Observer interface {
	Matched(route string)
	Fallback()
	Failed(route string)
}

// RouteInfo describes one registered entry in dispatch order.
type RouteInfo struct {
	Name     string `json:"name" yaml:"name"`
	Priority int    `json:"priority" yaml:"priority"`
}

type entry struct {
	name     string
	rule     Rule
	resp     response.Response
	priority int
	seq      int
}

// Router holds an ordered handler table. Registration happens before the
// table is frozen; after that Dispatch is lock-free and reentrant.
type Router struct {
	mu      sync.Mutex
	pending []entry
	names   map[string]struct{}
	table   atomic.Pointer[[]entry]

	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer
	slash    SlashPolicy
	fallback response.Response
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger used when no request-scoped logger is present.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Router) {
		r.tracer = tracer
	}
}

// WithObserver sets the dispatch observer (e.g. Prometheus metrics).
func WithObserver(o Observer) Option {
	return func(r *Router) {
		r.observer = o
	}
}

// WithTrailingSlash sets the trailing-slash policy.
func WithTrailingSlash(p SlashPolicy) Option {
	return func(r *Router) {
		r.slash = p
	}
}

// WithFallback replaces the not-found fallback.
func WithFallback(resp response.Response) Option {
	return func(r *Router) {
		if resp != nil {
			r.fallback = resp
		}
	}
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{
		names:    make(map[string]struct{}),
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		fallback: response.NotFound{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EntryOption configures a single registration.
type EntryOption func(*entry)

// WithPriority orders the entry before lower priorities. Entries with equal
// priority keep registration order. The default priority is 0.
func WithPriority(p int) EntryOption {
	return func(e *entry) {
		e.priority = p
	}
}

// Register adds a named entry.
func (r *Router) Register(name string, rule Rule, resp response.Response, opts ...EntryOption) error {
	if name == "" || rule == nil || resp == nil {
		return fmt.Errorf("%w: name, rule and response are required", ErrInvalidEntry)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.table.Load() != nil {
		return fmt.Errorf("register %q: %w", name, ErrFrozen)
	}
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("%w: duplicate route name %q", ErrInvalidEntry, name)
	}

	e := entry{name: name, rule: rule, resp: resp, seq: len(r.pending)}
	for _, opt := range opts {
		opt(&e)
	}
	r.pending = append(r.pending, e)
	r.names[name] = struct{}{}
	return nil
}

// Handle registers resp for one exact path. The entry is named after the path.
func (r *Router) Handle(pattern string, resp response.Response, opts ...EntryOption) error {
	p := r.slash.normalize(pattern)
	return r.Register(p, Exact(p), resp, opts...)
}

// HandlePrefix registers resp for prefix and everything below it.
func (r *Router) HandlePrefix(prefix string, resp response.Response, opts ...EntryOption) error {
	p := r.slash.normalize(prefix)
	return r.Register(p+"*", Prefix(p), resp, opts...)
}

// HandleMethod registers resp for one method on one exact path.
func (r *Router) HandleMethod(method, pattern string, resp response.Response, opts ...EntryOption) error {
	p := r.slash.normalize(pattern)
	return r.Register(method+" "+p, Method(method, Exact(p)), resp, opts...)
}

// Freeze sorts and publishes the table. Later registrations fail with
// ErrFrozen. Calling Freeze more than once is harmless.
func (r *Router) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.table.Load() != nil {
		return
	}
	sorted := sortedEntries(r.pending)
	r.table.Store(&sorted)
}

// Frozen reports whether the table has been frozen.
func (r *Router) Frozen() bool {
	return r.table.Load() != nil
}

// Routes lists the entries in dispatch order.
func (r *Router) Routes() []RouteInfo {
	var entries []entry
	if t := r.table.Load(); t != nil {
		entries = *t
	} else {
		r.mu.Lock()
		entries = sortedEntries(r.pending)
		r.mu.Unlock()
	}

	out := make([]RouteInfo, len(entries))
	for i, e := range entries {
		out[i] = RouteInfo{Name: e.name, Priority: e.priority}
	}
	return out
}

// Dispatch resolves one request. It always returns a reply with a status
// in 200..599: the first matching entry answers, otherwise the fallback.
// Panics and invalid replies become a 500.
func (r *Router) Dispatch(s *session.Params) response.WireResponse {
	if s == nil {
		err := &HandlerError{Cause: errors.New("dispatch called without a session")}
		r.logger.Error("dispatch rejected", "error", err)
		return response.InternalError(err)
	}

	_, span := r.tracer.Start(s.Context(), "route.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", s.Method()),
			attribute.String("url.path", s.Path()),
		),
	)
	defer span.End()

	t := r.table.Load()
	if t == nil {
		r.Freeze()
		t = r.table.Load()
	}

	path := r.slash.normalize(s.Path())
	for _, e := range *t {
		matched, w := r.evaluate(e, path, s)
		if !matched {
			continue
		}
		r.finish(span, s, e.name, w)
		return w
	}

	_, w := r.evaluate(entry{name: FallbackRoute, rule: Any(), resp: r.fallback}, path, s)
	r.finish(span, s, FallbackRoute, w)
	return w
}

// evaluate runs one entry's rule and, on a match, its handler. A panic in
// either counts as a match that failed, so dispatch stops at this entry.
func (r *Router) evaluate(e entry, path string, s *session.Params) (matched bool, w response.WireResponse) {
	defer func() {
		if rec := recover(); rec != nil {
			matched = true
			w = response.InternalError(&HandlerError{Route: e.name, Panic: rec, Stack: debug.Stack()})
		}
	}()

	if !e.rule.Match(path, s) {
		return false, response.WireResponse{}
	}

	w = e.resp.Resolve(s)
	if w.Status < http.StatusOK || w.Status > 599 {
		if w.Stream != nil {
			_ = w.Stream.Close()
		}
		return true, response.InternalError(&HandlerError{
			Route: e.name,
			Cause: fmt.Errorf("invalid status code %d", w.Status),
		})
	}
	return true, w
}

func (r *Router) finish(span trace.Span, s *session.Params, name string, w response.WireResponse) {
	span.SetAttributes(
		attribute.String("route.name", name),
		attribute.Int("http.response.status_code", w.Status),
	)

	failed := w.Status >= http.StatusInternalServerError
	if w.Err != nil {
		logger := r.loggerFor(s)
		if failed {
			span.RecordError(w.Err)
			logger.Error("handler failed", "route", name, "status", w.Status, "error", w.Err)
			var he *HandlerError
			if errors.As(w.Err, &he) && he.Stack != nil {
				logger.Debug("handler panic stack", "route", name, "stack", string(he.Stack))
			}
		} else {
			logger.Debug("handler rejected request", "route", name, "status", w.Status, "error", w.Err)
		}
	}
	if failed {
		span.SetStatus(codes.Error, http.StatusText(w.Status))
	}

	if r.observer == nil {
		return
	}
	switch {
	case failed:
		r.observer.Failed(name)
	case name == FallbackRoute:
		r.observer.Fallback()
	default:
		r.observer.Matched(name)
	}
}

func (r *Router) loggerFor(s *session.Params) *slog.Logger {
	if logger, ok := s.Context().Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return r.logger
}

func sortedEntries(pending []entry) []entry {
	out := make([]entry, len(pending))
	copy(out, pending)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority > out[j].priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}
