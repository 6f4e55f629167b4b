package route

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/diagscope/diagscope/internal/domain/response"
	"github.com/diagscope/diagscope/internal/domain/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(opts ...Option) *Router {
	return New(append([]Option{WithLogger(discardLogger())}, opts...)...)
}

func get(path string) *session.Params {
	return session.New(http.MethodGet, path)
}

type countingObserver struct {
	mu       sync.Mutex
	matched  map[string]int
	fallback int
	failed   map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{matched: map[string]int{}, failed: map[string]int{}}
}

func (o *countingObserver) Matched(route string) {
	o.mu.Lock()
	o.matched[route]++
	o.mu.Unlock()
}

func (o *countingObserver) Fallback() {
	o.mu.Lock()
	o.fallback++
	o.mu.Unlock()
}

func (o *countingObserver) Failed(route string) {
	o.mu.Lock()
	o.failed[route]++
	o.mu.Unlock()
}

func TestDispatch_EmptyTableFallsBack(t *testing.T) {
	r := newTestRouter()

	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		w := r.Dispatch(session.New(m, "/nowhere"))
		if w.Status != http.StatusNotFound {
			t.Errorf("%s: Status = %d, want 404", m, w.Status)
		}
		if w.MIMEType != response.MIMEPlainText {
			t.Errorf("%s: MIMEType = %q, want text/plain", m, w.MIMEType)
		}
		if len(w.Body) != 0 {
			t.Errorf("%s: Body = %q, want empty", m, w.Body)
		}
	}
}

func TestDispatch_StatusExample(t *testing.T) {
	r := newTestRouter()
	if err := r.Handle("/status", response.Static{
		Status: http.StatusOK, MIMEType: response.MIMEJSON, Body: []byte("{}"),
	}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	w := r.Dispatch(get("/status"))
	if w.Status != 200 || w.MIMEType != response.MIMEJSON || string(w.Body) != "{}" {
		t.Errorf("/status = (%d, %q, %q)", w.Status, w.MIMEType, w.Body)
	}

	w = r.Dispatch(get("/other"))
	if w.Status != 404 || len(w.Body) != 0 {
		t.Errorf("/other = (%d, %q), want 404 empty", w.Status, w.Body)
	}
}

func TestDispatch_FirstMatchShortCircuits(t *testing.T) {
	r := newTestRouter()

	var firstCalls, secondCalls, secondRuleCalls atomic.Int32
	first := response.Func(func(*session.Params) response.WireResponse {
		firstCalls.Add(1)
		return response.Text(http.StatusOK, "first")
	})
	second := response.Func(func(*session.Params) response.WireResponse {
		secondCalls.Add(1)
		return response.Text(http.StatusOK, "second")
	})
	secondRule := RuleFunc(func(path string, _ *session.Params) bool {
		secondRuleCalls.Add(1)
		return path == "/x"
	})

	if err := r.Register("first", Exact("/x"), first); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("second", secondRule, second); err != nil {
		t.Fatal(err)
	}

	w := r.Dispatch(get("/x"))
	if string(w.Body) != "first" {
		t.Errorf("Body = %q, want first", w.Body)
	}
	if firstCalls.Load() != 1 {
		t.Errorf("first handler calls = %d, want 1", firstCalls.Load())
	}
	if secondCalls.Load() != 0 || secondRuleCalls.Load() != 0 {
		t.Errorf("second entry consulted after first match (rule=%d handler=%d)",
			secondRuleCalls.Load(), secondCalls.Load())
	}
}

func TestDispatch_PriorityOrdering(t *testing.T) {
	r := newTestRouter()
	text := func(s string) response.Response {
		return response.Func(func(*session.Params) response.WireResponse {
			return response.Text(http.StatusOK, s)
		})
	}

	mustRegister(t, r, "low", Prefix("/api"), text("low"))
	mustRegister(t, r, "high", Exact("/api/x"), text("high"), WithPriority(10))
	mustRegister(t, r, "tie", Exact("/api/x"), text("tie"), WithPriority(10))

	if got := string(r.Dispatch(get("/api/x")).Body); got != "high" {
		t.Errorf("Body = %q, want high", got)
	}
	if got := string(r.Dispatch(get("/api/y")).Body); got != "low" {
		t.Errorf("Body = %q, want low", got)
	}

	want := []string{"high", "tie", "low"}
	routes := r.Routes()
	if len(routes) != len(want) {
		t.Fatalf("Routes() len = %d, want %d", len(routes), len(want))
	}
	for i, name := range want {
		if routes[i].Name != name {
			t.Errorf("Routes()[%d] = %q, want %q", i, routes[i].Name, name)
		}
	}
}

func TestDispatch_TrailingSlash(t *testing.T) {
	ok := response.Static{Status: http.StatusOK, MIMEType: response.MIMEPlainText, Body: []byte("ok")}

	tests := []struct {
		name   string
		policy SlashPolicy
		path   string
		want   int
	}{
		{"strict exact", SlashStrict, "/status", 200},
		{"strict trailing", SlashStrict, "/status/", 404},
		{"strip exact", SlashStrip, "/status", 200},
		{"strip trailing", SlashStrip, "/status/", 200},
		{"empty path is root", SlashStrict, "", 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(WithTrailingSlash(tt.policy))
			if err := r.Handle("/status", ok); err != nil {
				t.Fatal(err)
			}
			if got := r.Dispatch(get(tt.path)).Status; got != tt.want {
				t.Errorf("Dispatch(%q) = %d, want %d", tt.path, got, tt.want)
			}
		})
	}
}

func TestDispatch_MethodAndPrefix(t *testing.T) {
	r := newTestRouter()
	ok := response.Static{Status: http.StatusOK, MIMEType: response.MIMEPlainText}
	if err := r.HandleMethod(http.MethodDelete, "/api/files", ok); err != nil {
		t.Fatal(err)
	}
	if err := r.HandlePrefix("/static", ok); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodDelete, "/api/files", 200},
		{http.MethodGet, "/api/files", 404},
		{http.MethodGet, "/static", 200},
		{http.MethodGet, "/static/app.js", 200},
		{http.MethodGet, "/staticfile", 404},
	}
	for _, tt := range tests {
		if got := r.Dispatch(session.New(tt.method, tt.path)).Status; got != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestDispatch_PanicBecomes500(t *testing.T) {
	obs := newCountingObserver()
	r := newTestRouter(WithObserver(obs))
	mustRegister(t, r, "boom", Exact("/boom"), response.Func(func(*session.Params) response.WireResponse {
		panic("kaboom")
	}))

	w := r.Dispatch(get("/boom"))
	if w.Status != http.StatusInternalServerError {
		t.Fatalf("Status = %d, want 500", w.Status)
	}
	if strings.Contains(string(w.Body), "kaboom") {
		t.Errorf("Body leaks panic value: %q", w.Body)
	}
	if !errors.Is(w.Err, ErrHandlerFailure) {
		t.Errorf("Err = %v, want ErrHandlerFailure", w.Err)
	}
	var he *HandlerError
	if !errors.As(w.Err, &he) || he.Route != "boom" || he.Panic != "kaboom" || len(he.Stack) == 0 {
		t.Errorf("HandlerError = %+v", he)
	}
	if obs.failed["boom"] != 1 {
		t.Errorf("observer failed count = %d, want 1", obs.failed["boom"])
	}

	// The router keeps serving after a panic.
	if got := r.Dispatch(get("/other")).Status; got != http.StatusNotFound {
		t.Errorf("follow-up Status = %d, want 404", got)
	}
}

func TestDispatch_PanickingRuleBecomes500(t *testing.T) {
	r := newTestRouter()
	mustRegister(t, r, "bad-rule", RuleFunc(func(string, *session.Params) bool {
		panic("rule exploded")
	}), response.NotFound{})

	if got := r.Dispatch(get("/x")).Status; got != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", got)
	}
}

func TestDispatch_InvalidStatusBecomes500(t *testing.T) {
	for _, status := range []int{0, 99, 199, 600, 1000} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			closed := false
			r := newTestRouter()
			mustRegister(t, r, "bad", Any(), response.Func(func(*session.Params) response.WireResponse {
				return response.Streamed(status, response.MIMEBinary, closeTracker{&closed}, -1)
			}))

			w := r.Dispatch(get("/"))
			if w.Status != http.StatusInternalServerError {
				t.Errorf("Status = %d, want 500", w.Status)
			}
			if !errors.Is(w.Err, ErrHandlerFailure) {
				t.Errorf("Err = %v, want ErrHandlerFailure", w.Err)
			}
			if !closed {
				t.Error("discarded stream was not closed")
			}
		})
	}
}

func TestDispatch_NilSession(t *testing.T) {
	r := newTestRouter()
	w := r.Dispatch(nil)
	if w.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", w.Status)
	}
}

func TestDispatch_CustomFallback(t *testing.T) {
	r := newTestRouter(WithFallback(response.Static{Status: http.StatusGone, MIMEType: response.MIMEPlainText}))
	if got := r.Dispatch(get("/x")).Status; got != http.StatusGone {
		t.Errorf("Status = %d, want 410", got)
	}
}

func TestDispatch_ObserverCounts(t *testing.T) {
	obs := newCountingObserver()
	r := newTestRouter(WithObserver(obs))
	mustRegister(t, r, "status", Exact("/status"), response.Static{Status: 200, MIMEType: response.MIMEJSON})

	r.Dispatch(get("/status"))
	r.Dispatch(get("/status"))
	r.Dispatch(get("/missing"))

	if obs.matched["status"] != 2 {
		t.Errorf("matched = %d, want 2", obs.matched["status"])
	}
	if obs.fallback != 1 {
		t.Errorf("fallback = %d, want 1", obs.fallback)
	}
}

func TestRegister_Errors(t *testing.T) {
	r := newTestRouter()
	ok := response.NotFound{}

	if err := r.Register("", Any(), ok); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("empty name: err = %v, want ErrInvalidEntry", err)
	}
	if err := r.Register("x", nil, ok); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("nil rule: err = %v, want ErrInvalidEntry", err)
	}
	if err := r.Register("x", Any(), nil); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("nil response: err = %v, want ErrInvalidEntry", err)
	}
	mustRegister(t, r, "x", Any(), ok)
	if err := r.Register("x", Any(), ok); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("duplicate: err = %v, want ErrInvalidEntry", err)
	}

	r.Freeze()
	r.Freeze()
	if !r.Frozen() {
		t.Fatal("Frozen() = false after Freeze")
	}
	if err := r.Register("y", Any(), ok); !errors.Is(err, ErrFrozen) {
		t.Errorf("after freeze: err = %v, want ErrFrozen", err)
	}
}

func TestDispatch_FreezesImplicitly(t *testing.T) {
	r := newTestRouter()
	r.Dispatch(get("/"))
	if err := r.Handle("/late", response.NotFound{}); !errors.Is(err, ErrFrozen) {
		t.Errorf("err = %v, want ErrFrozen", err)
	}
}

func TestDispatch_ConcurrentNoCrosstalk(t *testing.T) {
	r := newTestRouter()
	mustRegister(t, r, "echo", Prefix("/echo"), response.Func(func(s *session.Params) response.WireResponse {
		return response.Text(http.StatusOK, s.Path()+"?"+s.Query("n"))
	}))

	const workers = 16
	const perWorker = 200

	var wg sync.WaitGroup
	errs := make(chan string, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				path := fmt.Sprintf("/echo/%d", w)
				n := fmt.Sprint(i)
				s := session.New(http.MethodGet, path, session.WithRawQuery("n="+n))
				got := string(r.Dispatch(s).Body)
				if got != path+"?"+n {
					errs <- fmt.Sprintf("worker %d: got %q", w, got)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
}

func TestDispatch_RecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	r := newTestRouter(WithTracer(tp.Tracer("test")))
	mustRegister(t, r, "status", Exact("/status"), response.Static{Status: 200, MIMEType: response.MIMEJSON})

	r.Dispatch(get("/status"))

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "route.dispatch" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs["route.name"].AsString() != "status" {
		t.Errorf("route.name = %q, want status", attrs["route.name"].AsString())
	}
	if attrs["http.response.status_code"].AsInt64() != 200 {
		t.Errorf("status_code = %d, want 200", attrs["http.response.status_code"].AsInt64())
	}
}

func TestPrefix_SegmentBoundary(t *testing.T) {
	tests := []struct {
		prefix, path string
		want         bool
	}{
		{"/api", "/api", true},
		{"/api", "/api/", true},
		{"/api", "/api/x", true},
		{"/api", "/apix", false},
		{"/api/", "/api/x", true},
		{"/", "/anything", true},
	}
	for _, tt := range tests {
		if got := Prefix(tt.prefix).Match(tt.path, get(tt.path)); got != tt.want {
			t.Errorf("Prefix(%q).Match(%q) = %v, want %v", tt.prefix, tt.path, got, tt.want)
		}
	}
}

func TestMethod_HeadMatchesGet(t *testing.T) {
	rule := Method(http.MethodGet, Any())
	if !rule.Match("/", session.New(http.MethodHead, "/")) {
		t.Error("HEAD should match a GET rule")
	}
	if rule.Match("/", session.New(http.MethodPost, "/")) {
		t.Error("POST should not match a GET rule")
	}
}

func TestParseSlashPolicy(t *testing.T) {
	if ParseSlashPolicy("strip") != SlashStrip || ParseSlashPolicy("STRIP") != SlashStrip {
		t.Error("strip not parsed")
	}
	if ParseSlashPolicy("") != SlashStrict || ParseSlashPolicy("bogus") != SlashStrict {
		t.Error("unknown values should be strict")
	}
}

func mustRegister(t *testing.T, r *Router, name string, rule Rule, resp response.Response, opts ...EntryOption) {
	t.Helper()
	if err := r.Register(name, rule, resp, opts...); err != nil {
		t.Fatalf("Register(%q) error = %v", name, err)
	}
}

type closeTracker struct{ closed *bool }

func (c closeTracker) Read([]byte) (int, error) { return 0, io.EOF }
func (c closeTracker) Close() error {
	*c.closed = true
	return nil
}
