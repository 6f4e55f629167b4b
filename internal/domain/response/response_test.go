package response

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/diagscope/diagscope/internal/domain/session"
)

func TestNotFound_AlwaysEmpty404(t *testing.T) {
	methods := []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodHead, "PATCH"}

	for _, m := range methods {
		t.Run(m, func(t *testing.T) {
			s := session.New(m, "/anything", session.WithBody(strings.NewReader("ignored")))
			w := NotFound{}.Resolve(s)

			if w.Status != http.StatusNotFound {
				t.Errorf("Status = %d, want 404", w.Status)
			}
			if w.MIMEType != MIMEPlainText {
				t.Errorf("MIMEType = %q, want %q", w.MIMEType, MIMEPlainText)
			}
			if w.Body == nil || len(w.Body) != 0 {
				t.Errorf("Body = %v, want empty non-nil slice", w.Body)
			}
		})
	}
}

func TestStatic_ReturnsCopy(t *testing.T) {
	r := Static{Status: http.StatusOK, MIMEType: MIMEJSON, Body: []byte("{}")}
	w := r.Resolve(session.New(http.MethodGet, "/status"))

	if w.Status != http.StatusOK || w.MIMEType != MIMEJSON || string(w.Body) != "{}" {
		t.Fatalf("Resolve() = (%d, %q, %q)", w.Status, w.MIMEType, w.Body)
	}

	w.Body[0] = 'x'
	again := r.Resolve(session.New(http.MethodGet, "/status"))
	if string(again.Body) != "{}" {
		t.Error("mutating a reply changed the registered body")
	}
}

func TestJSON(t *testing.T) {
	w := JSON(http.StatusOK, map[string]int{"a": 1})
	if w.MIMEType != MIMEJSON {
		t.Errorf("MIMEType = %q", w.MIMEType)
	}
	if string(w.Body) != `{"a":1}` {
		t.Errorf("Body = %s", w.Body)
	}

	bad := JSON(http.StatusOK, make(chan int))
	if bad.Status != http.StatusInternalServerError {
		t.Errorf("unencodable value status = %d, want 500", bad.Status)
	}
	if bad.Err == nil {
		t.Error("unencodable value should carry Err")
	}
}

func TestInternalError_HidesCause(t *testing.T) {
	w := InternalError(errors.New("secret database path"))
	if w.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", w.Status)
	}
	if strings.Contains(string(w.Body), "secret") {
		t.Errorf("Body leaks the cause: %s", w.Body)
	}
	if w.Err == nil {
		t.Error("Err should carry the cause")
	}
}

func TestTry(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{name: "success", err: nil, wantStatus: http.StatusOK, wantBody: "ok"},
		{name: "bad request", err: BadRequest("missing %s", "path"), wantStatus: 400, wantBody: "missing path"},
		{name: "not found", err: &StatusError{Status: 404, Message: "no such file", Err: cause}, wantStatus: 404, wantBody: "no such file"},
		{name: "5xx hides message", err: Errorf(503, "db locked"), wantStatus: 503, wantBody: "Service Unavailable"},
		{name: "plain error", err: cause, wantStatus: 500, wantBody: "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Try(func(*session.Params) (WireResponse, error) {
				if tt.err != nil {
					return WireResponse{}, tt.err
				}
				return Text(http.StatusOK, "ok"), nil
			})
			w := h.Resolve(session.New(http.MethodGet, "/"))
			if w.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Status, tt.wantStatus)
			}
			if string(w.Body) != tt.wantBody {
				t.Errorf("Body = %q, want %q", w.Body, tt.wantBody)
			}
			if (tt.err != nil) != (w.Err != nil) {
				t.Errorf("Err = %v, want set=%v", w.Err, tt.err != nil)
			}
		})
	}
}

func TestWithHeader_DoesNotAlias(t *testing.T) {
	base := Text(http.StatusOK, "x").WithHeader("A", "1")
	derived := base.WithHeader("B", "2")

	if base.Header.Get("B") != "" {
		t.Error("WithHeader mutated the original reply")
	}
	if derived.Header.Get("A") != "1" || derived.Header.Get("B") != "2" {
		t.Errorf("derived headers = %v", derived.Header)
	}
}

func TestCached_ETagAndNotModified(t *testing.T) {
	h := Cached(Static{Status: http.StatusOK, MIMEType: MIMEJSON, Body: []byte(`{"v":1}`)})

	first := h.Resolve(session.New(http.MethodGet, "/"))
	tag := first.Header.Get("ETag")
	if tag == "" || tag != ETag([]byte(`{"v":1}`)) {
		t.Fatalf("ETag = %q", tag)
	}

	hdr := http.Header{}
	hdr.Set("If-None-Match", `"other", `+tag)
	second := h.Resolve(session.New(http.MethodGet, "/", session.WithHeader(hdr)))
	if second.Status != http.StatusNotModified {
		t.Errorf("Status = %d, want 304", second.Status)
	}
	if len(second.Body) != 0 {
		t.Errorf("304 body = %q, want empty", second.Body)
	}

	hdr.Set("If-None-Match", `"stale"`)
	third := h.Resolve(session.New(http.MethodGet, "/", session.WithHeader(hdr)))
	if third.Status != http.StatusOK {
		t.Errorf("stale tag Status = %d, want 200", third.Status)
	}
}

func TestCached_SkipsStreamsAndErrors(t *testing.T) {
	stream := Cached(Func(func(*session.Params) WireResponse {
		return Streamed(http.StatusOK, MIMEBinary, io.NopCloser(strings.NewReader("data")), 4)
	}))
	if w := stream.Resolve(session.New(http.MethodGet, "/")); w.Header.Get("ETag") != "" {
		t.Error("streamed reply should not get an ETag")
	}

	missing := Cached(NotFound{})
	if w := missing.Resolve(session.New(http.MethodGet, "/")); w.Header.Get("ETag") != "" {
		t.Error("404 reply should not get an ETag")
	}
}
