package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/diagscope/diagscope/internal/domain/response"
	"github.com/diagscope/diagscope/internal/domain/session"
)

// Dispatcher resolves one request. *route.Router implements it.
type Dispatcher interface {
	Dispatch(s *session.Params) response.WireResponse
}

// dispatchHandler adapts a Dispatcher to net/http.
func dispatchHandler(d Dispatcher, maxBodyBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := r.Body
		if maxBodyBytes > 0 && body != nil {
			body = http.MaxBytesReader(w, body, maxBodyBytes)
		}

		s := session.New(r.Method, r.URL.Path,
			session.WithRawQuery(r.URL.RawQuery),
			session.WithHeader(r.Header),
			session.WithBody(body),
			session.WithRemoteAddr(r.RemoteAddr),
			session.WithContext(r.Context()),
		)

		writeResponse(w, r, d.Dispatch(s))
	})
}

// writeResponse serializes resp. Stream bodies are always closed.
func writeResponse(w http.ResponseWriter, r *http.Request, resp response.WireResponse) {
	if resp.Stream != nil {
		defer resp.Stream.Close()
	}

	h := w.Header()
	for k, v := range resp.Header {
		h[k] = append([]string(nil), v...)
	}
	mime := resp.MIMEType
	if mime == "" {
		mime = response.MIMEBinary
	}
	h.Set("Content-Type", mime)
	h.Set("X-Content-Type-Options", "nosniff")

	if !bodyAllowed(resp.Status) {
		h.Del("Content-Length")
		w.WriteHeader(resp.Status)
		return
	}

	if resp.Stream != nil {
		if resp.Length >= 0 {
			h.Set("Content-Length", strconv.FormatInt(resp.Length, 10))
		}
		w.WriteHeader(resp.Status)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.Copy(w, resp.Stream); err != nil {
			LoggerFromContext(r.Context()).Debug("stream copy interrupted", "error", err)
		}
		return
	}

	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(resp.Body); err != nil {
		LoggerFromContext(r.Context()).Debug("response write failed", "error", err)
	}
}

func bodyAllowed(status int) bool {
	return status != http.StatusNoContent && status != http.StatusNotModified
}
