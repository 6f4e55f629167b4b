package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MetricsMiddleware records request count, duration and in-flight gauge.
// Requests for an unmetered path (the scrape and probe endpoints) pass
// through untouched so polling does not drown the traffic it measures.
func MetricsMiddleware(metrics *Metrics, unmetered ...string) func(http.Handler) http.Handler {
	skip := make(map[string]struct{}, len(unmetered))
	for _, p := range unmetered {
		skip[trimSlash(p)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[trimSlash(r.URL.Path)]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			metrics.InFlight.Inc()
			defer metrics.InFlight.Dec()

			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			metrics.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(r.Method, statusClass(wrapped.status)).Inc()
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

// Flush delegates to the underlying ResponseWriter if it supports http.Flusher.
// Streamed file downloads flush through the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// statusClass maps 404 to "4xx" and so on. The fallback and handler
// failures land in different classes.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}

func trimSlash(p string) string {
	if len(p) > 1 {
		return strings.TrimSuffix(p, "/")
	}
	return p
}
