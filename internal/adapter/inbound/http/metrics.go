package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/diagscope/diagscope/internal/domain/lifecycle"
	"github.com/diagscope/diagscope/internal/domain/route"
)

// Metrics holds all Prometheus metrics for diagscope.
// It doubles as the router's Observer and as a ready-event listener.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge
	Dispatches      *prometheus.CounterVec
	ServerStarts    *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "diagscope",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests served",
			},
			[]string{"method", "class"}, // class=2xx/3xx/4xx/5xx
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "diagscope",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		InFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "diagscope",
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being served",
			},
		),
		Dispatches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "diagscope",
				Name:      "route_dispatches_total",
				Help:      "Dispatch outcomes per route",
			},
			[]string{"route", "outcome"}, // outcome=matched/fallback/failed
		),
		ServerStarts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "diagscope",
				Name:      "server_start_requests_total",
				Help:      "Start requests by outcome",
			},
			[]string{"status"},
		),
	}
}

// Matched implements route.Observer.
func (m *Metrics) Matched(name string) {
	m.Dispatches.WithLabelValues(name, "matched").Inc()
}

// Fallback implements route.Observer.
func (m *Metrics) Fallback() {
	m.Dispatches.WithLabelValues(route.FallbackRoute, "fallback").Inc()
}

// Failed implements route.Observer.
func (m *Metrics) Failed(name string) {
	m.Dispatches.WithLabelValues(name, "failed").Inc()
}

// OnReady implements lifecycle.Listener.
func (m *Metrics) OnReady(ev lifecycle.Event) {
	m.ServerStarts.WithLabelValues(string(ev.Status)).Inc()
}

var (
	_ route.Observer     = (*Metrics)(nil)
	_ lifecycle.Listener = (*Metrics)(nil)
)
