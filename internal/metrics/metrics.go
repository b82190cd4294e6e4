// Package metrics holds the Prometheus collectors of the service.  All
// methods are safe on a nil *Metrics, which is what callers get when
// METRICS_ENABLED=false.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors registered by New.
type Metrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	reservations *prometheus.CounterVec
	wsClients    prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reservation_operations_total",
			Help: "Reservation operations by operation and result.",
		}, []string{"operation", "result"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Connected WebSocket clients.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.reservations, m.wsClients)
	return m
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(took.Seconds())
}

// Operation counts a reservation operation; result is "ok" or an error kind.
func (m *Metrics) Operation(op, result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(op, result).Inc()
}

// ClientConnected bumps the WebSocket gauge.
func (m *Metrics) ClientConnected() {
	if m != nil {
		m.wsClients.Inc()
	}
}

// ClientDisconnected lowers the WebSocket gauge.
func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.wsClients.Dec()
	}
}
