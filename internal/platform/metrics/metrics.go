package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the stream bridge.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	sessionsCreatedTotal prometheus.Counter
	sessionsStoppedTotal prometheus.Counter
	sessionErrorsTotal   prometheus.Counter
	activeSessions       prometheus.Gauge
	signalingClients     prometheus.Gauge
	errorsTotal          prometheus.Counter
}

// New creates and registers Prometheus metrics for the bridge.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_requests_total",
		Help: "Total number of HTTP requests received",
	})
	sessionsCreatedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_sessions_created_total",
		Help: "Total number of stream sessions created",
	})
	sessionsStoppedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_sessions_stopped_total",
		Help: "Total number of stream sessions stopped, explicit or idle reclaimed",
	})
	sessionErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_session_errors_total",
		Help: "Total number of error transitions observed from transcoders",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_active_sessions",
		Help: "Number of sessions currently registered",
	})
	signalingClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_signaling_clients",
		Help: "Number of connected signaling clients",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		requestsTotal,
		sessionsCreatedTotal,
		sessionsStoppedTotal,
		sessionErrorsTotal,
		activeSessions,
		signalingClients,
		errorsTotal,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		sessionsCreatedTotal: sessionsCreatedTotal,
		sessionsStoppedTotal: sessionsStoppedTotal,
		sessionErrorsTotal:   sessionErrorsTotal,
		activeSessions:       activeSessions,
		signalingClients:     signalingClients,
		errorsTotal:          errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncSessionsCreated increments the sessions created counter.
func (m *Metrics) IncSessionsCreated() {
	m.sessionsCreatedTotal.Inc()
}

// IncSessionsStopped increments the sessions stopped counter.
func (m *Metrics) IncSessionsStopped() {
	m.sessionsStoppedTotal.Inc()
}

// IncSessionErrors increments the transcoder error transition counter.
func (m *Metrics) IncSessionErrors() {
	m.sessionErrorsTotal.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// SetSignalingClients sets the connected signaling clients gauge.
func (m *Metrics) SetSignalingClients(n int) {
	m.signalingClients.Set(float64(n))
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (e.g. active sessions, connected clients).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
