// Package metrics holds the Prometheus collectors for the tracker server.
//
// A nil *Metrics is valid and records nothing, so packages can take one
// without forcing tests to build a registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tracker"

// Metrics groups every collector the server exports.
type Metrics struct {
	sessionsCreated    prometheus.Counter
	sessionRetries     prometheus.Counter
	sessionValidations *prometheus.CounterVec
	sessionsDestroyed  prometheus.Counter
	sessionsSwept      prometheus.Counter

	timerOps      *prometheus.CounterVec
	timerDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec

	wsClients       prometheus.Gauge
	publishFailures *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
// It panics on duplicate registration, like prometheus.MustRegister.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "created_total",
			Help: "Sessions issued.",
		}),
		sessionRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "create_retries_total",
			Help: "Session insert attempts that failed and were retried.",
		}),
		sessionValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "validations_total",
			Help: "Session validations by result.",
		}, []string{"result"}),
		sessionsDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "destroyed_total",
			Help: "Sessions destroyed by logout.",
		}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "swept_total",
			Help: "Expired sessions removed by cleanup.",
		}),
		timerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "timer", Name: "operations_total",
			Help: "Timer engine operations by op and result.",
		}, []string{"op", "result"}),
		timerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "timer", Name: "operation_duration_seconds",
			Help:    "Timer engine operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "clients",
			Help: "Connected WebSocket clients.",
		}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "publish_failures_total",
			Help: "Timer events that could not be delivered, by sink.",
		}, []string{"sink"}),
	}

	reg.MustRegister(
		m.sessionsCreated,
		m.sessionRetries,
		m.sessionValidations,
		m.sessionsDestroyed,
		m.sessionsSwept,
		m.timerOps,
		m.timerDuration,
		m.httpRequests,
		m.wsClients,
		m.publishFailures,
	)
	return m
}

// NewRegistry returns a registry preloaded with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler exposes g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *Metrics) SessionCreateRetried() {
	if m == nil {
		return
	}
	m.sessionRetries.Inc()
}

// SessionValidated records a validation outcome: "ok", "invalid", "expired" or "error".
func (m *Metrics) SessionValidated(result string) {
	if m == nil {
		return
	}
	m.sessionValidations.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionDestroyed() {
	if m == nil {
		return
	}
	m.sessionsDestroyed.Inc()
}

func (m *Metrics) SessionsSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsSwept.Add(float64(n))
}

// TimerOp records one engine operation.
func (m *Metrics) TimerOp(op, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.timerOps.WithLabelValues(op, result).Inc()
	m.timerDuration.WithLabelValues(op).Observe(took.Seconds())
}

func (m *Metrics) HTTPRequest(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *Metrics) WSClientConnected() {
	if m == nil {
		return
	}
	m.wsClients.Inc()
}

func (m *Metrics) WSClientDisconnected() {
	if m == nil {
		return
	}
	m.wsClients.Dec()
}

func (m *Metrics) PublishFailed(sink string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(sink).Inc()
}
