package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	registry *prometheus.Registry

	routingOutcomes   *prometheus.CounterVec
	sessionsEnded     *prometheus.CounterVec
	relayMessages     *prometheus.CounterVec
	inboundEvents     *prometheus.CounterVec
	validationErrors  *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	activeSessions    prometheus.Gauge
	wsConnections     prometheus.Gauge
	wsMessages        prometheus.Counter
	wsErrors          prometheus.Counter
	tickDuration      prometheus.Histogram
	httpRequestsTotal *prometheus.CounterVec
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New creates a metrics set on its own registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		routingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callrouter",
			Name:      "routing_outcomes_total",
			Help:      "Routing attempts by outcome.",
		}, []string{"outcome"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callrouter",
			Name:      "sessions_ended_total",
			Help:      "Ended call sessions by reason.",
		}, []string{"reason"}),
		relayMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callrouter",
			Name:      "relay_messages_total",
			Help:      "Signaling messages by kind and result.",
		}, []string{"kind", "result"}),
		inboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callrouter",
			Name:      "inbound_events_total",
			Help:      "Decoded inbound events by type.",
		}, []string{"type"}),
		validationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callrouter",
			Name:      "validation_errors_total",
			Help:      "Inbound frames rejected at the boundary.",
		}, []string{"type"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "callrouter",
			Name:      "queue_depth",
			Help:      "Requests waiting across all companies.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "callrouter",
			Name:      "active_sessions",
			Help:      "Sessions in ringing or connected state.",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "callrouter",
			Name:      "websocket_connections",
			Help:      "Open websocket connections.",
		}),
		wsMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "callrouter",
			Name:      "websocket_messages_total",
			Help:      "Inbound websocket frames.",
		}),
		wsErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "callrouter",
			Name:      "websocket_errors_total",
			Help:      "Unexpected websocket read or write errors.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "callrouter",
			Name:      "tick_duration_seconds",
			Help:      "Time spent in the periodic queue tick.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1},
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callrouter",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status.",
		}, []string{"route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.routingOutcomes,
		m.sessionsEnded,
		m.relayMessages,
		m.inboundEvents,
		m.validationErrors,
		m.queueDepth,
		m.activeSessions,
		m.wsConnections,
		m.wsMessages,
		m.wsErrors,
		m.tickDuration,
		m.httpRequestsTotal,
	)
	return m
}

// RecordRouting counts a routing outcome (routed, queued, rejected)
func (m *Metrics) RecordRouting(outcome string) {
	m.routingOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSessionEnded counts an ended session
func (m *Metrics) RecordSessionEnded(reason string) {
	m.sessionsEnded.WithLabelValues(reason).Inc()
}

// RecordRelay counts a relayed or dropped signaling message
func (m *Metrics) RecordRelay(kind string, forwarded bool) {
	result := "dropped"
	if forwarded {
		result = "forwarded"
	}
	m.relayMessages.WithLabelValues(kind, result).Inc()
}

// RecordInbound counts a decoded inbound event
func (m *Metrics) RecordInbound(eventType string) {
	m.inboundEvents.WithLabelValues(eventType).Inc()
}

// RecordValidationError counts a frame rejected at decode time
func (m *Metrics) RecordValidationError(eventType string) {
	m.validationErrors.WithLabelValues(eventType).Inc()
}

// SetQueueDepth sets the total number of waiting requests
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// SetActiveSessions sets the number of live sessions
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// RecordWebSocketConnect increments the open connection gauge
func (m *Metrics) RecordWebSocketConnect() {
	m.wsConnections.Inc()
}

// RecordWebSocketDisconnect decrements the open connection gauge
func (m *Metrics) RecordWebSocketDisconnect() {
	m.wsConnections.Dec()
}

// RecordWebSocketMessage increments message counter
func (m *Metrics) RecordWebSocketMessage() {
	m.wsMessages.Inc()
}

// RecordWebSocketError increments WebSocket error counter
func (m *Metrics) RecordWebSocketError() {
	m.wsErrors.Inc()
}

// ObserveTick records how long one tick took, in seconds
func (m *Metrics) ObserveTick(seconds float64) {
	m.tickDuration.Observe(seconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(route string, status string) {
	m.httpRequestsTotal.WithLabelValues(route, status).Inc()
}

// Registry exposes the underlying registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
