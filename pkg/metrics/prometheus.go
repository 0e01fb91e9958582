package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the signaling service.
// Each instance owns its registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketRejected      prometheus.Counter
	websocketMessagesTotal *prometheus.CounterVec

	// Signaling Metrics
	participantsOnline prometheus.Gauge
	invitesTotal       *prometheus.CounterVec
	sessionsActive     prometheus.Gauge
	callRecordsTotal   *prometheus.CounterVec
	callDuration       *prometheus.HistogramVec
	sinkFailuresTotal  *prometheus.CounterVec

	// Redis Metrics
	redisDegraded    prometheus.Gauge
	redisHealthCheck prometheus.Counter

	// Resilience Metrics
	circuitBreakerState *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics on a fresh registry
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	labels := prometheus.Labels{"service": serviceName}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of open signaling WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "websocket_connections_rejected_total",
				Help:        "Signaling connections rejected because the server was at capacity",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of signaling frames by type and direction",
				ConstLabels: labels,
			},
			[]string{"type", "direction"},
		),

		participantsOnline: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "signaling_participants_online",
				Help:        "Number of participants with a live presence entry",
				ConstLabels: labels,
			},
		),
		invitesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_invites_total",
				Help:        "Call invitations by result",
				ConstLabels: labels,
			},
			[]string{"medium", "result"},
		),
		sessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "signaling_sessions_active",
				Help:        "Number of call sessions currently ringing or connected",
				ConstLabels: labels,
			},
		),
		callRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_call_records_total",
				Help:        "Terminated call sessions by outcome",
				ConstLabels: labels,
			},
			[]string{"medium", "outcome"},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "signaling_call_duration_seconds",
				Help:        "Duration of terminated calls in seconds",
				ConstLabels: labels,
				Buckets:     []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
			},
			[]string{"medium"},
		),
		sinkFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_call_record_failures_total",
				Help:        "Call records that could not be persisted",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),

		redisDegraded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "redis_degraded_mode",
				Help:        "Indicates if Redis is in degraded mode (1 = degraded, 0 = healthy)",
				ConstLabels: labels,
			},
		),
		redisHealthCheck: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "redis_health_check_total",
				Help:        "Total number of Redis health checks",
				ConstLabels: labels,
			},
		),

		circuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "circuit_breaker_state",
				Help:        "State of a circuit breaker (0=closed, 1=half_open, 2=open)",
				ConstLabels: labels,
			},
			[]string{"name"},
		),
	}
}

// GetRegistry returns the registry backing these metrics
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments in-flight requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements in-flight requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// WebSocketOpened tracks a new signaling connection
func (m *Metrics) WebSocketOpened() {
	m.websocketConnections.Inc()
}

// WebSocketClosed tracks a closed signaling connection
func (m *Metrics) WebSocketClosed() {
	m.websocketConnections.Dec()
}

// RecordWebSocketRejected counts a connection refused at capacity
func (m *Metrics) RecordWebSocketRejected() {
	m.websocketRejected.Inc()
}

// RecordWebSocketMessage records a signaling frame; direction is "in" or "out"
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.websocketMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

// SetParticipantsOnline sets the presence gauge
func (m *Metrics) SetParticipantsOnline(count int) {
	m.participantsOnline.Set(float64(count))
}

// RecordInvite records the result of a call invitation
func (m *Metrics) RecordInvite(medium, result string) {
	m.invitesTotal.WithLabelValues(medium, result).Inc()
}

// SetActiveSessions sets the number of active call sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.sessionsActive.Set(float64(count))
}

// RecordCallRecord records a terminated call with its duration
func (m *Metrics) RecordCallRecord(medium, outcome string, duration time.Duration) {
	m.callRecordsTotal.WithLabelValues(medium, outcome).Inc()
	m.callDuration.WithLabelValues(medium).Observe(duration.Seconds())
}

// RecordSinkFailure counts a call record that was not persisted
func (m *Metrics) RecordSinkFailure(reason string) {
	m.sinkFailuresTotal.WithLabelValues(reason).Inc()
}

// SetRedisDegraded reflects Redis degraded mode in the gauge
func (m *Metrics) SetRedisDegraded(degraded bool) {
	if degraded {
		m.redisDegraded.Set(1)
		return
	}
	m.redisDegraded.Set(0)
}

// RecordRedisHealthCheck counts a successful Redis health check
func (m *Metrics) RecordRedisHealthCheck() {
	m.redisHealthCheck.Inc()
}

// SetCircuitBreakerState records the state of the named breaker (0=closed, 1=half_open, 2=open)
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}
