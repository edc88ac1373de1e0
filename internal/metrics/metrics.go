// Package metrics implements the Metrics Collector (C10): the fixed set of
// Prometheus instruments the transport layer, conversation service, session
// store, and circuit breaker report against, plus a no-op Collector for
// tests and for operators who disable metrics entirely. Grounded on
// internal/observability/metrics.go's promauto-registered CounterVec/
// HistogramVec/GaugeVec struct, narrowed to the instrument set this module
// actually emits.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/goatbytes/consoul/internal/breaker"
	"github.com/goatbytes/consoul/internal/sessions"
)

// Collector is the interface every call site depends on, so a disabled
// deployment can wire in Noop without branching at every call.
type Collector interface {
	RequestTotal(endpoint, method, status, model string)
	RequestLatency(endpoint, method string, seconds float64)
	TokenUsage(direction, model, sessionID string, n int)
	ActiveSessions(delta float64)
	ToolExecution(toolName, status string)
	ErrorTotal(endpoint, errorType string)

	sessions.Observer
	breaker.Observer
}

// Prometheus is the real Collector, registering every instrument against
// the default registry at construction.
type Prometheus struct {
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	tokenUsage     *prometheus.CounterVec
	activeSessions prometheus.Gauge
	toolExecutions *prometheus.CounterVec
	errorTotal     *prometheus.CounterVec

	redisDegraded  prometheus.Gauge
	redisRecovered prometheus.Counter

	breakerState      *prometheus.GaugeVec
	breakerTrips      *prometheus.CounterVec
	breakerRejections *prometheus.CounterVec
}

// NewPrometheus registers and returns the full Consoul instrument set.
func NewPrometheus() *Prometheus {
	return &Prometheus{
		requestTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consoul_request_total",
				Help: "Total number of chat requests by endpoint, method, status, and model.",
			},
			[]string{"endpoint", "method", "status", "model"},
		),
		requestLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "consoul_request_latency_seconds",
				Help:    "Chat request latency in seconds by endpoint and method.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"endpoint", "method"},
		),
		tokenUsage: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consoul_token_usage_total",
				Help: "Total tokens consumed by direction, model, and session.",
			},
			[]string{"direction", "model", "session_id"},
		),
		activeSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "consoul_active_sessions",
				Help: "Number of sessions currently held under an active lock.",
			},
		),
		toolExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consoul_tool_executions_total",
				Help: "Total tool executions by tool name and status.",
			},
			[]string{"tool_name", "status"},
		),
		errorTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consoul_errors_total",
				Help: "Total errors by endpoint and error type.",
			},
			[]string{"endpoint", "error_type"},
		),
		redisDegraded: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "consoul_redis_degraded",
				Help: "1 when the session store has fallen back to in-memory storage, 0 otherwise.",
			},
		),
		redisRecovered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "consoul_redis_recovered_total",
				Help: "Total number of times the session store has recovered from Redis degradation.",
			},
		),
		breakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "consoul_circuit_breaker_state",
				Help: "Circuit breaker state per provider: 0=closed, 1=open, 2=half_open.",
			},
			[]string{"provider"},
		),
		breakerTrips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consoul_circuit_breaker_trips_total",
				Help: "Total number of times a provider's circuit breaker has tripped open.",
			},
			[]string{"provider"},
		),
		breakerRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consoul_circuit_breaker_rejections_total",
				Help: "Total number of calls rejected because a provider's circuit breaker was open.",
			},
			[]string{"provider"},
		),
	}
}

func (m *Prometheus) RequestTotal(endpoint, method, status, model string) {
	m.requestTotal.WithLabelValues(endpoint, method, status, model).Inc()
}

func (m *Prometheus) RequestLatency(endpoint, method string, seconds float64) {
	m.requestLatency.WithLabelValues(endpoint, method).Observe(seconds)
}

func (m *Prometheus) TokenUsage(direction, model, sessionID string, n int) {
	m.tokenUsage.WithLabelValues(direction, model, sessionID).Add(float64(n))
}

func (m *Prometheus) ActiveSessions(delta float64) {
	m.activeSessions.Add(delta)
}

func (m *Prometheus) ToolExecution(toolName, status string) {
	m.toolExecutions.WithLabelValues(toolName, status).Inc()
}

func (m *Prometheus) ErrorTotal(endpoint, errorType string) {
	m.errorTotal.WithLabelValues(endpoint, errorType).Inc()
}

// OnDegraded implements sessions.Observer: fired when the resilient store
// falls back to its in-memory cache after losing Redis.
func (m *Prometheus) OnDegraded() {
	m.redisDegraded.Set(1)
}

// OnRecovered implements sessions.Observer: fired when Redis becomes
// reachable again and the resilient store resumes writing through.
func (m *Prometheus) OnRecovered() {
	m.redisDegraded.Set(0)
	m.redisRecovered.Inc()
}

// OnStateChange implements breaker.Observer.
func (m *Prometheus) OnStateChange(provider string, from, to breaker.State) {
	m.breakerState.WithLabelValues(provider).Set(float64(to))
}

// OnTrip implements breaker.Observer.
func (m *Prometheus) OnTrip(provider string) {
	m.breakerTrips.WithLabelValues(provider).Inc()
}

// OnRejection implements breaker.Observer.
func (m *Prometheus) OnRejection(provider string) {
	m.breakerRejections.WithLabelValues(provider).Inc()
}

// Noop satisfies Collector while recording nothing, for tests and for
// operators who run with metrics disabled.
type Noop struct{}

func (Noop) RequestTotal(endpoint, method, status, model string)    {}
func (Noop) RequestLatency(endpoint, method string, seconds float64) {}
func (Noop) TokenUsage(direction, model, sessionID string, n int)   {}
func (Noop) ActiveSessions(delta float64)                           {}
func (Noop) ToolExecution(toolName, status string)                  {}
func (Noop) ErrorTotal(endpoint, errorType string)                  {}
func (Noop) OnDegraded()                                            {}
func (Noop) OnRecovered()                                           {}
func (Noop) OnStateChange(provider string, from, to breaker.State)  {}
func (Noop) OnTrip(provider string)                                 {}
func (Noop) OnRejection(provider string)                            {}

var _ Collector = (*Prometheus)(nil)
var _ Collector = Noop{}

// Timer is a small helper for the common "observe request latency on
// return" pattern.
type Timer struct {
	start time.Time
}

func NewTimer() Timer { return Timer{start: time.Now()} }

func (t Timer) ObserveSeconds() float64 { return time.Since(t.start).Seconds() }
