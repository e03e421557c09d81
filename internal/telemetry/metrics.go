package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/szaher/augur/internal/llm"
)

// Turn outcomes.
const (
	OutcomeAnswered = "answered"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

// Metrics holds augur's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Turns         *prometheus.CounterVec
	NodeDuration  *prometheus.HistogramVec
	Handoffs      *prometheus.CounterVec
	SwarmAborts   *prometheus.CounterVec
	Tokens        *prometheus.CounterVec
	AuthFailures  *prometheus.CounterVec
	HistoryErrors prometheus.Counter
}

// NewMetrics creates and registers every collector, plus the Go runtime and
// process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "augur_turns_total",
			Help: "Conversational turns handled, by responding branch and outcome.",
		}, []string{"branch", "outcome"}),
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "augur_node_duration_seconds",
			Help:    "Routing graph node execution time.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
		}, []string{"node", "status"}),
		Handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "augur_swarm_handoffs_total",
			Help: "Handoffs performed inside handoff groups, by receiving agent.",
		}, []string{"agent"}),
		SwarmAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "augur_swarm_aborts_total",
			Help: "Handoff group runs stopped by a guard, by reason.",
		}, []string{"reason"}),
		Tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "augur_tokens_total",
			Help: "Generation tokens consumed.",
		}, []string{"type"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "augur_auth_failures_total",
			Help: "Rejected requests, by HTTP status.",
		}, []string{"status"}),
		HistoryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "augur_history_errors_total",
			Help: "History store load or persist failures.",
		}),
	}
	m.registry.MustRegister(
		m.Turns, m.NodeDuration, m.Handoffs, m.SwarmAborts, m.Tokens, m.AuthFailures, m.HistoryErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordTokens adds one generation's usage.
func (m *Metrics) RecordTokens(u llm.TokenUsage) {
	m.Tokens.WithLabelValues("input").Add(float64(u.InputTokens))
	m.Tokens.WithLabelValues("output").Add(float64(u.OutputTokens))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
