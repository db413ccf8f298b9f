package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the steward runtime.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive      prometheus.Gauge
	TurnsTotal          *prometheus.CounterVec
	TurnDuration        *prometheus.HistogramVec
	TokensTotal         *prometheus.CounterVec
	ToolCallsTotal      *prometheus.CounterVec
	PermissionDecisions *prometheus.CounterVec
	JudgeVerdicts       *prometheus.CounterVec
	JudgeCacheHits      prometheus.Counter
	JudgeCacheMisses    prometheus.Counter
	MemoriesExtracted   *prometheus.CounterVec
}

// NewMetrics creates a metrics collector on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "steward_sessions_active",
			Help: "Sessions currently in a non-terminal state.",
		}),
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_turns_total",
			Help: "Completed agent turns by outcome.",
		}, []string{"status"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "steward_turn_duration_seconds",
			Help:    "Agent turn duration.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"status"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_tokens_total",
			Help: "Tokens consumed by direction.",
		}, []string{"type"}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_tool_calls_total",
			Help: "Tool calls by tool, placement, and status.",
		}, []string{"tool", "mode", "status"}),
		PermissionDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_permission_decisions_total",
			Help: "Permission gate resolutions by decision.",
		}, []string{"decision"}),
		JudgeVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_judge_verdicts_total",
			Help: "Memory judge verdicts by outcome and source.",
		}, []string{"verdict", "source"}),
		JudgeCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "steward_judge_cache_hits_total",
			Help: "Judge escalation cache hits.",
		}),
		JudgeCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "steward_judge_cache_misses_total",
			Help: "Judge escalation cache misses.",
		}),
		MemoriesExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_memories_extracted_total",
			Help: "Memory candidates extracted by category.",
		}, []string{"category"}),
	}
	reg.MustRegister(
		m.SessionsActive,
		m.TurnsTotal,
		m.TurnDuration,
		m.TokensTotal,
		m.ToolCallsTotal,
		m.PermissionDecisions,
		m.JudgeVerdicts,
		m.JudgeCacheHits,
		m.JudgeCacheMisses,
		m.MemoriesExtracted,
	)
	return m
}

// RecordTurn records a completed turn with its duration and token usage.
func (m *Metrics) RecordTurn(status string, duration time.Duration, inputTokens, outputTokens int) {
	m.TurnsTotal.WithLabelValues(status).Inc()
	m.TurnDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.TokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues("output").Add(float64(outputTokens))
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
