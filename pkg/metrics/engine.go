package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SyncEngineMetrics records claim and execution outcomes for the sync engine.
type SyncEngineMetrics struct {
	claims     *prometheus.CounterVec
	executions *prometheus.CounterVec
}

// NewSyncEngineMetrics registers the engine metrics on the provided registerer.
func NewSyncEngineMetrics(reg prometheus.Registerer) *SyncEngineMetrics {
	if reg == nil {
		return &SyncEngineMetrics{}
	}
	claims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "engine",
		Name:      "sync_action_claims_total",
		Help:      "Claim attempts by action kind and outcome.",
	}, []string{"kind", "outcome"})
	executions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "engine",
		Name:      "sync_action_executions_total",
		Help:      "External call executions by action kind and result.",
	}, []string{"kind", "result"})
	reg.MustRegister(claims, executions)
	return &SyncEngineMetrics{
		claims:     claims,
		executions: executions,
	}
}

// ObserveClaim counts one claim attempt.
func (m *SyncEngineMetrics) ObserveClaim(kind string, won bool) {
	if m == nil || m.claims == nil {
		return
	}
	outcome := "lost"
	if won {
		outcome = "won"
	}
	m.claims.WithLabelValues(normalizeLabel(kind), outcome).Inc()
}

// ObserveExecution counts one external call result.
func (m *SyncEngineMetrics) ObserveExecution(kind, result string) {
	if m == nil || m.executions == nil {
		return
	}
	m.executions.WithLabelValues(normalizeLabel(kind), normalizeLabel(result)).Inc()
}
