package metrics

import "github.com/prometheus/client_golang/prometheus"

const metricNamespace = "tradeyard"

// TransitionMetrics counts order state machine outcomes.
type TransitionMetrics struct {
	applied   *prometheus.CounterVec
	conflicts *prometheus.CounterVec
}

// NewTransitionMetrics registers the transition counters on the provided registerer.
func NewTransitionMetrics(reg prometheus.Registerer) *TransitionMetrics {
	if reg == nil {
		return &TransitionMetrics{}
	}
	applied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Subsystem: "orders",
		Name:      "transitions_applied",
		Help:      "Order status transitions that committed.",
	}, []string{"from", "to"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Subsystem: "orders",
		Name:      "transition_conflicts",
		Help:      "Order status transitions rejected because the source status no longer matched.",
	}, []string{"to"})
	reg.MustRegister(applied, conflicts)
	return &TransitionMetrics{applied: applied, conflicts: conflicts}
}

// IncApplied records a committed transition.
func (t *TransitionMetrics) IncApplied(from, to string) {
	if t == nil || t.applied == nil {
		return
	}
	t.applied.WithLabelValues(from, to).Inc()
}

// IncConflict records a rejected transition.
func (t *TransitionMetrics) IncConflict(to string) {
	if t == nil || t.conflicts == nil {
		return
	}
	t.conflicts.WithLabelValues(to).Inc()
}
