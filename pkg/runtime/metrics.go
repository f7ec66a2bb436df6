package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Module outcomes, used as the "outcome" label.
const (
	outcomeOK       = "ok"
	outcomeSkipped  = "skipped"
	outcomeRollback = "rollback"
	outcomeFailure  = "failure"
	outcomeReinit   = "needs_reinitialization"
)

type metrics struct {
	transactions prometheus.Counter
	outcomes     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer, namespace string) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		transactions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "transactions_total",
			Help:      "Transactions dispatched to modules before commit",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "module_outcomes_total",
			Help:      "Module invocations by outcome",
		}, []string{"module", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "module_duration_seconds",
			Help:      "Time spent in module BeforeCommit",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"module"}),
	}
}

func (m *metrics) transaction() {
	if m != nil {
		m.transactions.Inc()
	}
}

func (m *metrics) outcome(module, outcome string) {
	if m != nil {
		m.outcomes.WithLabelValues(module, outcome).Inc()
	}
}

func (m *metrics) observe(module string, seconds float64) {
	if m != nil {
		m.duration.WithLabelValues(module).Observe(seconds)
	}
}
