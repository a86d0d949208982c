package metrics

import "github.com/prometheus/client_golang/prometheus"

// CleanupMetrics считает прогоны фоновой очистки по целям.
type CleanupMetrics struct {
	runs    *prometheus.CounterVec
	deleted *prometheus.CounterVec
}

// NewCleanupMetricsWithRegisterer создаёт метрики очистки в указанном реестре.
func NewCleanupMetricsWithRegisterer(registerer prometheus.Registerer) *CleanupMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &CleanupMetrics{
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fluidstore_cleanup_runs_total",
			Help: "Total number of cleanup runs grouped by target and result.",
		}, []string{"target", "result"}),
		deleted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fluidstore_cleanup_deleted_total",
			Help: "Total number of expired records deleted by target.",
		}, []string{"target"}),
	}
}

// RecordRun учитывает прогон очистки цели target.
func (m *CleanupMetrics) RecordRun(target string, deleted int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.runs.WithLabelValues(target, OutcomeFailed).Inc()
		return
	}
	m.runs.WithLabelValues(target, OutcomeSucceeded).Inc()
	if deleted > 0 {
		m.deleted.WithLabelValues(target).Add(float64(deleted))
	}
}
