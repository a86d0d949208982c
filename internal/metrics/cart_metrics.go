package metrics

import "github.com/prometheus/client_golang/prometheus"

// CartMetrics считает записи корзины в слот.
type CartMetrics struct {
	writes  *prometheus.CounterVec
	reloads prometheus.Counter
}

// NewCartMetricsWithRegisterer создаёт метрики корзины в указанном реестре.
func NewCartMetricsWithRegisterer(registerer prometheus.Registerer) *CartMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &CartMetrics{
		writes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fluidstore_cart_writes_total",
			Help: "Cart snapshot writes to the storage slot by outcome",
		}, []string{"outcome"}),
		reloads: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fluidstore_cart_external_reloads_total",
			Help: "Cart reloads that picked up a change written by another context",
		}),
	}
}

// RecordWrite фиксирует запись снимка.
func (m *CartMetrics) RecordWrite(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.writes.WithLabelValues(OutcomeSucceeded).Inc()
		return
	}
	m.writes.WithLabelValues(OutcomeFailed).Inc()
}

// RecordExternalReload фиксирует применённое внешнее изменение.
func (m *CartMetrics) RecordExternalReload() {
	if m == nil {
		return
	}
	m.reloads.Inc()
}
