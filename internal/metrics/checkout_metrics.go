package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы отправки заказа для метки outcome.
const (
	OutcomeSucceeded  = "succeeded"
	OutcomeFailed     = "failed"
	OutcomeTimeout    = "timeout"
	OutcomeValidation = "validation"
	OutcomeDuplicate  = "duplicate"
	OutcomeNotFound   = "not_found"
)

// CheckoutMetrics содержит метрики оформления заказа и административных обновлений.
type CheckoutMetrics struct {
	// Счётчики оформления
	checkoutStarted   prometheus.Counter
	checkoutEmptyCart prometheus.Counter
	submissions       *prometheus.CounterVec

	// Время вызова шлюза при отправке
	submitDuration prometheus.Histogram

	// Gauge для отправок в полёте
	inFlight prometheus.Gauge

	// Админские обновления и история
	statusUpdates *prometheus.CounterVec
	historyEvents prometheus.Counter
}

// NewCheckoutMetrics создаёт метрики в DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer создаёт метрики в указанном реестре.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		checkoutStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fluidstore_checkout_started_total",
			Help: "Total number of checkouts moved to details entry",
		}),
		checkoutEmptyCart: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fluidstore_checkout_empty_cart_total",
			Help: "Total number of checkout attempts rejected because the cart was empty",
		}),
		submissions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fluidstore_order_submissions_total",
			Help: "Order submissions by outcome",
		}, []string{"outcome"}),
		submitDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "fluidstore_order_submit_duration_seconds",
			Help:    "Duration of order gateway submissions in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "fluidstore_order_submissions_in_flight",
			Help: "Number of order submissions waiting for the gateway",
		}),
		statusUpdates: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fluidstore_order_status_updates_total",
			Help: "Administrative order field updates by field and outcome",
		}, []string{"field", "outcome"}),
		historyEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fluidstore_order_history_events_total",
			Help: "Total number of order history events recorded",
		}),
	}
}

// RecordCheckoutStarted увеличивает счётчик начатых оформлений.
func (m *CheckoutMetrics) RecordCheckoutStarted() {
	m.checkoutStarted.Inc()
}

// RecordEmptyCart фиксирует попытку оформления с пустой корзиной.
func (m *CheckoutMetrics) RecordEmptyCart() {
	m.checkoutEmptyCart.Inc()
}

// RecordSubmission фиксирует исход отправки.
func (m *CheckoutMetrics) RecordSubmission(outcome string) {
	m.submissions.WithLabelValues(outcome).Inc()
}

// RecordSubmitStarted увеличивает число отправок в полёте.
func (m *CheckoutMetrics) RecordSubmitStarted() {
	m.inFlight.Inc()
}

// RecordSubmitFinished уменьшает число отправок в полёте и пишет длительность.
func (m *CheckoutMetrics) RecordSubmitFinished(duration time.Duration) {
	m.inFlight.Dec()
	m.submitDuration.Observe(duration.Seconds())
}

// RecordStatusUpdate фиксирует исход обновления поля заказа.
func (m *CheckoutMetrics) RecordStatusUpdate(field, outcome string) {
	m.statusUpdates.WithLabelValues(field, outcome).Inc()
}

// RecordHistoryEvent увеличивает счётчик событий истории.
func (m *CheckoutMetrics) RecordHistoryEvent() {
	m.historyEvents.Inc()
}
