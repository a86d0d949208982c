package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics измеряет вызовы шлюза заказов по операциям.
type GatewayMetrics struct {
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// NewGatewayMetricsWithRegisterer создаёт метрики шлюза в указанном реестре.
func NewGatewayMetricsWithRegisterer(registerer prometheus.Registerer) *GatewayMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &GatewayMetrics{
		duration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "fluidstore_order_gateway_duration_seconds",
			Help:    "Order gateway call latency by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		errors: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fluidstore_order_gateway_errors_total",
			Help: "Failed order gateway calls by operation",
		}, []string{"operation"}),
	}
}

// Observe фиксирует длительность вызова и его ошибку.
func (m *GatewayMetrics) Observe(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}
