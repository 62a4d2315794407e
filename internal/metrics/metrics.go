// Package metrics holds the Prometheus collectors for the matching core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates per-symbol counters for order flow plus a processing
// latency histogram. One instance is shared by every market processor.
type Metrics struct {
	registry *prometheus.Registry

	ordersProcessed *prometheus.CounterVec
	tradesExecuted  *prometheus.CounterVec
	ordersRejected  *prometheus.CounterVec
	orderLatency    *prometheus.HistogramVec
}

// New creates the collectors on a private registry.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ordersProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_processed_total",
			Help:      "Total number of orders applied to a market",
		}, []string{"symbol"}),
		tradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_executed_total",
			Help:      "Total number of trades produced by matching",
		}, []string{"symbol"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Total number of orders rejected during processing",
		}, []string{"symbol"}),
		orderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_latency_seconds",
			Help:      "Wall-clock time from order submission to completed processing",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"symbol"}),
	}

	registry.MustRegister(m.ordersProcessed, m.tradesExecuted, m.ordersRejected, m.orderLatency)
	return m
}

// Registry exposes the underlying registry for scrape wiring.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// OrderProcessed records one order applied to symbol's market.
func (m *Metrics) OrderProcessed(symbol string) {
	if m == nil {
		return
	}
	m.ordersProcessed.WithLabelValues(symbol).Inc()
}

// TradesExecuted records n matches for symbol.
func (m *Metrics) TradesExecuted(symbol string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.tradesExecuted.WithLabelValues(symbol).Add(float64(n))
}

// OrderRejected records an order that failed market-side validation.
func (m *Metrics) OrderRejected(symbol string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(symbol).Inc()
}

// ObserveLatency records one order's submission-to-processed latency.
func (m *Metrics) ObserveLatency(symbol string, seconds float64) {
	if m == nil {
		return
	}
	m.orderLatency.WithLabelValues(symbol).Observe(seconds)
}
