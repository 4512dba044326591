// Package metrics registers the ledger's Prometheus collectors.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type LedgerMetrics struct {
	operations     *prometheus.CounterVec
	verifier       *prometheus.HistogramVec
	eventsDropped  *prometheus.CounterVec
	eventsFailed   *prometheus.CounterVec
	sweepDurations prometheus.Histogram
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the lazily registered collectors.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "avelon",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			verifier: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "avelon",
				Subsystem: "verifier",
				Name:      "duration_seconds",
				Help:      "Latency of blockchain transaction verification.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"outcome"}),
			eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "avelon",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Domain events dropped because the dispatch queue was full.",
			}, []string{"type"}),
			eventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "avelon",
				Subsystem: "events",
				Name:      "delivery_failures_total",
				Help:      "Domain event deliveries that a sink rejected.",
			}, []string{"sink"}),
			sweepDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "avelon",
				Subsystem: "monitor",
				Name:      "sweep_duration_seconds",
				Help:      "Duration of collateral risk sweeps.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.verifier,
			ledgerRegistry.eventsDropped,
			ledgerRegistry.eventsFailed,
			ledgerRegistry.sweepDurations,
		)
	})
	return ledgerRegistry
}

func (m *LedgerMetrics) Operation(op, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *LedgerMetrics) Verification(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.verifier.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *LedgerMetrics) EventDropped(eventType string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(eventType).Inc()
}

func (m *LedgerMetrics) DeliveryFailed(sink string) {
	if m == nil {
		return
	}
	m.eventsFailed.WithLabelValues(sink).Inc()
}

func (m *LedgerMetrics) Sweep(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDurations.Observe(d.Seconds())
}
