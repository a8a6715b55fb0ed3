package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type orderMetrics struct {
	opened       *prometheus.CounterVec
	settled      *prometheus.CounterVec
	expired      prometheus.Counter
	archived     prometheus.Counter
	refundRetry  prometheus.Counter
	sweepLatency *prometheus.HistogramVec
}

var (
	orderMetricsOnce sync.Once
	orderRegistry    *orderMetrics
)

// OrderMetrics returns the lazily-initialised registry recording order
// lifecycle activity and maintenance sweep outcomes.
func OrderMetrics() *orderMetrics {
	orderMetricsOnce.Do(func() {
		orderRegistry = &orderMetrics{
			opened: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otc",
				Subsystem: "orders",
				Name:      "opened_total",
				Help:      "Total orders opened, segmented by first-purchase flag.",
			}, []string{"kind"}),
			settled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otc",
				Subsystem: "orders",
				Name:      "settled_total",
				Help:      "Total terminal transitions segmented by final state.",
			}, []string{"state"}),
			expired: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "otc",
				Subsystem: "orders",
				Name:      "expired_total",
				Help:      "Total unpaid orders reclaimed by the expiry sweep.",
			}),
			archived: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "otc",
				Subsystem: "orders",
				Name:      "archived_total",
				Help:      "Total terminal orders removed from the live index.",
			}),
			refundRetry: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "otc",
				Subsystem: "sweep",
				Name:      "refund_retries_total",
				Help:      "Expiry refunds that failed and were left for a later pass.",
			}),
			sweepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "otc",
				Subsystem: "sweep",
				Name:      "duration_seconds",
				Help:      "Latency distribution of maintenance sweeps.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"sweep"}),
		}
		prometheus.MustRegister(
			orderRegistry.opened,
			orderRegistry.settled,
			orderRegistry.expired,
			orderRegistry.archived,
			orderRegistry.refundRetry,
			orderRegistry.sweepLatency,
		)
	})
	return orderRegistry
}

// IncOrderOpened records an opened order.
func IncOrderOpened(firstPurchase bool) {
	kind := "standard"
	if firstPurchase {
		kind = "first_purchase"
	}
	OrderMetrics().opened.WithLabelValues(kind).Inc()
}

// IncOrderSettled records a terminal transition by final state label.
func IncOrderSettled(state string) {
	OrderMetrics().settled.WithLabelValues(state).Inc()
}

// IncOrderExpired records one order reclaimed by the expiry sweep.
func IncOrderExpired() { OrderMetrics().expired.Inc() }

// IncOrderArchived records one order removed from the live index.
func IncOrderArchived() { OrderMetrics().archived.Inc() }

// IncRefundRetry records an expiry refund left for a later pass.
func IncRefundRetry() { OrderMetrics().refundRetry.Inc() }

// ObserveSweep records the duration of one maintenance pass.
func ObserveSweep(sweep string, elapsed time.Duration) {
	OrderMetrics().sweepLatency.WithLabelValues(sweep).Observe(elapsed.Seconds())
}
