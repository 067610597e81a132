// Package metrics exposes prometheus collectors for the coordination layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all prometheus collectors for the service
type Metrics struct {
	EventsProcessed    *prometheus.CounterVec
	DuplicatesDetected prometheus.Counter
	QueueDepth         *prometheus.GaugeVec
	ActiveReservations prometheus.Gauge
	ProcessingDuration prometheus.Histogram
	ChainRequests      *prometheus.CounterVec
}

// New registers and returns the service collectors on the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "castarena_events_processed_total",
			Help: "Mention events processed, labeled by result code",
		}, []string{"result"}),
		DuplicatesDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "castarena_duplicates_total",
			Help: "Events suppressed as exact or near duplicates",
		}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "castarena_queue_depth",
			Help: "Pending entries per address queue",
		}, []string{"address"}),
		ActiveReservations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "castarena_active_reservations",
			Help: "Unexpired balance reservations currently held",
		}),
		ProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "castarena_processing_duration_seconds",
			Help:    "End-to-end mention processing duration",
			Buckets: prometheus.DefBuckets,
		}),
		ChainRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "castarena_chain_requests_total",
			Help: "Chain RPC calls, labeled by method and outcome",
		}, []string{"method", "outcome"}),
	}
}
