// Package metrics exposes Prometheus collectors for the webhook pipeline
// and the workflow engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the pipeline records into.
type Metrics struct {
	WebhooksReceived  *prometheus.CounterVec
	DedupHits         prometheus.Counter
	QueueDepth        prometheus.Gauge
	EventsEnqueued    prometheus.Counter
	EventsProcessed   prometheus.Counter
	EventsFailed      prometheus.Counter
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	ActionDuration    *prometheus.HistogramVec
	ActionRetries     prometheus.Counter
}

// New registers all collectors on reg. Pass prometheus.DefaultRegisterer
// in production; tests use a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WebhooksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookflow",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Webhook requests by outcome.",
		}, []string{"outcome"}),
		DedupHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hookflow",
			Subsystem: "webhook",
			Name:      "duplicate_deliveries_total",
			Help:      "Deliveries suppressed by the dedup cache.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hookflow",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of queued events.",
		}),
		EventsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hookflow",
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Events accepted into the queue.",
		}),
		EventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hookflow",
			Subsystem: "queue",
			Name:      "processed_total",
			Help:      "Events processed successfully.",
		}),
		EventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hookflow",
			Subsystem: "queue",
			Name:      "failed_total",
			Help:      "Events that exhausted their retry budget.",
		}),
		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hookflow",
			Subsystem: "engine",
			Name:      "executions_total",
			Help:      "Workflow executions by terminal status.",
		}, []string{"status"}),
		ExecutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hookflow",
			Subsystem: "engine",
			Name:      "execution_duration_seconds",
			Help:      "End-to-end workflow execution duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		ActionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hookflow",
			Subsystem: "engine",
			Name:      "action_duration_seconds",
			Help:      "Per-action execution duration by action type.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"action_type"}),
		ActionRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hookflow",
			Subsystem: "engine",
			Name:      "action_retries_total",
			Help:      "Action retry attempts.",
		}),
	}
}

// Nop returns metrics backed by a throwaway registry, for tests and
// callers that do not export metrics.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
