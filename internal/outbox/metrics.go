package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "training_load",
		Subsystem: "outbox",
		Name:      "events_published_total",
		Help:      "Outbox events written to Kafka, labeled by event type.",
	}, []string{"event_type"})

	eventsDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "training_load",
		Subsystem: "outbox",
		Name:      "events_dead_lettered_total",
		Help:      "Outbox events moved to outbox_dlq after a failed delivery.",
	}, []string{"event_type", "topic"})

	deliveryRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "training_load",
		Subsystem: "outbox",
		Name:      "delivery_retries_total",
		Help:      "Batch deliveries attempted again after a failed write.",
	})

	claimedBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "training_load",
		Subsystem: "outbox",
		Name:      "claimed_batch_size",
		Help:      "Rows claimed per dispatcher pass.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
	})

	dispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "training_load",
		Subsystem: "outbox",
		Name:      "dispatch_duration_seconds",
		Help:      "Time from claiming a batch until it is settled.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	schemaLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "training_load",
		Subsystem: "outbox",
		Name:      "schema_lookups_total",
		Help:      "Schema ID resolutions, labeled cached or registry.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(eventsPublished, eventsDeadLettered, deliveryRetries, claimedBatchSize, dispatchDuration, schemaLookups)
}
