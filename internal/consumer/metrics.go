package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	handledCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "training_load",
		Subsystem: "consumer",
		Name:      "messages_handled_total",
		Help:      "Kafka records handled and committed, by topic, event type and framing.",
	}, []string{"topic", "event_type", "framing"})

	failuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "training_load",
		Subsystem: "consumer",
		Name:      "failures_total",
		Help:      "Kafka records that were not handled, by topic and stage (decode, handle, rejected).",
	}, []string{"topic", "stage"})

	ingestDelay = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "training_load",
		Subsystem: "consumer",
		Name:      "ingest_delay_seconds",
		Help:      "Delay between a record's broker timestamp and the end of its backfill.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(handledCounter, failuresCounter, ingestDelay)
}

func recordProcessed(msg Message) {
	framing := "bare"
	if msg.SchemaID != 0 {
		framing = "confluent"
	}
	handledCounter.WithLabelValues(msg.Topic, msg.EventType, framing).Inc()
	if !msg.Timestamp.IsZero() {
		ingestDelay.WithLabelValues(msg.Topic).Observe(time.Since(msg.Timestamp).Seconds())
	}
}

func recordHandlerError(msg Message) {
	failuresCounter.WithLabelValues(msg.Topic, "handle").Inc()
}

func recordDecodeError(topic string) {
	failuresCounter.WithLabelValues(topic, "decode").Inc()
}

func recordRejected(topic string) {
	failuresCounter.WithLabelValues(topic, "rejected").Inc()
}
