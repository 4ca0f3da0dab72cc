// Package observability exposes Prometheus instrumentation for the training-load engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	backfillCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "training_load",
		Subsystem: "backfill",
		Name:      "runs_total",
		Help:      "Number of backfill runs grouped by outcome.",
	}, []string{"outcome"})

	backfillDaysCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "training_load",
		Subsystem: "backfill",
		Name:      "days_written_total",
		Help:      "Number of daily metric rows upserted by backfill runs.",
	})

	backfillDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "training_load",
		Subsystem: "backfill",
		Name:      "duration_seconds",
		Help:      "Wall time of a backfill run, from seeding through the last upsert.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	lastBackfillGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "training_load",
		Subsystem: "backfill",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful backfill run.",
	})

	activitiesPersistedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "training_load",
		Subsystem: "activities",
		Name:      "persisted_total",
		Help:      "Number of activities stored, labeled by ingestion source.",
	}, []string{"source"})

	insightFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "training_load",
		Subsystem: "insight",
		Name:      "request_failures_total",
		Help:      "Number of best-effort insight requests that failed after a backfill.",
	})
)

func init() {
	prometheus.MustRegister(backfillCounter, backfillDaysCounter, backfillDuration, lastBackfillGauge, activitiesPersistedCounter, insightFailureCounter)
}

// RecordBackfill records the outcome of a backfill run that started at start.
func RecordBackfill(start time.Time, daysWritten int, err error) {
	backfillDaysCounter.Add(float64(daysWritten))
	backfillDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		backfillCounter.WithLabelValues("error").Inc()
		return
	}
	backfillCounter.WithLabelValues("success").Inc()
	lastBackfillGauge.Set(float64(time.Now().Unix()))
}

// RecordInsightFailure counts a failed insight hand-off.
func RecordInsightFailure() {
	insightFailureCounter.Inc()
}

// RecordActivityPersisted counts a stored activity.
func RecordActivityPersisted(source string) {
	if source == "" {
		source = "unknown"
	}
	activitiesPersistedCounter.WithLabelValues(source).Inc()
}
