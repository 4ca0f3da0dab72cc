package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/trainingload/internal/domain"
	"example.com/trainingload/internal/events"
	"example.com/trainingload/internal/load"
)

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	events.TypeInsightRequested: {
		Topic:         "training_insight_requests",
		SchemaSubject: "training_insight_requests-value",
	},
}

// InsightOutbox records insight requests in the outbox; the dispatcher publishes them to Kafka.
type InsightOutbox struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewInsightOutbox constructs an InsightOutbox.
func NewInsightOutbox(pool *pgxpool.Pool) *InsightOutbox {
	return &InsightOutbox{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// RequestInsight enqueues an insight.requested event keyed by athlete.
func (o *InsightOutbox) RequestInsight(ctx context.Context, athleteID string, latest domain.DailyMetric, recent []domain.Activity) error {
	payload := BuildInsightRequested(athleteID, latest, recent, o.now())
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode insight request: %w", err)
	}

	meta := eventCatalog[events.TypeInsightRequested]
	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = o.pool.Exec(ctx, stmt,
		"athlete",
		athleteID,
		events.TypeInsightRequested,
		meta.Topic,
		meta.SchemaSubject,
		athleteID,
		body,
		fmt.Sprintf("%s:%s:%s", athleteID, latest.DateKey(), events.TypeInsightRequested),
	)
	if err != nil {
		return fmt.Errorf("insert insight outbox event: %w", err)
	}
	return nil
}

// BuildInsightRequested maps domain state to the insight.requested payload.
func BuildInsightRequested(athleteID string, latest domain.DailyMetric, recent []domain.Activity, at time.Time) events.InsightRequested {
	out := events.InsightRequested{
		AthleteID:   athleteID,
		RequestedAt: at,
		Latest: events.DailyMetricState{
			Date: latest.DateKey(),
			CTL:  latest.CTL,
			ATL:  latest.ATL,
			TSB:  latest.TSB,
			ACWR: latest.ACWR,
		},
		Recent: make([]events.RecentActivity, 0, len(recent)),
	}
	for _, a := range recent {
		out.Recent = append(out.Recent, events.RecentActivity{
			ActivityID:      a.ID,
			ActivityType:    a.ActivityType,
			StartTime:       a.StartTime,
			DurationSeconds: a.Duration,
			Load:            load.ActivityLoad(a.TSS, a.TRIMP),
		})
	}
	return out
}
