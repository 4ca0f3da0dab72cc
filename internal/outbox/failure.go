package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// deadLetter copies undeliverable events into outbox_dlq inside tx, so the copy and the
// published_at stamp on the source rows commit together.
func deadLetter(ctx context.Context, tx pgx.Tx, messages []Message, cause error) error {
	batch := &pgx.Batch{}
	for _, msg := range messages {
		batch.Queue(`INSERT INTO outbox_dlq
            (event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, reason)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			msg.EventID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Topic,
			msg.SchemaSubject, msg.PartitionKey, msg.Payload, cause.Error(),
		)
	}

	results := tx.SendBatch(ctx, batch)
	for _, msg := range messages {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("dead-letter event %d: %w", msg.EventID, err)
		}
	}
	if err := results.Close(); err != nil {
		return err
	}

	for _, msg := range messages {
		eventsDeadLettered.WithLabelValues(msg.EventType, msg.Topic).Inc()
	}
	return nil
}
