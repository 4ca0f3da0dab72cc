// Package outbox delivers events recorded in the outbox table to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"example.com/trainingload/internal/events"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// errUnknownEventType marks rows no retry can deliver.
var errUnknownEventType = errors.New("no schema registered for event_type")

// schemas maps each outbound event type to the JSON schema registered for its subject.
var schemas = map[string]string{
	events.TypeInsightRequested: insightRequestedSchema,
}

// Message is one claimed outbox row.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// Option customises the dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the dispatcher logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithRetry sets how many times a batch is delivered before it is dead-lettered and the
// delay before the first retry. The delay doubles on each attempt, capped at maxRetryDelay.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.maxAttempts = attempts
		}
		if baseDelay > 0 {
			d.retryDelay = baseDelay
		}
	}
}

const (
	defaultMaxAttempts = 4
	defaultRetryDelay  = 500 * time.Millisecond
	maxRetryDelay      = 30 * time.Second
)

// Dispatcher drains the outbox table and publishes each row to its topic, framed with
// the Schema Registry ID of its subject.
type Dispatcher struct {
	pool         *pgxpool.Pool
	producer     messageWriter
	registry     schemaRegistrar
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	retryDelay   time.Duration
	logger       logrus.FieldLogger

	mu        sync.Mutex
	schemaIDs map[string]int

	done chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pool:         pool,
		producer:     producer,
		registry:     registry,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		maxAttempts:  defaultMaxAttempts,
		retryDelay:   defaultRetryDelay,
		logger:       logrus.StandardLogger().WithField("component", "outbox-dispatcher"),
		schemaIDs:    make(map[string]int),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start polls until ctx is cancelled. A full batch is followed immediately by another
// pass so a backlog drains without waiting for the ticker. Run it in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		claimed, err := d.dispatchOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.WithError(err).Error("outbox pass failed")
		}
		if err == nil && claimed == d.batchSize {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

// dispatchOnce claims one batch, publishes it and settles it. It reports how many rows
// were claimed.
func (d *Dispatcher) dispatchOnce(ctx context.Context) (int, error) {
	started := time.Now()
	messages, err := d.claim(ctx)
	if err != nil {
		return 0, fmt.Errorf("claim outbox rows: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}
	claimedBatchSize.Observe(float64(len(messages)))
	defer func() { dispatchDuration.Observe(time.Since(started).Seconds()) }()

	deliveryErr := d.deliverWithRetry(ctx, messages)
	if deliveryErr != nil {
		if errors.Is(deliveryErr, context.Canceled) {
			// Rows stay unpublished and are claimed again on the next start.
			return len(messages), deliveryErr
		}
		d.logger.WithError(deliveryErr).WithField("events", len(messages)).Warn("delivery failed, dead-lettering batch")
	}

	if err := d.settle(ctx, messages, deliveryErr); err != nil {
		return len(messages), fmt.Errorf("settle outbox rows: %w", err)
	}
	if deliveryErr == nil {
		for _, msg := range messages {
			eventsPublished.WithLabelValues(msg.EventType).Inc()
		}
	}
	return len(messages), nil
}

// claim stamps claimed_at on the oldest unpublished rows. SKIP LOCKED lets several
// dispatchers share the table without handing out the same row twice.
func (d *Dispatcher) claim(ctx context.Context) ([]Message, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload
        FROM outbox
        WHERE published_at IS NULL
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`, d.batchSize)
	if err != nil {
		return nil, err
	}
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var msg Message
		err := row.Scan(&msg.EventID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload)
		return msg, err
	})
	if err != nil || len(messages) == 0 {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, eventIDs(messages)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return messages, nil
}

// deliverWithRetry calls deliver until it succeeds, attempts run out or ctx is done.
// A batch that fails part way is written again in full, so consumers may see duplicates.
func (d *Dispatcher) deliverWithRetry(ctx context.Context, messages []Message) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = d.deliver(ctx, messages); err == nil {
			return nil
		}
		if attempt >= d.maxAttempts || errors.Is(err, errUnknownEventType) || ctx.Err() != nil {
			return err
		}

		delay := d.backoffDelay(attempt)
		d.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("outbox delivery failed, retrying")
		deliveryRetries.Inc()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

// backoffDelay doubles retryDelay per attempt, capped at maxRetryDelay.
func (d *Dispatcher) backoffDelay(attempt int) time.Duration {
	if attempt > 16 {
		return maxRetryDelay
	}
	delay := time.Duration(1<<uint(attempt-1)) * d.retryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// deliver writes messages grouped by topic, preserving claim order within each topic.
func (d *Dispatcher) deliver(ctx context.Context, messages []Message) error {
	type topicBatch struct {
		topic   string
		records []kafka.Message
	}
	var batches []*topicBatch
	byTopic := make(map[string]*topicBatch)

	now := time.Now().UTC()
	for _, msg := range messages {
		schemaID, err := d.schemaID(ctx, msg)
		if err != nil {
			return err
		}
		batch, ok := byTopic[msg.Topic]
		if !ok {
			batch = &topicBatch{topic: msg.Topic}
			byTopic[msg.Topic] = batch
			batches = append(batches, batch)
		}
		batch.records = append(batch.records, kafka.Message{
			Key:     []byte(msg.PartitionKey),
			Value:   encodeWireFormat(schemaID, msg.Payload),
			Time:    now,
			Headers: []kafka.Header{{Key: "event_type", Value: []byte(msg.EventType)}},
		})
	}

	for _, batch := range batches {
		if err := d.producer.WriteMessages(ctx, batch.topic, batch.records...); err != nil {
			return fmt.Errorf("write %s: %w", batch.topic, err)
		}
	}
	return nil
}

// schemaID resolves the registry ID for a message's subject, registering the schema on
// first use. IDs are cached for the dispatcher's lifetime.
func (d *Dispatcher) schemaID(ctx context.Context, msg Message) (int, error) {
	schema, ok := schemas[msg.EventType]
	if !ok {
		return 0, fmt.Errorf("%w: %s", errUnknownEventType, msg.EventType)
	}

	d.mu.Lock()
	id, cached := d.schemaIDs[msg.SchemaSubject]
	d.mu.Unlock()
	if cached {
		schemaLookups.WithLabelValues("cached").Inc()
		return id, nil
	}

	id, err := d.registry.EnsureSchema(ctx, msg.SchemaSubject, schema)
	if err != nil {
		return 0, fmt.Errorf("ensure schema %s: %w", msg.SchemaSubject, err)
	}
	schemaLookups.WithLabelValues("registry").Inc()

	d.mu.Lock()
	d.schemaIDs[msg.SchemaSubject] = id
	d.mu.Unlock()
	return id, nil
}

// settle marks messages published. When delivery failed the rows are first copied to
// outbox_dlq in the same transaction.
func (d *Dispatcher) settle(ctx context.Context, messages []Message, deliveryErr error) error {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if deliveryErr != nil {
		if err := deadLetter(ctx, tx, messages, deliveryErr); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, eventIDs(messages)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func eventIDs(messages []Message) []int64 {
	ids := make([]int64, len(messages))
	for i, msg := range messages {
		ids[i] = msg.EventID
	}
	return ids
}

// encodeWireFormat prefixes payload with the Confluent magic byte and schema ID.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
