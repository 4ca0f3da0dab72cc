package consumer

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func framed(schemaID int, payload []byte) []byte {
	value := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(value[1:5], uint32(schemaID))
	copy(value[5:], payload)
	return value
}

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	payload := []byte(`{"activity_id":"abc"}`)
	msg := kafka.Message{
		Topic:     "activity_ingested",
		Partition: 0,
		Offset:    10,
		Key:       []byte("athlete-1"),
		Time:      time.Now().UTC(),
		Value:     framed(42, payload),
		Headers:   []kafka.Header{{Key: "event_type", Value: []byte("activity.ingested")}},
	}

	reader := &stubReader{messages: []kafka.Message{msg}}
	handler := &stubHandler{}
	processor := NewProcessor(reader, handler, WithLogger(discardLogger()))

	err := processor.Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, "activity.ingested", handler.last.EventType)
	require.Equal(t, "athlete-1", handler.last.Key)
	require.Equal(t, 42, handler.last.SchemaID)
	require.JSONEq(t, string(payload), string(handler.last.Payload))
}

func TestProcessorAcceptsBareJSON(t *testing.T) {
	msg := kafka.Message{
		Topic:   "activity_ingested",
		Value:   []byte(`{"activity_id":"plain"}`),
		Headers: []kafka.Header{{Key: "event_type", Value: []byte("activity.ingested")}},
	}

	bare := handledCounter.WithLabelValues("activity_ingested", "activity.ingested", "bare")
	before := testutil.ToFloat64(bare)

	reader := &stubReader{messages: []kafka.Message{msg}}
	handler := &stubHandler{}
	err := NewProcessor(reader, handler, WithLogger(discardLogger())).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Zero(t, handler.last.SchemaID)
	require.Equal(t, before+1, testutil.ToFloat64(bare))
	require.JSONEq(t, `{"activity_id":"plain"}`, string(handler.last.Payload))
}

func TestProcessorSkipsCommitOnHandlerError(t *testing.T) {
	msg := kafka.Message{
		Topic:   "activity_ingested",
		Offset:  20,
		Value:   framed(99, []byte(`{"activity_id":"def"}`)),
		Headers: []kafka.Header{{Key: "event_type", Value: []byte("activity.ingested")}},
	}

	reader := &stubReader{messages: []kafka.Message{msg}}
	handler := &stubHandler{err: errors.New("boom")}
	err := NewProcessor(reader, handler, WithLogger(discardLogger())).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 0, reader.commitCalls)
}

func TestProcessorCommitsPoisonMessages(t *testing.T) {
	messages := []kafka.Message{
		{Topic: "activity_ingested", Value: framed(1, []byte(`{}`))},
		{Topic: "activity_ingested", Value: []byte{0, 1}, Headers: []kafka.Header{{Key: "event_type", Value: []byte("activity.ingested")}}},
		{Topic: "activity_ingested", Value: []byte(`not json`), Headers: []kafka.Header{{Key: "event_type", Value: []byte("activity.ingested")}}},
	}

	reader := &stubReader{messages: messages}
	handler := &stubHandler{}
	err := NewProcessor(reader, handler, WithLogger(discardLogger())).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Zero(t, handler.calls)
	require.Equal(t, 3, reader.commitCalls)
	require.GreaterOrEqual(t, testutil.ToFloat64(failuresCounter.WithLabelValues("activity_ingested", "decode")), 3.0)
}

func TestProcessorStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reader := &stubReader{messages: []kafka.Message{{Topic: "activity_ingested"}}}
	err := NewProcessor(reader, &stubHandler{}, WithLogger(discardLogger())).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, reader.index)
}

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, _ ...kafka.Message) error {
	r.commitCalls++
	return nil
}

func (r *stubReader) Close() error { return nil }

type stubHandler struct {
	calls int
	last  Message
	err   error
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	return h.err
}
