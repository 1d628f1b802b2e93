package kafkapub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velmie/txoutbox/publish"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return w.err
}

func testEnvelope() publish.Envelope {
	return publish.Envelope{
		ID:         "0190d3c2-0000-7000-8000-000000000001",
		Type:       "OrderCreated",
		OccurredAt: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
		Payload:    json.RawMessage(`{"orderId":"42"}`),
	}
}

func TestPublishWritesEnvelope(t *testing.T) {
	writer := &fakeWriter{}
	publisher, err := New(writer, WithTopic("orders"))
	require.NoError(t, err)

	envelope := testEnvelope()
	require.NoError(t, publisher.Publish(context.Background(), envelope))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "orders", msg.Topic)
	assert.Equal(t, []byte(envelope.ID), msg.Key)
	assert.Contains(t, msg.Headers, kafka.Header{Key: "event-type", Value: []byte("OrderCreated")})

	var decoded publish.Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, envelope.ID, decoded.ID)
	assert.JSONEq(t, `{"orderId":"42"}`, string(decoded.Payload))
}

func TestPublishCustomKeyAndError(t *testing.T) {
	boom := errors.New("leader not available")
	writer := &fakeWriter{err: boom}
	publisher, err := New(writer, WithKey(func(publish.Envelope) []byte { return []byte("order-42") }))
	require.NoError(t, err)

	err = publisher.Publish(context.Background(), testEnvelope())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []byte("order-42"), writer.messages[0].Key)
}

func TestNewRequiresWriter(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrWriterRequired)

	writer := NewWriter([]string{"localhost:9092"}, "orders")
	assert.Equal(t, "orders", writer.Topic)
	assert.Equal(t, kafka.RequireAll, writer.RequiredAcks)
}
