// Package kafkapub publishes outbox envelopes to Kafka.
package kafkapub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/velmie/txoutbox/publish"
)

// ErrWriterRequired is returned when a nil writer is provided.
var ErrWriterRequired = errors.New("outbox kafka: writer is required")

const (
	headerEventType = "event-type"
	headerEventID   = "event-id"
)

// Writer is the subset of *kafka.Writer used by the publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KeyFunc picks the partition key of an envelope.
type KeyFunc func(envelope publish.Envelope) []byte

// Publisher writes envelopes as JSON values.
type Publisher struct {
	writer Writer
	topic  string
	key    KeyFunc
}

var _ publish.Publisher = (*Publisher)(nil)

// Option configures a Publisher.
type Option func(*Publisher)

// WithTopic sets the topic on every message, for writers created without one.
func WithTopic(topic string) Option {
	return func(p *Publisher) {
		p.topic = topic
	}
}

// WithKey overrides the partition key. The record ID is used by default.
func WithKey(fn KeyFunc) Option {
	return func(p *Publisher) {
		if fn != nil {
			p.key = fn
		}
	}
}

// New creates a publisher on top of writer.
func New(writer Writer, opts ...Option) (*Publisher, error) {
	if writer == nil {
		return nil, ErrWriterRequired
	}

	p := &Publisher{
		writer: writer,
		key: func(envelope publish.Envelope) []byte {
			return []byte(envelope.ID)
		},
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// NewWriter returns a synchronous writer hashing keys across partitions.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            5,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Publish writes envelope and waits for the broker acknowledgement.
func (p *Publisher) Publish(ctx context.Context, envelope publish.Envelope) error {
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("outbox kafka: marshal envelope: %w", err)
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   p.key(envelope),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(envelope.Type)},
			{Key: headerEventID, Value: []byte(envelope.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("outbox kafka: write message: %w", err)
	}

	return nil
}
