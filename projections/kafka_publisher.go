package projections

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tristan-zander/runback/config"
	"github.com/tristan-zander/runback/domain"
)

// MessageWriter is the part of *kafka.Writer the publisher uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// IntegrationEvent is the message published for every committed lobby event.
// Delivery is at least once; consumers dedupe on EventID or Sequence.
type IntegrationEvent struct {
	EventID      string            `json:"event_id"`
	LobbyID      string            `json:"lobby_id"`
	Sequence     int               `json:"sequence"`
	EventType    string            `json:"event_type"`
	EventVersion string            `json:"event_version"`
	RecordedAt   time.Time         `json:"recorded_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Data         domain.LobbyEvent `json:"data"`
}

// KafkaPublisher forwards committed lobby events to a Kafka topic keyed by lobby id
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaWriter creates a writer that keeps each lobby's events on one partition
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// NewKafkaPublisher creates a new publisher
func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// Name returns the query name
func (p *KafkaPublisher) Name() string {
	return "kafka_publisher"
}

// Dispatch publishes the events in stream order as one batch
func (p *KafkaPublisher) Dispatch(ctx context.Context, aggregateID string, events []domain.LobbyEnvelope) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, env := range events {
		value, err := json.Marshal(IntegrationEvent{
			EventID:      env.EventID,
			LobbyID:      env.AggregateID,
			Sequence:     env.Sequence,
			EventType:    env.Event.EventType(),
			EventVersion: env.Event.EventVersion(),
			RecordedAt:   env.RecordedAt,
			Metadata:     env.Metadata,
			Data:         env.Event,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal integration event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(aggregateID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte(env.Event.EventType())},
				{Key: "event-version", Value: []byte(env.Event.EventVersion())},
			},
			Time: env.RecordedAt,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish %d lobby events: %w", len(msgs), err)
	}
	return nil
}
