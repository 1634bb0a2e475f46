package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const writeTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher forwards bus events to a topic, keyed by reservation id so
// one reservation's history stays ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *zerolog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zerolog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error().Err(err).Int("messages", len(messages)).Str("topic", topic).Msg("Failed to deliver reservation events")
			}
		},
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

// Attach subscribes the publisher to the given event types on bus.
func (p *KafkaPublisher) Attach(bus *EventBus, eventTypes ...string) {
	bus.Subscribe(p.Handle, eventTypes...)
}

func (p *KafkaPublisher) Handle(event *Event) error {
	var keyed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(event.Payload, &keyed); err != nil {
		return fmt.Errorf("decode event key: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(keyed.ID),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
