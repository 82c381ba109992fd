// Package messaging carries realtime events between POS instances over
// Kafka so that displays connected to any instance see every change.
package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var publisherTracer = otel.Tracer("messaging/publisher")

// Envelope is the Kafka record value for one realtime event.
type Envelope struct {
	Channel   string          `json:"channel"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

func newEnvelope(channel, event string, payload any, now time.Time) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Channel: channel, Event: event, Payload: data, Timestamp: now.UTC()}, nil
}

// EventPublisher writes realtime events to the events topic. It satisfies
// realtime.Publisher.
type EventPublisher struct {
	writer *kafka.Writer
	topic  string
}

func NewEventPublisher(brokers []string, topic string) *EventPublisher {
	return &EventPublisher{
		topic: topic,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
		},
	}
}

// Publish keys records by channel so events for one room stay ordered on a
// single partition.
func (p *EventPublisher) Publish(ctx context.Context, channel, event string, payload any) error {
	envelope, err := newEnvelope(channel, event, payload, time.Now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(channel),
		Value: data,
	}

	ctx, span := publisherTracer.Start(ctx, "send "+p.topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("send"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(p.topic),
			semconv.MessagingKafkaMessageKey(channel),
		),
	)
	defer span.End()

	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{msg: &msg})

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
