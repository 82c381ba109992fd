package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var relayTracer = otel.Tracer("messaging/relay")

// Target receives relayed events; in production it is the local
// realtime hub.
type Target interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// Relay consumes the events topic into the local hub. Every instance uses
// its own consumer group starting at the newest offset, so each one sees
// every event published from now on and nothing older.
type Relay struct {
	reader  *kafka.Reader
	topic   string
	groupID string
	target  Target
	logger  *slog.Logger
}

type RelayOption func(*kafka.ReaderConfig)

func WithStartOffset(offset int64) RelayOption {
	return func(cfg *kafka.ReaderConfig) {
		cfg.StartOffset = offset
	}
}

func NewRelay(brokers []string, topic string, target Target, logger *slog.Logger, opts ...RelayOption) *Relay {
	groupID := "pos-realtime-" + uuid.New().String()
	cfg := kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &Relay{
		reader:  kafka.NewReader(cfg),
		topic:   topic,
		groupID: groupID,
		target:  target,
		logger:  logger,
	}
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return err
		}

		r.process(ctx, msg)

		if err := r.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// process never fails the loop: a bad record or an unreachable hub only
// costs that one event.
func (r *Relay) process(ctx context.Context, msg kafka.Message) {
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, headerCarrier{msg: &msg})

	spanCtx, span := relayTracer.Start(parentCtx, "process "+r.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(r.topic),
			semconv.MessagingKafkaConsumerGroup(r.groupID),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
		),
	)
	defer span.End()

	if err := deliver(spanCtx, r.target, msg.Value); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("failed to relay realtime event", "error", err, "offset", msg.Offset)
	}
}

func deliver(ctx context.Context, target Target, value []byte) error {
	var envelope Envelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return err
	}
	if envelope.Channel == "" || envelope.Event == "" {
		return errors.New("envelope without channel or event")
	}
	return target.Publish(ctx, envelope.Channel, envelope.Event, envelope.Payload)
}

func (r *Relay) Close() error {
	return r.reader.Close()
}
