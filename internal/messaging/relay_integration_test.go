//go:build integration

package messaging

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/joao-fontenele/tablepos/internal/testutil"
)

type channelTarget chan captured

func (c channelTarget) Publish(_ context.Context, channel, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c <- captured{channel: channel, event: event, payload: string(data)}
	return nil
}

func TestRelay_DeliversPublishedEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	brokers := testutil.Kafka(ctx, t)
	const topic = "pos.realtime.test"

	publisher := NewEventPublisher(brokers, topic)
	defer func() { _ = publisher.Close() }()

	// The first write may race topic auto-creation.
	var err error
	for attempt := 0; attempt < 10; attempt++ {
		err = publisher.Publish(ctx, "kitchen", "newOrder", map[string]string{"orderNumber": "ORD-20261015-0001"})
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	target := make(channelTarget, 1)
	relay := NewRelay(brokers, topic, target, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithStartOffset(kafka.FirstOffset))
	defer func() { _ = relay.Close() }()

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	go func() { _ = relay.Run(relayCtx) }()

	select {
	case got := <-target:
		if got.channel != "kitchen" || got.event != "newOrder" {
			t.Errorf("unexpected routing %s/%s", got.channel, got.event)
		}
		if got.payload != `{"orderNumber":"ORD-20261015-0001"}` {
			t.Errorf("unexpected payload %s", got.payload)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for relayed event")
	}
}
