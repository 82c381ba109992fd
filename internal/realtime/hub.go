// Package realtime pushes order events to kitchen and point-of-sale displays
// over websockets. Delivery is at-most-once: a client that is slow, offline
// or not yet connected misses the event and must re-fetch state over HTTP.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/tablepos/internal/domain"
)

var (
	meter = otel.Meter("realtime")

	messagesDropped, _ = meter.Int64Counter("pos.realtime.dropped",
		metric.WithDescription("Realtime messages dropped because a client buffer was full"))
	publishFailures, _ = meter.Int64Counter("pos.realtime.publish_failures",
		metric.WithDescription("Realtime events that could not be published"))
)

// Publisher sends a named event with its payload to everyone listening on
// channel. domain.ChannelAll addresses every connected client.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// Message is the frame written to websocket clients.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Hub tracks connected clients and the rooms they joined.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	logger  *slog.Logger
}

type HubOption func(*hubOptions)

type hubOptions struct {
	meterProvider metric.MeterProvider
}

// WithMeterProvider sets where the hub reports connected clients. The global
// provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) HubOption {
	return func(o *hubOptions) {
		o.meterProvider = mp
	}
}

func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	options := hubOptions{meterProvider: otel.GetMeterProvider()}
	for _, opt := range opts {
		opt(&options)
	}

	h := &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		logger:  logger,
	}

	_, err := options.meterProvider.Meter("realtime").Int64ObservableGauge("pos.realtime.clients",
		metric.WithDescription("Connected realtime clients per room"),
		metric.WithInt64Callback(h.observeClients),
	)
	if err != nil {
		logger.Warn("failed to register realtime client gauge", "error", err)
	}
	return h
}

// observeClients reports every connected client under room "all" next to
// the kitchen and pos rooms.
func (h *Hub) observeClients(_ context.Context, o metric.Int64Observer) error {
	o.Observe(int64(h.RoomSize(domain.ChannelAll)), metric.WithAttributes(attribute.String("room", "all")))
	for _, room := range []string{domain.ChannelKitchen, domain.ChannelPOS} {
		o.Observe(int64(h.RoomSize(room)), metric.WithAttributes(attribute.String("room", room)))
	}
	return nil
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// Unregister drops c from every room and closes its send buffer. It is safe
// to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for name, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, name)
		}
	}
	close(c.send)
}

func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
}

// Publish never blocks on clients: a full buffer drops the message for
// that client only.
func (h *Hub) Publish(ctx context.Context, channel, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Message{Event: event, Payload: data})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	recipients := h.rooms[channel]
	if channel == domain.ChannelAll {
		recipients = h.clients
	}

	for c := range recipients {
		select {
		case c.send <- frame:
		default:
			messagesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
			h.logger.Warn("dropping realtime message for slow client", "channel", channel, "event", event)
		}
	}
	return nil
}

// RoomSize reports how many clients joined room; domain.ChannelAll counts
// every connected client.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if room == domain.ChannelAll {
		return len(h.clients)
	}
	return len(h.rooms[room])
}
