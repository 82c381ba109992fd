package domain

import "time"

// Realtime channels. Displays join kitchen or pos; ChannelAll reaches every
// connected client whether or not it joined a room.
const (
	ChannelKitchen = "kitchen"
	ChannelPOS     = "pos"
	ChannelAll     = "*"
)

const (
	EventNewOrder          = "newOrder"
	EventOrderCreated      = "orderCreated"
	EventOrderStatusUpdate = "orderStatusUpdate"
	EventOrderCompleted    = "orderCompleted"
	EventMenuSync          = "menuSync"
	EventTableUpdate       = "tableUpdate"
	EventNewReservation    = "newReservation"
	EventReservationUpdate = "reservationUpdate"
)

// Event is a domain event produced by the order service after a committed
// change and delivered best-effort to realtime displays.
type Event struct {
	Channel   string    `json:"channel"`
	Name      string    `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvents announces a new order. newOrder goes both to the kitchen
// room and to everyone so displays that have not joined a room yet still
// see it; clients dedupe by order id.
func OrderCreatedEvents(o Order) []Event {
	return []Event{
		{Channel: ChannelKitchen, Name: EventNewOrder, Payload: o, Timestamp: o.CreatedAt},
		{Channel: ChannelAll, Name: EventNewOrder, Payload: o, Timestamp: o.CreatedAt},
		{Channel: ChannelPOS, Name: EventOrderCreated, Payload: o, Timestamp: o.CreatedAt},
	}
}

// OrderUpdatedEvents announces a status change to kitchen and pos, adding
// orderCompleted when the order reached completed.
func OrderUpdatedEvents(o Order) []Event {
	events := []Event{
		{Channel: ChannelKitchen, Name: EventOrderStatusUpdate, Payload: o, Timestamp: o.UpdatedAt},
		{Channel: ChannelPOS, Name: EventOrderStatusUpdate, Payload: o, Timestamp: o.UpdatedAt},
	}
	if o.Status == OrderStatusCompleted {
		events = append(events,
			Event{Channel: ChannelKitchen, Name: EventOrderCompleted, Payload: o, Timestamp: o.UpdatedAt},
			Event{Channel: ChannelPOS, Name: EventOrderCompleted, Payload: o, Timestamp: o.UpdatedAt},
		)
	}
	return events
}

// ItemStatusEvents announces a line item moving through the kitchen.
func ItemStatusEvents(o Order) []Event {
	return []Event{
		{Channel: ChannelKitchen, Name: EventOrderStatusUpdate, Payload: o, Timestamp: o.UpdatedAt},
		{Channel: ChannelPOS, Name: EventOrderStatusUpdate, Payload: o, Timestamp: o.UpdatedAt},
	}
}

// PaymentEvents announces a recorded payment. Partial payments only concern
// the point-of-sale terminals.
func PaymentEvents(o Order) []Event {
	if o.PaymentStatus == PaymentStatusPaid && o.Status == OrderStatusCompleted {
		return OrderUpdatedEvents(o)
	}
	return []Event{{Channel: ChannelPOS, Name: EventOrderStatusUpdate, Payload: o, Timestamp: o.UpdatedAt}}
}
