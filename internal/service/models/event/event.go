package event

import "time"

// Topic partitions the event stream.
type Topic string

const (
	TopicOrders     Topic = "orders"
	TopicOrderItems Topic = "order-items"
)

// Valid reports whether t is a known topic.
func (t Topic) Valid() bool {
	return t == TopicOrders || t == TopicOrderItems
}

// Kind names what happened.
type Kind string

const (
	KindOrderCreated      Kind = "order.created"
	KindOrderTransitioned Kind = "order.transitioned"
	KindItemStatusChanged Kind = "order_item.status_changed"
)

// Event is an immutable notice that a transition was committed.
// Version is the order version right after the commit and orders the events of one order.
type Event struct {
	OrderID        int64     `json:"orderId"`
	ItemID         int64     `json:"itemId,omitempty"`
	Topic          Topic     `json:"topic"`
	Kind           Kind      `json:"kind"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	NewStatus      string    `json:"newStatus"`
	Version        int64     `json:"version"`
	OccurredAt     time.Time `json:"occurredAt"`
	// Resync tells the subscriber that earlier events of this order may be missing.
	Resync bool `json:"resync,omitempty"`
}
