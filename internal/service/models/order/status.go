package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle status of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusDelivered Status = "delivered"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is a known order status.
func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]

	return ok || s.Terminal()
}

// Terminal reports whether no further mutation is permitted.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// Unpaid lists every status of an order that is still open.
var Unpaid = []Status{
	StatusPending,
	StatusConfirmed,
	StatusPreparing,
	StatusReady,
	StatusDelivered,
}

// allowedTransitions defines valid status transitions.
// Key is current status, value is the set of statuses it can transition to.
var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusCancelled},
	StatusReady:     {StatusDelivered, StatusCancelled},
	StatusDelivered: {StatusPaid},
}

// CanTransition reports whether the edge from -> to exists in the state graph.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}

	return false
}

// NextStatuses returns the statuses reachable from s in one step.
func NextStatuses(s Status) []Status {
	next := allowedTransitions[s]
	out := make([]Status, len(next))
	copy(out, next)

	return out
}

// StampTransition sets the timestamp belonging to target if it is not set yet.
func (o *Order) StampTransition(target Status, at time.Time) {
	var slot **time.Time
	switch target {
	case StatusConfirmed:
		slot = &o.ConfirmedAt
	case StatusPreparing:
		slot = &o.PreparingAt
	case StatusReady:
		slot = &o.ReadyAt
	case StatusDelivered:
		slot = &o.DeliveredAt
	case StatusPaid:
		slot = &o.PaidAt
	case StatusCancelled:
		slot = &o.CancelledAt
	default:
		return
	}
	if *slot == nil {
		t := at
		*slot = &t
	}
}

// TimestampColumn returns the column stamped by a transition into target.
func TimestampColumn(target Status) string {
	switch target {
	case StatusConfirmed:
		return "confirmed_at"
	case StatusPreparing:
		return "preparing_at"
	case StatusReady:
		return "ready_at"
	case StatusDelivered:
		return "delivered_at"
	case StatusPaid:
		return "paid_at"
	case StatusCancelled:
		return "cancelled_at"
	}

	return ""
}

// ComputeTotal returns subtotal - discount.
func ComputeTotal(subtotal, discount decimal.Decimal) decimal.Decimal {
	return subtotal.Sub(discount)
}

// TotalConsistent reports whether Total == Subtotal - Discount.
func (o *Order) TotalConsistent() bool {
	return o.Total.Equal(ComputeTotal(o.Subtotal, o.Discount))
}
