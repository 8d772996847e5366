// Package display keeps a role's screen in sync with the store.
// The bus only says that something changed; the order itself is always re-read from the
// store, and any doubt about missed events is resolved by a full snapshot.
package display

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/bus"
	"github.com/corray333/backend-labs/orderflow/internal/service/errs"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/event"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/notification"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/order"
)

type orderSource interface {
	ListByStatus(ctx context.Context, statuses []order.Status) ([]order.Order, error)
	GetOrder(ctx context.Context, id int64) (order.Order, error)
}

type eventSource interface {
	Subscribe(topics ...event.Topic) *bus.Subscription[event.Event]
}

// UpdateKind says how a display applies an update.
type UpdateKind string

const (
	// UpdateSnapshot replaces everything the display shows.
	UpdateSnapshot UpdateKind = "snapshot"
	// UpdateOrder replaces one order.
	UpdateOrder UpdateKind = "order"
	// UpdateRemoved takes an order that no longer belongs to the role off the display.
	UpdateRemoved UpdateKind = "removed"
)

// Update is one message for a display.
type Update struct {
	Kind   UpdateKind    `json:"kind"`
	Orders []order.Order `json:"orders,omitempty"`
	Order  *order.Order  `json:"order,omitempty"`
	Event  *event.Event  `json:"event,omitempty"`
}

// StatusesFor returns the order statuses a role's display lists.
func StatusesFor(role notification.Role) []order.Status {
	if role == notification.RoleKitchen {
		return []order.Status{order.StatusConfirmed, order.StatusPreparing}
	}

	return order.Unpaid
}

// View streams the orders relevant to one role.
type View struct {
	role         notification.Role
	statuses     []order.Status
	topics       []event.Topic
	orders       orderSource
	events       eventSource
	pollInterval time.Duration
}

// Option configures a View.
type Option func(*View)

// WithTopics restricts the events the view listens to.
func WithTopics(topics ...event.Topic) Option {
	return func(v *View) {
		v.topics = topics
	}
}

// WithPollInterval makes the view send a fresh snapshot on a fixed interval.
func WithPollInterval(d time.Duration) Option {
	return func(v *View) {
		v.pollInterval = d
	}
}

// NewView creates a view for role.
func NewView(role notification.Role, orders orderSource, events eventSource, opts ...Option) *View {
	v := &View{
		role:     role,
		statuses: StatusesFor(role),
		orders:   orders,
		events:   events,
	}
	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Run sends a snapshot and then one update per relevant event until ctx is done, emit
// fails or the bus closes. A dropped subscription is replaced and followed by a snapshot.
func (v *View) Run(ctx context.Context, emit func(Update) error) error {
	for {
		sub := v.events.Subscribe(v.topics...)
		err := v.session(ctx, sub, emit)
		sub.Close()

		if errors.Is(err, bus.ErrSubscriberDropped) {
			slog.Warn("Display fell behind, resynchronizing", "role", v.role, "subscriber_id", sub.ID())

			continue
		}
		if errors.Is(err, bus.ErrHubClosed) {
			return nil
		}

		return err
	}
}

func (v *View) session(ctx context.Context, sub *bus.Subscription[event.Event], emit func(Update) error) error {
	// Subscribed before the snapshot, so nothing committed in between is missed.
	if err := v.snapshot(ctx, emit); err != nil {
		return err
	}

	var poll <-chan time.Time
	if v.pollInterval > 0 {
		ticker := time.NewTicker(v.pollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll:
			if err := v.snapshot(ctx, emit); err != nil {
				return err
			}
		case evt, ok := <-sub.C():
			if !ok {
				return sub.Err()
			}
			if err := v.apply(ctx, evt, emit); err != nil {
				return err
			}
		}
	}
}

func (v *View) snapshot(ctx context.Context, emit func(Update) error) error {
	orders, err := v.orders.ListByStatus(ctx, v.statuses)
	if err != nil {
		return err
	}

	return emit(Update{Kind: UpdateSnapshot, Orders: orders})
}

func (v *View) apply(ctx context.Context, evt event.Event, emit func(Update) error) error {
	if evt.Resync {
		return v.snapshot(ctx, emit)
	}

	o, err := v.orders.GetOrder(ctx, evt.OrderID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if v.shows(o.Status) {
		return emit(Update{Kind: UpdateOrder, Order: &o, Event: &evt})
	}
	if evt.Topic == event.TopicOrders && v.shows(order.Status(evt.PreviousStatus)) {
		return emit(Update{Kind: UpdateRemoved, Order: &o, Event: &evt})
	}

	return nil
}

func (v *View) shows(status order.Status) bool {
	return slices.Contains(v.statuses, status)
}
