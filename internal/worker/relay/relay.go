// Package relay forwards committed order events to the broker for consumers outside
// this process. Events that cannot be published are parked in the outbox.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/bus"
	"github.com/corray333/backend-labs/orderflow/internal/dal/interfaces/ioutboxrepo"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/event"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/outbox"
	"github.com/spf13/viper"
	"github.com/streadway/amqp"
)

const contentType = "application/json"

var errHeldBack = errors.New("held behind an undelivered earlier version")

type eventSource interface {
	Subscribe(topics ...event.Topic) *bus.Subscription[event.Event]
}

type brokerPublisher interface {
	Publish(exchange, routingKey, contentType string, headers amqp.Table, body []byte) error
}

// Relay publishes every bus event to a topic exchange.
type Relay struct {
	events     eventSource
	publisher  brokerPublisher
	outboxRepo ioutboxrepo.IOutboxRepository
	exchange   string
	maxRetries int
	now        func() time.Time
	stopCh     chan struct{}
}

// NewRelay creates a relay. A nil outboxRepo means undeliverable events are only logged.
func NewRelay(events eventSource, publisher brokerPublisher, outboxRepo ioutboxrepo.IOutboxRepository) *Relay {
	exchange := viper.GetString("rabbitmq.exchange.events")
	if exchange == "" {
		exchange = "orders.events"
	}

	maxRetries := viper.GetInt("rabbitmq.outbox.max_retries")
	if maxRetries == 0 {
		maxRetries = 5
	}

	return &Relay{
		events:     events,
		publisher:  publisher,
		outboxRepo: outboxRepo,
		exchange:   exchange,
		maxRetries: maxRetries,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// Exchange returns the name of the exchange events are published to.
func (r *Relay) Exchange() string {
	return r.exchange
}

// RoutingKey returns the key an event is published with, e.g. "orders.order.transitioned".
func RoutingKey(evt event.Event) string {
	return string(evt.Topic) + "." + string(evt.Kind)
}

// Start relays events until ctx is done, Stop is called or the bus closes.
func (r *Relay) Start(ctx context.Context) {
	slog.Info("Event relay started", "exchange", r.exchange)

	for {
		sub := r.events.Subscribe()
		err := r.pump(ctx, sub)
		sub.Close()

		if !errors.Is(err, bus.ErrSubscriberDropped) {
			slog.Info("Event relay stopped")

			return
		}
		slog.Error("Event relay fell behind, events were lost", "subscriber_id", sub.ID())
	}
}

// Stop stops the relay.
func (r *Relay) Stop() {
	close(r.stopCh)
}

func (r *Relay) pump(ctx context.Context, sub *bus.Subscription[event.Event]) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stopCh:
			return nil
		case evt, ok := <-sub.C():
			if !ok {
				return sub.Err()
			}
			r.relay(ctx, evt)
		}
	}
}

func (r *Relay) relay(ctx context.Context, evt event.Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		slog.Error("Failed to marshal event", "order_id", evt.OrderID, "error", err)

		return
	}

	key := RoutingKey(evt)
	if r.heldBack(ctx, evt) {
		r.park(ctx, evt, key, body, errHeldBack)

		return
	}

	err = r.publisher.Publish(r.exchange, key, contentType, amqp.Table{
		"x-order-id":      evt.OrderID,
		"x-order-version": evt.Version,
	}, body)
	if err == nil {
		slog.Debug("Event relayed", "order_id", evt.OrderID, "version", evt.Version, "routing_key", key)

		return
	}

	r.park(ctx, evt, key, body, err)
}

// heldBack reports whether an earlier event of the order is still parked, in which case
// evt must queue behind it.
func (r *Relay) heldBack(ctx context.Context, evt event.Event) bool {
	if r.outboxRepo == nil {
		return false
	}
	pending, err := r.outboxRepo.HasPending(ctx, evt.OrderID)
	if err != nil {
		slog.Error("Failed to check outbox for earlier events", "order_id", evt.OrderID, "error", err)

		return false
	}

	return pending
}

func (r *Relay) park(ctx context.Context, evt event.Event, key string, body []byte, err error) {
	if r.outboxRepo == nil {
		slog.Error("Failed to relay event", "order_id", evt.OrderID, "version", evt.Version, "error", err)

		return
	}

	now := r.now()
	msg := outbox.Message{
		OrderID:      evt.OrderID,
		Version:      evt.Version,
		ExchangeName: r.exchange,
		RoutingKey:   key,
		Payload:      body,
		ContentType:  contentType,
		MaxRetries:   r.maxRetries,
		LastError:    err.Error(),
		CreatedAt:    now,
		UpdatedAt:    now,
		NextRetryAt:  now,
	}
	if err := r.outboxRepo.Insert(ctx, msg); err != nil {
		slog.Error("Failed to park event in outbox", "order_id", evt.OrderID, "version", evt.Version, "error", err)

		return
	}
	slog.Warn("Event parked in outbox", "order_id", evt.OrderID, "version", evt.Version, "error", msg.LastError)
}
