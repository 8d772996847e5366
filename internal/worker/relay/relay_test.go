package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/bus"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/event"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/outbox"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange, key string
	headers       amqp.Table
	body          []byte
}

type fakeBroker struct {
	mu       sync.Mutex
	err      error
	failures int
	sent     []published
}

func (b *fakeBroker) Publish(exchange, routingKey, _ string, headers amqp.Table, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	if b.failures > 0 {
		b.failures--

		return errors.New("channel closed")
	}
	b.sent = append(b.sent, published{exchange: exchange, key: routingKey, headers: headers, body: body})

	return nil
}

func (b *fakeBroker) messages() []published {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]published(nil), b.sent...)
}

type fakeOutbox struct {
	mu       sync.Mutex
	messages []outbox.Message
}

func (o *fakeOutbox) Insert(_ context.Context, msg outbox.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)

	return nil
}

func (o *fakeOutbox) HasPending(_ context.Context, orderID int64) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.messages {
		if m.OrderID == orderID && !m.Exhausted() {
			return true, nil
		}
	}

	return false, nil
}

func (o *fakeOutbox) GetDue(context.Context, time.Time, int) ([]outbox.Message, error) {
	return nil, nil
}

func (o *fakeOutbox) Delete(context.Context, int64) error {
	return nil
}

func (o *fakeOutbox) ScheduleRetry(context.Context, int64, int, string, time.Time) error {
	return nil
}

func (o *fakeOutbox) parked() []outbox.Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]outbox.Message(nil), o.messages...)
}

func start(t *testing.T, r *Relay, events *bus.EventBus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return events.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "orders.order.transitioned", RoutingKey(event.Event{Topic: event.TopicOrders, Kind: event.KindOrderTransitioned}))
	assert.Equal(t, "order-items.order_item.status_changed", RoutingKey(event.Event{Topic: event.TopicOrderItems, Kind: event.KindItemStatusChanged}))
}

func TestRelay_PublishesEvents(t *testing.T) {
	events := bus.NewEventBus(16, time.Second)
	defer events.Close()
	broker := &fakeBroker{}
	r := NewRelay(events, broker, &fakeOutbox{})
	start(t, r, events)

	events.Publish(event.Event{OrderID: 3, Topic: event.TopicOrders, Kind: event.KindOrderCreated, NewStatus: "pending", Version: 1})

	require.Eventually(t, func() bool { return len(broker.messages()) == 1 }, time.Second, 5*time.Millisecond)
	msg := broker.messages()[0]
	assert.Equal(t, r.Exchange(), msg.exchange)
	assert.Equal(t, "orders.order.created", msg.key)
	assert.Equal(t, int64(1), msg.headers["x-order-version"])

	var got event.Event
	require.NoError(t, json.Unmarshal(msg.body, &got))
	assert.Equal(t, int64(3), got.OrderID)
	assert.Equal(t, "pending", got.NewStatus)
}

func TestRelay_ParksUndeliverableEvents(t *testing.T) {
	events := bus.NewEventBus(16, time.Second)
	defer events.Close()
	broker := &fakeBroker{err: errors.New("connection reset")}
	box := &fakeOutbox{}
	r := NewRelay(events, broker, box)
	start(t, r, events)

	events.Publish(event.Event{OrderID: 8, Topic: event.TopicOrders, Kind: event.KindOrderTransitioned, Version: 4})

	require.Eventually(t, func() bool { return len(box.parked()) == 1 }, time.Second, 5*time.Millisecond)
	msg := box.parked()[0]
	assert.Equal(t, int64(8), msg.OrderID)
	assert.Equal(t, int64(4), msg.Version)
	assert.Equal(t, "orders.order.transitioned", msg.RoutingKey)
	assert.Equal(t, "connection reset", msg.LastError)
	assert.Equal(t, 5, msg.MaxRetries)
	assert.False(t, msg.Exhausted())
}

func TestRelay_LaterVersionsQueueBehindParkedEvent(t *testing.T) {
	events := bus.NewEventBus(16, time.Second)
	defer events.Close()
	broker := &fakeBroker{failures: 1}
	box := &fakeOutbox{}
	r := NewRelay(events, broker, box)
	start(t, r, events)

	events.Publish(event.Event{OrderID: 8, Topic: event.TopicOrders, Kind: event.KindOrderTransitioned, Version: 5})
	events.Publish(event.Event{OrderID: 8, Topic: event.TopicOrders, Kind: event.KindOrderTransitioned, Version: 6})
	events.Publish(event.Event{OrderID: 9, Topic: event.TopicOrders, Kind: event.KindOrderCreated, Version: 1})

	require.Eventually(t, func() bool { return len(broker.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(9), broker.messages()[0].headers["x-order-id"], "other orders are not held back")

	parked := box.parked()
	require.Len(t, parked, 2)
	assert.Equal(t, int64(5), parked[0].Version)
	assert.Equal(t, "channel closed", parked[0].LastError)
	assert.Equal(t, int64(6), parked[1].Version)
	assert.Equal(t, errHeldBack.Error(), parked[1].LastError)
}

func TestRelay_StopsWhenBusCloses(t *testing.T) {
	events := bus.NewEventBus(16, time.Second)
	r := NewRelay(events, &fakeBroker{}, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Start(context.Background())
	}()
	require.Eventually(t, func() bool { return events.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	events.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
