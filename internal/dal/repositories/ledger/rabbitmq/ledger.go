// Package rabbitmqledger talks to the inventory and financial ledgers over RabbitMQ.
// Each call publishes a command and waits for the ledger's reply on a private queue.
package rabbitmqledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/dal/rabbitmq"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/streadway/amqp"
)

// ErrRejected is returned when a ledger answers with a failure.
var ErrRejected = errors.New("ledger rejected command")

// Ledger sends ledger commands and correlates replies.
type Ledger struct {
	client         *rabbitmq.Client
	inventoryQueue string
	ledgerQueue    string
	replyQueue     string

	mu      sync.Mutex
	waiters map[string]chan ledger.Reply
}

// MustNewLedger declares the command queues and a private reply queue and starts
// dispatching replies.
func MustNewLedger(client *rabbitmq.Client) *Ledger {
	inventoryQueue, ledgerQueue := rabbitmq.InventoryQueue(), rabbitmq.LedgerQueue()

	for _, name := range []string{inventoryQueue, ledgerQueue} {
		if _, err := client.DeclareQueue(rabbitmq.DeclareQueueConfig{Name: name, Durable: true}); err != nil {
			panic(fmt.Sprintf("Failed to declare queue %s: %v", name, err))
		}
	}

	replyQueue, err := client.DeclareQueue(rabbitmq.DeclareQueueConfig{
		Exclusive:  true,
		AutoDelete: true,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to declare reply queue: %v", err))
	}

	deliveries, err := client.Consume(rabbitmq.ConsumeConfig{
		Queue:     replyQueue.Name,
		Consumer:  "orderflow-ledger-replies",
		AutoAck:   true,
		Exclusive: true,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to consume reply queue: %v", err))
	}

	l := &Ledger{
		client:         client,
		inventoryQueue: inventoryQueue,
		ledgerQueue:    ledgerQueue,
		replyQueue:     replyQueue.Name,
		waiters:        make(map[string]chan ledger.Reply),
	}
	go l.dispatch(deliveries)

	return l
}

// DeductStockForOrder asks the inventory ledger to deduct the ingredients of an order.
func (l *Ledger) DeductStockForOrder(ctx context.Context, orderID int64) error {
	return l.call(ctx, l.inventoryQueue, ledger.CommandDeductStock, ledger.DeductStockCommand{OrderID: orderID})
}

// RecordRevenue asks the financial ledger to book the revenue of an order.
func (l *Ledger) RecordRevenue(ctx context.Context, orderID int64, amount decimal.Decimal, method string) error {
	return l.call(ctx, l.ledgerQueue, ledger.CommandRecordRevenue, ledger.RecordRevenueCommand{
		OrderID: orderID,
		Amount:  amount,
		Method:  method,
	})
}

func (l *Ledger) call(ctx context.Context, queue, command string, body any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s command: %w", command, err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s command: %w", command, err)
	}

	correlationID := uuid.NewString()
	wait := make(chan ledger.Reply, 1)

	l.mu.Lock()
	l.waiters[correlationID] = wait
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.waiters, correlationID)
		l.mu.Unlock()
	}()

	now := time.Now()
	err = l.client.Channel().Publish("", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: correlationID,
		ReplyTo:       l.replyQueue,
		Type:          command,
		Timestamp:     now,
		Expiration:    expiration(ctx, now),
		Body:          payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s command: %w", command, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s command: %w", command, ctx.Err())
	case r := <-wait:
		if !r.OK {
			return fmt.Errorf("%w: %s: %s", ErrRejected, command, r.Error)
		}

		return nil
	}
}

// expiration returns the message TTL in milliseconds that ends with ctx's deadline, so a
// command is not applied after its caller gave up on it. Empty means no TTL.
func expiration(ctx context.Context, now time.Time) string {
	deadline, ok := ctx.Deadline()
	if !ok {
		return ""
	}
	ms := deadline.Sub(now).Milliseconds()
	if ms < 1 {
		ms = 1
	}

	return strconv.FormatInt(ms, 10)
}

func (l *Ledger) dispatch(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		var r ledger.Reply
		if err := json.Unmarshal(d.Body, &r); err != nil {
			slog.Error("Failed to unmarshal ledger reply", "correlation_id", d.CorrelationId, "error", err)
			r = ledger.Reply{Error: "malformed reply"}
		}

		l.mu.Lock()
		wait, ok := l.waiters[d.CorrelationId]
		l.mu.Unlock()
		if !ok {
			slog.Warn("Dropping ledger reply without a waiter", "correlation_id", d.CorrelationId)

			continue
		}
		select {
		case wait <- r:
		default:
			slog.Warn("Dropping duplicate ledger reply", "correlation_id", d.CorrelationId)
		}
	}
	slog.Info("Ledger reply stream closed")
}
