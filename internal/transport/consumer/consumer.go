package consumer

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
	"github.com/spf13/viper"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var (
	errUnknownCommand = errors.New("unknown command")
	errExpired        = errors.New("command expired before it was handled")
)

// broker is the part of the RabbitMQ client the consumer uses.
type broker interface {
	DeclareQueue(cfg rabbitmq.DeclareQueueConfig) (amqp.Queue, error)
	Consume(cfg rabbitmq.ConsumeConfig) (<-chan amqp.Delivery, error)
	Reply(replyTo, correlationID string, body []byte) error
}

// service represents the service layer interface.
type service interface {
	DeductStock(ctx context.Context, cmd ledger.DeductStockCommand) error
	RecordRevenue(ctx context.Context, cmd ledger.RecordRevenueCommand) error
}

// Consumer answers ledger commands arriving on the inventory and ledger queues.
type Consumer struct {
	client   broker
	service  service
	queues   []string
	workers  int
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	now      func() time.Time
}

// NewConsumer creates a new Consumer and declares its queues.
func NewConsumer(client broker, service service) *Consumer {
	queues := []string{rabbitmq.InventoryQueue(), rabbitmq.LedgerQueue()}
	for _, name := range queues {
		_, err := client.DeclareQueue(rabbitmq.DeclareQueueConfig{
			Name:    name,
			Durable: true,
		})
		if err != nil {
			panic(err)
		}
	}

	workers := viper.GetInt("ledger.consumer.workers")
	if workers <= 0 {
		workers = 50
	}

	return &Consumer{
		client:  client,
		service: service,
		queues:  queues,
		workers: workers,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Run consumes both queues until Shutdown is called, ctx ends or the broker closes the streams.
func (c *Consumer) Run(ctx context.Context) error {
	defer close(c.done)

	consumerTag := viper.GetString("ledger.consumer.tag")
	if consumerTag == "" {
		consumerTag = "orderflow-ledger"
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	var loops sync.WaitGroup
	for _, queue := range c.queues {
		msgs, err := c.client.Consume(rabbitmq.ConsumeConfig{
			Queue:    queue,
			Consumer: consumerTag + "-" + queue,
		})
		if err != nil {
			return fmt.Errorf("failed to consume %s: %w", queue, err)
		}

		slog.Info("Consumer started", "queue", queue, "consumer_tag", consumerTag)

		loops.Add(1)
		go func() {
			defer loops.Done()
			c.receive(gctx, g, queue, msgs)
		}()
	}

	loops.Wait()
	if err := g.Wait(); err != nil {
		slog.Error("Error processing messages", "error", err)
	}

	return nil
}

func (c *Consumer) receive(ctx context.Context, g *errgroup.Group, queue string, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			slog.Info("Stopping consumer", "queue", queue)

			return
		case msg, ok := <-msgs:
			if !ok {
				slog.Info("Message channel closed", "queue", queue)

				return
			}

			g.Go(func() error {
				if err := c.processMessage(ctx, msg); err != nil {
					slog.Error("Failed to process command",
						"queue", queue,
						"command", msg.Type,
						"correlation_id", msg.CorrelationId,
						"error", err,
					)
				}

				return nil
			})
		}
	}
}

// processMessage runs one command and answers it. Failed commands are acknowledged too:
// the caller has recorded the failure and will not expect a late success.
func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery) error {
	ctx, span := otel.Tracer("consumer").Start(ctx, "Consumer.processMessage")
	defer span.End()
	span.SetAttributes(attribute.String("ledger.command", msg.Type))

	err := c.dispatch(ctx, msg)

	var malformed *json.SyntaxError
	var mismatch *json.UnmarshalTypeError
	if errors.Is(err, errUnknownCommand) || errors.Is(err, errExpired) ||
		errors.As(err, &malformed) || errors.As(err, &mismatch) {
		c.reply(msg, err)
		if nackErr := msg.Nack(false, false); nackErr != nil {
			slog.Error("Failed to nack message", "error", nackErr)
		}

		return err
	}

	c.reply(msg, err)
	if ackErr := msg.Ack(false); ackErr != nil {
		slog.Error("Failed to ack message", "error", ackErr)

		return ackErr
	}

	return err
}

func (c *Consumer) dispatch(ctx context.Context, msg amqp.Delivery) error {
	if expired(msg, c.now()) {
		return fmt.Errorf("%w: %s", errExpired, msg.Type)
	}

	switch msg.Type {
	case ledger.CommandDeductStock:
		var cmd ledger.DeductStockCommand
		if err := json.Unmarshal(msg.Body, &cmd); err != nil {
			return err
		}

		return c.service.DeductStock(ctx, cmd)
	case ledger.CommandRecordRevenue:
		var cmd ledger.RecordRevenueCommand
		if err := json.Unmarshal(msg.Body, &cmd); err != nil {
			return err
		}

		return c.service.RecordRevenue(ctx, cmd)
	default:
		return fmt.Errorf("%w %q", errUnknownCommand, msg.Type)
	}
}

// expired reports whether the caller's deadline, carried as Timestamp plus Expiration,
// has passed. The broker only drops expired messages at the head of a queue.
func expired(msg amqp.Delivery, now time.Time) bool {
	if msg.Expiration == "" || msg.Timestamp.IsZero() {
		return false
	}
	ttl, err := strconv.ParseInt(msg.Expiration, 10, 64)
	if err != nil {
		return false
	}

	return now.After(msg.Timestamp.Add(time.Duration(ttl) * time.Millisecond))
}

func (c *Consumer) reply(msg amqp.Delivery, cause error) {
	if msg.ReplyTo == "" {
		return
	}

	r := ledger.Reply{OK: cause == nil}
	if cause != nil {
		r.Error = cause.Error()
	}
	body, err := json.Marshal(r)
	if err != nil {
		slog.Error("Failed to marshal reply", "error", err)

		return
	}

	if err := c.client.Reply(msg.ReplyTo, msg.CorrelationId, body); err != nil {
		slog.Error("Failed to send reply", "reply_to", msg.ReplyTo, "correlation_id", msg.CorrelationId, "error", err)
	}
}

// Shutdown stops receiving and waits for in-flight commands.
func (c *Consumer) Shutdown() error {
	slog.Info("Shutting down consumer")
	c.stopOnce.Do(func() { close(c.stop) })

	select {
	case <-c.done:
		slog.Info("Consumer stopped successfully")
	case <-time.After(10 * time.Second):
		slog.Warn("Consumer shutdown timeout")
	}

	return nil
}
