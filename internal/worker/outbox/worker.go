package outbox

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/dal/interfaces/ioutboxrepo"
	"github.com/spf13/viper"
	"github.com/streadway/amqp"
)

type brokerPublisher interface {
	Publish(exchange, routingKey, contentType string, headers amqp.Table, body []byte) error
}

// Worker re-publishes order events the relay could not deliver to the broker.
type Worker struct {
	outboxRepo    ioutboxrepo.IOutboxRepository
	publisher     brokerPublisher
	pollInterval  time.Duration
	batchSize     int
	retryInterval time.Duration
	now           func() time.Time
	stopCh        chan struct{}
}

// NewWorker creates a new outbox worker.
func NewWorker(
	outboxRepo ioutboxrepo.IOutboxRepository,
	publisher brokerPublisher,
) *Worker {
	pollIntervalSeconds := viper.GetInt("rabbitmq.outbox.poll_interval_seconds")
	if pollIntervalSeconds == 0 {
		pollIntervalSeconds = 10
	}

	batchSize := viper.GetInt("rabbitmq.outbox.batch_size")
	if batchSize == 0 {
		batchSize = 100
	}

	retryIntervalSeconds := viper.GetInt("rabbitmq.outbox.retry_interval_seconds")
	if retryIntervalSeconds == 0 {
		retryIntervalSeconds = 30
	}

	return &Worker{
		outboxRepo:    outboxRepo,
		publisher:     publisher,
		pollInterval:  time.Duration(pollIntervalSeconds) * time.Second,
		batchSize:     batchSize,
		retryInterval: time.Duration(retryIntervalSeconds) * time.Second,
		now:           time.Now,
		stopCh:        make(chan struct{}),
	}
}

// Start begins processing messages from the outbox.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.Info("Outbox worker started", "poll_interval", w.pollInterval, "batch_size", w.batchSize)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Outbox worker shutting down")

			return
		case <-w.stopCh:
			slog.Info("Outbox worker stopped")

			return
		case <-ticker.C:
			w.processMessages(ctx)
		}
	}
}

// Stop stops the worker.
func (w *Worker) Stop() {
	close(w.stopCh)
}

// processMessages publishes the due messages, oldest order version first.
func (w *Worker) processMessages(ctx context.Context) {
	messages, err := w.outboxRepo.GetDue(ctx, w.now(), w.batchSize)
	if err != nil {
		slog.Error("Failed to get due messages from outbox", "error", err)

		return
	}

	if len(messages) == 0 {
		return
	}

	slog.Info("Processing outbox messages", "count", len(messages))

	// A failed message holds back the later versions of its order.
	blocked := make(map[int64]bool)
	for _, msg := range messages {
		if blocked[msg.OrderID] {
			continue
		}
		err := w.publisher.Publish(
			msg.ExchangeName,
			msg.RoutingKey,
			msg.ContentType,
			amqp.Table{
				"x-order-id":      msg.OrderID,
				"x-order-version": msg.Version,
			},
			msg.Payload,
		)
		if err == nil {
			if err := w.outboxRepo.Delete(ctx, msg.ID); err != nil {
				slog.Error("Failed to delete message from outbox after successful publish",
					"outbox_id", msg.ID,
					"error", err,
				)
			} else {
				slog.Info("Message successfully published and removed from outbox", "outbox_id", msg.ID)
			}

			continue
		}

		blocked[msg.OrderID] = true

		// retryInterval, 2x, 4x, ...
		newRetryCount := msg.RetryCount + 1
		backoff := time.Duration(math.Pow(2, float64(newRetryCount-1))) * w.retryInterval
		nextRetryAt := w.now().Add(backoff)

		if newRetryCount >= msg.MaxRetries {
			slog.Error("Outbox message exhausted its retries",
				"outbox_id", msg.ID,
				"order_id", msg.OrderID,
				"version", msg.Version,
				"error", err,
			)
		} else {
			slog.Warn("Failed to publish message from outbox, will retry",
				"outbox_id", msg.ID,
				"retry_count", newRetryCount,
				"next_retry", nextRetryAt,
				"error", err,
			)
		}

		if err := w.outboxRepo.ScheduleRetry(ctx, msg.ID, newRetryCount, err.Error(), nextRetryAt); err != nil {
			slog.Error("Failed to update retry information", "outbox_id", msg.ID, "error", err)
		}
	}
}
