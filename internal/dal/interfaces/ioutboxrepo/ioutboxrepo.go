package ioutboxrepo

import (
	"context"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/outbox"
)

// IOutboxRepository keeps relay messages that failed to reach the broker.
type IOutboxRepository interface {
	Insert(ctx context.Context, msg outbox.Message) error

	// GetDue returns messages whose next retry is at or before now, oldest order version first.
	// Messages waiting behind an earlier version of their order that is not due are left out.
	GetDue(ctx context.Context, now time.Time, limit int) ([]outbox.Message, error)

	// HasPending reports whether the order has a parked message that may still be retried.
	HasPending(ctx context.Context, orderID int64) (bool, error)

	// Delete removes a message after successful delivery.
	Delete(ctx context.Context, id int64) error

	// ScheduleRetry records a failed attempt.
	ScheduleRetry(ctx context.Context, id int64, retryCount int, lastError string, nextRetryAt time.Time) error
}
