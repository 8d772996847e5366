package inotificationrepo

import (
	"context"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/notification"
	"github.com/google/uuid"
)

// INotificationRepository is an interface for notification storage.
type INotificationRepository interface {
	Insert(ctx context.Context, n notification.Notification) error
	// Get returns errs.ErrNotFound when the notification does not exist.
	Get(ctx context.Context, id uuid.UUID) (notification.Notification, error)
	// Dismiss marks the notification read if it is unread and reports whether this call did it.
	// It returns errs.ErrNotFound when the notification does not exist.
	Dismiss(ctx context.Context, id uuid.UUID, at time.Time) (notification.Notification, bool, error)
	ListUnread(ctx context.Context, role notification.Role) ([]notification.Notification, error)
}
