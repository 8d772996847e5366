package notificationsvc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/bus"
	"github.com/corray333/backend-labs/orderflow/internal/dal/interfaces/inotificationrepo"
	"github.com/corray333/backend-labs/orderflow/internal/service/errs"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/notification"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/order"
	"github.com/google/uuid"
)

type orderGetter interface {
	GetOrder(ctx context.Context, id int64) (order.Order, error)
}

// NotificationService raises staff interrupts and lets exactly one display dismiss each.
type NotificationService struct {
	repo   inotificationrepo.INotificationRepository
	orders orderGetter
	hub    *bus.Hub[notification.Envelope]
	now    func() time.Time
}

// option is a function that configures the NotificationService.
type option func(*NotificationService)

// MustNewNotificationService creates a new NotificationService.
func MustNewNotificationService(opts ...option) *NotificationService {
	s := &NotificationService{
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.repo == nil || s.orders == nil {
		panic("notification service requires a notification repository and an order reader")
	}
	if s.hub == nil {
		s.hub = bus.NewHub[notification.Envelope]("notifications", bus.DefaultBufferSize)
	}

	return s
}

// WithNotificationRepository sets the notification store.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithNotificationRepository(repo inotificationrepo.INotificationRepository) option {
	return func(s *NotificationService) {
		s.repo = repo
	}
}

// WithOrderReader sets where bill requests read order totals from.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithOrderReader(orders orderGetter) option {
	return func(s *NotificationService) {
		s.orders = orders
	}
}

// WithHub sets the hub notifications are fanned out on.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithHub(hub *bus.Hub[notification.Envelope]) option {
	return func(s *NotificationService) {
		s.hub = hub
	}
}

// WithClock replaces time.Now.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithClock(now func() time.Time) option {
	return func(s *NotificationService) {
		s.now = now
	}
}

// Raise stores a notification and pushes it to connected displays of the target roles.
func (s *NotificationService) Raise(
	ctx context.Context,
	typ notification.Type,
	roles []notification.Role,
	payload notification.Payload,
) (notification.Notification, error) {
	if !typ.Valid() {
		return notification.Notification{}, errs.Validation("type", fmt.Sprintf("unknown notification type %q", typ))
	}
	if len(roles) == 0 {
		return notification.Notification{}, errs.Validation("targetRoles", "at least one role is required")
	}
	for _, r := range roles {
		if !r.Valid() {
			return notification.Notification{}, errs.Validation("targetRoles", fmt.Sprintf("unknown role %q", r))
		}
	}

	n := notification.Notification{
		ID:          uuid.New(),
		Type:        typ,
		Payload:     payload,
		TargetRoles: roles,
		CreatedAt:   s.now(),
	}
	if err := s.repo.Insert(ctx, n); err != nil {
		return notification.Notification{}, fmt.Errorf("failed to insert notification: %w", err)
	}

	delivered := s.hub.Publish(notification.Envelope{Action: notification.ActionRaised, Notification: n})
	slog.Info("Notification raised", "notification_id", n.ID, "type", n.Type, "delivered", delivered)

	return n, nil
}

// CallWaiter raises a call_waiter notification for the waiters.
func (s *NotificationService) CallWaiter(
	ctx context.Context,
	tableNumber *int,
	customerName, message string,
) (notification.Notification, error) {
	if tableNumber == nil && strings.TrimSpace(customerName) == "" {
		return notification.Notification{}, errs.Validation("tableNumber", "a table number or a customer name is required")
	}

	return s.Raise(ctx, notification.TypeCallWaiter, []notification.Role{notification.RoleWaiter}, notification.Payload{
		TableNumber:  tableNumber,
		CustomerName: strings.TrimSpace(customerName),
		Message:      message,
	})
}

// RequestBill raises a request_bill notification carrying the order total.
func (s *NotificationService) RequestBill(ctx context.Context, orderID int64, method string) (notification.Notification, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return notification.Notification{}, err
	}
	if o.Status.Terminal() {
		return notification.Notification{}, &errs.PreconditionFailedError{
			Reason: fmt.Sprintf("order is %s, no bill can be requested", o.Status),
		}
	}

	total := o.Total

	return s.Raise(ctx, notification.TypeRequestBill, []notification.Role{notification.RoleWaiter}, notification.Payload{
		TableNumber:   o.TableNumber,
		CustomerName:  o.CustomerName,
		CustomerPhone: o.CustomerPhone,
		OrderID:       o.ID,
		PaymentMethod: strings.TrimSpace(method),
		Total:         &total,
	})
}

// Dismiss marks a notification read. Of concurrent callers exactly one succeeds and the
// others get errs.ErrAlreadyDismissed.
func (s *NotificationService) Dismiss(ctx context.Context, id uuid.UUID) (notification.Notification, error) {
	n, won, err := s.repo.Dismiss(ctx, id, s.now())
	if err != nil {
		return notification.Notification{}, err
	}
	if !won {
		return n, errs.ErrAlreadyDismissed
	}

	s.hub.Publish(notification.Envelope{Action: notification.ActionDismissed, Notification: n})
	slog.Info("Notification dismissed", "notification_id", n.ID)

	return n, nil
}

// ListUnread returns the unread notifications addressed to role.
func (s *NotificationService) ListUnread(ctx context.Context, role notification.Role) ([]notification.Notification, error) {
	if !role.Valid() {
		return nil, errs.Validation("role", fmt.Sprintf("unknown role %q", role))
	}

	return s.repo.ListUnread(ctx, role)
}

// Subscribe streams raised and dismissed notifications addressed to role.
func (s *NotificationService) Subscribe(role notification.Role) *bus.Subscription[notification.Envelope] {
	return s.hub.Subscribe(func(e notification.Envelope) bool {
		return e.Notification.Targets(role)
	})
}

// Close ends every notification subscription.
func (s *NotificationService) Close() {
	s.hub.Close()
}
