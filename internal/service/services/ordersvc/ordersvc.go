package ordersvc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/dal/interfaces/iorderrepo"
	"github.com/corray333/backend-labs/orderflow/internal/service/errs"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/event"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/order"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/payment"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/sideeffect"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// sideEffects runs the side effect recorded by a committed transition.
type sideEffects interface {
	Execute(ctx context.Context, orderID int64, kind sideeffect.Kind) (bool, error)
}

// publisher hands committed changes to the event bus.
type publisher interface {
	Publish(evt event.Event)
}

// OrderService is a service for managing orders.
type OrderService struct {
	orders      iorderrepo.IOrderRepository
	sideEffects sideEffects
	events      publisher
	now         func() time.Time
}

// option is a function that configures the OrderService.
type option func(*OrderService)

// MustNewOrderService creates a new OrderService.
func MustNewOrderService(opts ...option) *OrderService {
	s := &OrderService{
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.orders == nil || s.sideEffects == nil || s.events == nil {
		panic("order service requires an order repository, a side effect executor and an event publisher")
	}

	return s
}

// WithOrderRepository sets the order store.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithOrderRepository(repo iorderrepo.IOrderRepository) option {
	return func(s *OrderService) {
		s.orders = repo
	}
}

// WithSideEffects sets the side effect executor.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithSideEffects(se sideEffects) option {
	return func(s *OrderService) {
		s.sideEffects = se
	}
}

// WithEventPublisher sets the event bus.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithEventPublisher(p publisher) option {
	return func(s *OrderService) {
		s.events = p
	}
}

// WithClock replaces time.Now.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithClock(now func() time.Time) option {
	return func(s *OrderService) {
		s.now = now
	}
}

// TransitionPayload carries the fields a transition may need.
type TransitionPayload struct {
	// ExpectedStatus, when set, must match the current status or the request is stale.
	ExpectedStatus  order.Status
	RejectionReason string
	Payment         *payment.Submission
}

// CreateOrder validates and stores a new pending order.
func (s *OrderService) CreateOrder(ctx context.Context, in order.CreateOrder) (order.Order, error) {
	ctx, span := otel.Tracer("ordersvc").Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := validateCreate(in); err != nil {
		return order.Order{}, err
	}

	now := s.now()
	o := order.Order{
		Type:          in.Type,
		TableNumber:   in.TableNumber,
		CustomerName:  strings.TrimSpace(in.CustomerName),
		CustomerPhone: strings.TrimSpace(in.CustomerPhone),
		Status:        order.StatusPending,
		Discount:      in.Discount,
		Notes:         in.Notes,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
		OrderItems:    make([]orderitem.OrderItem, 0, len(in.Items)),
	}

	subtotal := decimal.Zero
	for _, it := range in.Items {
		total := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		subtotal = subtotal.Add(total)
		o.OrderItems = append(o.OrderItems, orderitem.OrderItem{
			MenuItemID: it.MenuItemID,
			Name:       strings.TrimSpace(it.Name),
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: total,
			Status:     orderitem.StatusPending,
			Notes:      it.Notes,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if in.Discount.GreaterThan(subtotal) {
		return order.Order{}, errs.Validation("discount", "must not exceed the subtotal "+subtotal.StringFixed(2))
	}
	o.Subtotal = subtotal
	o.Total = order.ComputeTotal(subtotal, in.Discount)

	created, err := s.orders.Create(ctx, o)
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to create order: %w", err)
	}
	span.SetAttributes(attribute.Int64("order.id", created.ID))

	s.events.Publish(event.Event{
		OrderID:    created.ID,
		Topic:      event.TopicOrders,
		Kind:       event.KindOrderCreated,
		NewStatus:  string(created.Status),
		Version:    created.Version,
		OccurredAt: now,
	})
	slog.Info("Order created", "order_id", created.ID, "order_number", created.OrderNumber, "total", created.Total.StringFixed(2))

	return created, nil
}

func validateCreate(in order.CreateOrder) error {
	if !in.Type.Valid() {
		return errs.Validation("orderType", fmt.Sprintf("unknown order type %q", in.Type))
	}
	if in.Type == order.TypeDineIn && (in.TableNumber == nil || *in.TableNumber <= 0) {
		return errs.Validation("tableNumber", "required for dine-in orders")
	}
	if len(in.Items) == 0 {
		return errs.Validation("items", "an order needs at least one item")
	}
	if in.Discount.IsNegative() {
		return errs.Validation("discount", "must not be negative")
	}
	for i, it := range in.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(it.Name) == "" {
			return errs.Validation(field+".name", "required")
		}
		if it.Quantity <= 0 {
			return errs.Validation(field+".quantity", "must be greater than zero")
		}
		if it.UnitPrice.IsNegative() {
			return errs.Validation(field+".unitPrice", "must not be negative")
		}
	}

	return nil
}

// GetOrder returns one order with its items.
func (s *OrderService) GetOrder(ctx context.Context, id int64) (order.Order, error) {
	return s.orders.Get(ctx, id)
}

// GetOrders retrieves orders with their items based on filter.
func (s *OrderService) GetOrders(ctx context.Context, filter order.QueryOrdersModel) ([]order.Order, error) {
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, errs.Validation("status", fmt.Sprintf("unknown status %q", st))
		}
	}

	return s.orders.Query(ctx, &filter)
}

// ListByStatus returns every order in one of the statuses.
func (s *OrderService) ListByStatus(ctx context.Context, statuses []order.Status) ([]order.Order, error) {
	return s.orders.ListByStatus(ctx, statuses)
}

// ListTransitions returns the committed transitions of an order.
func (s *OrderService) ListTransitions(ctx context.Context, orderID int64) ([]order.Transition, error) {
	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}

	return s.orders.ListTransitions(ctx, orderID)
}

// RequestTransition moves an order to target through a single conditional update.
// When the transition commits but its side effect fails, the committed order is returned
// together with an *errs.SideEffectFailureError.
func (s *OrderService) RequestTransition(
	ctx context.Context,
	orderID int64,
	target order.Status,
	payload TransitionPayload,
) (order.Order, error) {
	ctx, span := otel.Tracer("ordersvc").Start(ctx, "OrderService.RequestTransition",
		trace.WithAttributes(
			attribute.Int64("order.id", orderID),
			attribute.String("order.target_status", string(target)),
		),
	)
	defer span.End()

	if !target.Valid() {
		return order.Order{}, errs.Validation("targetStatus", fmt.Sprintf("unknown status %q", target))
	}

	current, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}

	if payload.ExpectedStatus != "" && payload.ExpectedStatus != current.Status {
		return order.Order{}, &errs.StaleStateError{
			Expected: string(payload.ExpectedStatus),
			Actual:   string(current.Status),
		}
	}

	if !order.CanTransition(current.Status, target) {
		return order.Order{}, &errs.InvalidTransitionError{From: string(current.Status), To: string(target)}
	}

	now := s.now()
	upd := order.ConditionalUpdate{
		OrderID:  orderID,
		Expected: current.Status,
		Target:   target,
		At:       now,
	}

	switch target {
	case order.StatusCancelled:
		reason := strings.TrimSpace(payload.RejectionReason)
		if reason == "" {
			return order.Order{}, errs.Validation("rejectionReason", "required when cancelling an order")
		}
		upd.Fields.RejectionReason = reason
	case order.StatusReady:
		if outstanding := orderitem.Outstanding(current.OrderItems); len(outstanding) > 0 {
			return order.Order{}, itemsOutstanding(outstanding)
		}
		upd.RequireItemsDone = true
	case order.StatusDelivered:
		upd.SideEffect = &sideeffect.Marker{
			OrderID:   orderID,
			Kind:      sideeffect.KindStockDeduction,
			Amount:    current.Total,
			CreatedAt: now,
		}
	case order.StatusPaid:
		if payload.Payment == nil {
			return order.Order{}, errs.Validation("payment", "required to mark an order paid")
		}
		method, err := payment.Reconcile(current.Total, *payload.Payment)
		if err != nil {
			return order.Order{}, err
		}
		upd.Fields.PaymentMethod = method
		upd.SideEffect = &sideeffect.Marker{
			OrderID:       orderID,
			Kind:          sideeffect.KindRevenueEntry,
			Amount:        current.Total,
			PaymentMethod: method,
			CreatedAt:     now,
		}
	}

	updated, ok, err := s.orders.ConditionalUpdate(ctx, upd)
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to apply transition: %w", err)
	}
	if !ok {
		if target == order.StatusReady && updated.Status == current.Status {
			// Items toggled back to done after the update leave nothing to name: that is a lost race.
			if outstanding := orderitem.Outstanding(updated.OrderItems); len(outstanding) > 0 {
				return order.Order{}, itemsOutstanding(outstanding)
			}
		}
		slog.Info("Transition lost a race",
			"order_id", orderID,
			"expected", current.Status,
			"actual", updated.Status,
			"target", target,
		)

		return order.Order{}, &errs.StaleStateError{Expected: string(current.Status), Actual: string(updated.Status)}
	}

	s.events.Publish(event.Event{
		OrderID:        orderID,
		Topic:          event.TopicOrders,
		Kind:           event.KindOrderTransitioned,
		PreviousStatus: string(current.Status),
		NewStatus:      string(updated.Status),
		Version:        updated.Version,
		OccurredAt:     now,
	})
	slog.Info("Order transitioned", "order_id", orderID, "from", current.Status, "to", updated.Status)

	if upd.SideEffect != nil {
		if _, err := s.sideEffects.Execute(ctx, orderID, upd.SideEffect.Kind); err != nil {
			return updated, err
		}
	}

	return updated, nil
}

func itemsOutstanding(items []orderitem.OrderItem) error {
	out := make([]errs.OutstandingItem, len(items))
	for i, it := range items {
		out[i] = errs.OutstandingItem{ID: it.ID, Name: it.Name, Quantity: it.Quantity, Status: string(it.Status)}
	}

	return &errs.PreconditionFailedError{Reason: "items are not done", OutstandingItems: out}
}

// SubmitPayment reconciles the submission against the order total and marks the order paid.
// A rejected submission leaves the order delivered.
func (s *OrderService) SubmitPayment(ctx context.Context, orderID int64, sub payment.Submission) (order.Order, error) {
	return s.RequestTransition(ctx, orderID, order.StatusPaid, TransitionPayload{Payment: &sub})
}

// SetItemStatus toggles an item between pending and done while its order is preparing.
func (s *OrderService) SetItemStatus(
	ctx context.Context,
	orderID, itemID int64,
	target orderitem.Status,
) (order.Order, error) {
	ctx, span := otel.Tracer("ordersvc").Start(ctx, "OrderService.SetItemStatus",
		trace.WithAttributes(
			attribute.Int64("order.id", orderID),
			attribute.Int64("order_item.id", itemID),
		),
	)
	defer span.End()

	if !target.Valid() {
		return order.Order{}, errs.Validation("status", fmt.Sprintf("unknown item status %q", target))
	}

	current, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	item, ok := current.Item(itemID)
	if !ok {
		return order.Order{}, errs.ErrNotFound
	}
	if current.Status != order.StatusPreparing {
		return order.Order{}, &errs.PreconditionFailedError{
			Reason: fmt.Sprintf("items can change only while the order is preparing, order is %s", current.Status),
		}
	}
	if item.Status == target {
		return order.Order{}, &errs.InvalidTransitionError{From: string(item.Status), To: string(target)}
	}

	now := s.now()
	updated, ok, err := s.orders.SetItemStatus(ctx, order.ItemUpdate{
		OrderID:  orderID,
		ItemID:   itemID,
		Expected: item.Status,
		Target:   target,
		At:       now,
	})
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to update item status: %w", err)
	}
	if !ok {
		if updated.Status != order.StatusPreparing {
			return order.Order{}, &errs.PreconditionFailedError{
				Reason: fmt.Sprintf("items can change only while the order is preparing, order is %s", updated.Status),
			}
		}
		actual, _ := updated.Item(itemID)

		return order.Order{}, &errs.StaleStateError{Expected: string(item.Status), Actual: string(actual.Status)}
	}

	s.events.Publish(event.Event{
		OrderID:        orderID,
		ItemID:         itemID,
		Topic:          event.TopicOrderItems,
		Kind:           event.KindItemStatusChanged,
		PreviousStatus: string(item.Status),
		NewStatus:      string(target),
		Version:        updated.Version,
		OccurredAt:     now,
	})

	return updated, nil
}
