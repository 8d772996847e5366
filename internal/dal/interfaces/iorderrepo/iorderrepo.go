package iorderrepo

import (
	"context"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/order"
)

// IOrderRepository is the order store. Items are read and written only through their order.
type IOrderRepository interface {
	// Create inserts the order with its items and assigns id, order number and version 1.
	Create(ctx context.Context, o order.Order) (order.Order, error)
	// Get returns errs.ErrNotFound when the order does not exist.
	Get(ctx context.Context, id int64) (order.Order, error)
	ListByStatus(ctx context.Context, statuses []order.Status) ([]order.Order, error)
	Query(ctx context.Context, filter *order.QueryOrdersModel) ([]order.Order, error)

	// ConditionalUpdate moves the order from upd.Expected to upd.Target in one atomic step,
	// logging the transition and recording upd.SideEffect in the same transaction.
	// When the guard does not hold it returns the current order and false.
	ConditionalUpdate(ctx context.Context, upd order.ConditionalUpdate) (order.Order, bool, error)
	// SetItemStatus toggles an item while its order is preparing and bumps the order version.
	// When the guard does not hold it returns the current order and false.
	SetItemStatus(ctx context.Context, upd order.ItemUpdate) (order.Order, bool, error)
	ListTransitions(ctx context.Context, orderID int64) ([]order.Transition, error)
}
