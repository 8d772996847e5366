package order

import (
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/sideeffect"
	"github.com/shopspring/decimal"
)

// Type is the way an order is served.
type Type string

const (
	TypeDineIn   Type = "dine_in"
	TypeDelivery Type = "delivery"
	TypeTakeout  Type = "takeout"
)

// Valid reports whether t is a known order type.
func (t Type) Valid() bool {
	switch t {
	case TypeDineIn, TypeDelivery, TypeTakeout:
		return true
	}

	return false
}

// Order represents an order in the system.
type Order struct {
	ID              int64                 `json:"id"`
	OrderNumber     int64                 `json:"orderNumber"`
	Type            Type                  `json:"orderType"`
	TableNumber     *int                  `json:"tableNumber,omitempty"`
	CustomerName    string                `json:"customerName,omitempty"`
	CustomerPhone   string                `json:"customerPhone,omitempty"`
	Status          Status                `json:"status"`
	Subtotal        decimal.Decimal       `json:"subtotal"`
	Discount        decimal.Decimal       `json:"discount"`
	Total           decimal.Decimal       `json:"total"`
	Notes           string                `json:"notes,omitempty"`
	RejectionReason string                `json:"rejectionReason,omitempty"`
	PaymentMethod   string                `json:"paymentMethod,omitempty"`
	ConfirmedAt     *time.Time            `json:"confirmedAt,omitempty"`
	PreparingAt     *time.Time            `json:"preparingAt,omitempty"`
	ReadyAt         *time.Time            `json:"readyAt,omitempty"`
	DeliveredAt     *time.Time            `json:"deliveredAt,omitempty"`
	PaidAt          *time.Time            `json:"paidAt,omitempty"`
	CancelledAt     *time.Time            `json:"cancelledAt,omitempty"`
	Version         int64                 `json:"version"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
	OrderItems      []orderitem.OrderItem `json:"orderItems"`
}

// CreateOrder carries the input of a new order.
type CreateOrder struct {
	Type          Type
	TableNumber   *int
	CustomerName  string
	CustomerPhone string
	Discount      decimal.Decimal
	Notes         string
	Items         []CreateOrderItem
}

// CreateOrderItem is a single line of CreateOrder.
type CreateOrderItem struct {
	MenuItemID int64
	Name       string
	Quantity   int
	UnitPrice  decimal.Decimal
	Notes      string
}

// Fields holds the columns a transition may set besides status.
// Nil/empty values are left untouched.
type Fields struct {
	RejectionReason string
	PaymentMethod   string
}

// ConditionalUpdate describes a single compare-and-swap on the status column.
type ConditionalUpdate struct {
	OrderID  int64
	Expected Status
	Target   Status
	Fields   Fields
	// RequireItemsDone makes the update apply only when no item of the order is pending.
	RequireItemsDone bool
	// SideEffect, when set, is recorded in the same transaction as the update.
	SideEffect *sideeffect.Marker
	At         time.Time
}

// Transition is a committed status change of an order.
type Transition struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"orderId"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// QueryOrdersModel represents filter parameters for querying orders.
type QueryOrdersModel struct {
	Ids      []int64  `json:"ids,omitempty"`
	Statuses []Status `json:"statuses,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Offset   int      `json:"offset,omitempty"`
}

// ItemUpdate describes a compare-and-swap on the status of one item.
// It applies only while the parent order is preparing.
type ItemUpdate struct {
	OrderID  int64
	ItemID   int64
	Expected orderitem.Status
	Target   orderitem.Status
	At       time.Time
}

// Item returns the item with the given id.
func (o *Order) Item(id int64) (orderitem.OrderItem, bool) {
	for _, it := range o.OrderItems {
		if it.ID == id {
			return it, true
		}
	}

	return orderitem.OrderItem{}, false
}
