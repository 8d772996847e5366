package orderitem

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the preparation status of a single item.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
)

// Valid reports whether s is a known item status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusDone
}

func (s Status) String() string {
	return string(s)
}

// OrderItem represents an item within an order.
// Prices are captured when the order is created and never follow catalog changes.
type OrderItem struct {
	ID         int64           `json:"id"`
	OrderID    int64           `json:"orderId"`
	MenuItemID int64           `json:"menuItemId"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Status     Status          `json:"status"`
	Notes      string          `json:"notes,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Outstanding returns the items that are not done yet.
func Outstanding(items []OrderItem) []OrderItem {
	var out []OrderItem
	for _, it := range items {
		if it.Status != StatusDone {
			out = append(out, it)
		}
	}

	return out
}

// QueryOrderItemsModel represents filter parameters for querying order items.
type QueryOrderItemsModel struct {
	Ids      []int64
	OrderIds []int64
	Statuses []Status
}
