package sideeffect

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies the side effect bound to a transition.
type Kind string

const (
	// KindStockDeduction is fired by ready -> delivered.
	KindStockDeduction Kind = "stock_deduction"
	// KindRevenueEntry is fired by delivered -> paid.
	KindRevenueEntry Kind = "revenue_entry"
)

// State of a marker. pending -> running -> done|failed.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Marker records that a side effect belongs to (OrderID, Kind).
// At most one marker exists per pair.
type Marker struct {
	OrderID       int64           `json:"orderId"`
	Kind          Kind            `json:"kind"`
	State         State           `json:"state"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	ClaimedAt     *time.Time      `json:"claimedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
}
