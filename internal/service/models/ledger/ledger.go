package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Command names carried in the AMQP Type property.
const (
	CommandDeductStock   = "deduct_stock"
	CommandRecordRevenue = "record_revenue"
)

// DeductStockCommand asks the inventory ledger to deduct the ingredients of an order.
type DeductStockCommand struct {
	OrderID int64 `json:"orderId"`
}

// RecordRevenueCommand asks the financial ledger to book the revenue of a paid order.
type RecordRevenueCommand struct {
	OrderID int64           `json:"orderId"`
	Amount  decimal.Decimal `json:"amount"`
	Method  string          `json:"method"`
}

// Reply answers a command on the caller's reply queue.
type Reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// StockDeduction is stored once per order.
type StockDeduction struct {
	OrderID   int64
	CreatedAt time.Time
}

// RevenueEntry is stored once per order.
type RevenueEntry struct {
	OrderID   int64
	Amount    decimal.Decimal
	Method    string
	CreatedAt time.Time
}
