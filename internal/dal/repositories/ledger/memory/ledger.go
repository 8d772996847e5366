// Package memoryledger records ledger calls in process. It stands in for the RabbitMQ
// ledgers when the service runs without a broker.
package memoryledger

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
)

// Revenue is one booked revenue entry.
type Revenue struct {
	OrderID int64
	Amount  decimal.Decimal
	Method  string
}

// Ledger keeps every call it receives.
type Ledger struct {
	mu         sync.Mutex
	deductions []int64
	revenue    []Revenue
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// DeductStockForOrder records a stock deduction.
func (l *Ledger) DeductStockForOrder(ctx context.Context, orderID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	l.deductions = append(l.deductions, orderID)
	l.mu.Unlock()
	slog.Info("Stock deducted", "order_id", orderID)

	return nil
}

// RecordRevenue records a revenue entry.
func (l *Ledger) RecordRevenue(ctx context.Context, orderID int64, amount decimal.Decimal, method string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	l.revenue = append(l.revenue, Revenue{OrderID: orderID, Amount: amount, Method: method})
	l.mu.Unlock()
	slog.Info("Revenue recorded", "order_id", orderID, "amount", amount.StringFixed(2), "method", method)

	return nil
}

// Deductions returns the orders whose stock was deducted, in call order.
func (l *Ledger) Deductions() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]int64, len(l.deductions))
	copy(out, l.deductions)

	return out
}

// Revenue returns the booked revenue entries, in call order.
func (l *Ledger) Revenue() []Revenue {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Revenue, len(l.revenue))
	copy(out, l.revenue)

	return out
}
