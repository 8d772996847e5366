package iledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// InventoryLedger deducts ingredient stock for the items of a delivered order.
type InventoryLedger interface {
	DeductStockForOrder(ctx context.Context, orderID int64) error
}

// FinancialLedger books the revenue of a paid order.
type FinancialLedger interface {
	RecordRevenue(ctx context.Context, orderID int64, amount decimal.Decimal, method string) error
}
