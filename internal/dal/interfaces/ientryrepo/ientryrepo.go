package ientryrepo

import (
	"context"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/ledger"
)

// IEntryRepository stores ledger entries, at most one of each kind per order.
type IEntryRepository interface {
	// InsertStockDeduction reports false when the order was already deducted.
	InsertStockDeduction(ctx context.Context, d ledger.StockDeduction) (bool, error)

	// InsertRevenue reports false when revenue was already booked for the order.
	InsertRevenue(ctx context.Context, e ledger.RevenueEntry) (bool, error)
}
