package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/backend-labs/orderflow/internal/dal/postgres"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/ledger"
)

// EntryRepository implements the ledger entry repository for PostgreSQL.
type EntryRepository struct {
	pgClient *postgres.Client
}

// NewEntryRepository creates a new ledger entry repository.
func NewEntryRepository(pgClient *postgres.Client) *EntryRepository {
	return &EntryRepository{
		pgClient: pgClient,
	}
}

// InsertStockDeduction saves a stock deduction unless the order already has one.
func (r *EntryRepository) InsertStockDeduction(ctx context.Context, d ledger.StockDeduction) (bool, error) {
	query, args, err := sq.Insert("stock_deductions").
		Columns("order_id", "created_at").
		Values(d.OrderID, d.CreatedAt).
		Suffix("ON CONFLICT (order_id) DO NOTHING").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build stock deduction insert query: %w", err)
	}

	tag, err := r.pgClient.Pool().Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to insert stock deduction: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// InsertRevenue saves a revenue entry unless the order already has one.
func (r *EntryRepository) InsertRevenue(ctx context.Context, e ledger.RevenueEntry) (bool, error) {
	query, args, err := sq.Insert("revenue_entries").
		Columns("order_id", "amount", "payment_method", "created_at").
		Values(e.OrderID, e.Amount, e.Method, e.CreatedAt).
		Suffix("ON CONFLICT (order_id) DO NOTHING").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build revenue insert query: %w", err)
	}

	tag, err := r.pgClient.Pool().Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to insert revenue entry: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
