package ledgersvc

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/dal/interfaces/ientryrepo"
	"github.com/corray333/backend-labs/orderflow/internal/service/errs"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/ledger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LedgerService books the ledger commands sent by the order engine.
// A repeated command for the same order is acknowledged without a second entry.
type LedgerService struct {
	entryRepo ientryrepo.IEntryRepository
	now       func() time.Time
}

// option is a function that configures the LedgerService.
type option func(*LedgerService)

// MustNewLedgerService creates a new LedgerService.
func MustNewLedgerService(opts ...option) *LedgerService {
	s := &LedgerService{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if s.entryRepo == nil {
		panic("ledger service requires an entry repository")
	}

	return s
}

// WithEntryRepository sets the entry repository for the LedgerService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithEntryRepository(entryRepo ientryrepo.IEntryRepository) option {
	return func(s *LedgerService) {
		s.entryRepo = entryRepo
	}
}

// WithClock replaces time.Now.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithClock(now func() time.Time) option {
	return func(s *LedgerService) {
		s.now = now
	}
}

// DeductStock records the stock deduction of an order.
func (s *LedgerService) DeductStock(ctx context.Context, cmd ledger.DeductStockCommand) error {
	ctx, span := otel.Tracer("service").Start(ctx, "LedgerService.DeductStock",
		trace.WithAttributes(attribute.Int64("order.id", cmd.OrderID)))
	defer span.End()

	if cmd.OrderID <= 0 {
		return errs.Validation("orderId", "must be positive")
	}

	inserted, err := s.entryRepo.InsertStockDeduction(ctx, ledger.StockDeduction{
		OrderID:   cmd.OrderID,
		CreatedAt: s.now(),
	})
	if err != nil {
		slog.Error("Failed to save stock deduction", "order_id", cmd.OrderID, "error", err)

		return err
	}
	if !inserted {
		slog.Warn("Stock already deducted", "order_id", cmd.OrderID)

		return nil
	}

	slog.Info("Stock deducted", "order_id", cmd.OrderID)

	return nil
}

// RecordRevenue books the revenue of a paid order.
func (s *LedgerService) RecordRevenue(ctx context.Context, cmd ledger.RecordRevenueCommand) error {
	ctx, span := otel.Tracer("service").Start(ctx, "LedgerService.RecordRevenue",
		trace.WithAttributes(attribute.Int64("order.id", cmd.OrderID)))
	defer span.End()

	switch {
	case cmd.OrderID <= 0:
		return errs.Validation("orderId", "must be positive")
	case cmd.Amount.IsNegative():
		return errs.Validation("amount", "must not be negative")
	case strings.TrimSpace(cmd.Method) == "":
		return errs.Validation("method", "is required")
	}

	inserted, err := s.entryRepo.InsertRevenue(ctx, ledger.RevenueEntry{
		OrderID:   cmd.OrderID,
		Amount:    cmd.Amount,
		Method:    cmd.Method,
		CreatedAt: s.now(),
	})
	if err != nil {
		slog.Error("Failed to save revenue entry", "order_id", cmd.OrderID, "error", err)

		return err
	}
	if !inserted {
		slog.Warn("Revenue already booked", "order_id", cmd.OrderID)

		return nil
	}

	slog.Info("Revenue booked", "order_id", cmd.OrderID, "amount", cmd.Amount.StringFixed(2), "method", cmd.Method)

	return nil
}
