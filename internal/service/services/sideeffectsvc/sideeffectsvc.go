package sideeffectsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/dal/interfaces/iledger"
	"github.com/corray333/backend-labs/orderflow/internal/dal/interfaces/isideeffectrepo"
	"github.com/corray333/backend-labs/orderflow/internal/service/errs"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/sideeffect"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultStaleAfter = 5 * time.Minute
)

// SideEffectService executes the side effects bound to order transitions.
// A side effect runs only for the caller that claims its marker, and a failed one is
// never run again automatically.
type SideEffectService struct {
	markers    isideeffectrepo.ISideEffectRepository
	inventory  iledger.InventoryLedger
	ledger     iledger.FinancialLedger
	timeout    time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// option is a function that configures the SideEffectService.
type option func(*SideEffectService)

// MustNewSideEffectService creates a new SideEffectService.
func MustNewSideEffectService(opts ...option) *SideEffectService {
	s := &SideEffectService{
		timeout:    DefaultTimeout,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.markers == nil || s.inventory == nil || s.ledger == nil {
		panic("side effect service requires a marker repository and both ledgers")
	}

	return s
}

// WithMarkerRepository sets the marker repository.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithMarkerRepository(repo isideeffectrepo.ISideEffectRepository) option {
	return func(s *SideEffectService) {
		s.markers = repo
	}
}

// WithInventoryLedger sets the inventory collaborator.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithInventoryLedger(l iledger.InventoryLedger) option {
	return func(s *SideEffectService) {
		s.inventory = l
	}
}

// WithFinancialLedger sets the financial collaborator.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithFinancialLedger(l iledger.FinancialLedger) option {
	return func(s *SideEffectService) {
		s.ledger = l
	}
}

// WithTimeout bounds every collaborator call.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithTimeout(d time.Duration) option {
	return func(s *SideEffectService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithStaleAfter sets how long a marker may stay pending or running before it is reported.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithStaleAfter(d time.Duration) option {
	return func(s *SideEffectService) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithClock replaces time.Now.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithClock(now func() time.Time) option {
	return func(s *SideEffectService) {
		s.now = now
	}
}

// Execute claims the marker of (orderID, kind) and runs the collaborator call.
// It returns false without error when the marker is missing or already claimed.
// A failed or timed out call is recorded and returned as *errs.SideEffectFailureError.
func (s *SideEffectService) Execute(ctx context.Context, orderID int64, kind sideeffect.Kind) (bool, error) {
	ctx, span := otel.Tracer("sideeffectsvc").Start(ctx, "SideEffectService.Execute",
		trace.WithAttributes(
			attribute.Int64("order.id", orderID),
			attribute.String("side_effect.kind", string(kind)),
		),
	)
	defer span.End()

	// The outcome must be recorded even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	marker, claimed, err := s.markers.Claim(ctx, orderID, kind, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to claim side effect: %w", err)
	}
	if !claimed {
		slog.Debug("Side effect already claimed", "order_id", orderID, "kind", kind)

		return false, nil
	}

	callErr := s.invoke(ctx, marker)

	state, lastError := sideeffect.StateDone, ""
	if callErr != nil {
		state, lastError = sideeffect.StateFailed, callErr.Error()
	}
	if err := s.markers.Complete(ctx, orderID, kind, state, lastError, s.now()); err != nil {
		slog.Error("Failed to record side effect outcome",
			"order_id", orderID,
			"kind", kind,
			"state", state,
			"error", err,
		)
	}

	if callErr != nil {
		span.RecordError(callErr)
		span.SetStatus(codes.Error, "side effect failed")
		slog.Error("Side effect failed, left for manual reconciliation",
			"order_id", orderID,
			"kind", kind,
			"error", callErr,
		)

		return true, &errs.SideEffectFailureError{OrderID: orderID, Kind: string(kind), Err: callErr}
	}

	slog.Info("Side effect done", "order_id", orderID, "kind", kind)

	return true, nil
}

func (s *SideEffectService) invoke(ctx context.Context, marker sideeffect.Marker) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var call func(context.Context) error
	switch marker.Kind {
	case sideeffect.KindStockDeduction:
		call = func(ctx context.Context) error {
			return s.inventory.DeductStockForOrder(ctx, marker.OrderID)
		}
	case sideeffect.KindRevenueEntry:
		call = func(ctx context.Context) error {
			return s.ledger.RecordRevenue(ctx, marker.OrderID, marker.Amount, marker.PaymentMethod)
		}
	default:
		return fmt.Errorf("unknown side effect kind %q", marker.Kind)
	}

	done := make(chan error, 1)
	go func() {
		done <- call(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("timed out after %s: %w", s.timeout, err)
		}

		return err
	case <-ctx.Done():
		return fmt.Errorf("timed out after %s: %w", s.timeout, ctx.Err())
	}
}

// ExecutePending runs markers that were committed but never claimed, for example because
// the process stopped between the commit and the call. It returns how many it ran.
func (s *SideEffectService) ExecutePending(ctx context.Context, grace time.Duration, limit int) (int, error) {
	markers, err := s.markers.ListPending(ctx, s.now().Add(-grace), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending side effects: %w", err)
	}

	executed := 0
	for _, m := range markers {
		if ctx.Err() != nil {
			return executed, ctx.Err()
		}
		ran, err := s.Execute(ctx, m.OrderID, m.Kind)
		var failure *errs.SideEffectFailureError
		if err != nil && !errors.As(err, &failure) {
			return executed, err
		}
		if ran {
			executed++
		}
	}

	return executed, nil
}

// Marker returns the marker of (orderID, kind).
func (s *SideEffectService) Marker(ctx context.Context, orderID int64, kind sideeffect.Kind) (sideeffect.Marker, error) {
	return s.markers.Get(ctx, orderID, kind)
}

// ListUnreconciled returns the markers an operator has to reconcile by hand.
func (s *SideEffectService) ListUnreconciled(ctx context.Context) ([]sideeffect.Marker, error) {
	markers, err := s.markers.ListUnreconciled(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		return nil, fmt.Errorf("failed to list unreconciled side effects: %w", err)
	}

	return markers, nil
}
