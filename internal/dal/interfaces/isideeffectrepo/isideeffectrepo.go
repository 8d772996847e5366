package isideeffectrepo

import (
	"context"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/sideeffect"
)

// ISideEffectRepository stores side-effect markers. Markers are created by
// iorderrepo.IOrderRepository.ConditionalUpdate together with the transition.
type ISideEffectRepository interface {
	// Get returns errs.ErrNotFound when no marker exists for the pair.
	Get(ctx context.Context, orderID int64, kind sideeffect.Kind) (sideeffect.Marker, error)

	// Claim moves a pending marker to running. Only the caller that gets true may execute it.
	Claim(ctx context.Context, orderID int64, kind sideeffect.Kind, at time.Time) (sideeffect.Marker, bool, error)

	// Complete moves a running marker to done or failed.
	Complete(
		ctx context.Context,
		orderID int64,
		kind sideeffect.Kind,
		state sideeffect.State,
		lastError string,
		at time.Time,
	) error

	// ListPending returns markers still pending that were created before createdBefore.
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]sideeffect.Marker, error)

	// ListUnreconciled returns failed markers and markers stuck in pending or running since
	// before staleBefore.
	ListUnreconciled(ctx context.Context, staleBefore time.Time) ([]sideeffect.Marker, error)
}
