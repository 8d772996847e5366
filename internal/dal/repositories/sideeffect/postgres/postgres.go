package postgresrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/backend-labs/orderflow/internal/dal/postgres"
	"github.com/corray333/backend-labs/orderflow/internal/service/errs"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/sideeffect"
	"github.com/jackc/pgx/v5"
)

var markerColumns = []string{
	"order_id",
	"kind",
	"state",
	"amount",
	"payment_method",
	"last_error",
	"created_at",
	"updated_at",
	"claimed_at",
	"completed_at",
}

func scanMarker(row pgx.Row) (sideeffect.Marker, error) {
	var (
		m           sideeffect.Marker
		kind, state string
	)
	err := row.Scan(
		&m.OrderID,
		&kind,
		&state,
		&m.Amount,
		&m.PaymentMethod,
		&m.LastError,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.ClaimedAt,
		&m.CompletedAt,
	)
	if err != nil {
		return sideeffect.Marker{}, err
	}
	m.Kind = sideeffect.Kind(kind)
	m.State = sideeffect.State(state)

	return m, nil
}

// SideEffectRepository implements the side-effect marker repository for PostgreSQL.
type SideEffectRepository struct {
	client *postgres.Client
	sb     sq.StatementBuilderType
}

// NewSideEffectRepository creates a new side-effect marker repository.
func NewSideEffectRepository(client *postgres.Client) *SideEffectRepository {
	return &SideEffectRepository{
		client: client,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Get retrieves the marker of (orderID, kind).
func (r *SideEffectRepository) Get(ctx context.Context, orderID int64, kind sideeffect.Kind) (sideeffect.Marker, error) {
	sql, args, err := r.sb.Select(markerColumns...).
		From("side_effects").
		Where(sq.Eq{"order_id": orderID, "kind": string(kind)}).
		ToSql()
	if err != nil {
		return sideeffect.Marker{}, fmt.Errorf("failed to build select query: %w", err)
	}

	m, err := scanMarker(r.client.Pool().QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return sideeffect.Marker{}, errs.ErrNotFound
	}
	if err != nil {
		return sideeffect.Marker{}, fmt.Errorf("failed to get side effect marker: %w", err)
	}

	return m, nil
}

// Claim moves a pending marker to running.
func (r *SideEffectRepository) Claim(
	ctx context.Context,
	orderID int64,
	kind sideeffect.Kind,
	at time.Time,
) (sideeffect.Marker, bool, error) {
	sql, args, err := r.sb.Update("side_effects").
		Set("state", string(sideeffect.StateRunning)).
		Set("claimed_at", at).
		Set("updated_at", at).
		Where(sq.Eq{
			"order_id": orderID,
			"kind":     string(kind),
			"state":    string(sideeffect.StatePending),
		}).
		Suffix("RETURNING " + strings.Join(markerColumns, ", ")).
		ToSql()
	if err != nil {
		return sideeffect.Marker{}, false, fmt.Errorf("failed to build update query: %w", err)
	}

	m, err := scanMarker(r.client.Pool().QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return sideeffect.Marker{}, false, nil
	}
	if err != nil {
		return sideeffect.Marker{}, false, fmt.Errorf("failed to claim side effect marker: %w", err)
	}

	return m, true, nil
}

// Complete records the outcome of a running marker.
func (r *SideEffectRepository) Complete(
	ctx context.Context,
	orderID int64,
	kind sideeffect.Kind,
	state sideeffect.State,
	lastError string,
	at time.Time,
) error {
	sql, args, err := r.sb.Update("side_effects").
		Set("state", string(state)).
		Set("last_error", lastError).
		Set("completed_at", at).
		Set("updated_at", at).
		Where(sq.Eq{
			"order_id": orderID,
			"kind":     string(kind),
			"state":    string(sideeffect.StateRunning),
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	tag, err := r.client.Pool().Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to complete side effect marker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("side effect %s for order %d is not running", kind, orderID)
	}

	return nil
}

// ListPending retrieves markers that were never claimed.
func (r *SideEffectRepository) ListPending(
	ctx context.Context,
	createdBefore time.Time,
	limit int,
) ([]sideeffect.Marker, error) {
	query := r.sb.Select(markerColumns...).
		From("side_effects").
		Where(sq.Eq{"state": string(sideeffect.StatePending)}).
		Where(sq.Lt{"created_at": createdBefore}).
		OrderBy("created_at ASC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	return r.list(ctx, query)
}

// ListUnreconciled retrieves failed markers and markers stuck since before staleBefore.
func (r *SideEffectRepository) ListUnreconciled(ctx context.Context, staleBefore time.Time) ([]sideeffect.Marker, error) {
	query := r.sb.Select(markerColumns...).
		From("side_effects").
		Where(sq.Or{
			sq.Eq{"state": string(sideeffect.StateFailed)},
			sq.And{
				sq.Eq{"state": []string{string(sideeffect.StatePending), string(sideeffect.StateRunning)}},
				sq.Lt{"updated_at": staleBefore},
			},
		}).
		OrderBy("created_at ASC")

	return r.list(ctx, query)
}

func (r *SideEffectRepository) list(ctx context.Context, query sq.SelectBuilder) ([]sideeffect.Marker, error) {
	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.client.Pool().Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query side effect markers: %w", err)
	}
	defer rows.Close()

	markers := []sideeffect.Marker{}
	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan side effect marker: %w", err)
		}
		markers = append(markers, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating side effect markers: %w", err)
	}

	return markers, nil
}
