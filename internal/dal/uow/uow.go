package uow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/corray333/backend-labs/orderflow/internal/dal/postgres"
	"github.com/jackc/pgx/v5"
)

// UnitOfWork runs a group of statements in one transaction.
type UnitOfWork struct {
	client *postgres.Client
}

// NewUnitOfWork creates a new UnitOfWork.
func NewUnitOfWork(client *postgres.Client) *UnitOfWork {
	return &UnitOfWork{
		client: client,
	}
}

// Do begins a transaction, runs fn and commits when fn returns nil.
// Any error from fn rolls the transaction back and is returned unchanged.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := u.client.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			slog.Error("Failed to rollback transaction", "error", rbErr)
		}

		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
