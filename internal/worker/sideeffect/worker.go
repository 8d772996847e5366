package sideeffect

import (
	"context"
	"log/slog"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/sideeffect"
	"github.com/spf13/viper"
)

type executor interface {
	ExecutePending(ctx context.Context, grace time.Duration, limit int) (int, error)
	ListUnreconciled(ctx context.Context) ([]sideeffect.Marker, error)
}

// Worker runs side effects whose transition committed but whose caller never got to
// execute them, and reports the ones that need manual reconciliation.
type Worker struct {
	executor     executor
	pollInterval time.Duration
	grace        time.Duration
	batchSize    int
	stopCh       chan struct{}
}

// NewWorker creates a new side effect worker.
func NewWorker(executor executor) *Worker {
	pollIntervalSeconds := viper.GetInt("sideeffects.worker.poll_interval_seconds")
	if pollIntervalSeconds == 0 {
		pollIntervalSeconds = 15
	}

	graceSeconds := viper.GetInt("sideeffects.worker.grace_seconds")
	if graceSeconds == 0 {
		graceSeconds = 30
	}

	batchSize := viper.GetInt("sideeffects.worker.batch_size")
	if batchSize == 0 {
		batchSize = 50
	}

	return &Worker{
		executor:     executor,
		pollInterval: time.Duration(pollIntervalSeconds) * time.Second,
		grace:        time.Duration(graceSeconds) * time.Second,
		batchSize:    batchSize,
		stopCh:       make(chan struct{}),
	}
}

// Start begins polling for orphaned side effects.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.Info("Side effect worker started", "poll_interval", w.pollInterval, "grace", w.grace)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Side effect worker shutting down")

			return
		case <-w.stopCh:
			slog.Info("Side effect worker stopped")

			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// Stop stops the worker.
func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) tick(ctx context.Context) {
	executed, err := w.executor.ExecutePending(ctx, w.grace, w.batchSize)
	if err != nil {
		slog.Error("Failed to execute pending side effects", "error", err)
	}
	if executed > 0 {
		slog.Info("Executed orphaned side effects", "count", executed)
	}

	unreconciled, err := w.executor.ListUnreconciled(ctx)
	if err != nil {
		slog.Error("Failed to list unreconciled side effects", "error", err)

		return
	}
	for _, m := range unreconciled {
		slog.Warn("Side effect needs manual reconciliation",
			"order_id", m.OrderID,
			"kind", m.Kind,
			"state", m.State,
			"last_error", m.LastError,
		)
	}
}
