package sideeffect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/sideeffect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) ExecutePending(ctx context.Context, grace time.Duration, limit int) (int, error) {
	args := m.Called(ctx, grace, limit)

	return args.Int(0), args.Error(1)
}

func (m *mockExecutor) ListUnreconciled(ctx context.Context) ([]sideeffect.Marker, error) {
	args := m.Called(ctx)

	return args.Get(0).([]sideeffect.Marker), args.Error(1)
}

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(&mockExecutor{})

	assert.Equal(t, 15*time.Second, w.pollInterval)
	assert.Equal(t, 30*time.Second, w.grace)
	assert.Equal(t, 50, w.batchSize)
}

func TestWorker_TickExecutesThenReports(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("ExecutePending", mock.Anything, 30*time.Second, 50).Return(2, nil).Once()
	exec.On("ListUnreconciled", mock.Anything).Return([]sideeffect.Marker{
		{OrderID: 7, Kind: sideeffect.KindStockDeduction, State: sideeffect.StateFailed, LastError: "timeout"},
	}, nil).Once()

	NewWorker(exec).tick(context.Background())

	exec.AssertExpectations(t)
}

func TestWorker_TickReportsEvenWhenExecutionFails(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("ExecutePending", mock.Anything, mock.Anything, mock.Anything).Return(0, errors.New("db down")).Once()
	exec.On("ListUnreconciled", mock.Anything).Return([]sideeffect.Marker(nil), errors.New("db down")).Once()

	NewWorker(exec).tick(context.Background())

	exec.AssertExpectations(t)
}

func TestWorker_StartPollsUntilStopped(t *testing.T) {
	polled := make(chan struct{}, 1)
	exec := &mockExecutor{}
	exec.On("ExecutePending", mock.Anything, mock.Anything, mock.Anything).Return(0, nil)
	exec.On("ListUnreconciled", mock.Anything).Return([]sideeffect.Marker{}, nil).Run(func(mock.Arguments) {
		select {
		case polled <- struct{}{}:
		default:
		}
	})

	w := NewWorker(exec)
	w.pollInterval = 10 * time.Millisecond

	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()

	select {
	case <-polled:
	case <-time.After(time.Second):
		t.Fatal("worker never polled")
	}

	w.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_StartReturnsOnContextCancel(t *testing.T) {
	w := NewWorker(&mockExecutor{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
