package ordersvc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/bus"
	"github.com/corray333/backend-labs/orderflow/internal/dal/interfaces/iledger"
	"github.com/corray333/backend-labs/orderflow/internal/dal/memory"
	memoryledger "github.com/corray333/backend-labs/orderflow/internal/dal/repositories/ledger/memory"
	"github.com/corray333/backend-labs/orderflow/internal/service/errs"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/event"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/ledger"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/order"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/payment"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/sideeffect"
	"github.com/corray333/backend-labs/orderflow/internal/service/services/ledgersvc"
	"github.com/corray333/backend-labs/orderflow/internal/service/services/sideeffectsvc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store  *memory.Store
	ledger *memoryledger.Ledger
	events *bus.EventBus
	se     *sideeffectsvc.SideEffectService
	svc    *OrderService
}

func newFixture(t *testing.T, inventory iledger.InventoryLedger, financial iledger.FinancialLedger) *fixture {
	t.Helper()

	f := &fixture{
		store:  memory.NewStore(),
		ledger: memoryledger.NewLedger(),
		events: bus.NewEventBus(256, time.Second),
	}
	if inventory == nil {
		inventory = f.ledger
	}
	if financial == nil {
		financial = f.ledger
	}
	f.se = sideeffectsvc.MustNewSideEffectService(
		sideeffectsvc.WithMarkerRepository(f.store.Markers()),
		sideeffectsvc.WithInventoryLedger(inventory),
		sideeffectsvc.WithFinancialLedger(financial),
		sideeffectsvc.WithTimeout(100*time.Millisecond),
	)
	f.svc = MustNewOrderService(
		WithOrderRepository(f.store),
		WithSideEffects(f.se),
		WithEventPublisher(f.events),
	)
	t.Cleanup(f.events.Close)

	return f
}

func table(n int) *int {
	return &n
}

func dineIn(prices ...string) order.CreateOrder {
	in := order.CreateOrder{Type: order.TypeDineIn, TableNumber: table(4)}
	for i, p := range prices {
		in.Items = append(in.Items, order.CreateOrderItem{
			MenuItemID: int64(i + 1),
			Name:       "dish",
			Quantity:   1,
			UnitPrice:  decimal.RequireFromString(p),
		})
	}

	return in
}

func (f *fixture) create(t *testing.T, in order.CreateOrder) order.Order {
	t.Helper()
	o, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)

	return o
}

func (f *fixture) move(t *testing.T, id int64, statuses ...order.Status) order.Order {
	t.Helper()
	var (
		o   order.Order
		err error
	)
	for _, st := range statuses {
		o, err = f.svc.RequestTransition(context.Background(), id, st, TransitionPayload{})
		require.NoError(t, err, "transition to %s", st)
	}

	return o
}

// toReady creates an order and walks it to ready with every item done.
func (f *fixture) toReady(t *testing.T, prices ...string) order.Order {
	t.Helper()
	o := f.create(t, dineIn(prices...))
	o = f.move(t, o.ID, order.StatusConfirmed, order.StatusPreparing)
	for _, it := range o.OrderItems {
		_, err := f.svc.SetItemStatus(context.Background(), o.ID, it.ID, orderitem.StatusDone)
		require.NoError(t, err)
	}

	return f.move(t, o.ID, order.StatusReady)
}

func drain(sub *bus.Subscription[event.Event]) []event.Event {
	var out []event.Event
	for {
		select {
		case e, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestCreateOrder_ComputesTotals(t *testing.T) {
	f := newFixture(t, nil, nil)
	in := dineIn("12.50", "7.25")
	in.Items[0].Quantity = 2
	in.Discount = decimal.RequireFromString("2.25")

	o := f.create(t, in)

	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, "32.25", o.Subtotal.StringFixed(2))
	assert.Equal(t, "30.00", o.Total.StringFixed(2))
	assert.True(t, o.TotalConsistent())
	assert.Equal(t, int64(1), o.Version)
	require.Len(t, o.OrderItems, 2)
	assert.Equal(t, "25.00", o.OrderItems[0].TotalPrice.StringFixed(2))
	for _, it := range o.OrderItems {
		assert.Equal(t, orderitem.StatusPending, it.Status)
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t, nil, nil)

	cases := map[string]func(*order.CreateOrder){
		"unknown type":        func(in *order.CreateOrder) { in.Type = "drive_through" },
		"dine-in needs table": func(in *order.CreateOrder) { in.TableNumber = nil },
		"no items":            func(in *order.CreateOrder) { in.Items = nil },
		"zero quantity":       func(in *order.CreateOrder) { in.Items[0].Quantity = 0 },
		"negative price":      func(in *order.CreateOrder) { in.Items[0].UnitPrice = decimal.NewFromInt(-1) },
		"negative discount":   func(in *order.CreateOrder) { in.Discount = decimal.NewFromInt(-1) },
		"discount too large":  func(in *order.CreateOrder) { in.Discount = decimal.NewFromInt(11) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := dineIn("10.00")
			mutate(&in)

			_, err := f.svc.CreateOrder(context.Background(), in)

			var verr *errs.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestCreateOrder_PublishesEvent(t *testing.T) {
	f := newFixture(t, nil, nil)
	sub := f.events.Subscribe(event.TopicOrders)
	defer sub.Close()

	o := f.create(t, dineIn("10.00"))

	got := drain(sub)
	require.Len(t, got, 1)
	assert.Equal(t, event.KindOrderCreated, got[0].Kind)
	assert.Equal(t, o.ID, got[0].OrderID)
	assert.Equal(t, int64(1), got[0].Version)
}

func TestRequestTransition_ReadyRequiresEveryItemDone(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	o := f.create(t, dineIn("10.00", "5.00"))
	o = f.move(t, o.ID, order.StatusConfirmed, order.StatusPreparing)
	_, err := f.svc.SetItemStatus(ctx, o.ID, o.OrderItems[0].ID, orderitem.StatusDone)
	require.NoError(t, err)

	_, err = f.svc.RequestTransition(ctx, o.ID, order.StatusReady, TransitionPayload{})

	var perr *errs.PreconditionFailedError
	require.ErrorAs(t, err, &perr)
	require.Len(t, perr.OutstandingItems, 1)
	assert.Equal(t, o.OrderItems[1].ID, perr.OutstandingItems[0].ID)

	_, err = f.svc.SetItemStatus(ctx, o.ID, o.OrderItems[1].ID, orderitem.StatusDone)
	require.NoError(t, err)
	ready, err := f.svc.RequestTransition(ctx, o.ID, order.StatusReady, TransitionPayload{})
	require.NoError(t, err)
	assert.Equal(t, order.StatusReady, ready.Status)
	assert.NotNil(t, ready.ReadyAt)
}

func TestRequestTransition_RejectsEdgesOutsideTheGraph(t *testing.T) {
	f := newFixture(t, nil, nil)
	o := f.create(t, dineIn("10.00"))

	for _, target := range []order.Status{order.StatusReady, order.StatusPaid, order.StatusPending} {
		_, err := f.svc.RequestTransition(context.Background(), o.ID, target, TransitionPayload{})

		var terr *errs.InvalidTransitionError
		assert.ErrorAs(t, err, &terr, "pending -> %s", target)
	}

	_, err := f.svc.RequestTransition(context.Background(), o.ID, "served", TransitionPayload{})
	var verr *errs.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRequestTransition_UnknownOrder(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.svc.RequestTransition(context.Background(), 404, order.StatusConfirmed, TransitionPayload{})

	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRequestTransition_ExpectedStatusMismatchIsStale(t *testing.T) {
	f := newFixture(t, nil, nil)
	o := f.create(t, dineIn("10.00"))

	_, err := f.svc.RequestTransition(context.Background(), o.ID, order.StatusCancelled, TransitionPayload{
		ExpectedStatus:  order.StatusConfirmed,
		RejectionReason: "kitchen closed",
	})

	var serr *errs.StaleStateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "pending", serr.Actual)
}

func TestRequestTransition_CancelNeedsReason(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	o := f.create(t, dineIn("10.00"))

	_, err := f.svc.RequestTransition(ctx, o.ID, order.StatusCancelled, TransitionPayload{RejectionReason: "  "})
	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)

	cancelled, err := f.svc.RequestTransition(ctx, o.ID, order.StatusCancelled, TransitionPayload{RejectionReason: "customer left"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)
	assert.Equal(t, "customer left", cancelled.RejectionReason)
	assert.NotNil(t, cancelled.CancelledAt)

	assert.Empty(t, f.ledger.Deductions())
	assert.Empty(t, f.ledger.Revenue())
}

func TestRequestTransition_TerminalOrdersAreImmutable(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	o := f.create(t, dineIn("10.00"))
	_, err := f.svc.RequestTransition(ctx, o.ID, order.StatusCancelled, TransitionPayload{RejectionReason: "duplicate"})
	require.NoError(t, err)

	for _, target := range []order.Status{order.StatusConfirmed, order.StatusCancelled, order.StatusPaid} {
		_, err := f.svc.RequestTransition(ctx, o.ID, target, TransitionPayload{RejectionReason: "again"})

		var terr *errs.InvalidTransitionError
		assert.ErrorAs(t, err, &terr, "cancelled -> %s", target)
	}

	got, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)
	assert.Equal(t, "duplicate", got.RejectionReason)
}

func TestRequestTransition_CannotCancelAfterDelivery(t *testing.T) {
	f := newFixture(t, nil, nil)
	o := f.toReady(t, "10.00")
	f.move(t, o.ID, order.StatusDelivered)

	_, err := f.svc.RequestTransition(context.Background(), o.ID, order.StatusCancelled, TransitionPayload{RejectionReason: "late"})

	var terr *errs.InvalidTransitionError
	assert.ErrorAs(t, err, &terr)
}

func TestRequestTransition_DeliveredDeductsStockOnce(t *testing.T) {
	f := newFixture(t, nil, nil)
	o := f.toReady(t, "10.00")

	delivered := f.move(t, o.ID, order.StatusDelivered)

	assert.NotNil(t, delivered.DeliveredAt)
	assert.Equal(t, []int64{o.ID}, f.ledger.Deductions())
	m, err := f.se.Marker(context.Background(), o.ID, sideeffect.KindStockDeduction)
	require.NoError(t, err)
	assert.Equal(t, sideeffect.StateDone, m.State)
}

func TestRequestTransition_ConcurrentDeliverHasOneWinner(t *testing.T) {
	f := newFixture(t, nil, nil)
	o := f.toReady(t, "10.00", "4.00")

	const devices = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errCh = make(chan error, devices)
	)
	for range devices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.RequestTransition(context.Background(), o.ID, order.StatusDelivered, TransitionPayload{
				ExpectedStatus: order.StatusReady,
			})
			errCh <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errCh)

	wins, stale := 0, 0
	for err := range errCh {
		var serr *errs.StaleStateError
		switch {
		case err == nil:
			wins++
		case errors.As(err, &serr):
			stale++
			assert.Equal(t, "delivered", serr.Actual)
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, devices-1, stale)
	assert.Equal(t, []int64{o.ID}, f.ledger.Deductions())
}

func TestRequestTransition_ConcurrentPaymentsBookRevenueOnce(t *testing.T) {
	f := newFixture(t, nil, nil)
	o := f.toReady(t, "100.00")
	f.move(t, o.ID, order.StatusDelivered)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.SubmitPayment(context.Background(), o.ID, payment.Submission{Method: "cash"})
		}()
	}
	wg.Wait()

	rev := f.ledger.Revenue()
	require.Len(t, rev, 1)
	assert.Equal(t, o.ID, rev[0].OrderID)
	assert.Equal(t, "100.00", rev[0].Amount.StringFixed(2))
	assert.Equal(t, "cash", rev[0].Method)
}

func TestSubmitPayment_Split(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	o := f.toReady(t, "100.00")
	f.move(t, o.ID, order.StatusDelivered)

	_, err := f.svc.SubmitPayment(ctx, o.ID, payment.Submission{Splits: []payment.Split{
		{Method: "pix", Amount: decimal.RequireFromString("60.00")},
		{Method: "cash", Amount: decimal.RequireFromString("30.00")},
	}})
	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	require.NotNil(t, verr.Remaining)
	assert.Equal(t, "10.00", verr.Remaining.StringFixed(2))

	got, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, got.Status)
	assert.Empty(t, f.ledger.Revenue())

	paid, err := f.svc.SubmitPayment(ctx, o.ID, payment.Submission{Splits: []payment.Split{
		{Method: "pix", Amount: decimal.RequireFromString("60.00")},
		{Method: "cash", Amount: decimal.RequireFromString("40.00")},
	}})
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, paid.Status)
	assert.Equal(t, "pix:60.00|cash:40.00", paid.PaymentMethod)
	assert.NotNil(t, paid.PaidAt)
	require.Len(t, f.ledger.Revenue(), 1)
}

// bookkeeping routes revenue through the ledger consumer's service, as the broker does.
type bookkeeping struct {
	svc     *ledgersvc.LedgerService
	entries *entries
}

type entries struct {
	mu      sync.Mutex
	revenue []ledger.RevenueEntry
}

func (e *entries) InsertStockDeduction(context.Context, ledger.StockDeduction) (bool, error) {
	return true, nil
}

func (e *entries) InsertRevenue(_ context.Context, r ledger.RevenueEntry) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.revenue = append(e.revenue, r)

	return true, nil
}

func (b *bookkeeping) RecordRevenue(ctx context.Context, orderID int64, amount decimal.Decimal, method string) error {
	return b.svc.RecordRevenue(ctx, ledger.RecordRevenueCommand{OrderID: orderID, Amount: amount, Method: method})
}

func TestSubmitPayment_FullyDiscountedOrder(t *testing.T) {
	books := &bookkeeping{entries: &entries{}}
	books.svc = ledgersvc.MustNewLedgerService(ledgersvc.WithEntryRepository(books.entries))
	f := newFixture(t, nil, books)
	ctx := context.Background()

	in := dineIn("18.00")
	in.Discount = decimal.RequireFromString("18.00")
	o := f.create(t, in)
	require.True(t, o.Total.IsZero())
	o = f.move(t, o.ID, order.StatusConfirmed, order.StatusPreparing)
	_, err := f.svc.SetItemStatus(ctx, o.ID, o.OrderItems[0].ID, orderitem.StatusDone)
	require.NoError(t, err)
	f.move(t, o.ID, order.StatusReady, order.StatusDelivered)

	paid, err := f.svc.SubmitPayment(ctx, o.ID, payment.Submission{Method: "voucher"})

	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, paid.Status)
	require.Len(t, books.entries.revenue, 1)
	assert.True(t, books.entries.revenue[0].Amount.IsZero())

	unreconciled, err := f.se.ListUnreconciled(ctx)
	require.NoError(t, err)
	assert.Empty(t, unreconciled)
}

func TestRequestTransition_PaidNeedsPayment(t *testing.T) {
	f := newFixture(t, nil, nil)
	o := f.toReady(t, "10.00")
	f.move(t, o.ID, order.StatusDelivered)

	_, err := f.svc.RequestTransition(context.Background(), o.ID, order.StatusPaid, TransitionPayload{})

	var verr *errs.ValidationError
	assert.ErrorAs(t, err, &verr)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) DeductStockForOrder(ctx context.Context, orderID int64) error {
	return m.Called(ctx, orderID).Error(0)
}

func (m *mockLedger) RecordRevenue(ctx context.Context, orderID int64, amount decimal.Decimal, method string) error {
	return m.Called(ctx, orderID, amount, method).Error(0)
}

func TestRequestTransition_SideEffectFailureKeepsTransition(t *testing.T) {
	inventory := &mockLedger{}
	inventory.On("DeductStockForOrder", mock.Anything, mock.Anything).Return(errors.New("inventory offline")).Once()
	f := newFixture(t, inventory, nil)
	ctx := context.Background()
	o := f.toReady(t, "10.00")

	delivered, err := f.svc.RequestTransition(ctx, o.ID, order.StatusDelivered, TransitionPayload{})

	var ferr *errs.SideEffectFailureError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, string(sideeffect.KindStockDeduction), ferr.Kind)
	assert.Equal(t, order.StatusDelivered, delivered.Status)

	got, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, got.Status)

	m, err := f.se.Marker(ctx, o.ID, sideeffect.KindStockDeduction)
	require.NoError(t, err)
	assert.Equal(t, sideeffect.StateFailed, m.State)
	assert.Contains(t, m.LastError, "inventory offline")

	ran, err := f.se.ExecutePending(ctx, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, ran)
	inventory.AssertNumberOfCalls(t, "DeductStockForOrder", 1)

	unreconciled, err := f.se.ListUnreconciled(ctx)
	require.NoError(t, err)
	require.Len(t, unreconciled, 1)
	assert.Equal(t, o.ID, unreconciled[0].OrderID)
}

type stuckLedger struct {
	release chan struct{}
}

func (l *stuckLedger) DeductStockForOrder(context.Context, int64) error {
	<-l.release

	return nil
}

func TestRequestTransition_SideEffectTimeout(t *testing.T) {
	stuck := &stuckLedger{release: make(chan struct{})}
	t.Cleanup(func() { close(stuck.release) })
	f := newFixture(t, stuck, nil)
	o := f.toReady(t, "10.00")

	started := time.Now()
	delivered, err := f.svc.RequestTransition(context.Background(), o.ID, order.StatusDelivered, TransitionPayload{})

	var ferr *errs.SideEffectFailureError
	require.ErrorAs(t, err, &ferr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Equal(t, order.StatusDelivered, delivered.Status)

	m, err := f.se.Marker(context.Background(), o.ID, sideeffect.KindStockDeduction)
	require.NoError(t, err)
	assert.Equal(t, sideeffect.StateFailed, m.State)
}

func TestSetItemStatus_Rules(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	o := f.create(t, dineIn("10.00"))
	itemID := o.OrderItems[0].ID

	_, err := f.svc.SetItemStatus(ctx, o.ID, itemID, orderitem.StatusDone)
	var perr *errs.PreconditionFailedError
	require.ErrorAs(t, err, &perr, "items are frozen outside preparing")

	f.move(t, o.ID, order.StatusConfirmed, order.StatusPreparing)

	_, err = f.svc.SetItemStatus(ctx, o.ID, 9999, orderitem.StatusDone)
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.svc.SetItemStatus(ctx, o.ID, itemID, "burnt")
	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = f.svc.SetItemStatus(ctx, o.ID, itemID, orderitem.StatusPending)
	var terr *errs.InvalidTransitionError
	require.ErrorAs(t, err, &terr)

	done, err := f.svc.SetItemStatus(ctx, o.ID, itemID, orderitem.StatusDone)
	require.NoError(t, err)
	item, _ := done.Item(itemID)
	assert.Equal(t, orderitem.StatusDone, item.Status)

	undone, err := f.svc.SetItemStatus(ctx, o.ID, itemID, orderitem.StatusPending)
	require.NoError(t, err)
	item, _ = undone.Item(itemID)
	assert.Equal(t, orderitem.StatusPending, item.Status)
	assert.Greater(t, undone.Version, done.Version)
}

func TestSetItemStatus_PublishesItemEvent(t *testing.T) {
	f := newFixture(t, nil, nil)
	o := f.create(t, dineIn("10.00"))
	f.move(t, o.ID, order.StatusConfirmed, order.StatusPreparing)
	sub := f.events.Subscribe(event.TopicOrderItems)
	defer sub.Close()

	_, err := f.svc.SetItemStatus(context.Background(), o.ID, o.OrderItems[0].ID, orderitem.StatusDone)
	require.NoError(t, err)

	got := drain(sub)
	require.Len(t, got, 1)
	assert.Equal(t, event.KindItemStatusChanged, got[0].Kind)
	assert.Equal(t, o.OrderItems[0].ID, got[0].ItemID)
	assert.Equal(t, "done", got[0].NewStatus)
}

func TestReadyRacesItemToggle(t *testing.T) {
	for range 50 {
		f := newFixture(t, nil, nil)
		ctx := context.Background()
		o := f.create(t, dineIn("10.00"))
		o = f.move(t, o.ID, order.StatusConfirmed, order.StatusPreparing)
		itemID := o.OrderItems[0].ID
		_, err := f.svc.SetItemStatus(ctx, o.ID, itemID, orderitem.StatusDone)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.svc.RequestTransition(ctx, o.ID, order.StatusReady, TransitionPayload{})
		}()
		go func() {
			defer wg.Done()
			_, _ = f.svc.SetItemStatus(ctx, o.ID, itemID, orderitem.StatusPending)
		}()
		wg.Wait()

		got, err := f.svc.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		if got.Status == order.StatusReady {
			assert.Empty(t, orderitem.Outstanding(got.OrderItems), "ready with a pending item")
		}
	}
}

// readyRaceStore loses every update to ready, as if an item was toggled away and back
// between the read and the update.
type readyRaceStore struct {
	*memory.Store
}

func (s readyRaceStore) ConditionalUpdate(ctx context.Context, upd order.ConditionalUpdate) (order.Order, bool, error) {
	if upd.Target != order.StatusReady {
		return s.Store.ConditionalUpdate(ctx, upd)
	}
	current, err := s.Get(ctx, upd.OrderID)

	return current, false, err
}

func TestRequestTransition_LostReadyRaceWithAllItemsDoneIsStale(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	o := f.create(t, dineIn("10.00"))
	o = f.move(t, o.ID, order.StatusConfirmed, order.StatusPreparing)
	_, err := f.svc.SetItemStatus(ctx, o.ID, o.OrderItems[0].ID, orderitem.StatusDone)
	require.NoError(t, err)

	svc := MustNewOrderService(
		WithOrderRepository(readyRaceStore{f.store}),
		WithSideEffects(f.se),
		WithEventPublisher(f.events),
	)
	_, err = svc.RequestTransition(ctx, o.ID, order.StatusReady, TransitionPayload{})

	var stale *errs.StaleStateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, string(order.StatusPreparing), stale.Actual)
	var precondition *errs.PreconditionFailedError
	assert.False(t, errors.As(err, &precondition))
}

func TestEventsOfOneOrderArriveInVersionOrder(t *testing.T) {
	f := newFixture(t, nil, nil)
	sub := f.events.Subscribe()
	defer sub.Close()

	o := f.toReady(t, "10.00", "3.00")
	f.move(t, o.ID, order.StatusDelivered)

	got := drain(sub)
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].Version+1, got[i].Version)
	}
	assert.Equal(t, "delivered", got[len(got)-1].NewStatus)
}

func TestListTransitions(t *testing.T) {
	f := newFixture(t, nil, nil)
	o := f.create(t, dineIn("10.00"))
	f.move(t, o.ID, order.StatusConfirmed)

	got, err := f.svc.ListTransitions(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, order.StatusPending, got[0].From)
	assert.Equal(t, order.StatusConfirmed, got[0].To)

	_, err = f.svc.ListTransitions(context.Background(), 777)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGetOrders_FiltersByStatus(t *testing.T) {
	f := newFixture(t, nil, nil)
	a := f.create(t, dineIn("10.00"))
	f.create(t, dineIn("11.00"))
	f.move(t, a.ID, order.StatusConfirmed)

	got, err := f.svc.GetOrders(context.Background(), order.QueryOrdersModel{Statuses: []order.Status{order.StatusConfirmed}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	_, err = f.svc.GetOrders(context.Background(), order.QueryOrdersModel{Statuses: []order.Status{"lost"}})
	var verr *errs.ValidationError
	assert.ErrorAs(t, err, &verr)
}
