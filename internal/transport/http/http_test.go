package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/bus"
	"github.com/corray333/backend-labs/orderflow/internal/dal/interfaces/iledger"
	"github.com/corray333/backend-labs/orderflow/internal/dal/memory"
	memoryledger "github.com/corray333/backend-labs/orderflow/internal/dal/repositories/ledger/memory"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/notification"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/order"
	"github.com/corray333/backend-labs/orderflow/internal/service/services/notificationsvc"
	"github.com/corray333/backend-labs/orderflow/internal/service/services/ordersvc"
	"github.com/corray333/backend-labs/orderflow/internal/service/services/sideeffectsvc"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/response"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenLedger struct{}

func (brokenLedger) DeductStockForOrder(context.Context, int64) error {
	return errors.New("inventory unavailable")
}

func (brokenLedger) RecordRevenue(context.Context, int64, decimal.Decimal, string) error {
	return errors.New("ledger unavailable")
}

func newTestRouter(t *testing.T, inventory iledger.InventoryLedger) http.Handler {
	t.Helper()

	store := memory.NewStore()
	events := bus.NewEventBus(64, time.Second)
	hub := bus.NewHub[notification.Envelope]("notifications", 16)
	t.Cleanup(events.Close)
	t.Cleanup(hub.Close)

	ledger := memoryledger.NewLedger()
	if inventory == nil {
		inventory = ledger
	}
	sideEffects := sideeffectsvc.MustNewSideEffectService(
		sideeffectsvc.WithMarkerRepository(store.Markers()),
		sideeffectsvc.WithInventoryLedger(inventory),
		sideeffectsvc.WithFinancialLedger(ledger),
		sideeffectsvc.WithTimeout(200*time.Millisecond),
	)
	orders := ordersvc.MustNewOrderService(
		ordersvc.WithOrderRepository(store),
		ordersvc.WithSideEffects(sideEffects),
		ordersvc.WithEventPublisher(events),
	)
	notifications := notificationsvc.MustNewNotificationService(
		notificationsvc.WithNotificationRepository(store.Notifications()),
		notificationsvc.WithOrderReader(orders),
		notificationsvc.WithHub(hub),
	)

	transport := NewHTTPTransport(orders, notifications, sideEffects, nil)
	transport.RegisterRoutes()

	return transport.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())

	return v
}

func createOrder(t *testing.T, h http.Handler) order.Order {
	t.Helper()

	rec := do(t, h, http.MethodPost, "/api/orders", map[string]any{
		"orderType":   "dine_in",
		"tableNumber": 7,
		"discount":    "5.00",
		"items": []map[string]any{
			{"menuItemId": 1, "name": "Ramen", "quantity": 2, "unitPrice": "25.00"},
			{"menuItemId": 2, "name": "Tea", "quantity": 1, "unitPrice": "10.00"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	return decode[order.Order](t, rec)
}

func transition(t *testing.T, h http.Handler, id int64, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()

	return do(t, h, http.MethodPost, fmt.Sprintf("/api/orders/%d/transitions", id), body)
}

func moveToPreparing(t *testing.T, h http.Handler, id int64) {
	t.Helper()

	for _, target := range []string{"confirmed", "preparing"} {
		rec := transition(t, h, id, map[string]any{"targetStatus": target})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func finishItems(t *testing.T, h http.Handler, o order.Order) {
	t.Helper()

	for _, it := range o.OrderItems {
		rec := do(t, h, http.MethodPut, fmt.Sprintf("/api/orders/%d/items/%d/status", o.ID, it.ID),
			map[string]any{"status": "done"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func TestCreateOrder(t *testing.T) {
	h := newTestRouter(t, nil)

	o := createOrder(t, h)

	assert.Equal(t, order.StatusPending, o.Status)
	assert.True(t, decimal.RequireFromString("60.00").Equal(o.Subtotal))
	assert.True(t, decimal.RequireFromString("55.00").Equal(o.Total))
	assert.Len(t, o.OrderItems, 2)
}

func TestCreateOrder_Rejected(t *testing.T) {
	h := newTestRouter(t, nil)

	cases := map[string]string{
		"malformed json": `{"orderType":`,
		"no items":       `{"orderType":"takeout","items":[]}`,
		"unknown type":   `{"orderType":"drive_in","items":[{"name":"x","quantity":1,"unitPrice":"1"}]}`,
		"zero quantity":  `{"orderType":"takeout","items":[{"name":"x","quantity":0,"unitPrice":"1"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetOrder(t *testing.T) {
	h := newTestRouter(t, nil)
	o := createOrder(t, h)

	rec := do(t, h, http.MethodGet, fmt.Sprintf("/api/orders/%d", o.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, o.OrderNumber, decode[order.Order](t, rec).OrderNumber)

	rec = do(t, h, http.MethodGet, "/api/orders/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[response.ErrorBody](t, rec).Error)

	rec = do(t, h, http.MethodGet, "/api/orders/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOrders_FiltersByStatus(t *testing.T) {
	h := newTestRouter(t, nil)
	first := createOrder(t, h)
	createOrder(t, h)
	require.Equal(t, http.StatusOK, transition(t, h, first.ID, map[string]any{"targetStatus": "confirmed"}).Code)

	rec := do(t, h, http.MethodGet, "/api/orders?status=confirmed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	confirmed := decode[[]order.Order](t, rec)
	require.Len(t, confirmed, 1)
	assert.Equal(t, first.ID, confirmed[0].ID)

	rec = do(t, h, http.MethodGet, "/api/orders?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransition_Errors(t *testing.T) {
	h := newTestRouter(t, nil)
	o := createOrder(t, h)

	rec := transition(t, h, o.ID, map[string]any{"targetStatus": "delivered"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode[response.ErrorBody](t, rec)
	assert.Equal(t, "invalid_transition", body.Error)
	assert.Equal(t, "pending", body.From)
	assert.Equal(t, "delivered", body.To)

	rec = transition(t, h, o.ID, map[string]any{"targetStatus": "confirmed", "expectedStatus": "preparing"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	body = decode[response.ErrorBody](t, rec)
	assert.Equal(t, "stale_state", body.Error)
	assert.Equal(t, "pending", body.CurrentStatus)

	rec = transition(t, h, o.ID, map[string]any{"targetStatus": "cancelled"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "rejectionReason", decode[response.ErrorBody](t, rec).Field)

	rec = transition(t, h, o.ID, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransition_ReadyNeedsAllItemsDone(t *testing.T) {
	h := newTestRouter(t, nil)
	o := createOrder(t, h)
	moveToPreparing(t, h, o.ID)

	rec := transition(t, h, o.ID, map[string]any{"targetStatus": "ready"})

	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	body := decode[response.ErrorBody](t, rec)
	assert.Equal(t, "precondition_failed", body.Error)
	assert.Len(t, body.OutstandingItems, 2)
}

func TestOrderLifecycle_WithSplitPayment(t *testing.T) {
	h := newTestRouter(t, nil)
	o := createOrder(t, h)
	moveToPreparing(t, h, o.ID)
	finishItems(t, h, o)

	for _, target := range []string{"ready", "delivered"} {
		rec := transition(t, h, o.ID, map[string]any{"targetStatus": target})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := do(t, h, http.MethodPost, fmt.Sprintf("/api/orders/%d/payments", o.ID), map[string]any{
		"splits": []map[string]any{{"method": "pix", "amount": "30.00"}, {"method": "cash", "amount": "20.00"}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[response.ErrorBody](t, rec)
	require.NotNil(t, body.Remaining)
	assert.True(t, decimal.RequireFromString("5.00").Equal(*body.Remaining))

	rec = do(t, h, http.MethodPost, fmt.Sprintf("/api/orders/%d/payments", o.ID), map[string]any{
		"splits": []map[string]any{{"method": "pix", "amount": "30.00"}, {"method": "cash", "amount": "25.00"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decode[order.Order](t, rec)
	assert.Equal(t, order.StatusPaid, paid.Status)
	assert.Equal(t, "pix:30.00|cash:25.00", paid.PaymentMethod)

	rec = do(t, h, http.MethodGet, fmt.Sprintf("/api/orders/%d/transitions", o.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]order.Transition](t, rec), 5)
}

func TestTransition_SideEffectFailureReturnsCommittedOrder(t *testing.T) {
	h := newTestRouter(t, brokenLedger{})
	o := createOrder(t, h)
	moveToPreparing(t, h, o.ID)
	finishItems(t, h, o)
	require.Equal(t, http.StatusOK, transition(t, h, o.ID, map[string]any{"targetStatus": "ready"}).Code)

	rec := transition(t, h, o.ID, map[string]any{"targetStatus": "delivered"})

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body struct {
		Error string      `json:"error"`
		Order order.Order `json:"order"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "side_effect_failed", body.Error)
	assert.Equal(t, order.StatusDelivered, body.Order.Status)

	rec = do(t, h, http.MethodGet, "/api/side-effects/unreconciled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stock_deduction"`)
}

func TestItemStatus_OutsidePreparing(t *testing.T) {
	h := newTestRouter(t, nil)
	o := createOrder(t, h)

	rec := do(t, h, http.MethodPut, fmt.Sprintf("/api/orders/%d/items/%d/status", o.ID, o.OrderItems[0].ID),
		map[string]any{"status": "done"})

	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = do(t, h, http.MethodPut, fmt.Sprintf("/api/orders/%d/items/999/status", o.ID),
		map[string]any{"status": "done"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotifications_DismissOnce(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/api/notifications/call-waiter", map[string]any{"tableNumber": 3})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	n := decode[notification.Notification](t, rec)
	assert.Equal(t, notification.TypeCallWaiter, n.Type)

	rec = do(t, h, http.MethodGet, "/api/notifications?role=waiter", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]notification.Notification](t, rec), 1)

	path := fmt.Sprintf("/api/notifications/%s/dismiss", n.ID)
	rec = do(t, h, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dismissed":true`)

	rec = do(t, h, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_dismissed", decode[response.ErrorBody](t, rec).Error)

	rec = do(t, h, http.MethodPost, "/api/notifications/not-a-uuid/dismiss", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifications_RequestBill(t *testing.T) {
	h := newTestRouter(t, nil)
	o := createOrder(t, h)

	rec := do(t, h, http.MethodPost, fmt.Sprintf("/api/orders/%d/bill-request", o.ID), map[string]any{"method": "card"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	n := decode[notification.Notification](t, rec)
	assert.Equal(t, notification.TypeRequestBill, n.Type)
	require.NotNil(t, n.Payload.Total)
	assert.True(t, o.Total.Equal(*n.Payload.Total))
	assert.Equal(t, "card", n.Payload.PaymentMethod)
}

func TestNotifications_Raise(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/api/notifications", map[string]any{
		"type":        "call_waiter",
		"targetRoles": []string{"waiter", "kitchen"},
		"payload":     map[string]any{"customerName": "Ana"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/notifications", map[string]any{"type": "call_waiter"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamsNotRegisteredWithoutHandler(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodGet, "/ws/orders", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
