package response

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/corray333/backend-labs/orderflow/internal/service/errs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	remaining := decimal.RequireFromString("-0.50")

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", errs.Validation("method", "required"), http.StatusBadRequest, "validation_error"},
		{"split mismatch", &errs.ValidationError{Field: "splits", Message: "mismatch", Remaining: &remaining}, http.StatusUnprocessableEntity, "validation_error"},
		{"invalid transition", &errs.InvalidTransitionError{From: "paid", To: "cancelled"}, http.StatusConflict, "invalid_transition"},
		{"stale", &errs.StaleStateError{Expected: "ready", Actual: "delivered"}, http.StatusConflict, "stale_state"},
		{"precondition", &errs.PreconditionFailedError{Reason: "items are not done"}, http.StatusPreconditionFailed, "precondition_failed"},
		{"side effect", &errs.SideEffectFailureError{OrderID: 1, Kind: "stock_deduction", Err: errors.New("timeout")}, http.StatusBadGateway, "side_effect_failed"},
		{"dismissed", errs.ErrAlreadyDismissed, http.StatusConflict, "already_dismissed"},
		{"wrapped not found", fmt.Errorf("failed to get order: %w", errs.ErrNotFound), http.StatusNotFound, "not_found"},
		{"unknown", errors.New("connection refused"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := Map(tc.err)

			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, body.Error)
		})
	}
}

func TestMap_CarriesDetails(t *testing.T) {
	_, stale := Map(&errs.StaleStateError{Expected: "ready", Actual: "delivered"})
	assert.Equal(t, "delivered", stale.CurrentStatus)

	_, failed := Map(&errs.PreconditionFailedError{
		Reason:           "items are not done",
		OutstandingItems: []errs.OutstandingItem{{ID: 3, Name: "Soup", Quantity: 1, Status: "pending"}},
	})
	assert.Len(t, failed.OutstandingItems, 1)

	_, internal := Map(errors.New("password=secret"))
	assert.Equal(t, "internal error", internal.Message)
}

func TestErrorWithOrder_OnlyForSideEffectFailures(t *testing.T) {
	committed := map[string]string{"status": "delivered"}

	rec := httptest.NewRecorder()
	ErrorWithOrder(rec, &errs.SideEffectFailureError{OrderID: 1, Kind: "stock_deduction", Err: errors.New("down")}, committed)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"order":{"status":"delivered"}`)

	rec = httptest.NewRecorder()
	ErrorWithOrder(rec, &errs.StaleStateError{Expected: "ready", Actual: "delivered"}, committed)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"order"`)
}
