// Package response writes JSON bodies and maps service errors to HTTP statuses.
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/corray333/backend-labs/orderflow/internal/service/errs"
	"github.com/shopspring/decimal"
)

// ErrorBody is the body of every non-2xx response.
type ErrorBody struct {
	Error            string                 `json:"error"`
	Message          string                 `json:"message"`
	Field            string                 `json:"field,omitempty"`
	Remaining        *decimal.Decimal       `json:"remaining,omitempty"`
	From             string                 `json:"from,omitempty"`
	To               string                 `json:"to,omitempty"`
	CurrentStatus    string                 `json:"currentStatus,omitempty"`
	OutstandingItems []errs.OutstandingItem `json:"outstandingItems,omitempty"`
	Order            any                    `json:"order,omitempty"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error sending response", "error", err)
	}
}

// BadRequest reports a request that could not be decoded.
func BadRequest(w http.ResponseWriter, err error) {
	JSON(w, http.StatusBadRequest, ErrorBody{Error: "bad_request", Message: err.Error()})
}

// Error maps err to a status and writes it.
func Error(w http.ResponseWriter, err error) {
	ErrorWithOrder(w, err, nil)
}

// ErrorWithOrder is Error for operations that may fail after committing. The committed
// order is included in the body of a side effect failure.
func ErrorWithOrder(w http.ResponseWriter, err error, committed any) {
	status, body := Map(err)
	if status == http.StatusBadGateway {
		body.Order = committed
	}
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "status", status, "error", err)
	}
	JSON(w, status, body)
}

// Map returns the status and body for err.
func Map(err error) (int, ErrorBody) {
	var (
		validation *errs.ValidationError
		invalid    *errs.InvalidTransitionError
		stale      *errs.StaleStateError
		failed     *errs.PreconditionFailedError
		sideEffect *errs.SideEffectFailureError
	)

	switch {
	case errors.As(err, &validation):
		status := http.StatusBadRequest
		if validation.Remaining != nil {
			status = http.StatusUnprocessableEntity
		}

		return status, ErrorBody{
			Error:     "validation_error",
			Message:   err.Error(),
			Field:     validation.Field,
			Remaining: validation.Remaining,
		}
	case errors.As(err, &invalid):
		return http.StatusConflict, ErrorBody{
			Error:   "invalid_transition",
			Message: err.Error(),
			From:    invalid.From,
			To:      invalid.To,
		}
	case errors.As(err, &stale):
		return http.StatusConflict, ErrorBody{
			Error:         "stale_state",
			Message:       err.Error(),
			CurrentStatus: stale.Actual,
		}
	case errors.As(err, &failed):
		return http.StatusPreconditionFailed, ErrorBody{
			Error:            "precondition_failed",
			Message:          err.Error(),
			OutstandingItems: failed.OutstandingItems,
		}
	case errors.As(err, &sideEffect):
		return http.StatusBadGateway, ErrorBody{Error: "side_effect_failed", Message: err.Error()}
	case errors.Is(err, errs.ErrAlreadyDismissed):
		return http.StatusConflict, ErrorBody{Error: "already_dismissed", Message: err.Error()}
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, ErrorBody{Error: "not_found", Message: err.Error()}
	}

	return http.StatusInternalServerError, ErrorBody{Error: "internal", Message: "internal error"}
}
