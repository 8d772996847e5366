package transitions

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/order"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/payment"
	"github.com/corray333/backend-labs/orderflow/internal/service/services/ordersvc"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/params"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/response"
	"github.com/go-playground/validator/v10"
)

type service interface {
	RequestTransition(
		ctx context.Context,
		orderID int64,
		target order.Status,
		payload ordersvc.TransitionPayload,
	) (order.Order, error)
}

type transitionRequest struct {
	TargetStatus    string              `json:"targetStatus"    validate:"required"`
	ExpectedStatus  string              `json:"expectedStatus"`
	RejectionReason string              `json:"rejectionReason"`
	Payment         *payment.Submission `json:"payment"`
}

// Validate validates the transition request.
func (r *transitionRequest) Validate() error {
	return validator.New().Struct(r)
}

// RequestTransition handles a status change requested by a role display.
func RequestTransition(w http.ResponseWriter, r *http.Request, service service) {
	id, err := params.Int64(r, "id")
	if err != nil {
		response.BadRequest(w, err)

		return
	}

	req := transitionRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, err)
		slog.Error("Error decoding request body for transition", "error", err)

		return
	}
	if err := req.Validate(); err != nil {
		response.BadRequest(w, err)

		return
	}

	updated, err := service.RequestTransition(r.Context(), id, order.Status(req.TargetStatus), ordersvc.TransitionPayload{
		ExpectedStatus:  order.Status(req.ExpectedStatus),
		RejectionReason: req.RejectionReason,
		Payment:         req.Payment,
	})
	if err != nil {
		response.ErrorWithOrder(w, err, updated)

		return
	}

	response.JSON(w, http.StatusOK, updated)
}
