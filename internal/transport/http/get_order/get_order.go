package getorder

import (
	"context"
	"net/http"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/order"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/params"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/response"
)

type service interface {
	GetOrder(ctx context.Context, id int64) (order.Order, error)
	ListTransitions(ctx context.Context, orderID int64) ([]order.Transition, error)
}

// GetOrder returns one order with its items.
func GetOrder(w http.ResponseWriter, r *http.Request, service service) {
	id, err := params.Int64(r, "id")
	if err != nil {
		response.BadRequest(w, err)

		return
	}

	o, err := service.GetOrder(r.Context(), id)
	if err != nil {
		response.Error(w, err)

		return
	}

	response.JSON(w, http.StatusOK, o)
}

// ListTransitions returns the transition log of one order.
func ListTransitions(w http.ResponseWriter, r *http.Request, service service) {
	id, err := params.Int64(r, "id")
	if err != nil {
		response.BadRequest(w, err)

		return
	}

	transitions, err := service.ListTransitions(r.Context(), id)
	if err != nil {
		response.Error(w, err)

		return
	}

	response.JSON(w, http.StatusOK, transitions)
}
