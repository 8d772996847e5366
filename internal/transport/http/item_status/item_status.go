package itemstatus

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/order"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/params"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/response"
	"github.com/go-playground/validator/v10"
)

type service interface {
	SetItemStatus(ctx context.Context, orderID, itemID int64, target orderitem.Status) (order.Order, error)
}

type itemStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// SetItemStatus handles the kitchen marking an item done or pending again.
func SetItemStatus(w http.ResponseWriter, r *http.Request, service service) {
	orderID, err := params.Int64(r, "id")
	if err != nil {
		response.BadRequest(w, err)

		return
	}
	itemID, err := params.Int64(r, "itemId")
	if err != nil {
		response.BadRequest(w, err)

		return
	}

	req := itemStatusRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, err)

		return
	}
	if err := validator.New().Struct(req); err != nil {
		response.BadRequest(w, err)

		return
	}

	updated, err := service.SetItemStatus(r.Context(), orderID, itemID, orderitem.Status(req.Status))
	if err != nil {
		response.Error(w, err)

		return
	}

	response.JSON(w, http.StatusOK, updated)
}
