package payments

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/order"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/payment"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/params"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/response"
)

type service interface {
	SubmitPayment(ctx context.Context, orderID int64, sub payment.Submission) (order.Order, error)
}

// SubmitPayment handles a single or split payment of a delivered order.
// The body is {"method": "..."} or {"splits": [{"method": "...", "amount": "..."}]}.
func SubmitPayment(w http.ResponseWriter, r *http.Request, service service) {
	id, err := params.Int64(r, "id")
	if err != nil {
		response.BadRequest(w, err)

		return
	}

	sub := payment.Submission{}
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		response.BadRequest(w, err)

		return
	}

	paid, err := service.SubmitPayment(r.Context(), id, sub)
	if err != nil {
		response.ErrorWithOrder(w, err, paid)

		return
	}

	response.JSON(w, http.StatusOK, paid)
}
