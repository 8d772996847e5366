package listorders

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/order"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/response"
	"github.com/gorilla/schema"
)

type service interface {
	GetOrders(ctx context.Context, filter order.QueryOrdersModel) ([]order.Order, error)
}

type queryOrdersRequest struct {
	Ids      []int64  `schema:"ids,omitempty"`
	Statuses []string `schema:"status,omitempty"`
	Limit    int      `schema:"limit,omitempty"`
	Offset   int      `schema:"offset,omitempty"`
}

func (q *queryOrdersRequest) ToModel() order.QueryOrdersModel {
	statuses := make([]order.Status, len(q.Statuses))
	for i, s := range q.Statuses {
		statuses[i] = order.Status(s)
	}

	return order.QueryOrdersModel{
		Ids:      q.Ids,
		Statuses: statuses,
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
}

func ListOrders(w http.ResponseWriter, r *http.Request, service service) {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	query := &queryOrdersRequest{}
	if err := decoder.Decode(query, r.URL.Query()); err != nil {
		response.BadRequest(w, err)
		slog.Error("Error decoding request", "error", err)

		return
	}

	orders, err := service.GetOrders(r.Context(), query.ToModel())
	if err != nil {
		response.Error(w, err)

		return
	}

	response.JSON(w, http.StatusOK, orders)
}
