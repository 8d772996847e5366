package createorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/order"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/response"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// service is an interface for the service layer.
type service interface {
	CreateOrder(ctx context.Context, in order.CreateOrder) (order.Order, error)
}

// itemInCreateOrderRequest represents an item in a create order request.
type itemInCreateOrderRequest struct {
	MenuItemID int64           `json:"menuItemId" validate:"gte=0"`
	Name       string          `json:"name"       validate:"required"`
	Quantity   int             `json:"quantity"   validate:"gt=0"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Notes      string          `json:"notes"`
}

// createOrderRequest represents a create order request.
type createOrderRequest struct {
	OrderType     string                     `json:"orderType"     validate:"required,oneof=dine_in delivery takeout"`
	TableNumber   *int                       `json:"tableNumber"   validate:"omitempty,gt=0"`
	CustomerName  string                     `json:"customerName"`
	CustomerPhone string                     `json:"customerPhone"`
	Discount      decimal.Decimal            `json:"discount"`
	Notes         string                     `json:"notes"`
	Items         []itemInCreateOrderRequest `json:"items"         validate:"required,min=1,dive"`
}

// Validate validates the create order request.
func (r *createOrderRequest) Validate() error {
	return validator.New().Struct(r)
}

// toModel converts createOrderRequest to order.CreateOrder.
func (r *createOrderRequest) toModel() order.CreateOrder {
	items := make([]order.CreateOrderItem, len(r.Items))
	for i, it := range r.Items {
		items[i] = order.CreateOrderItem{
			MenuItemID: it.MenuItemID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			Notes:      it.Notes,
		}
	}

	return order.CreateOrder{
		Type:          order.Type(r.OrderType),
		TableNumber:   r.TableNumber,
		CustomerName:  r.CustomerName,
		CustomerPhone: r.CustomerPhone,
		Discount:      r.Discount,
		Notes:         r.Notes,
		Items:         items,
	}
}

// CreateOrder handles the create order request.
func CreateOrder(w http.ResponseWriter, r *http.Request, service service) {
	req := createOrderRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, err)
		slog.Error("Error decoding request body for create order", "error", err)

		return
	}

	if err := req.Validate(); err != nil {
		response.BadRequest(w, err)
		slog.Error("Error validating request body for create order", "error", err)

		return
	}

	created, err := service.CreateOrder(r.Context(), req.toModel())
	if err != nil {
		response.Error(w, err)

		return
	}

	response.JSON(w, http.StatusCreated, created)
}
