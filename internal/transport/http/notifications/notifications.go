package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/notification"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/params"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/response"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type service interface {
	Raise(
		ctx context.Context,
		typ notification.Type,
		roles []notification.Role,
		payload notification.Payload,
	) (notification.Notification, error)
	CallWaiter(ctx context.Context, tableNumber *int, customerName, message string) (notification.Notification, error)
	RequestBill(ctx context.Context, orderID int64, method string) (notification.Notification, error)
	Dismiss(ctx context.Context, id uuid.UUID) (notification.Notification, error)
	ListUnread(ctx context.Context, role notification.Role) ([]notification.Notification, error)
}

type raiseRequest struct {
	Type        string               `json:"type"        validate:"required"`
	TargetRoles []string             `json:"targetRoles" validate:"required,min=1"`
	Payload     notification.Payload `json:"payload"`
}

type callWaiterRequest struct {
	TableNumber  *int   `json:"tableNumber" validate:"omitempty,gt=0"`
	CustomerName string `json:"customerName"`
	Message      string `json:"message"`
}

type billRequest struct {
	Method string `json:"method"`
}

type dismissResponse struct {
	Dismissed    bool                      `json:"dismissed"`
	Notification notification.Notification `json:"notification"`
}

// Raise stores a notification and pushes it to the target roles.
func Raise(w http.ResponseWriter, r *http.Request, service service) {
	req := raiseRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, err)

		return
	}
	if err := validator.New().Struct(req); err != nil {
		response.BadRequest(w, err)

		return
	}

	roles := make([]notification.Role, len(req.TargetRoles))
	for i, role := range req.TargetRoles {
		roles[i] = notification.Role(role)
	}

	n, err := service.Raise(r.Context(), notification.Type(req.Type), roles, req.Payload)
	if err != nil {
		response.Error(w, err)

		return
	}

	response.JSON(w, http.StatusCreated, n)
}

// CallWaiter raises a call_waiter notification.
func CallWaiter(w http.ResponseWriter, r *http.Request, service service) {
	req := callWaiterRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, err)

		return
	}
	if err := validator.New().Struct(req); err != nil {
		response.BadRequest(w, err)

		return
	}

	n, err := service.CallWaiter(r.Context(), req.TableNumber, req.CustomerName, req.Message)
	if err != nil {
		response.Error(w, err)

		return
	}

	response.JSON(w, http.StatusCreated, n)
}

// RequestBill raises a request_bill notification for an order.
func RequestBill(w http.ResponseWriter, r *http.Request, service service) {
	orderID, err := params.Int64(r, "id")
	if err != nil {
		response.BadRequest(w, err)

		return
	}

	req := billRequest{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, err)

			return
		}
	}

	n, err := service.RequestBill(r.Context(), orderID, req.Method)
	if err != nil {
		response.Error(w, err)

		return
	}

	response.JSON(w, http.StatusCreated, n)
}

// Dismiss marks a notification read. Only the first of concurrent callers gets 200.
func Dismiss(w http.ResponseWriter, r *http.Request, service service) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		response.BadRequest(w, fmt.Errorf("invalid id %q", raw))

		return
	}

	n, err := service.Dismiss(r.Context(), id)
	if err != nil {
		response.Error(w, err)

		return
	}

	response.JSON(w, http.StatusOK, dismissResponse{Dismissed: true, Notification: n})
}

// ListUnread returns the unread notifications of ?role=.
func ListUnread(w http.ResponseWriter, r *http.Request, service service) {
	role := notification.Role(r.URL.Query().Get("role"))

	unread, err := service.ListUnread(r.Context(), role)
	if err != nil {
		response.Error(w, err)

		return
	}

	response.JSON(w, http.StatusOK, unread)
}
