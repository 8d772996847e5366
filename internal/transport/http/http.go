package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/notification"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/order"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/payment"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/sideeffect"
	"github.com/corray333/backend-labs/orderflow/internal/service/services/ordersvc"
	createorder "github.com/corray333/backend-labs/orderflow/internal/transport/http/create_order"
	getorder "github.com/corray333/backend-labs/orderflow/internal/transport/http/get_order"
	itemstatus "github.com/corray333/backend-labs/orderflow/internal/transport/http/item_status"
	listorders "github.com/corray333/backend-labs/orderflow/internal/transport/http/list_orders"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/notifications"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/payments"
	sideeffects "github.com/corray333/backend-labs/orderflow/internal/transport/http/side_effects"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/transitions"
	"github.com/corray333/backend-labs/orderflow/pkg/http/middleware/trace"
	"github.com/corray333/backend-labs/orderflow/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

type orderService interface {
	CreateOrder(ctx context.Context, in order.CreateOrder) (order.Order, error)
	GetOrder(ctx context.Context, id int64) (order.Order, error)
	GetOrders(ctx context.Context, filter order.QueryOrdersModel) ([]order.Order, error)
	ListTransitions(ctx context.Context, orderID int64) ([]order.Transition, error)
	RequestTransition(
		ctx context.Context,
		orderID int64,
		target order.Status,
		payload ordersvc.TransitionPayload,
	) (order.Order, error)
	SubmitPayment(ctx context.Context, orderID int64, sub payment.Submission) (order.Order, error)
	SetItemStatus(ctx context.Context, orderID, itemID int64, target orderitem.Status) (order.Order, error)
}

type notificationService interface {
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

type sideEffectService interface {
	ListUnreconciled(ctx context.Context) ([]sideeffect.Marker, error)
}

type streamHandler interface {
	Orders(w http.ResponseWriter, r *http.Request)
	Notifications(w http.ResponseWriter, r *http.Request)
}

type HTTPTransport struct {
	server        *http.Server
	router        *chi.Mux
	orders        orderService
	notifications notificationService
	sideEffects   sideEffectService
	streams       streamHandler
}

func NewHTTPTransport(
	orders orderService,
	notifications notificationService,
	sideEffects sideEffectService,
	streams streamHandler,
) *HTTPTransport {
	router := newRouter()
	server := newServer(router)
	return &HTTPTransport{
		server:        server,
		router:        router,
		orders:        orders,
		notifications: notifications,
		sideEffects:   sideEffects,
		streams:       streams,
	}
}

// Handler returns the router, for tests.
func (h *HTTPTransport) Handler() http.Handler {
	return h.router
}

func (h *HTTPTransport) Run() error {
	slog.Info("Starting HTTP server", "address", h.server.Addr)

	return h.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (h *HTTPTransport) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// RegisterRoutes registers the routes for the HTTPTransport.
func (h *HTTPTransport) RegisterRoutes() {
	h.router.Route("/api", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.listOrders)
			r.Post("/", h.createOrder)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getOrder)
				r.Get("/transitions", h.listTransitions)
				r.Post("/transitions", h.requestTransition)
				r.Put("/items/{itemId}/status", h.setItemStatus)
				r.Post("/payments", h.submitPayment)
				r.Post("/bill-request", h.requestBill)
			})
		})
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.listUnread)
			r.Post("/", h.raiseNotification)
			r.Post("/call-waiter", h.callWaiter)
			r.Post("/{id}/dismiss", h.dismissNotification)
		})
		r.Get("/side-effects/unreconciled", h.listUnreconciled)
	})

	if h.streams != nil {
		h.router.Route("/ws", func(r chi.Router) {
			r.Get("/orders", h.streams.Orders)
			r.Get("/notifications", h.streams.Notifications)
		})
	}
}

func (h *HTTPTransport) createOrder(w http.ResponseWriter, r *http.Request) {
	createorder.CreateOrder(w, r, h.orders)
}

func (h *HTTPTransport) listOrders(w http.ResponseWriter, r *http.Request) {
	listorders.ListOrders(w, r, h.orders)
}

func (h *HTTPTransport) getOrder(w http.ResponseWriter, r *http.Request) {
	getorder.GetOrder(w, r, h.orders)
}

func (h *HTTPTransport) listTransitions(w http.ResponseWriter, r *http.Request) {
	getorder.ListTransitions(w, r, h.orders)
}

func (h *HTTPTransport) requestTransition(w http.ResponseWriter, r *http.Request) {
	transitions.RequestTransition(w, r, h.orders)
}

func (h *HTTPTransport) setItemStatus(w http.ResponseWriter, r *http.Request) {
	itemstatus.SetItemStatus(w, r, h.orders)
}

func (h *HTTPTransport) submitPayment(w http.ResponseWriter, r *http.Request) {
	payments.SubmitPayment(w, r, h.orders)
}

func (h *HTTPTransport) requestBill(w http.ResponseWriter, r *http.Request) {
	notifications.RequestBill(w, r, h.notifications)
}

func (h *HTTPTransport) raiseNotification(w http.ResponseWriter, r *http.Request) {
	notifications.Raise(w, r, h.notifications)
}

func (h *HTTPTransport) callWaiter(w http.ResponseWriter, r *http.Request) {
	notifications.CallWaiter(w, r, h.notifications)
}

func (h *HTTPTransport) dismissNotification(w http.ResponseWriter, r *http.Request) {
	notifications.Dismiss(w, r, h.notifications)
}

func (h *HTTPTransport) listUnread(w http.ResponseWriter, r *http.Request) {
	notifications.ListUnread(w, r, h.notifications)
}

func (h *HTTPTransport) listUnreconciled(w http.ResponseWriter, r *http.Request) {
	sideeffects.ListUnreconciled(w, r, h.sideEffects)
}

func newRouter() *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(logger.NewLoggerMiddleware(slog.Default()))
	router.Use(trace.NewTraceMiddleware(viper.GetString("otel.service_name")))

	allowedOrigins := viper.GetStringSlice("server.http.cors.allowed_origins")
	allowedMethods := viper.GetStringSlice("server.http.cors.allowed_methods")
	allowedHeaders := viper.GetStringSlice("server.http.cors.allowed_headers")
	exposedHeaders := viper.GetStringSlice("server.http.cors.exposed_headers")
	allowCredentials := viper.GetBool("server.http.cors.allow_credentials")
	maxAge := viper.GetInt("server.http.cors.max_age")

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   allowedMethods,
		AllowedHeaders:   allowedHeaders,
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: allowCredentials,
		MaxAge:           maxAge,
	})

	router.Use(c.Handler)

	return router
}

func newServer(router http.Handler) *http.Server {
	port := viper.GetString("server.http.port")
	if port == "" {
		port = "8080"
	}

	return &http.Server{
		Addr:              "0.0.0.0:" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
