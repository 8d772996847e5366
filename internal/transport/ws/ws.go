// Package ws streams order and notification updates to role displays over websockets.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/bus"
	"github.com/corray333/backend-labs/orderflow/internal/display"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/event"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/notification"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/order"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/response"
	"github.com/gorilla/websocket"
	"github.com/spf13/viper"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type orderService interface {
	ListByStatus(ctx context.Context, statuses []order.Status) ([]order.Order, error)
	GetOrder(ctx context.Context, id int64) (order.Order, error)
}

type eventSource interface {
	Subscribe(topics ...event.Topic) *bus.Subscription[event.Event]
}

type notificationService interface {
	ListUnread(ctx context.Context, role notification.Role) ([]notification.Notification, error)
	Subscribe(role notification.Role) *bus.Subscription[notification.Envelope]
}

// NotificationSnapshot is the first message of a notification stream.
type NotificationSnapshot struct {
	Action        string                      `json:"action"`
	Notifications []notification.Notification `json:"notifications"`
}

// Handler upgrades display connections.
type Handler struct {
	orders        orderService
	events        eventSource
	notifications notificationService
	pollInterval  time.Duration
	upgrader      websocket.Upgrader
}

// NewHandler creates a websocket handler. Customer displays additionally poll every
// display.poll_interval_seconds.
func NewHandler(orders orderService, events eventSource, notifications notificationService) *Handler {
	pollSeconds := viper.GetInt("display.poll_interval_seconds")
	if pollSeconds == 0 {
		pollSeconds = 30
	}

	allowed := viper.GetStringSlice("server.http.cors.allowed_origins")

	return &Handler{
		orders:        orders,
		events:        events,
		notifications: notifications,
		pollInterval:  time.Duration(pollSeconds) * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowed),
		},
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}

		return false
	}
}

func parseRole(r *http.Request) (notification.Role, error) {
	role := notification.Role(r.URL.Query().Get("role"))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", role)
	}

	return role, nil
}

func parseTopics(r *http.Request) ([]event.Topic, error) {
	raw := r.URL.Query().Get("topics")
	if raw == "" {
		return nil, nil
	}

	var topics []event.Topic
	for _, part := range strings.Split(raw, ",") {
		t := event.Topic(strings.TrimSpace(part))
		if !t.Valid() {
			return nil, fmt.Errorf("unknown topic %q", t)
		}
		topics = append(topics, t)
	}

	return topics, nil
}

// Orders streams a display view: a snapshot of the role's orders, then one message per change.
func (h *Handler) Orders(w http.ResponseWriter, r *http.Request) {
	role, err := parseRole(r)
	if err != nil {
		response.BadRequest(w, err)

		return
	}
	topics, err := parseTopics(r)
	if err != nil {
		response.BadRequest(w, err)

		return
	}

	opts := []display.Option{display.WithTopics(topics...)}
	if role == notification.RoleCustomer {
		opts = append(opts, display.WithPollInterval(h.pollInterval))
	}
	view := display.NewView(role, h.orders, h.events, opts...)

	h.serve(w, r, "orders", role, func(ctx context.Context, c *conn) error {
		return view.Run(ctx, func(u display.Update) error {
			return c.writeJSON(u)
		})
	})
}

// Notifications streams the unread notifications of a role, then every raise and dismissal.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	role, err := parseRole(r)
	if err != nil {
		response.BadRequest(w, err)

		return
	}

	h.serve(w, r, "notifications", role, func(ctx context.Context, c *conn) error {
		for {
			sub := h.notifications.Subscribe(role)
			err := h.streamNotifications(ctx, c, role, sub)
			sub.Close()

			if !errors.Is(err, bus.ErrSubscriberDropped) {
				return err
			}
			slog.Warn("Notification display fell behind, resynchronizing", "role", role)
		}
	})
}

func (h *Handler) streamNotifications(
	ctx context.Context,
	c *conn,
	role notification.Role,
	sub *bus.Subscription[notification.Envelope],
) error {
	unread, err := h.notifications.ListUnread(ctx, role)
	if err != nil {
		return err
	}
	if err := c.writeJSON(NotificationSnapshot{Action: "snapshot", Notifications: unread}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-sub.C():
			if !ok {
				if err := sub.Err(); !errors.Is(err, bus.ErrHubClosed) {
					return err
				}

				return nil
			}
			if err := c.writeJSON(env); err != nil {
				return err
			}
		}
	}
}

// serve upgrades the request and runs stream until it ends or the client goes away.
func (h *Handler) serve(
	w http.ResponseWriter,
	r *http.Request,
	stream string,
	role notification.Role,
	run func(ctx context.Context, c *conn) error,
) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Websocket upgrade failed", "stream", stream, "error", err)

		return
	}
	c := &conn{ws: ws}
	defer ws.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	slog.Info("Display connected", "stream", stream, "role", role, "remote_addr", r.RemoteAddr)

	go c.readPump(cancel)
	go c.pingPump(ctx)

	err = run(ctx, c)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("Display stream ended", "stream", stream, "role", role, "error", err)
		_ = c.writeClose(websocket.CloseInternalServerErr, "stream ended")
	} else {
		_ = c.writeClose(websocket.CloseNormalClosure, "")
	}
	slog.Info("Display disconnected", "stream", stream, "role", role)
}

// conn serializes writes; gorilla connections allow one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))

	return c.ws.WriteJSON(v)
}

func (c *conn) writeClose(code int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

// readPump discards client messages and cancels the stream when the client leaves.
func (c *conn) readPump(cancel context.CancelFunc) {
	defer cancel()

	c.ws.SetReadLimit(4096)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *conn) pingPump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
