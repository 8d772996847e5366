// Package memory is an in-process store with the same atomicity guarantees as the Postgres
// repositories. It backs local runs without a database and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/service/errs"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/notification"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/order"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/orderflow/internal/service/models/sideeffect"
	"github.com/google/uuid"
)

type markerKey struct {
	orderID int64
	kind    sideeffect.Kind
}

// Store keeps orders, markers and notifications in maps guarded by one mutex.
// Every method is a single critical section, which makes each of them atomic.
type Store struct {
	mu            sync.Mutex
	nextOrderID   int64
	nextItemID    int64
	nextNumber    int64
	nextTransID   int64
	orders        map[int64]*order.Order
	transitions   map[int64][]order.Transition
	markers       map[markerKey]*sideeffect.Marker
	notifications map[uuid.UUID]*notification.Notification
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		orders:        make(map[int64]*order.Order),
		transitions:   make(map[int64][]order.Transition),
		markers:       make(map[markerKey]*sideeffect.Marker),
		notifications: make(map[uuid.UUID]*notification.Notification),
	}
}

func cloneOrder(o *order.Order) order.Order {
	c := *o
	c.OrderItems = make([]orderitem.OrderItem, len(o.OrderItems))
	copy(c.OrderItems, o.OrderItems)

	return c
}

// Create inserts the order with its items.
func (s *Store) Create(_ context.Context, o order.Order) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextOrderID++
	s.nextNumber++
	stored := o
	stored.ID = s.nextOrderID
	stored.OrderNumber = s.nextNumber
	stored.OrderItems = make([]orderitem.OrderItem, len(o.OrderItems))
	for i, it := range o.OrderItems {
		s.nextItemID++
		it.ID = s.nextItemID
		it.OrderID = stored.ID
		stored.OrderItems[i] = it
	}
	s.orders[stored.ID] = &stored

	return cloneOrder(&stored), nil
}

// Get returns a copy of the order.
func (s *Store) Get(_ context.Context, id int64) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, errs.ErrNotFound
	}

	return cloneOrder(o), nil
}

// ListByStatus returns the orders in one of the statuses, oldest first.
func (s *Store) ListByStatus(ctx context.Context, statuses []order.Status) ([]order.Order, error) {
	return s.Query(ctx, &order.QueryOrdersModel{Statuses: statuses})
}

// Query filters orders the way the Postgres repository does.
func (s *Store) Query(_ context.Context, filter *order.QueryOrdersModel) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[int64]bool, len(filter.Ids))
	for _, id := range filter.Ids {
		ids[id] = true
	}
	statuses := make(map[order.Status]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses[st] = true
	}

	result := []order.Order{}
	for _, o := range s.orders {
		if len(ids) > 0 && !ids[o.ID] {
			continue
		}
		if len(statuses) > 0 && !statuses[o.Status] {
			continue
		}
		result = append(result, cloneOrder(o))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []order.Order{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// ConditionalUpdate applies the compare-and-swap, logs it and records the marker.
func (s *Store) ConditionalUpdate(_ context.Context, upd order.ConditionalUpdate) (order.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[upd.OrderID]
	if !ok {
		return order.Order{}, false, errs.ErrNotFound
	}
	if o.Status != upd.Expected {
		return cloneOrder(o), false, nil
	}
	if upd.RequireItemsDone && len(orderitem.Outstanding(o.OrderItems)) > 0 {
		return cloneOrder(o), false, nil
	}

	o.Status = upd.Target
	o.StampTransition(upd.Target, upd.At)
	if upd.Fields.RejectionReason != "" {
		o.RejectionReason = upd.Fields.RejectionReason
	}
	if upd.Fields.PaymentMethod != "" {
		o.PaymentMethod = upd.Fields.PaymentMethod
	}
	o.Version++
	o.UpdatedAt = upd.At

	s.nextTransID++
	s.transitions[o.ID] = append(s.transitions[o.ID], order.Transition{
		ID:        s.nextTransID,
		OrderID:   o.ID,
		From:      upd.Expected,
		To:        upd.Target,
		Reason:    upd.Fields.RejectionReason,
		CreatedAt: upd.At,
	})

	if upd.SideEffect != nil {
		key := markerKey{orderID: o.ID, kind: upd.SideEffect.Kind}
		if _, exists := s.markers[key]; !exists {
			m := *upd.SideEffect
			m.State = sideeffect.StatePending
			m.UpdatedAt = m.CreatedAt
			s.markers[key] = &m
		}
	}

	return cloneOrder(o), true, nil
}

// SetItemStatus toggles an item while the order is preparing.
func (s *Store) SetItemStatus(_ context.Context, upd order.ItemUpdate) (order.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[upd.OrderID]
	if !ok {
		return order.Order{}, false, errs.ErrNotFound
	}
	if o.Status != order.StatusPreparing {
		return cloneOrder(o), false, nil
	}

	for i := range o.OrderItems {
		it := &o.OrderItems[i]
		if it.ID != upd.ItemID {
			continue
		}
		if it.Status != upd.Expected {
			return cloneOrder(o), false, nil
		}
		it.Status = upd.Target
		it.UpdatedAt = upd.At
		o.Version++
		o.UpdatedAt = upd.At

		return cloneOrder(o), true, nil
	}

	return cloneOrder(o), false, nil
}

// ListTransitions returns the transition log of an order.
func (s *Store) ListTransitions(_ context.Context, orderID int64) ([]order.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]order.Transition, len(s.transitions[orderID]))
	copy(out, s.transitions[orderID])

	return out, nil
}

func (s *Store) getMarker(orderID int64, kind sideeffect.Kind) (*sideeffect.Marker, bool) {
	m, ok := s.markers[markerKey{orderID: orderID, kind: kind}]

	return m, ok
}

// Markers exposes the side-effect marker methods of the store.
func (s *Store) Markers() *MarkerStore {
	return &MarkerStore{s: s}
}

// Notifications exposes the notification methods of the store.
func (s *Store) Notifications() *NotificationStore {
	return &NotificationStore{s: s}
}

// MarkerStore is the side-effect marker view of a Store.
type MarkerStore struct {
	s *Store
}

// Get returns the marker of (orderID, kind).
func (m *MarkerStore) Get(_ context.Context, orderID int64, kind sideeffect.Kind) (sideeffect.Marker, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	marker, ok := m.s.getMarker(orderID, kind)
	if !ok {
		return sideeffect.Marker{}, errs.ErrNotFound
	}

	return *marker, nil
}

// Claim moves a pending marker to running.
func (m *MarkerStore) Claim(_ context.Context, orderID int64, kind sideeffect.Kind, at time.Time) (sideeffect.Marker, bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	marker, ok := m.s.getMarker(orderID, kind)
	if !ok || marker.State != sideeffect.StatePending {
		return sideeffect.Marker{}, false, nil
	}
	marker.State = sideeffect.StateRunning
	claimed := at
	marker.ClaimedAt = &claimed
	marker.UpdatedAt = at

	return *marker, true, nil
}

// Complete records the outcome of a running marker.
func (m *MarkerStore) Complete(
	_ context.Context,
	orderID int64,
	kind sideeffect.Kind,
	state sideeffect.State,
	lastError string,
	at time.Time,
) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	marker, ok := m.s.getMarker(orderID, kind)
	if !ok || marker.State != sideeffect.StateRunning {
		return errs.ErrNotFound
	}
	marker.State = state
	marker.LastError = lastError
	completed := at
	marker.CompletedAt = &completed
	marker.UpdatedAt = at

	return nil
}

// ListPending returns unclaimed markers created before createdBefore.
func (m *MarkerStore) ListPending(_ context.Context, createdBefore time.Time, limit int) ([]sideeffect.Marker, error) {
	return m.filter(limit, func(mk *sideeffect.Marker) bool {
		return mk.State == sideeffect.StatePending && mk.CreatedAt.Before(createdBefore)
	}), nil
}

// ListUnreconciled returns failed markers and markers stuck since before staleBefore.
func (m *MarkerStore) ListUnreconciled(_ context.Context, staleBefore time.Time) ([]sideeffect.Marker, error) {
	return m.filter(0, func(mk *sideeffect.Marker) bool {
		switch mk.State {
		case sideeffect.StateFailed:
			return true
		case sideeffect.StatePending, sideeffect.StateRunning:
			return mk.UpdatedAt.Before(staleBefore)
		}

		return false
	}), nil
}

func (m *MarkerStore) filter(limit int, keep func(*sideeffect.Marker) bool) []sideeffect.Marker {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	out := []sideeffect.Marker{}
	for _, mk := range m.s.markers {
		if keep(mk) {
			out = append(out, *mk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out
}

// NotificationStore is the notification view of a Store.
type NotificationStore struct {
	s *Store
}

func cloneNotification(n *notification.Notification) notification.Notification {
	c := *n
	c.TargetRoles = make([]notification.Role, len(n.TargetRoles))
	copy(c.TargetRoles, n.TargetRoles)

	return c
}

// Insert stores a notification.
func (n *NotificationStore) Insert(_ context.Context, notif notification.Notification) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()

	stored := cloneNotification(&notif)
	n.s.notifications[notif.ID] = &stored

	return nil
}

// Get returns a notification by id.
func (n *NotificationStore) Get(_ context.Context, id uuid.UUID) (notification.Notification, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()

	notif, ok := n.s.notifications[id]
	if !ok {
		return notification.Notification{}, errs.ErrNotFound
	}

	return cloneNotification(notif), nil
}

// Dismiss marks an unread notification read.
func (n *NotificationStore) Dismiss(_ context.Context, id uuid.UUID, at time.Time) (notification.Notification, bool, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()

	notif, ok := n.s.notifications[id]
	if !ok {
		return notification.Notification{}, false, errs.ErrNotFound
	}
	if notif.IsRead {
		return cloneNotification(notif), false, nil
	}
	notif.IsRead = true
	readAt := at
	notif.ReadAt = &readAt

	return cloneNotification(notif), true, nil
}

// ListUnread returns unread notifications addressed to role, oldest first.
func (n *NotificationStore) ListUnread(_ context.Context, role notification.Role) ([]notification.Notification, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()

	out := []notification.Notification{}
	for _, notif := range n.s.notifications {
		if !notif.IsRead && notif.Targets(role) {
			out = append(out, cloneNotification(notif))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}
