// Package bus is the in-process publish/subscribe layer between committed transitions
// and the displays that react to them. It holds no durable state.
package bus

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const DefaultBufferSize = 64

var (
	// ErrSubscriberDropped is reported by a subscription whose buffer overflowed.
	// The subscriber must resynchronize from the store before subscribing again.
	ErrSubscriberDropped = errors.New("subscriber dropped: buffer overflow, resynchronize")
	// ErrHubClosed is reported by subscriptions closed by Hub.Close.
	ErrHubClosed = errors.New("hub closed")
)

// Hub fans values out to subscribers without ever blocking the publisher.
type Hub[T any] struct {
	name       string
	bufferSize int

	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription[T]
	closed bool
}

// NewHub creates a hub whose subscribers buffer up to bufferSize values.
func NewHub[T any](name string, bufferSize int) *Hub[T] {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	return &Hub[T]{
		name:       name,
		bufferSize: bufferSize,
		subs:       make(map[uuid.UUID]*Subscription[T]),
	}
}

// Subscription is a bounded stream of values accepted by its filter.
type Subscription[T any] struct {
	id     uuid.UUID
	ch     chan T
	filter func(T) bool
	hub    *Hub[T]
	err    error
}

// ID identifies the subscription in logs.
func (s *Subscription[T]) ID() uuid.UUID {
	return s.id
}

// C is closed when the subscription ends. Check Err afterwards.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Err returns why the subscription ended, or nil while it is alive or after Close.
func (s *Subscription[T]) Err() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	return s.err
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.hub.remove(s.id, nil)
}

// Subscribe registers a subscriber. A nil filter accepts everything.
func (h *Hub[T]) Subscribe(filter func(T) bool) *Subscription[T] {
	sub := &Subscription[T]{
		id:     uuid.New(),
		ch:     make(chan T, h.bufferSize),
		filter: filter,
		hub:    h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.err = ErrHubClosed
		close(sub.ch)

		return sub
	}
	h.subs[sub.id] = sub

	return sub
}

// Publish delivers v to every matching subscriber and returns how many received it.
// Subscribers with a full buffer are dropped.
func (h *Hub[T]) Publish(v T) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for id, sub := range h.subs {
		if sub.filter != nil && !sub.filter(v) {
			continue
		}
		select {
		case sub.ch <- v:
			delivered++
		default:
			slog.Warn("Dropping slow subscriber", "hub", h.name, "subscriber_id", id)
			h.removeLocked(id, ErrSubscriberDropped)
		}
	}

	return delivered
}

// Len returns the number of live subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}

// Close ends every subscription. Later subscriptions are closed immediately.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id := range h.subs {
		h.removeLocked(id, ErrHubClosed)
	}
	h.closed = true
}

func (h *Hub[T]) remove(id uuid.UUID, reason error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id, reason)
}

func (h *Hub[T]) removeLocked(id uuid.UUID, reason error) {
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	sub.err = reason
	close(sub.ch)
}
