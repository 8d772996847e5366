package bus

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/event"
)

const (
	DefaultGapTimeout = 2 * time.Second
	idleSequencerTTL  = 30 * time.Minute
)

// EventBus publishes order events partitioned by topic.
// Events of one order reach every subscriber in version order; events of different
// orders may interleave.
type EventBus struct {
	hub        *Hub[event.Event]
	gapTimeout time.Duration
	now        func() time.Time

	mu   sync.Mutex
	seqs map[int64]*sequencer
}

// sequencer tracks the next version expected for one order.
type sequencer struct {
	next     int64
	held     map[int64]event.Event
	since    time.Time
	lastSeen time.Time
}

// NewEventBus creates an event bus.
func NewEventBus(bufferSize int, gapTimeout time.Duration) *EventBus {
	if gapTimeout <= 0 {
		gapTimeout = DefaultGapTimeout
	}

	return &EventBus{
		hub:        NewHub[event.Event]("events", bufferSize),
		gapTimeout: gapTimeout,
		now:        time.Now,
		seqs:       make(map[int64]*sequencer),
	}
}

// Subscribe returns a stream of the events of the given topics. No topics means all.
// Historical events are not replayed.
func (b *EventBus) Subscribe(topics ...event.Topic) *Subscription[event.Event] {
	if len(topics) == 0 {
		return b.hub.Subscribe(nil)
	}
	set := make(map[event.Topic]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}

	return b.hub.Subscribe(func(e event.Event) bool {
		_, ok := set[e.Topic]

		return ok
	})
}

// Publish hands a committed event to the subscribers. It never blocks on them.
// An event whose predecessor has not been published yet is held until it arrives or
// the gap timeout expires. An event older than one already delivered is still delivered,
// flagged with Resync.
func (b *EventBus) Publish(evt event.Event) {
	if evt.Version <= 0 {
		b.hub.Publish(evt)

		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	seq, ok := b.seqs[evt.OrderID]
	if !ok {
		seq = &sequencer{next: evt.Version, held: make(map[int64]event.Event)}
		b.seqs[evt.OrderID] = seq
	}
	seq.lastSeen = now

	switch {
	case evt.Version < seq.next:
		// A successor was already delivered, either after a flushed gap or because this
		// order had no sequencer yet. Subscribers re-read the order instead of applying it.
		slog.Warn("Event published after its successors, delivering as resync",
			"order_id", evt.OrderID,
			"version", evt.Version,
			"next_version", seq.next,
		)
		evt.Resync = true
		b.hub.Publish(evt)

		return
	case evt.Version > seq.next:
		if _, dup := seq.held[evt.Version]; !dup {
			seq.held[evt.Version] = evt
		}
		if seq.since.IsZero() {
			seq.since = now
		}

		return
	}

	b.deliverLocked(seq, evt)
	for {
		next, ok := seq.held[seq.next]
		if !ok {
			break
		}
		delete(seq.held, seq.next)
		b.deliverLocked(seq, next)
	}
	if len(seq.held) == 0 {
		seq.since = time.Time{}
	}
}

func (b *EventBus) deliverLocked(seq *sequencer, evt event.Event) {
	b.hub.Publish(evt)
	seq.next = evt.Version + 1
}

// Run flushes held events whose gap did not fill in time and forgets idle orders.
// It returns when ctx is done.
func (b *EventBus) Run(ctx context.Context) {
	ticker := time.NewTicker(b.gapTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.FlushExpired()
		}
	}
}

// FlushExpired delivers held events older than the gap timeout, flagging the first of
// each order with Resync so subscribers re-read that order from the store.
func (b *EventBus) FlushExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for orderID, seq := range b.seqs {
		if len(seq.held) == 0 {
			if now.Sub(seq.lastSeen) > idleSequencerTTL {
				delete(b.seqs, orderID)
			}

			continue
		}
		if now.Sub(seq.since) < b.gapTimeout {
			continue
		}

		versions := make([]int64, 0, len(seq.held))
		for v := range seq.held {
			versions = append(versions, v)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

		slog.Warn("Flushing events past a version gap",
			"order_id", orderID,
			"missing_from", seq.next,
			"held", len(versions),
		)
		for i, v := range versions {
			evt := seq.held[v]
			if i == 0 {
				evt.Resync = true
			}
			b.deliverLocked(seq, evt)
		}
		seq.held = make(map[int64]event.Event)
		seq.since = time.Time{}
	}
}

// Subscribers returns the number of live subscribers.
func (b *EventBus) Subscribers() int {
	return b.hub.Len()
}

// Close ends every subscription.
func (b *EventBus) Close() {
	b.hub.Close()
}
