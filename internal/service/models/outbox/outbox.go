package outbox

import (
	"time"
)

// Message is an order event the relay could not publish to the broker.
// It is retried with backoff until MaxRetries is reached.
type Message struct {
	ID           int64
	OrderID      int64
	Version      int64
	ExchangeName string
	RoutingKey   string
	Payload      []byte
	ContentType  string
	RetryCount   int
	MaxRetries   int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	NextRetryAt  time.Time
}

// Exhausted reports whether no further retry is allowed.
func (m Message) Exhausted() bool {
	return m.RetryCount >= m.MaxRetries
}
