// Package errs holds the error taxonomy returned by the order services.
// Every rejection carries enough detail for a human to act on it.
package errs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when an order, item or notification does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyDismissed is returned to the loser of a dismissal race.
	ErrAlreadyDismissed = errors.New("notification already dismissed")
)

// InvalidTransitionError means the requested edge does not exist in the state graph.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// OutstandingItem names an item that blocks a transition.
type OutstandingItem struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Status   string `json:"status"`
}

// PreconditionFailedError means a guard of the transition did not hold.
type PreconditionFailedError struct {
	Reason           string
	OutstandingItems []OutstandingItem
}

func (e *PreconditionFailedError) Error() string {
	if len(e.OutstandingItems) == 0 {
		return "precondition failed: " + e.Reason
	}
	names := make([]string, 0, len(e.OutstandingItems))
	for _, it := range e.OutstandingItems {
		names = append(names, fmt.Sprintf("%s (#%d)", it.Name, it.ID))
	}

	return fmt.Sprintf("precondition failed: %s: %s", e.Reason, strings.Join(names, ", "))
}

// StaleStateError means the conditional update lost a race.
// Actual is the status found in the store; callers should re-fetch and re-decide.
type StaleStateError struct {
	Expected string
	Actual   string
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("stale state: expected %s, current status is %s", e.Expected, e.Actual)
}

// ValidationError means the request itself is malformed.
type ValidationError struct {
	Field   string
	Message string
	// Remaining is total - paid for a rejected split payment.
	Remaining *decimal.Decimal
}

func (e *ValidationError) Error() string {
	if e.Remaining != nil {
		return fmt.Sprintf("%s: %s (remaining %s)", e.Field, e.Message, e.Remaining.StringFixed(2))
	}
	if e.Field == "" {
		return e.Message
	}

	return e.Field + ": " + e.Message
}

// SideEffectFailureError means a collaborator call failed after its marker was set.
// The transition that triggered it stays committed.
type SideEffectFailureError struct {
	OrderID int64
	Kind    string
	Err     error
}

func (e *SideEffectFailureError) Error() string {
	return fmt.Sprintf("side effect %s for order %d failed: %v", e.Kind, e.OrderID, e.Err)
}

func (e *SideEffectFailureError) Unwrap() error {
	return e.Err
}

// Validation is a shorthand for a ValidationError without a remaining amount.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
