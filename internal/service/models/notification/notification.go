package notification

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type of an interrupt raised for staff.
type Type string

const (
	TypeCallWaiter  Type = "call_waiter"
	TypeRequestBill Type = "request_bill"
)

// Valid reports whether t is a known notification type.
func (t Type) Valid() bool {
	return t == TypeCallWaiter || t == TypeRequestBill
}

// Role of a connected display.
type Role string

const (
	RoleKitchen  Role = "kitchen"
	RoleWaiter   Role = "waiter"
	RoleCustomer Role = "customer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleKitchen, RoleWaiter, RoleCustomer:
		return true
	}

	return false
}

// Payload is the free-form body of a notification.
type Payload struct {
	TableNumber   *int             `json:"tableNumber,omitempty"`
	CustomerName  string           `json:"customerName,omitempty"`
	CustomerPhone string           `json:"customerPhone,omitempty"`
	OrderID       int64            `json:"orderId,omitempty"`
	PaymentMethod string           `json:"paymentMethod,omitempty"`
	Total         *decimal.Decimal `json:"total,omitempty"`
	Message       string           `json:"message,omitempty"`
}

// Notification is an interrupt delivered to staff displays matching TargetRoles.
type Notification struct {
	ID          uuid.UUID  `json:"id"`
	Type        Type       `json:"type"`
	Payload     Payload    `json:"payload"`
	TargetRoles []Role     `json:"targetRoles"`
	IsRead      bool       `json:"isRead"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Targets reports whether the notification is addressed to role.
func (n Notification) Targets(role Role) bool {
	for _, r := range n.TargetRoles {
		if r == role {
			return true
		}
	}

	return false
}

// Envelope is what staff displays receive: a new notification or a dismissal.
type Envelope struct {
	Action       string       `json:"action"`
	Notification Notification `json:"notification"`
}

const (
	ActionRaised    = "raised"
	ActionDismissed = "dismissed"
)
