package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventKind identifies a billing lifecycle event delivered to subscribers.
type EventKind string

const (
	EventInvoiceCreated  EventKind = "invoice.created"
	EventInvoicePaid     EventKind = "invoice.paid"
	EventInvoiceOverdue  EventKind = "invoice.overdue"
	EventPaymentReceived EventKind = "payment.received"
)

// InvoiceEvent is the structured payload handed to the webhook dispatcher.
type InvoiceEvent struct {
	Kind          EventKind       `json:"event"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	CustomerID    uuid.UUID       `json:"customer_id"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	BalanceDue    decimal.Decimal `json:"balance_due"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// WebhookSubscription is a user-managed outbound notification endpoint.
// The dispatcher only reads it.
type WebhookSubscription struct {
	ID          uuid.UUID   `json:"id"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"`
	Events      []EventKind `json:"events"`
	Active      bool        `json:"active"`
	Description string      `json:"description,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Subscribes reports whether the subscription listens for the event kind.
func (s *WebhookSubscription) Subscribes(kind EventKind) bool {
	for _, e := range s.Events {
		if e == kind {
			return true
		}
	}
	return false
}

// AttemptOutcome is the terminal state of a single delivery attempt.
type AttemptOutcome string

const (
	AttemptDelivered AttemptOutcome = "delivered"
	AttemptFailed    AttemptOutcome = "failed"
)

// WebhookDeliveryAttempt is one row of the append-only delivery audit
// trail. Attempts are recorded for every try, success or failure, and
// never mutated afterwards.
type WebhookDeliveryAttempt struct {
	ID             uuid.UUID      `json:"id"`
	SubscriptionID uuid.UUID      `json:"subscription_id"`
	Event          EventKind      `json:"event"`
	Payload        string         `json:"payload"` // canonical JSON as sent
	Attempt        int            `json:"attempt"` // 1-based
	HTTPStatus     *int           `json:"http_status,omitempty"`
	Error          *string        `json:"error,omitempty"`
	Outcome        AttemptOutcome `json:"outcome"`
	AttemptedAt    time.Time      `json:"attempted_at"`
}
