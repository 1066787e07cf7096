package domain

import (
	"time"

	"github.com/google/uuid"
)

// Customer is the billing-side view of a CRM customer. The surrounding
// application owns the full record; invoices and recurring templates only
// need a stable reference.
type Customer struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
