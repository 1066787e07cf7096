package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActivityAction represents the type of recorded user or system action.
type ActivityAction string

const (
	ActivityCreate       ActivityAction = "CREATE"
	ActivityUpdate       ActivityAction = "UPDATE"
	ActivityStatusChange ActivityAction = "STATUS_CHANGE"
	ActivityPayment      ActivityAction = "PAYMENT"
	ActivityGenerate     ActivityAction = "GENERATE"
)

// ActivityEntry records a single action in the activity trail shown on
// customer and invoice timelines.
type ActivityEntry struct {
	ID           uuid.UUID      `json:"id"`
	Action       ActivityAction `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Detail       string         `json:"detail,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
