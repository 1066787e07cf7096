package ports

import (
	"context"
	"time"

	"crm-billing-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SignatureService handles HMAC-SHA256 signing and verification of
// webhook payloads.
type SignatureService interface {
	Sign(secret string, payload []byte) string
	Verify(secret string, payload []byte, signature string) bool
}

// --- Service Ports (Business Logic) ---

// InvoiceService defines the invoice lifecycle business logic.
// Read operations return invoices with the derived status already
// projected onto the Status field.
type InvoiceService interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (*domain.Invoice, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)
	List(ctx context.Context, params InvoiceListParams) ([]domain.Invoice, int64, error)
	ReplaceItems(ctx context.Context, id uuid.UUID, items []domain.LineItem) (*domain.Invoice, error)
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*domain.Invoice, error)
	// DeletePayment removes a mistakenly recorded payment. The invoice's
	// derived status reflects the restored balance on the next read.
	DeletePayment(ctx context.Context, invoiceID, paymentID uuid.UUID) (*domain.Invoice, error)
	SetStatus(ctx context.Context, id uuid.UUID, status domain.InvoiceStatus) (*domain.Invoice, error)
}

// CreateInvoiceRequest holds validated input for invoice creation.
type CreateInvoiceRequest struct {
	CustomerID uuid.UUID
	IssueDate  time.Time
	DueDate    *time.Time // nil = issue date plus the configured default
	Notes      string
	Items      []domain.LineItem

	// Set by the recurrence engine; empty for manual invoices.
	TemplateID     *uuid.UUID
	OccurrenceDate *time.Time
}

// RecordPaymentRequest holds validated input for recording a payment.
type RecordPaymentRequest struct {
	InvoiceID uuid.UUID
	Amount    decimal.Decimal
	PaidOn    time.Time
	Method    string
	Notes     string
}

// RecurringService defines recurrence engine business logic.
type RecurringService interface {
	Create(ctx context.Context, template *domain.RecurringTemplate) (*domain.RecurringTemplate, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.RecurringTemplate, error)
	List(ctx context.Context, activeOnly bool, page, pageSize int) ([]domain.RecurringTemplate, int64, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	// Tick generates the invoice for a single template's due occurrence.
	// Generating the same occurrence twice is a no-op.
	Tick(ctx context.Context, templateID uuid.UUID, asOf time.Time) (*domain.Invoice, error)
	// RunDue ticks every active template due as of the given date. One
	// failing template never blocks the others.
	RunDue(ctx context.Context, asOf time.Time) (*RunReport, error)
}

// RunReport summarizes a batch generation run.
type RunReport struct {
	Due       int
	Generated int
	Skipped   int
	Failed    int
	Errors    []string
}

// OverdueService finds newly overdue invoices and fires their one-shot
// notification events.
type OverdueService interface {
	Sweep(ctx context.Context, today time.Time) (*SweepReport, error)
}

// SweepReport summarizes an overdue sweep.
type SweepReport struct {
	Scanned  int
	Notified int
	Failed   int
}

// WebhookDispatcher fans out domain events to subscribed endpoints.
// Dispatch never returns delivery errors to the caller; every attempt
// is recorded in the delivery log instead.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, event domain.InvoiceEvent)
}

// WebhookService manages subscriptions and exposes the delivery log.
type WebhookService interface {
	Subscribe(ctx context.Context, sub *domain.WebhookSubscription) (*domain.WebhookSubscription, error)
	Unsubscribe(ctx context.Context, id uuid.UUID) error
	ListSubscriptions(ctx context.Context) ([]domain.WebhookSubscription, error)
	ListAttempts(ctx context.Context, subscriptionID uuid.UUID, page, pageSize int) ([]domain.WebhookDeliveryAttempt, int64, error)
}

// ReportingService defines dashboard/reporting business logic.
type ReportingService interface {
	GetStats(ctx context.Context, params StatsParams) (*InvoiceStats, error)
	MonthlyRevenue(ctx context.Context, year int) ([]MonthlyRevenue, error)
}

// ActivityService records and reads the per-entity activity timeline.
type ActivityService interface {
	Record(ctx context.Context, entry *domain.ActivityEntry)
	Timeline(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]domain.ActivityEntry, error)
}

// RateLimiter is the sliding-window request limiter backed by Redis.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
