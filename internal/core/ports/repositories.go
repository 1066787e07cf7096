package ports

import (
	"context"
	"time"

	"crm-billing-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// CustomerRepository defines persistence operations for customers.
type CustomerRepository interface {
	Create(ctx context.Context, customer *domain.Customer) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error)
	List(ctx context.Context, page, pageSize int) ([]domain.Customer, int64, error)
}

// InvoiceRepository defines persistence operations for invoices, their
// line items and payments. Methods accepting pgx.Tx run inside the
// caller's transaction block.
type InvoiceRepository interface {
	Create(ctx context.Context, tx pgx.Tx, invoice *domain.Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.InvoiceStatus) error
	ReplaceItems(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, items []domain.LineItem) error
	AddPayment(ctx context.Context, tx pgx.Tx, payment *domain.Payment) error
	DeletePayment(ctx context.Context, tx pgx.Tx, invoiceID, paymentID uuid.UUID) error
	List(ctx context.Context, params InvoiceListParams) ([]domain.Invoice, int64, error)
	// NextNumber allocates the next invoice number for the given year.
	NextNumber(ctx context.Context, tx pgx.Tx, year int) (int, error)
	// ListUnsettledDueBefore returns non-cancelled invoices with a due date
	// strictly before the cutoff that still carry a positive balance and
	// have not yet had an overdue notification stamped.
	ListUnsettledDueBefore(ctx context.Context, cutoff time.Time) ([]domain.Invoice, error)
	MarkOverdueNotified(ctx context.Context, id uuid.UUID, at time.Time) error
	GetStats(ctx context.Context, params StatsParams) (*InvoiceStats, error)
	// MonthlyRevenue sums payments collected per calendar month of the
	// year, excluding payments on cancelled invoices.
	MonthlyRevenue(ctx context.Context, year int) ([]MonthlyRevenue, error)
}

// MonthlyRevenue is one month's collected total.
type MonthlyRevenue struct {
	Month     int // 1..12
	Collected decimal.Decimal
}

// InvoiceListParams holds filter + pagination for listing invoices.
// Status filters on the derived bucket, so matching happens after
// classification, not in SQL.
type InvoiceListParams struct {
	CustomerID *uuid.UUID
	Status     *domain.InvoiceStatus
	From       *time.Time // issue date lower bound
	To         *time.Time // issue date upper bound
	Page       int
	PageSize   int
}

// StatsParams bounds the reporting window.
type StatsParams struct {
	From *time.Time
	To   *time.Time
}

// InvoiceStats holds aggregated billing figures for the dashboard.
type InvoiceStats struct {
	TotalInvoices  int64
	TotalInvoiced  decimal.Decimal // sum of grand totals
	TotalCollected decimal.Decimal // sum of recorded payments
	Outstanding    decimal.Decimal
	OverdueCount   int64
	OverdueAmount  decimal.Decimal
	DraftCount     int64
	CancelledCount int64
	PaymentsCount  int64
}

// RecurringRepository defines persistence operations for recurring
// templates. GetByIDForUpdate takes a row lock so concurrent ticks
// serialize on the template.
type RecurringRepository interface {
	Create(ctx context.Context, template *domain.RecurringTemplate) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RecurringTemplate, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.RecurringTemplate, error)
	Update(ctx context.Context, tx pgx.Tx, template *domain.RecurringTemplate) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	List(ctx context.Context, activeOnly bool, page, pageSize int) ([]domain.RecurringTemplate, int64, error)
	// ListDue returns active templates whose anchor date is on or before asOf.
	ListDue(ctx context.Context, asOf time.Time) ([]domain.RecurringTemplate, error)
}

// WebhookRepository defines persistence for subscriptions and the
// append-only delivery attempt log.
type WebhookRepository interface {
	CreateSubscription(ctx context.Context, sub *domain.WebhookSubscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*domain.WebhookSubscription, error)
	DeleteSubscription(ctx context.Context, id uuid.UUID) error
	ListSubscriptions(ctx context.Context, activeOnly bool) ([]domain.WebhookSubscription, error)
	ListSubscribers(ctx context.Context, kind domain.EventKind) ([]domain.WebhookSubscription, error)
	RecordAttempt(ctx context.Context, attempt *domain.WebhookDeliveryAttempt) error
	ListAttempts(ctx context.Context, subscriptionID uuid.UUID, page, pageSize int) ([]domain.WebhookDeliveryAttempt, int64, error)
}

// ActivityRepository defines persistence for the activity timeline.
type ActivityRepository interface {
	Record(ctx context.Context, entry *domain.ActivityEntry) error
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]domain.ActivityEntry, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
