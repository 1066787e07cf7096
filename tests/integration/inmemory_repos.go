package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crm-billing-engine/internal/core/domain"
	"crm-billing-engine/internal/core/ports"
	"crm-billing-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// --- In-Memory Customer Repo ---

type inMemoryCustomerRepo struct {
	mu        sync.RWMutex
	customers map[uuid.UUID]*domain.Customer
}

func newInMemoryCustomerRepo() *inMemoryCustomerRepo {
	return &inMemoryCustomerRepo{customers: make(map[uuid.UUID]*domain.Customer)}
}

func (r *inMemoryCustomerRepo) Create(ctx context.Context, c *domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customers[c.ID] = c
	return nil
}

func (r *inMemoryCustomerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.customers[id]
	if !ok {
		return nil, nil
	}
	return c, nil
}

func (r *inMemoryCustomerRepo) List(ctx context.Context, page, pageSize int) ([]domain.Customer, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Customer
	for _, c := range r.customers {
		result = append(result, *c)
	}
	return paginate(result, page, pageSize), int64(len(r.customers)), nil
}

// --- In-Memory Invoice Repo ---

type inMemoryInvoiceRepo struct {
	mu       sync.RWMutex
	invoices map[uuid.UUID]*domain.Invoice
	counters map[int]int
}

func newInMemoryInvoiceRepo() *inMemoryInvoiceRepo {
	return &inMemoryInvoiceRepo{
		invoices: make(map[uuid.UUID]*domain.Invoice),
		counters: make(map[int]int),
	}
}

func (r *inMemoryInvoiceRepo) Create(ctx context.Context, tx pgx.Tx, inv *domain.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Same uniqueness guarantee the (template_id, occurrence_date)
	// constraint gives in postgres.
	if inv.TemplateID != nil && inv.OccurrenceDate != nil {
		for _, existing := range r.invoices {
			if existing.TemplateID != nil && *existing.TemplateID == *inv.TemplateID &&
				existing.OccurrenceDate != nil && existing.OccurrenceDate.Equal(*inv.OccurrenceDate) {
				return apperror.ErrOccurrenceAlreadyGenerated()
			}
		}
	}
	clone := *inv
	r.invoices[inv.ID] = &clone
	return nil
}

func (r *inMemoryInvoiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, nil
	}
	clone := *inv
	return &clone, nil
}

func (r *inMemoryInvoiceRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.InvoiceStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return fmt.Errorf("invoice not found")
	}
	inv.Status = status
	return nil
}

func (r *inMemoryInvoiceRepo) ReplaceItems(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, items []domain.LineItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[invoiceID]
	if !ok {
		return fmt.Errorf("invoice not found")
	}
	inv.Items = items
	return nil
}

func (r *inMemoryInvoiceRepo) AddPayment(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[p.InvoiceID]
	if !ok {
		return fmt.Errorf("invoice not found")
	}
	inv.Payments = append(inv.Payments, *p)
	return nil
}

func (r *inMemoryInvoiceRepo) DeletePayment(ctx context.Context, tx pgx.Tx, invoiceID, paymentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[invoiceID]
	if !ok {
		return apperror.ErrNotFound("payment")
	}
	for i := range inv.Payments {
		if inv.Payments[i].ID == paymentID {
			inv.Payments = append(inv.Payments[:i], inv.Payments[i+1:]...)
			return nil
		}
	}
	return apperror.ErrNotFound("payment")
}

func (r *inMemoryInvoiceRepo) NextNumber(ctx context.Context, tx pgx.Tx, year int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[year]++
	return r.counters[year], nil
}

func (r *inMemoryInvoiceRepo) List(ctx context.Context, params ports.InvoiceListParams) ([]domain.Invoice, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Invoice
	for _, inv := range r.invoices {
		if params.CustomerID != nil && inv.CustomerID != *params.CustomerID {
			continue
		}
		if params.From != nil && inv.IssueDate.Before(*params.From) {
			continue
		}
		if params.To != nil && inv.IssueDate.After(*params.To) {
			continue
		}
		result = append(result, *inv)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].IssueDate.After(result[j].IssueDate)
	})
	total := int64(len(result))
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = 20
	}
	return paginate(result, params.Page, params.PageSize), total, nil
}

func (r *inMemoryInvoiceRepo) ListUnsettledDueBefore(ctx context.Context, cutoff time.Time) ([]domain.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Invoice
	for _, inv := range r.invoices {
		if inv.Status == domain.StatusCancelled {
			continue
		}
		if inv.OverdueNotifiedAt != nil {
			continue
		}
		if !inv.DueDate.Before(cutoff) {
			continue
		}
		result = append(result, *inv)
	}
	return result, nil
}

func (r *inMemoryInvoiceRepo) MarkOverdueNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return fmt.Errorf("invoice not found")
	}
	if inv.OverdueNotifiedAt == nil {
		inv.OverdueNotifiedAt = &at
	}
	return nil
}

func (r *inMemoryInvoiceRepo) GetStats(ctx context.Context, params ports.StatsParams) (*ports.InvoiceStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &ports.InvoiceStats{
		TotalInvoiced:  decimal.Zero,
		TotalCollected: decimal.Zero,
		Outstanding:    decimal.Zero,
		OverdueAmount:  decimal.Zero,
	}
	today := time.Now().UTC()
	for _, inv := range r.invoices {
		if params.From != nil && inv.IssueDate.Before(*params.From) {
			continue
		}
		if params.To != nil && inv.IssueDate.After(*params.To) {
			continue
		}
		stats.TotalInvoices++
		stats.PaymentsCount += int64(len(inv.Payments))
		totals, err := inv.Totals()
		if err != nil {
			return nil, err
		}
		switch inv.Classify(today) {
		case domain.StatusDraft:
			stats.DraftCount++
		case domain.StatusCancelled:
			stats.CancelledCount++
			continue
		case domain.StatusOverdue:
			stats.OverdueCount++
			stats.OverdueAmount = stats.OverdueAmount.Add(totals.BalanceDue)
		}
		stats.TotalInvoiced = stats.TotalInvoiced.Add(totals.GrandTotal)
		stats.TotalCollected = stats.TotalCollected.Add(totals.Paid)
		stats.Outstanding = stats.Outstanding.Add(totals.BalanceDue)
	}
	return stats, nil
}

func (r *inMemoryInvoiceRepo) MonthlyRevenue(ctx context.Context, year int) ([]ports.MonthlyRevenue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byMonth := make(map[int]decimal.Decimal)
	for _, inv := range r.invoices {
		if inv.Status == domain.StatusCancelled {
			continue
		}
		for _, p := range inv.Payments {
			if p.PaidOn.UTC().Year() != year {
				continue
			}
			m := int(p.PaidOn.UTC().Month())
			byMonth[m] = byMonth[m].Add(p.Amount)
		}
	}
	var out []ports.MonthlyRevenue
	for m := 1; m <= 12; m++ {
		if v, ok := byMonth[m]; ok {
			out = append(out, ports.MonthlyRevenue{Month: m, Collected: v})
		}
	}
	return out, nil
}

// --- In-Memory Recurring Repo ---

type inMemoryRecurringRepo struct {
	mu        sync.RWMutex
	templates map[uuid.UUID]*domain.RecurringTemplate
}

func newInMemoryRecurringRepo() *inMemoryRecurringRepo {
	return &inMemoryRecurringRepo{templates: make(map[uuid.UUID]*domain.RecurringTemplate)}
}

func (r *inMemoryRecurringRepo) Create(ctx context.Context, t *domain.RecurringTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *t
	r.templates[t.ID] = &clone
	return nil
}

func (r *inMemoryRecurringRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RecurringTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, nil
	}
	clone := *t
	return &clone, nil
}

func (r *inMemoryRecurringRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.RecurringTemplate, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryRecurringRepo) Update(ctx context.Context, tx pgx.Tx, t *domain.RecurringTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[t.ID]; !ok {
		return fmt.Errorf("template not found")
	}
	clone := *t
	r.templates[t.ID] = &clone
	return nil
}

func (r *inMemoryRecurringRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return fmt.Errorf("template not found")
	}
	t.Active = active
	return nil
}

func (r *inMemoryRecurringRepo) List(ctx context.Context, activeOnly bool, page, pageSize int) ([]domain.RecurringTemplate, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.RecurringTemplate
	for _, t := range r.templates {
		if activeOnly && !t.Active {
			continue
		}
		result = append(result, *t)
	}
	return paginate(result, page, pageSize), int64(len(result)), nil
}

func (r *inMemoryRecurringRepo) ListDue(ctx context.Context, asOf time.Time) ([]domain.RecurringTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.RecurringTemplate
	for _, t := range r.templates {
		if t.Active && !t.AnchorDate.After(asOf) {
			result = append(result, *t)
		}
	}
	return result, nil
}

// --- In-Memory Webhook Repo ---

type inMemoryWebhookRepo struct {
	mu       sync.RWMutex
	subs     map[uuid.UUID]*domain.WebhookSubscription
	attempts []domain.WebhookDeliveryAttempt
}

func newInMemoryWebhookRepo() *inMemoryWebhookRepo {
	return &inMemoryWebhookRepo{subs: make(map[uuid.UUID]*domain.WebhookSubscription)}
}

func (r *inMemoryWebhookRepo) CreateSubscription(ctx context.Context, sub *domain.WebhookSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *sub
	r.subs[sub.ID] = &clone
	return nil
}

func (r *inMemoryWebhookRepo) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.WebhookSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, nil
	}
	clone := *s
	return &clone, nil
}

func (r *inMemoryWebhookRepo) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	return nil
}

func (r *inMemoryWebhookRepo) ListSubscriptions(ctx context.Context, activeOnly bool) ([]domain.WebhookSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.WebhookSubscription
	for _, s := range r.subs {
		if activeOnly && !s.Active {
			continue
		}
		result = append(result, *s)
	}
	return result, nil
}

func (r *inMemoryWebhookRepo) ListSubscribers(ctx context.Context, kind domain.EventKind) ([]domain.WebhookSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.WebhookSubscription
	for _, s := range r.subs {
		if s.Active && s.Subscribes(kind) {
			result = append(result, *s)
		}
	}
	return result, nil
}

func (r *inMemoryWebhookRepo) RecordAttempt(ctx context.Context, attempt *domain.WebhookDeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	r.attempts = append(r.attempts, *attempt)
	return nil
}

func (r *inMemoryWebhookRepo) ListAttempts(ctx context.Context, subscriptionID uuid.UUID, page, pageSize int) ([]domain.WebhookDeliveryAttempt, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.WebhookDeliveryAttempt
	for _, a := range r.attempts {
		if a.SubscriptionID == subscriptionID {
			result = append(result, a)
		}
	}
	return paginate(result, page, pageSize), int64(len(result)), nil
}

// --- In-Memory Activity Repo ---

type inMemoryActivityRepo struct {
	mu      sync.RWMutex
	entries []domain.ActivityEntry
}

func newInMemoryActivityRepo() *inMemoryActivityRepo {
	return &inMemoryActivityRepo{}
}

func (r *inMemoryActivityRepo) Record(ctx context.Context, entry *domain.ActivityEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *inMemoryActivityRepo) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]domain.ActivityEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.ActivityEntry
	for _, e := range r.entries {
		if e.ResourceType == entityType && e.ResourceID == entityID.String() {
			result = append(result, e)
		}
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// --- In-Memory Transactor (no-op tx) ---

type inMemoryTransactor struct{}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &noopTx{}, nil
}

// noopTx is a no-op pgx.Tx implementation for in-memory testing.
type noopTx struct{}

func (t *noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *noopTx) Commit(ctx context.Context) error          { return nil }
func (t *noopTx) Rollback(ctx context.Context) error        { return nil }
func (t *noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *noopTx) Conn() *pgx.Conn { return nil }

// paginate slices a result set the way the SQL repos do.
func paginate[T any](items []T, page, pageSize int) []T {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
