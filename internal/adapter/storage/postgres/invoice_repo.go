package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crm-billing-engine/internal/core/domain"
	"crm-billing-engine/internal/core/ports"
	"crm-billing-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// InvoiceRepo implements ports.InvoiceRepository.
type InvoiceRepo struct {
	pool Pool
}

// NewInvoiceRepo creates a new InvoiceRepo.
func NewInvoiceRepo(pool Pool) *InvoiceRepo {
	return &InvoiceRepo{pool: pool}
}

const invoiceColumns = `id, number, customer_id, issue_date, due_date, status, notes,
	template_id, occurrence_date, overdue_notified_at, created_at, updated_at`

// Create inserts the invoice and its line items inside the caller's
// transaction. A duplicate (template_id, occurrence_date) pair maps to
// the already-generated business error.
func (r *InvoiceRepo) Create(ctx context.Context, tx pgx.Tx, inv *domain.Invoice) error {
	query := `INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := tx.Exec(ctx, query,
		inv.ID, inv.Number, inv.CustomerID, inv.IssueDate, inv.DueDate,
		string(inv.Status), inv.Notes, inv.TemplateID, inv.OccurrenceDate,
		inv.OverdueNotifiedAt, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperror.ErrOccurrenceAlreadyGenerated()
		}
		return fmt.Errorf("insert invoice: %w", err)
	}

	return r.insertItems(ctx, tx, inv.ID, inv.Items)
}

func (r *InvoiceRepo) insertItems(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, items []domain.LineItem) error {
	query := `INSERT INTO invoice_items (id, invoice_id, description, quantity, unit_price, vat_rate)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for i := range items {
		id := items[i].ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		_, err := tx.Exec(ctx, query,
			id, invoiceID, items[i].Description,
			items[i].Quantity, items[i].UnitPrice, items[i].VATRate,
		)
		if err != nil {
			return fmt.Errorf("insert invoice item: %w", err)
		}
	}
	return nil
}

// GetByID fetches an invoice with its line items and payments.
func (r *InvoiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

	inv, err := r.scanInvoice(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invoice by id: %w", err)
	}
	if err := r.loadChildren(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *InvoiceRepo) scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	inv := &domain.Invoice{}
	var status string
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.CustomerID, &inv.IssueDate, &inv.DueDate,
		&status, &inv.Notes, &inv.TemplateID, &inv.OccurrenceDate,
		&inv.OverdueNotifiedAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Status = domain.InvoiceStatus(status)
	return inv, nil
}

func (r *InvoiceRepo) loadChildren(ctx context.Context, inv *domain.Invoice) error {
	itemRows, err := r.pool.Query(ctx,
		`SELECT id, invoice_id, description, quantity, unit_price, vat_rate
		 FROM invoice_items WHERE invoice_id = $1 ORDER BY id`, inv.ID)
	if err != nil {
		return fmt.Errorf("load invoice items: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var it domain.LineItem
		if err := itemRows.Scan(&it.ID, &it.InvoiceID, &it.Description, &it.Quantity, &it.UnitPrice, &it.VATRate); err != nil {
			return fmt.Errorf("scan invoice item: %w", err)
		}
		inv.Items = append(inv.Items, it)
	}
	if err := itemRows.Err(); err != nil {
		return err
	}

	payRows, err := r.pool.Query(ctx,
		`SELECT id, invoice_id, amount, paid_on, method, notes, created_at
		 FROM payments WHERE invoice_id = $1 ORDER BY paid_on, created_at`, inv.ID)
	if err != nil {
		return fmt.Errorf("load payments: %w", err)
	}
	defer payRows.Close()
	for payRows.Next() {
		var p domain.Payment
		if err := payRows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.PaidOn, &p.Method, &p.Notes, &p.CreatedAt); err != nil {
			return fmt.Errorf("scan payment: %w", err)
		}
		inv.Payments = append(inv.Payments, p)
	}
	return payRows.Err()
}

// UpdateStatus moves the stored status anchor.
func (r *InvoiceRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.InvoiceStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE invoices SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	return nil
}

// ReplaceItems swaps the invoice's line items wholesale inside the
// caller's transaction.
func (r *InvoiceRepo) ReplaceItems(ctx context.Context, tx pgx.Tx, invoiceID uuid.UUID, items []domain.LineItem) error {
	if _, err := tx.Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, invoiceID); err != nil {
		return fmt.Errorf("delete invoice items: %w", err)
	}
	if err := r.insertItems(ctx, tx, invoiceID, items); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE invoices SET updated_at = NOW() WHERE id = $1`, invoiceID); err != nil {
		return fmt.Errorf("touch invoice: %w", err)
	}
	return nil
}

// AddPayment appends a payment row inside the caller's transaction.
func (r *InvoiceRepo) AddPayment(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	query := `INSERT INTO payments (id, invoice_id, amount, paid_on, method, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Exec(ctx, query, p.ID, p.InvoiceID, p.Amount, p.PaidOn, p.Method, p.Notes, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// DeletePayment removes a payment row inside the caller's transaction.
// The invoice id guard keeps a payment id from another invoice inert.
func (r *InvoiceRepo) DeletePayment(ctx context.Context, tx pgx.Tx, invoiceID, paymentID uuid.UUID) error {
	tag, err := tx.Exec(ctx,
		`DELETE FROM payments WHERE id = $1 AND invoice_id = $2`,
		paymentID, invoiceID)
	if err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrNotFound("payment")
	}
	return nil
}

// NextNumber allocates the next invoice sequence number for the year.
// The upsert serializes concurrent allocations on the counter row.
func (r *InvoiceRepo) NextNumber(ctx context.Context, tx pgx.Tx, year int) (int, error) {
	query := `INSERT INTO invoice_counters (year, last_seq) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_seq = invoice_counters.last_seq + 1
		RETURNING last_seq`

	var seq int
	if err := tx.QueryRow(ctx, query, year).Scan(&seq); err != nil {
		return 0, fmt.Errorf("allocate invoice number: %w", err)
	}
	return seq, nil
}

// List pages through invoices with their children loaded. Status is not
// filtered here; derived buckets are matched at the service layer.
func (r *InvoiceRepo) List(ctx context.Context, params ports.InvoiceListParams) ([]domain.Invoice, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = 20
	}

	var conds []string
	var args []any
	if params.CustomerID != nil {
		args = append(args, *params.CustomerID)
		conds = append(conds, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if params.From != nil {
		args = append(args, *params.From)
		conds = append(conds, fmt.Sprintf("issue_date >= $%d", len(args)))
	}
	if params.To != nil {
		args = append(args, *params.To)
		conds = append(conds, fmt.Sprintf("issue_date <= $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	args = append(args, params.PageSize, (params.Page-1)*params.PageSize)
	query := `SELECT ` + invoiceColumns + ` FROM invoices` + where +
		fmt.Sprintf(` ORDER BY issue_date DESC, created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range invoices {
		if err := r.loadChildren(ctx, &invoices[i]); err != nil {
			return nil, 0, err
		}
	}
	return invoices, total, nil
}

// ListUnsettledDueBefore returns non-cancelled, not-yet-notified
// invoices past their due date. The balance check happens at the
// service layer where the calculator lives; this query is the coarse
// SQL filter.
func (r *InvoiceRepo) ListUnsettledDueBefore(ctx context.Context, cutoff time.Time) ([]domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE status <> 'cancelled' AND due_date < $1 AND overdue_notified_at IS NULL
		ORDER BY due_date`

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list unsettled invoices: %w", err)
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range invoices {
		if err := r.loadChildren(ctx, &invoices[i]); err != nil {
			return nil, err
		}
	}
	return invoices, nil
}

// MarkOverdueNotified stamps the one-shot overdue notification.
func (r *InvoiceRepo) MarkOverdueNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE invoices SET overdue_notified_at = $1 WHERE id = $2 AND overdue_notified_at IS NULL`,
		at, id)
	if err != nil {
		return fmt.Errorf("mark overdue notified: %w", err)
	}
	return nil
}

// MonthlyRevenue sums collected payments per calendar month of the
// year. Payments against cancelled invoices are excluded.
func (r *InvoiceRepo) MonthlyRevenue(ctx context.Context, year int) ([]ports.MonthlyRevenue, error) {
	query := `SELECT EXTRACT(MONTH FROM p.paid_on)::int AS month, COALESCE(SUM(p.amount), 0)
		FROM payments p
		JOIN invoices i ON i.id = p.invoice_id
		WHERE EXTRACT(YEAR FROM p.paid_on)::int = $1 AND i.status <> 'cancelled'
		GROUP BY month
		ORDER BY month`

	rows, err := r.pool.Query(ctx, query, year)
	if err != nil {
		return nil, fmt.Errorf("monthly revenue: %w", err)
	}
	defer rows.Close()

	var out []ports.MonthlyRevenue
	for rows.Next() {
		var row ports.MonthlyRevenue
		if err := rows.Scan(&row.Month, &row.Collected); err != nil {
			return nil, fmt.Errorf("scan monthly revenue: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetStats aggregates billing figures over the window. Amounts are
// derived with the same calculator the rest of the system uses, so the
// dashboard never disagrees with individual invoices.
func (r *InvoiceRepo) GetStats(ctx context.Context, params ports.StatsParams) (*ports.InvoiceStats, error) {
	listParams := ports.InvoiceListParams{From: params.From, To: params.To, Page: 1, PageSize: 1 << 30}
	invoices, total, err := r.List(ctx, listParams)
	if err != nil {
		return nil, err
	}

	stats := &ports.InvoiceStats{
		TotalInvoices:  total,
		TotalInvoiced:  decimal.Zero,
		TotalCollected: decimal.Zero,
		Outstanding:    decimal.Zero,
		OverdueAmount:  decimal.Zero,
	}

	today := time.Now()
	for i := range invoices {
		inv := &invoices[i]
		switch inv.Classify(today) {
		case domain.StatusCancelled:
			stats.CancelledCount++
			continue
		case domain.StatusDraft:
			stats.DraftCount++
		case domain.StatusOverdue:
			stats.OverdueCount++
		}

		totals, err := inv.Totals()
		if err != nil {
			continue
		}
		stats.TotalInvoiced = stats.TotalInvoiced.Add(totals.GrandTotal)
		stats.TotalCollected = stats.TotalCollected.Add(totals.Paid)
		stats.Outstanding = stats.Outstanding.Add(totals.BalanceDue)
		if inv.Classify(today) == domain.StatusOverdue {
			stats.OverdueAmount = stats.OverdueAmount.Add(totals.BalanceDue)
		}
		stats.PaymentsCount += int64(len(inv.Payments))
	}
	return stats, nil
}
