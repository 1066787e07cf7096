package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm-billing-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RecurringRepo implements ports.RecurringRepository.
type RecurringRepo struct {
	pool Pool
}

// NewRecurringRepo creates a new RecurringRepo.
func NewRecurringRepo(pool Pool) *RecurringRepo {
	return &RecurringRepo{pool: pool}
}

const templateColumns = `id, customer_id, cadence, anchor_date, end_date, active, notes,
	last_occurrence, last_invoice_id, total_generated, created_at, updated_at`

// Create inserts the template and its blueprint lines.
func (r *RecurringRepo) Create(ctx context.Context, t *domain.RecurringTemplate) error {
	query := `INSERT INTO recurring_templates (` + templateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		t.ID, t.CustomerID, string(t.Cadence), t.AnchorDate, t.EndDate,
		t.Active, t.Notes, t.LastOccurrence, t.LastInvoiceID,
		t.TotalGenerated, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}

	lineQuery := `INSERT INTO recurring_template_lines (id, template_id, description, quantity, unit_price, vat_rate)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for i := range t.Lines {
		id := t.Lines[i].ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		_, err := r.pool.Exec(ctx, lineQuery,
			id, t.ID, t.Lines[i].Description,
			t.Lines[i].Quantity, t.Lines[i].UnitPrice, t.Lines[i].VATRate,
		)
		if err != nil {
			return fmt.Errorf("insert template line: %w", err)
		}
	}
	return nil
}

// GetByID fetches a template with its blueprint lines.
func (r *RecurringRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RecurringTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM recurring_templates WHERE id = $1`

	t, err := r.scanTemplate(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get template by id: %w", err)
	}
	if err := r.loadLines(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetByIDForUpdate fetches a template with a row lock held by the
// caller's transaction, so concurrent generation runs serialize.
func (r *RecurringRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.RecurringTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM recurring_templates WHERE id = $1 FOR UPDATE`

	t, err := r.scanTemplate(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock template: %w", err)
	}
	if err := r.loadLines(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *RecurringRepo) scanTemplate(row pgx.Row) (*domain.RecurringTemplate, error) {
	t := &domain.RecurringTemplate{}
	var cadence string
	err := row.Scan(
		&t.ID, &t.CustomerID, &cadence, &t.AnchorDate, &t.EndDate,
		&t.Active, &t.Notes, &t.LastOccurrence, &t.LastInvoiceID,
		&t.TotalGenerated, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Cadence = domain.Cadence(cadence)
	return t, nil
}

func (r *RecurringRepo) loadLines(ctx context.Context, t *domain.RecurringTemplate) error {
	rows, err := r.pool.Query(ctx,
		`SELECT id, template_id, description, quantity, unit_price, vat_rate
		 FROM recurring_template_lines WHERE template_id = $1 ORDER BY id`, t.ID)
	if err != nil {
		return fmt.Errorf("load template lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l domain.TemplateLine
		if err := rows.Scan(&l.ID, &l.TemplateID, &l.Description, &l.Quantity, &l.UnitPrice, &l.VATRate); err != nil {
			return fmt.Errorf("scan template line: %w", err)
		}
		t.Lines = append(t.Lines, l)
	}
	return rows.Err()
}

// Update rewrites the template's mutable fields inside the caller's
// transaction. Blueprint lines are immutable after creation.
func (r *RecurringRepo) Update(ctx context.Context, tx pgx.Tx, t *domain.RecurringTemplate) error {
	query := `UPDATE recurring_templates
		SET anchor_date = $1, end_date = $2, active = $3, notes = $4,
			last_occurrence = $5, last_invoice_id = $6, total_generated = $7, updated_at = $8
		WHERE id = $9`

	_, err := tx.Exec(ctx, query,
		t.AnchorDate, t.EndDate, t.Active, t.Notes,
		t.LastOccurrence, t.LastInvoiceID, t.TotalGenerated, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return nil
}

// SetActive toggles generation without touching the rest of the row.
func (r *RecurringRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE recurring_templates SET active = $1, updated_at = NOW() WHERE id = $2`,
		active, id)
	if err != nil {
		return fmt.Errorf("set template active: %w", err)
	}
	return nil
}

// List pages through templates.
func (r *RecurringRepo) List(ctx context.Context, activeOnly bool, page, pageSize int) ([]domain.RecurringTemplate, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	where := ""
	if activeOnly {
		where = " WHERE active"
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM recurring_templates`+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}

	query := `SELECT ` + templateColumns + ` FROM recurring_templates` + where +
		` ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []domain.RecurringTemplate
	for rows.Next() {
		t, err := r.scanTemplate(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range templates {
		if err := r.loadLines(ctx, &templates[i]); err != nil {
			return nil, 0, err
		}
	}
	return templates, total, nil
}

// ListDue returns active templates whose anchor is on or before asOf.
func (r *RecurringRepo) ListDue(ctx context.Context, asOf time.Time) ([]domain.RecurringTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM recurring_templates
		WHERE active AND anchor_date <= $1 ORDER BY anchor_date`

	rows, err := r.pool.Query(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("list due templates: %w", err)
	}
	defer rows.Close()

	var templates []domain.RecurringTemplate
	for rows.Next() {
		t, err := r.scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range templates {
		if err := r.loadLines(ctx, &templates[i]); err != nil {
			return nil, err
		}
	}
	return templates, nil
}
