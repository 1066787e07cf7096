package postgres

import (
	"context"
	"testing"
	"time"

	"crm-billing-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTemplate() *domain.RecurringTemplate {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.RecurringTemplate{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		Cadence:    domain.CadenceMonthly,
		AnchorDate: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Active:     true,
		Notes:      "monthly hosting",
		Lines: []domain.TemplateLine{
			{ID: uuid.New(), Description: "hosting", Quantity: dec("1"), UnitPrice: dec("90.00"), VATRate: dec("0.20")},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func templateCols() []string {
	return []string{"id", "customer_id", "cadence", "anchor_date", "end_date", "active", "notes",
		"last_occurrence", "last_invoice_id", "total_generated", "created_at", "updated_at"}
}

func templateRow(t *domain.RecurringTemplate) *pgxmock.Rows {
	return pgxmock.NewRows(templateCols()).AddRow(
		t.ID, t.CustomerID, string(t.Cadence), t.AnchorDate, t.EndDate,
		t.Active, t.Notes, t.LastOccurrence, t.LastInvoiceID,
		t.TotalGenerated, t.CreatedAt, t.UpdatedAt,
	)
}

func expectTemplateLines(mock pgxmock.PgxPoolIface, tmpl *domain.RecurringTemplate) {
	rows := pgxmock.NewRows([]string{"id", "template_id", "description", "quantity", "unit_price", "vat_rate"})
	for _, l := range tmpl.Lines {
		rows.AddRow(l.ID, tmpl.ID, l.Description, l.Quantity, l.UnitPrice, l.VATRate)
	}
	mock.ExpectQuery("SELECT .+ FROM recurring_template_lines").WithArgs(tmpl.ID).WillReturnRows(rows)
}

func TestRecurringRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRecurringRepo(mock)
	tmpl := newTestTemplate()

	mock.ExpectExec("INSERT INTO recurring_templates").
		WithArgs(
			tmpl.ID, tmpl.CustomerID, string(tmpl.Cadence), tmpl.AnchorDate, tmpl.EndDate,
			tmpl.Active, tmpl.Notes, tmpl.LastOccurrence, tmpl.LastInvoiceID,
			tmpl.TotalGenerated, tmpl.CreatedAt, tmpl.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO recurring_template_lines").
		WithArgs(
			tmpl.Lines[0].ID, tmpl.ID, tmpl.Lines[0].Description,
			tmpl.Lines[0].Quantity, tmpl.Lines[0].UnitPrice, tmpl.Lines[0].VATRate,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), tmpl)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecurringRepo_GetByIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRecurringRepo(mock)
	tmpl := newTestTemplate()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM recurring_templates WHERE id = \\$1 FOR UPDATE").
		WithArgs(tmpl.ID).
		WillReturnRows(templateRow(tmpl))
	expectTemplateLines(mock, tmpl)

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	result, err := repo.GetByIDForUpdate(context.Background(), dbTx, tmpl.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.CadenceMonthly, result.Cadence)
	require.Len(t, result.Lines, 1)
	assert.True(t, result.Lines[0].UnitPrice.Equal(dec("90.00")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecurringRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRecurringRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM recurring_templates WHERE id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(templateCols()))

	result, err := repo.GetByID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecurringRepo_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRecurringRepo(mock)
	tmpl := newTestTemplate()
	occurrence := tmpl.AnchorDate
	invoiceID := uuid.New()
	tmpl.AnchorDate = time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	tmpl.LastOccurrence = &occurrence
	tmpl.LastInvoiceID = &invoiceID
	tmpl.TotalGenerated = 1

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE recurring_templates").
		WithArgs(
			tmpl.AnchorDate, tmpl.EndDate, tmpl.Active, tmpl.Notes,
			tmpl.LastOccurrence, tmpl.LastInvoiceID, tmpl.TotalGenerated, tmpl.UpdatedAt, tmpl.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Update(context.Background(), dbTx, tmpl)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecurringRepo_ListDue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRecurringRepo(mock)
	tmpl := newTestTemplate()
	asOf := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .+ FROM recurring_templates").
		WithArgs(asOf).
		WillReturnRows(templateRow(tmpl))
	expectTemplateLines(mock, tmpl)

	result, err := repo.ListDue(context.Background(), asOf)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, tmpl.ID, result[0].ID)
	require.Len(t, result[0].Lines, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
