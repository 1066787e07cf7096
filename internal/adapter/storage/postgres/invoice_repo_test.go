package postgres

import (
	"context"
	"testing"
	"time"

	"crm-billing-engine/internal/core/domain"
	"crm-billing-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestInvoice(customerID uuid.UUID) *domain.Invoice {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Invoice{
		ID:         uuid.New(),
		Number:     "INV-2024-00001",
		CustomerID: customerID,
		IssueDate:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		DueDate:    time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:     domain.StatusDraft,
		Notes:      "march retainer",
		Items: []domain.LineItem{
			{ID: uuid.New(), Description: "retainer", Quantity: dec("1"), UnitPrice: dec("500.00"), VATRate: dec("0.20")},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func invoiceCols() []string {
	return []string{"id", "number", "customer_id", "issue_date", "due_date", "status", "notes",
		"template_id", "occurrence_date", "overdue_notified_at", "created_at", "updated_at"}
}

func invoiceRow(inv *domain.Invoice) *pgxmock.Rows {
	return pgxmock.NewRows(invoiceCols()).AddRow(
		inv.ID, inv.Number, inv.CustomerID, inv.IssueDate, inv.DueDate,
		string(inv.Status), inv.Notes, inv.TemplateID, inv.OccurrenceDate,
		inv.OverdueNotifiedAt, inv.CreatedAt, inv.UpdatedAt,
	)
}

func itemCols() []string {
	return []string{"id", "invoice_id", "description", "quantity", "unit_price", "vat_rate"}
}

func paymentCols() []string {
	return []string{"id", "invoice_id", "amount", "paid_on", "method", "notes", "created_at"}
}

func expectChildren(mock pgxmock.PgxPoolIface, inv *domain.Invoice) {
	itemRows := pgxmock.NewRows(itemCols())
	for _, it := range inv.Items {
		itemRows.AddRow(it.ID, inv.ID, it.Description, it.Quantity, it.UnitPrice, it.VATRate)
	}
	mock.ExpectQuery("SELECT .+ FROM invoice_items").WithArgs(inv.ID).WillReturnRows(itemRows)

	payRows := pgxmock.NewRows(paymentCols())
	for _, p := range inv.Payments {
		payRows.AddRow(p.ID, inv.ID, p.Amount, p.PaidOn, p.Method, p.Notes, p.CreatedAt)
	}
	mock.ExpectQuery("SELECT .+ FROM payments").WithArgs(inv.ID).WillReturnRows(payRows)
}

func TestInvoiceRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)
	inv := newTestInvoice(uuid.New())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO invoices").
		WithArgs(
			inv.ID, inv.Number, inv.CustomerID, inv.IssueDate, inv.DueDate,
			string(inv.Status), inv.Notes, inv.TemplateID, inv.OccurrenceDate,
			inv.OverdueNotifiedAt, inv.CreatedAt, inv.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO invoice_items").
		WithArgs(
			inv.Items[0].ID, inv.ID, inv.Items[0].Description,
			inv.Items[0].Quantity, inv.Items[0].UnitPrice, inv.Items[0].VATRate,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Create(context.Background(), dbTx, inv)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_Create_DuplicateOccurrence(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)
	inv := newTestInvoice(uuid.New())
	templateID := uuid.New()
	occurrence := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	inv.TemplateID = &templateID
	inv.OccurrenceDate = &occurrence

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO invoices").
		WithArgs(
			inv.ID, inv.Number, inv.CustomerID, inv.IssueDate, inv.DueDate,
			string(inv.Status), inv.Notes, inv.TemplateID, inv.OccurrenceDate,
			inv.OverdueNotifiedAt, inv.CreatedAt, inv.UpdatedAt,
		).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "invoices_template_occurrence_key"})

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Create(context.Background(), dbTx, inv)
	require.Error(t, err)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "BIL_005", appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)
	inv := newTestInvoice(uuid.New())
	inv.Payments = []domain.Payment{
		{ID: uuid.New(), InvoiceID: inv.ID, Amount: dec("100.00"), PaidOn: inv.IssueDate, Method: "cash", CreatedAt: inv.CreatedAt},
	}

	mock.ExpectQuery("SELECT .+ FROM invoices WHERE id").
		WithArgs(inv.ID).
		WillReturnRows(invoiceRow(inv))
	expectChildren(mock, inv)

	result, err := repo.GetByID(context.Background(), inv.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, inv.Number, result.Number)
	require.Len(t, result.Items, 1)
	assert.True(t, result.Items[0].UnitPrice.Equal(dec("500.00")))
	require.Len(t, result.Payments, 1)
	assert.True(t, result.Payments[0].Amount.Equal(dec("100.00")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM invoices WHERE id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(invoiceCols()))

	result, err := repo.GetByID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_NextNumber(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO invoice_counters").
		WithArgs(2024).
		WillReturnRows(pgxmock.NewRows([]string{"last_seq"}).AddRow(7))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	seq, err := repo.NextNumber(context.Background(), dbTx, 2024)
	require.NoError(t, err)
	assert.Equal(t, 7, seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_MarkOverdueNotified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)
	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE invoices SET overdue_notified_at").
		WithArgs(at, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.MarkOverdueNotified(context.Background(), id, at)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_ListUnsettledDueBefore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)
	inv := newTestInvoice(uuid.New())
	inv.Status = domain.StatusSent
	cutoff := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .+ FROM invoices").
		WithArgs(cutoff).
		WillReturnRows(invoiceRow(inv))
	expectChildren(mock, inv)

	result, err := repo.ListUnsettledDueBefore(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, inv.ID, result[0].ID)
	require.Len(t, result[0].Items, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_DeletePayment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)
	invoiceID := uuid.New()
	paymentID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM payments").
		WithArgs(paymentID, invoiceID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.DeletePayment(context.Background(), dbTx, invoiceID, paymentID)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_DeletePayment_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)
	invoiceID := uuid.New()
	paymentID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM payments").
		WithArgs(paymentID, invoiceID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.DeletePayment(context.Background(), dbTx, invoiceID, paymentID)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "BIL_001", appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepo_MonthlyRevenue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInvoiceRepo(mock)

	mock.ExpectQuery("SELECT EXTRACT").
		WithArgs(2024).
		WillReturnRows(pgxmock.NewRows([]string{"month", "collected"}).
			AddRow(3, dec("1200.00")).
			AddRow(7, dec("450.00")))

	rows, err := repo.MonthlyRevenue(context.Background(), 2024)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 3, rows[0].Month)
	assert.True(t, rows[0].Collected.Equal(dec("1200.00")))
	assert.Equal(t, 7, rows[1].Month)
	assert.NoError(t, mock.ExpectationsWereMet())
}
