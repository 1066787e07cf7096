package service

import (
	"context"
	"testing"
	"time"

	"crm-billing-engine/config"
	"crm-billing-engine/internal/core/domain"
	"crm-billing-engine/internal/core/ports"
	"crm-billing-engine/internal/core/ports/mocks"
	"crm-billing-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// mockTx implements pgx.Tx for testing.
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type invoiceDeps struct {
	invoiceRepo  *mocks.MockInvoiceRepository
	customerRepo *mocks.MockCustomerRepository
	transactor   *mocks.MockDBTransactor
	dispatcher   *mocks.MockWebhookDispatcher
	activity     *mocks.MockActivityService
}

func newInvoiceService(t *testing.T, now time.Time) (*InvoiceServiceImpl, *invoiceDeps) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	d := &invoiceDeps{
		invoiceRepo:  mocks.NewMockInvoiceRepository(ctrl),
		customerRepo: mocks.NewMockCustomerRepository(ctrl),
		transactor:   mocks.NewMockDBTransactor(ctrl),
		dispatcher:   mocks.NewMockWebhookDispatcher(ctrl),
		activity:     mocks.NewMockActivityService(ctrl),
	}
	d.activity.EXPECT().Record(gomock.Any(), gomock.Any()).AnyTimes()

	cfg := config.BillingConfig{NumberPrefix: "INV", DefaultDueDays: 30}
	svc := NewInvoiceService(d.invoiceRepo, d.customerRepo, d.transactor, d.dispatcher, d.activity, cfg, newTestLogger())
	svc.now = func() time.Time { return now }
	return svc, d
}

func appCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.Code
}

func TestInvoiceService_Create_Success(t *testing.T) {
	now := date(2024, 3, 1)
	svc, d := newInvoiceService(t, now)
	ctx := context.Background()
	tx := &mockTx{}

	customerID := uuid.New()
	d.customerRepo.EXPECT().GetByID(ctx, customerID).Return(&domain.Customer{ID: customerID}, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.invoiceRepo.EXPECT().NextNumber(ctx, tx, 2024).Return(42, nil)

	var created *domain.Invoice
	d.invoiceRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, inv *domain.Invoice) error {
			created = inv
			return nil
		})
	d.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Do(
		func(_ context.Context, ev domain.InvoiceEvent) {
			assert.Equal(t, domain.EventInvoiceCreated, ev.Kind)
			assert.Equal(t, "INV-2024-00042", ev.InvoiceNumber)
			assert.True(t, ev.GrandTotal.Equal(dec("1200.00")), "grand: %s", ev.GrandTotal)
		})

	invoice, err := svc.Create(ctx, ports.CreateInvoiceRequest{
		CustomerID: customerID,
		IssueDate:  date(2024, 3, 1),
		Items: []domain.LineItem{
			{Description: "svc", Quantity: dec("1"), UnitPrice: dec("1000.00"), VATRate: dec("0.20")},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, created)

	assert.Equal(t, "INV-2024-00042", invoice.Number)
	assert.Equal(t, domain.StatusDraft, invoice.Status)
	// Default due date is issue date plus the configured offset.
	assert.True(t, invoice.DueDate.Equal(date(2024, 3, 31)), "due: %s", invoice.DueDate)
}

func TestInvoiceService_Create_InvalidItems(t *testing.T) {
	svc, _ := newInvoiceService(t, date(2024, 3, 1))

	_, err := svc.Create(context.Background(), ports.CreateInvoiceRequest{
		CustomerID: uuid.New(),
		IssueDate:  date(2024, 3, 1),
		Items: []domain.LineItem{
			{Description: "bad", Quantity: dec("0"), UnitPrice: dec("10"), VATRate: dec("0.2")},
		},
	})
	assert.Equal(t, "VAL_001", appCode(t, err))
}

func TestInvoiceService_Create_CustomerNotFound(t *testing.T) {
	svc, d := newInvoiceService(t, date(2024, 3, 1))
	ctx := context.Background()

	customerID := uuid.New()
	d.customerRepo.EXPECT().GetByID(ctx, customerID).Return(nil, nil)

	_, err := svc.Create(ctx, ports.CreateInvoiceRequest{
		CustomerID: customerID,
		IssueDate:  date(2024, 3, 1),
		Items: []domain.LineItem{
			{Description: "svc", Quantity: dec("1"), UnitPrice: dec("10"), VATRate: dec("0")},
		},
	})
	assert.Equal(t, "BIL_001", appCode(t, err))
}

func storedInvoice(customerID uuid.UUID) *domain.Invoice {
	return &domain.Invoice{
		ID:         uuid.New(),
		Number:     "INV-2024-00007",
		CustomerID: customerID,
		IssueDate:  date(2024, 3, 1),
		DueDate:    date(2024, 3, 31),
		Status:     domain.StatusSent,
		Items: []domain.LineItem{
			{Description: "svc", Quantity: dec("1"), UnitPrice: dec("1000.00"), VATRate: dec("0")},
		},
	}
}

func TestInvoiceService_RecordPayment_Partial(t *testing.T) {
	now := date(2024, 3, 10)
	svc, d := newInvoiceService(t, now)
	ctx := context.Background()
	tx := &mockTx{}

	invoice := storedInvoice(uuid.New())
	d.invoiceRepo.EXPECT().GetByID(ctx, invoice.ID).Return(invoice, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.invoiceRepo.EXPECT().AddPayment(ctx, tx, gomock.Any()).Return(nil)

	// Partial payment emits payment.received only.
	d.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Do(
		func(_ context.Context, ev domain.InvoiceEvent) {
			assert.Equal(t, domain.EventPaymentReceived, ev.Kind)
			assert.True(t, ev.BalanceDue.Equal(dec("600.00")), "balance: %s", ev.BalanceDue)
		})

	result, err := svc.RecordPayment(ctx, ports.RecordPaymentRequest{
		InvoiceID: invoice.ID,
		Amount:    dec("400.00"),
		PaidOn:    now,
		Method:    "bank_transfer",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartiallyPaid, result.Status)
}

func TestInvoiceService_RecordPayment_SettlesInvoice(t *testing.T) {
	now := date(2024, 3, 10)
	svc, d := newInvoiceService(t, now)
	ctx := context.Background()
	tx := &mockTx{}

	invoice := storedInvoice(uuid.New())
	d.invoiceRepo.EXPECT().GetByID(ctx, invoice.ID).Return(invoice, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.invoiceRepo.EXPECT().AddPayment(ctx, tx, gomock.Any()).Return(nil)

	var kinds []domain.EventKind
	d.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Do(
		func(_ context.Context, ev domain.InvoiceEvent) {
			kinds = append(kinds, ev.Kind)
		}).Times(2)

	result, err := svc.RecordPayment(ctx, ports.RecordPaymentRequest{
		InvoiceID: invoice.ID,
		Amount:    dec("1000.00"),
		PaidOn:    now,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, result.Status)
	assert.Equal(t, []domain.EventKind{domain.EventPaymentReceived, domain.EventInvoicePaid}, kinds)
}

func TestInvoiceService_RecordPayment_Overpayment(t *testing.T) {
	svc, d := newInvoiceService(t, date(2024, 3, 10))
	ctx := context.Background()

	invoice := storedInvoice(uuid.New())
	invoice.Payments = []domain.Payment{{Amount: dec("800.00")}}
	d.invoiceRepo.EXPECT().GetByID(ctx, invoice.ID).Return(invoice, nil)

	_, err := svc.RecordPayment(ctx, ports.RecordPaymentRequest{
		InvoiceID: invoice.ID,
		Amount:    dec("300.00"),
		PaidOn:    date(2024, 3, 10),
	})
	require.Error(t, err)
	assert.Equal(t, "VAL_005", appCode(t, err))
	// The remaining balance is part of the rejection message.
	assert.Contains(t, err.Error(), "200.00")
}

func TestInvoiceService_RecordPayment_CancelledInvoice(t *testing.T) {
	svc, d := newInvoiceService(t, date(2024, 3, 10))
	ctx := context.Background()

	invoice := storedInvoice(uuid.New())
	invoice.Status = domain.StatusCancelled
	d.invoiceRepo.EXPECT().GetByID(ctx, invoice.ID).Return(invoice, nil)

	_, err := svc.RecordPayment(ctx, ports.RecordPaymentRequest{
		InvoiceID: invoice.ID,
		Amount:    dec("100.00"),
		PaidOn:    date(2024, 3, 10),
	})
	assert.Equal(t, "BIL_002", appCode(t, err))
}

func TestInvoiceService_RecordPayment_NonPositiveAmount(t *testing.T) {
	svc, _ := newInvoiceService(t, date(2024, 3, 10))

	_, err := svc.RecordPayment(context.Background(), ports.RecordPaymentRequest{
		InvoiceID: uuid.New(),
		Amount:    dec("0"),
		PaidOn:    date(2024, 3, 10),
	})
	assert.Equal(t, "VAL_004", appCode(t, err))
}

func TestInvoiceService_SetStatus_DraftToSent(t *testing.T) {
	svc, d := newInvoiceService(t, date(2024, 3, 10))
	ctx := context.Background()

	invoice := storedInvoice(uuid.New())
	invoice.Status = domain.StatusDraft
	d.invoiceRepo.EXPECT().GetByID(ctx, invoice.ID).Return(invoice, nil)
	d.invoiceRepo.EXPECT().UpdateStatus(ctx, invoice.ID, domain.StatusSent).Return(nil)

	result, err := svc.SetStatus(ctx, invoice.ID, domain.StatusSent)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, result.Status)
}

func TestInvoiceService_SetStatus_DerivedBucketRejected(t *testing.T) {
	svc, d := newInvoiceService(t, date(2024, 3, 10))
	ctx := context.Background()

	invoice := storedInvoice(uuid.New())
	d.invoiceRepo.EXPECT().GetByID(ctx, invoice.ID).Return(invoice, nil)

	// paid is derived from payments, never set directly.
	_, err := svc.SetStatus(ctx, invoice.ID, domain.StatusPaid)
	assert.Equal(t, "BIL_004", appCode(t, err))
}

func TestInvoiceService_SetStatus_CancelledIsTerminal(t *testing.T) {
	svc, d := newInvoiceService(t, date(2024, 3, 10))
	ctx := context.Background()

	invoice := storedInvoice(uuid.New())
	invoice.Status = domain.StatusCancelled
	d.invoiceRepo.EXPECT().GetByID(ctx, invoice.ID).Return(invoice, nil)

	_, err := svc.SetStatus(ctx, invoice.ID, domain.StatusDraft)
	assert.Equal(t, "BIL_002", appCode(t, err))
}

func TestInvoiceService_Get_ProjectsOverdue(t *testing.T) {
	svc, d := newInvoiceService(t, date(2024, 4, 15))
	ctx := context.Background()

	invoice := storedInvoice(uuid.New())
	d.invoiceRepo.EXPECT().GetByID(ctx, invoice.ID).Return(invoice, nil)

	result, err := svc.Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOverdue, result.Status)
	// The stored anchor is untouched.
	assert.Equal(t, domain.StatusSent, invoice.Status)
}

func TestInvoiceService_List_FiltersOnDerivedStatus(t *testing.T) {
	svc, d := newInvoiceService(t, date(2024, 4, 15))
	ctx := context.Background()

	overdue := storedInvoice(uuid.New())
	paid := storedInvoice(uuid.New())
	paid.Payments = []domain.Payment{{Amount: dec("1000.00")}}

	want := domain.StatusOverdue
	d.invoiceRepo.EXPECT().List(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, params ports.InvoiceListParams) ([]domain.Invoice, int64, error) {
			// The derived filter never reaches the repository.
			assert.Nil(t, params.Status)
			return []domain.Invoice{*overdue, *paid}, 2, nil
		})

	result, total, err := svc.List(ctx, ports.InvoiceListParams{Status: &want})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, overdue.ID, result[0].ID)
	assert.Equal(t, domain.StatusOverdue, result[0].Status)
}

func TestInvoiceService_DeletePayment_RestoresBalance(t *testing.T) {
	now := date(2024, 3, 20)
	svc, d := newInvoiceService(t, now)
	ctx := context.Background()
	tx := &mockTx{}

	invoice := storedInvoice(uuid.New())
	paymentID := uuid.New()
	invoice.Payments = []domain.Payment{
		{ID: paymentID, InvoiceID: invoice.ID, Amount: dec("1000.00"), PaidOn: date(2024, 3, 10)},
	}

	d.invoiceRepo.EXPECT().GetByID(ctx, invoice.ID).Return(invoice, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.invoiceRepo.EXPECT().DeletePayment(ctx, tx, invoice.ID, paymentID).Return(nil)

	result, err := svc.DeletePayment(ctx, invoice.ID, paymentID)
	require.NoError(t, err)
	assert.Empty(t, result.Payments)
	// The invoice is unpaid again, not yet past due.
	assert.Equal(t, domain.StatusSent, result.Status)
}

func TestInvoiceService_DeletePayment_UnknownPayment(t *testing.T) {
	svc, d := newInvoiceService(t, date(2024, 3, 20))
	ctx := context.Background()

	invoice := storedInvoice(uuid.New())
	d.invoiceRepo.EXPECT().GetByID(ctx, invoice.ID).Return(invoice, nil)

	_, err := svc.DeletePayment(ctx, invoice.ID, uuid.New())
	assert.Equal(t, "BIL_001", appCode(t, err))
}

func TestInvoiceService_DeletePayment_Cancelled(t *testing.T) {
	svc, d := newInvoiceService(t, date(2024, 3, 20))
	ctx := context.Background()

	invoice := storedInvoice(uuid.New())
	invoice.Status = domain.StatusCancelled
	paymentID := uuid.New()
	invoice.Payments = []domain.Payment{{ID: paymentID, Amount: dec("100.00")}}
	d.invoiceRepo.EXPECT().GetByID(ctx, invoice.ID).Return(invoice, nil)

	_, err := svc.DeletePayment(ctx, invoice.ID, paymentID)
	assert.Equal(t, "BIL_002", appCode(t, err))
}
