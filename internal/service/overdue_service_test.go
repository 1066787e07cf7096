package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm-billing-engine/internal/core/domain"
	"crm-billing-engine/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newOverdueService(t *testing.T, now time.Time) (*OverdueServiceImpl, *mocks.MockInvoiceRepository, *mocks.MockWebhookDispatcher) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	invoiceRepo := mocks.NewMockInvoiceRepository(ctrl)
	dispatcher := mocks.NewMockWebhookDispatcher(ctrl)
	svc := NewOverdueService(invoiceRepo, dispatcher, newTestLogger())
	svc.now = func() time.Time { return now }
	return svc, invoiceRepo, dispatcher
}

func TestOverdueService_Sweep_NotifiesOnce(t *testing.T) {
	today := date(2024, 4, 15)
	svc, invoiceRepo, dispatcher := newOverdueService(t, today)
	ctx := context.Background()

	overdue := storedInvoice(uuid.New())
	invoiceRepo.EXPECT().ListUnsettledDueBefore(ctx, today).Return([]domain.Invoice{*overdue}, nil)
	invoiceRepo.EXPECT().MarkOverdueNotified(ctx, overdue.ID, gomock.Any()).Return(nil)

	dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Do(
		func(_ context.Context, ev domain.InvoiceEvent) {
			assert.Equal(t, domain.EventInvoiceOverdue, ev.Kind)
			assert.Equal(t, overdue.ID, ev.InvoiceID)
			assert.True(t, ev.BalanceDue.Equal(dec("1000.00")))
		})

	report, err := svc.Sweep(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Notified)
	assert.Equal(t, 0, report.Failed)
}

func TestOverdueService_Sweep_SkipsNonOverdue(t *testing.T) {
	today := date(2024, 4, 15)
	svc, invoiceRepo, _ := newOverdueService(t, today)
	ctx := context.Background()

	// Settled in the meantime: the repository query is a coarse filter,
	// classification decides.
	settled := storedInvoice(uuid.New())
	settled.Payments = []domain.Payment{{Amount: dec("1000.00")}}

	invoiceRepo.EXPECT().ListUnsettledDueBefore(ctx, today).Return([]domain.Invoice{*settled}, nil)

	report, err := svc.Sweep(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 0, report.Notified)
}

func TestOverdueService_Sweep_StampFailureSkipsEvent(t *testing.T) {
	today := date(2024, 4, 15)
	svc, invoiceRepo, _ := newOverdueService(t, today)
	ctx := context.Background()

	overdue := storedInvoice(uuid.New())
	invoiceRepo.EXPECT().ListUnsettledDueBefore(ctx, today).Return([]domain.Invoice{*overdue}, nil)
	invoiceRepo.EXPECT().MarkOverdueNotified(ctx, overdue.ID, gomock.Any()).Return(errors.New("write failed"))

	// No Dispatch expectation: the event must not fire when the one-shot
	// stamp could not be written.
	report, err := svc.Sweep(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Notified)
}
