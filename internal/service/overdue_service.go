package service

import (
	"context"
	"fmt"
	"time"

	"crm-billing-engine/internal/core/domain"
	"crm-billing-engine/internal/core/ports"
	"crm-billing-engine/pkg/apperror"

	"github.com/rs/zerolog"
)

// OverdueServiceImpl implements ports.OverdueService.
//
// Overdue is a derived bucket, never stored. The sweep's only write is
// the notification stamp that keeps invoice.overdue a one-shot event
// per invoice.
type OverdueServiceImpl struct {
	invoiceRepo ports.InvoiceRepository
	dispatcher  ports.WebhookDispatcher
	log         zerolog.Logger

	now func() time.Time
}

// NewOverdueService creates a new OverdueServiceImpl.
func NewOverdueService(
	invoiceRepo ports.InvoiceRepository,
	dispatcher ports.WebhookDispatcher,
	log zerolog.Logger,
) *OverdueServiceImpl {
	return &OverdueServiceImpl{
		invoiceRepo: invoiceRepo,
		dispatcher:  dispatcher,
		log:         log,
		now:         time.Now,
	}
}

// Sweep emits invoice.overdue for every invoice that crossed its due
// date with a balance outstanding and has not been notified before.
func (s *OverdueServiceImpl) Sweep(ctx context.Context, today time.Time) (*ports.SweepReport, error) {
	today = dateOnlyUTC(today)

	candidates, err := s.invoiceRepo.ListUnsettledDueBefore(ctx, today)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list unsettled invoices: %w", err))
	}

	report := &ports.SweepReport{Scanned: len(candidates)}
	for i := range candidates {
		invoice := &candidates[i]
		if invoice.Classify(today) != domain.StatusOverdue {
			continue
		}

		totals, err := invoice.Totals()
		if err != nil {
			report.Failed++
			continue
		}

		stampedAt := s.now().UTC()
		if err := s.invoiceRepo.MarkOverdueNotified(ctx, invoice.ID, stampedAt); err != nil {
			report.Failed++
			s.log.Error().Err(err).Str("invoice_id", invoice.ID.String()).Msg("failed to stamp overdue notification")
			continue
		}

		s.dispatcher.Dispatch(ctx, domain.InvoiceEvent{
			Kind:          domain.EventInvoiceOverdue,
			InvoiceID:     invoice.ID,
			InvoiceNumber: invoice.Number,
			CustomerID:    invoice.CustomerID,
			GrandTotal:    totals.GrandTotal,
			BalanceDue:    totals.BalanceDue,
			OccurredAt:    stampedAt,
		})
		report.Notified++
	}

	s.log.Info().
		Int("scanned", report.Scanned).
		Int("notified", report.Notified).
		Int("failed", report.Failed).
		Msg("overdue sweep complete")

	return report, nil
}
