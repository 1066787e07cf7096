package service

import (
	"context"
	"fmt"

	"crm-billing-engine/internal/core/ports"
	"crm-billing-engine/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ReportingServiceImpl implements ports.ReportingService.
type ReportingServiceImpl struct {
	invoiceRepo ports.InvoiceRepository
	log         zerolog.Logger
}

// NewReportingService creates a new ReportingServiceImpl.
func NewReportingService(invoiceRepo ports.InvoiceRepository, log zerolog.Logger) *ReportingServiceImpl {
	return &ReportingServiceImpl{invoiceRepo: invoiceRepo, log: log}
}

// GetStats returns aggregated billing figures for the requested window.
func (s *ReportingServiceImpl) GetStats(ctx context.Context, params ports.StatsParams) (*ports.InvoiceStats, error) {
	stats, err := s.invoiceRepo.GetStats(ctx, params)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get stats: %w", err))
	}
	return stats, nil
}

// MonthlyRevenue returns collected amounts per calendar month. Months
// without payments are filled with zero so the caller always gets
// twelve rows.
func (s *ReportingServiceImpl) MonthlyRevenue(ctx context.Context, year int) ([]ports.MonthlyRevenue, error) {
	if year < 2000 || year > 2200 {
		return nil, apperror.Validation("year out of range")
	}

	rows, err := s.invoiceRepo.MonthlyRevenue(ctx, year)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("monthly revenue: %w", err))
	}

	out := make([]ports.MonthlyRevenue, 12)
	for i := range out {
		out[i] = ports.MonthlyRevenue{Month: i + 1, Collected: decimal.Zero}
	}
	for _, row := range rows {
		if row.Month >= 1 && row.Month <= 12 {
			out[row.Month-1].Collected = row.Collected
		}
	}
	return out, nil
}
