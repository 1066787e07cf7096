package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm-billing-engine/internal/core/domain"
	"crm-billing-engine/internal/core/ports"
	"crm-billing-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// RecurringServiceImpl implements ports.RecurringService.
type RecurringServiceImpl struct {
	recurringRepo ports.RecurringRepository
	invoiceSvc    ports.InvoiceService
	transactor    ports.DBTransactor
	activity      ports.ActivityService
	log           zerolog.Logger
}

// NewRecurringService creates a new RecurringServiceImpl.
func NewRecurringService(
	recurringRepo ports.RecurringRepository,
	invoiceSvc ports.InvoiceService,
	transactor ports.DBTransactor,
	activity ports.ActivityService,
	log zerolog.Logger,
) *RecurringServiceImpl {
	return &RecurringServiceImpl{
		recurringRepo: recurringRepo,
		invoiceSvc:    invoiceSvc,
		transactor:    transactor,
		activity:      activity,
		log:           log,
	}
}

// Create validates and persists a new template. Templates start active
// unless explicitly created otherwise.
func (s *RecurringServiceImpl) Create(ctx context.Context, template *domain.RecurringTemplate) (*domain.RecurringTemplate, error) {
	if err := template.Validate(); err != nil {
		return nil, err
	}
	if err := domain.ValidateItems(template.BlueprintItems()); err != nil {
		return nil, err
	}

	if template.ID == uuid.Nil {
		template.ID = uuid.New()
	}
	template.AnchorDate = dateOnlyUTC(template.AnchorDate)
	now := time.Now().UTC()
	template.CreatedAt = now
	template.UpdatedAt = now

	if err := s.recurringRepo.Create(ctx, template); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create template: %w", err))
	}

	s.activity.Record(ctx, &domain.ActivityEntry{
		Action:       domain.ActivityCreate,
		ResourceType: "recurring_template",
		ResourceID:   template.ID.String(),
		Detail:       fmt.Sprintf("%s template created, first occurrence %s", template.Cadence, template.AnchorDate.Format("2006-01-02")),
	})

	return template, nil
}

// Get fetches a single template.
func (s *RecurringServiceImpl) Get(ctx context.Context, id uuid.UUID) (*domain.RecurringTemplate, error) {
	template, err := s.recurringRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("fetch template: %w", err))
	}
	if template == nil {
		return nil, apperror.ErrNotFound("recurring template")
	}
	return template, nil
}

// List pages through templates.
func (s *RecurringServiceImpl) List(ctx context.Context, activeOnly bool, page, pageSize int) ([]domain.RecurringTemplate, int64, error) {
	templates, total, err := s.recurringRepo.List(ctx, activeOnly, page, pageSize)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list templates: %w", err))
	}
	return templates, total, nil
}

// SetActive pauses or resumes generation. Deactivation never touches
// invoices already generated.
func (s *RecurringServiceImpl) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	template, err := s.recurringRepo.GetByID(ctx, id)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("fetch template: %w", err))
	}
	if template == nil {
		return apperror.ErrNotFound("recurring template")
	}
	if err := s.recurringRepo.SetActive(ctx, id, active); err != nil {
		return apperror.InternalError(fmt.Errorf("set active: %w", err))
	}

	verb := "paused"
	if active {
		verb = "resumed"
	}
	s.activity.Record(ctx, &domain.ActivityEntry{
		Action:       domain.ActivityUpdate,
		ResourceType: "recurring_template",
		ResourceID:   id.String(),
		Detail:       "template " + verb,
	})
	return nil
}

// Tick generates the invoice for the template's due occurrence and
// advances the anchor by one cadence step. The template row is locked
// for the duration, so concurrent ticks serialize; the unique
// (template_id, occurrence_date) constraint makes a replay of an
// already-generated occurrence a no-op.
//
// Returns (nil, nil) when nothing is due or the occurrence was already
// generated.
func (s *RecurringServiceImpl) Tick(ctx context.Context, templateID uuid.UUID, asOf time.Time) (*domain.Invoice, error) {
	asOf = dateOnlyUTC(asOf)

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	template, err := s.recurringRepo.GetByIDForUpdate(ctx, dbTx, templateID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock template: %w", err))
	}
	if template == nil {
		return nil, apperror.ErrNotFound("recurring template")
	}
	if !template.Active {
		return nil, apperror.ErrTemplateDisabled()
	}
	if err := template.Validate(); err != nil {
		return nil, err
	}

	occurrence := dateOnlyUTC(template.AnchorDate)
	if occurrence.After(asOf) {
		return nil, nil
	}

	// Past the end date: the template retires instead of generating.
	if template.EndDate != nil && occurrence.After(dateOnlyUTC(*template.EndDate)) {
		template.Active = false
		template.UpdatedAt = time.Now().UTC()
		if err := s.recurringRepo.Update(ctx, dbTx, template); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("deactivate template: %w", err))
		}
		if err := dbTx.Commit(ctx); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
		}
		s.log.Info().Str("template_id", templateID.String()).Msg("template reached end date, deactivated")
		return nil, nil
	}

	invoice, err := s.invoiceSvc.Create(ctx, ports.CreateInvoiceRequest{
		CustomerID:     template.CustomerID,
		IssueDate:      occurrence,
		Notes:          template.Notes,
		Items:          template.BlueprintItems(),
		TemplateID:     &template.ID,
		OccurrenceDate: &occurrence,
	})
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && appErr.Code == "BIL_005" {
			// The occurrence exists from an earlier run. Advance past it
			// so the template does not stall.
			s.log.Warn().
				Str("template_id", templateID.String()).
				Str("occurrence", occurrence.Format("2006-01-02")).
				Msg("occurrence already generated, advancing anchor")
			if err := s.advance(ctx, dbTx, template, occurrence, nil); err != nil {
				return nil, err
			}
			if err := dbTx.Commit(ctx); err != nil {
				return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
			}
			return nil, nil
		}
		return nil, err
	}

	if err := s.advance(ctx, dbTx, template, occurrence, &invoice.ID); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("template_id", templateID.String()).
		Str("invoice_id", invoice.ID.String()).
		Str("occurrence", occurrence.Format("2006-01-02")).
		Str("next", template.AnchorDate.Format("2006-01-02")).
		Msg("recurring invoice generated")

	s.activity.Record(ctx, &domain.ActivityEntry{
		Action:       domain.ActivityGenerate,
		ResourceType: "recurring_template",
		ResourceID:   templateID.String(),
		Detail:       fmt.Sprintf("generated %s for occurrence %s", invoice.Number, occurrence.Format("2006-01-02")),
	})

	return invoice, nil
}

// advance moves the anchor one cadence step past the occurrence and
// stamps the generation bookkeeping. Crossing the end date deactivates
// the template.
func (s *RecurringServiceImpl) advance(ctx context.Context, dbTx pgx.Tx, template *domain.RecurringTemplate, occurrence time.Time, invoiceID *uuid.UUID) error {
	next, err := domain.NextOccurrence(occurrence, template.Cadence)
	if err != nil {
		return err
	}

	template.AnchorDate = next
	template.LastOccurrence = &occurrence
	if invoiceID != nil {
		template.LastInvoiceID = invoiceID
		template.TotalGenerated++
	}
	if template.EndDate != nil && next.After(dateOnlyUTC(*template.EndDate)) {
		template.Active = false
	}
	template.UpdatedAt = time.Now().UTC()

	if err := s.recurringRepo.Update(ctx, dbTx, template); err != nil {
		return apperror.InternalError(fmt.Errorf("advance template: %w", err))
	}
	return nil
}

// RunDue ticks every template due as of the given date. A failing
// template is reported and skipped; it never blocks the rest of the
// batch.
func (s *RecurringServiceImpl) RunDue(ctx context.Context, asOf time.Time) (*ports.RunReport, error) {
	due, err := s.recurringRepo.ListDue(ctx, dateOnlyUTC(asOf))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list due templates: %w", err))
	}

	report := &ports.RunReport{Due: len(due)}
	for _, template := range due {
		invoice, err := s.Tick(ctx, template.ID, asOf)
		switch {
		case err != nil:
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", template.ID, err))
			s.log.Error().Err(err).Str("template_id", template.ID.String()).Msg("template generation failed")
		case invoice == nil:
			report.Skipped++
		default:
			report.Generated++
		}
	}

	s.log.Info().
		Int("due", report.Due).
		Int("generated", report.Generated).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("recurring run complete")

	return report, nil
}
