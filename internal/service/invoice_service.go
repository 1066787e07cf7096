package service

import (
	"context"
	"fmt"
	"time"

	"crm-billing-engine/config"
	"crm-billing-engine/internal/core/domain"
	"crm-billing-engine/internal/core/ports"
	"crm-billing-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// InvoiceServiceImpl implements ports.InvoiceService.
type InvoiceServiceImpl struct {
	invoiceRepo  ports.InvoiceRepository
	customerRepo ports.CustomerRepository
	transactor   ports.DBTransactor
	dispatcher   ports.WebhookDispatcher
	activity     ports.ActivityService
	cfg          config.BillingConfig
	log          zerolog.Logger

	now func() time.Time // overridable in tests
}

// NewInvoiceService creates a new InvoiceServiceImpl.
func NewInvoiceService(
	invoiceRepo ports.InvoiceRepository,
	customerRepo ports.CustomerRepository,
	transactor ports.DBTransactor,
	dispatcher ports.WebhookDispatcher,
	activity ports.ActivityService,
	cfg config.BillingConfig,
	log zerolog.Logger,
) *InvoiceServiceImpl {
	return &InvoiceServiceImpl{
		invoiceRepo:  invoiceRepo,
		customerRepo: customerRepo,
		transactor:   transactor,
		dispatcher:   dispatcher,
		activity:     activity,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
	}
}

// Create validates the line items, allocates a sequential invoice number
// and persists the invoice atomically, then emits invoice.created.
func (s *InvoiceServiceImpl) Create(ctx context.Context, req ports.CreateInvoiceRequest) (*domain.Invoice, error) {
	if err := domain.ValidateItems(req.Items); err != nil {
		return nil, err
	}

	customer, err := s.customerRepo.GetByID(ctx, req.CustomerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("fetch customer: %w", err))
	}
	if customer == nil {
		return nil, apperror.ErrNotFound("customer")
	}

	issueDate := dateOnlyUTC(req.IssueDate)
	dueDate := issueDate.AddDate(0, 0, s.cfg.DefaultDueDays)
	if req.DueDate != nil {
		dueDate = dateOnlyUTC(*req.DueDate)
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	seq, err := s.invoiceRepo.NextNumber(ctx, dbTx, issueDate.Year())
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("allocate invoice number: %w", err))
	}

	nowTime := s.now().UTC()
	invoice := &domain.Invoice{
		ID:             uuid.New(),
		Number:         fmt.Sprintf("%s-%d-%05d", s.cfg.NumberPrefix, issueDate.Year(), seq),
		CustomerID:     req.CustomerID,
		IssueDate:      issueDate,
		DueDate:        dueDate,
		Status:         domain.StatusDraft,
		Notes:          req.Notes,
		Items:          req.Items,
		TemplateID:     req.TemplateID,
		OccurrenceDate: req.OccurrenceDate,
		CreatedAt:      nowTime,
		UpdatedAt:      nowTime,
	}

	if err := s.invoiceRepo.Create(ctx, dbTx, invoice); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("invoice_id", invoice.ID.String()).
		Str("invoice_number", invoice.Number).
		Str("customer_id", invoice.CustomerID.String()).
		Msg("invoice created")

	s.emit(ctx, domain.EventInvoiceCreated, invoice)
	s.activity.Record(ctx, &domain.ActivityEntry{
		Action:       domain.ActivityCreate,
		ResourceType: "invoice",
		ResourceID:   invoice.ID.String(),
		Detail:       fmt.Sprintf("invoice %s created", invoice.Number),
	})

	return s.project(invoice), nil
}

// Get returns the invoice with its derived status projected.
func (s *InvoiceServiceImpl) Get(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	invoice, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("fetch invoice: %w", err))
	}
	if invoice == nil {
		return nil, apperror.ErrNotFound("invoice")
	}
	return s.project(invoice), nil
}

// List returns invoices with derived statuses projected. The status
// filter matches against the derived bucket, so filtering happens here
// after classification rather than in SQL.
func (s *InvoiceServiceImpl) List(ctx context.Context, params ports.InvoiceListParams) ([]domain.Invoice, int64, error) {
	wantStatus := params.Status
	params.Status = nil

	invoices, total, err := s.invoiceRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list invoices: %w", err))
	}

	today := s.now()
	out := make([]domain.Invoice, 0, len(invoices))
	for i := range invoices {
		derived := invoices[i].Classify(today)
		if wantStatus != nil && derived != *wantStatus {
			continue
		}
		invoices[i].Status = derived
		out = append(out, invoices[i])
	}
	if wantStatus != nil {
		total = int64(len(out))
	}
	return out, total, nil
}

// ReplaceItems swaps the invoice's line items wholesale. Only invoices
// still anchored at draft or sent may change.
func (s *InvoiceServiceImpl) ReplaceItems(ctx context.Context, id uuid.UUID, items []domain.LineItem) (*domain.Invoice, error) {
	if err := domain.ValidateItems(items); err != nil {
		return nil, err
	}

	invoice, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("fetch invoice: %w", err))
	}
	if invoice == nil {
		return nil, apperror.ErrNotFound("invoice")
	}
	if !invoice.IsEditable() {
		return nil, apperror.ErrInvoiceNotEditable()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.invoiceRepo.ReplaceItems(ctx, dbTx, id, items); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	invoice.Items = items
	invoice.UpdatedAt = s.now().UTC()

	s.activity.Record(ctx, &domain.ActivityEntry{
		Action:       domain.ActivityUpdate,
		ResourceType: "invoice",
		ResourceID:   invoice.ID.String(),
		Detail:       fmt.Sprintf("line items replaced on %s", invoice.Number),
	})

	return s.project(invoice), nil
}

// RecordPayment appends a payment to the invoice. Overpayment and
// payments against cancelled invoices are rejected; a payment that
// clears the balance emits invoice.paid alongside payment.received.
func (s *InvoiceServiceImpl) RecordPayment(ctx context.Context, req ports.RecordPaymentRequest) (*domain.Invoice, error) {
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidPaymentAmount()
	}

	invoice, err := s.invoiceRepo.GetByID(ctx, req.InvoiceID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("fetch invoice: %w", err))
	}
	if invoice == nil {
		return nil, apperror.ErrNotFound("invoice")
	}
	if invoice.Status == domain.StatusCancelled {
		return nil, apperror.ErrInvoiceCancelled()
	}

	totals, err := invoice.Totals()
	if err != nil {
		return nil, err
	}
	if req.Amount.GreaterThan(totals.BalanceDue) {
		return nil, apperror.ErrOverpayment(totals.BalanceDue.StringFixed(2))
	}

	payment := &domain.Payment{
		ID:        uuid.New(),
		InvoiceID: invoice.ID,
		Amount:    req.Amount,
		PaidOn:    dateOnlyUTC(req.PaidOn),
		Method:    req.Method,
		Notes:     req.Notes,
		CreatedAt: s.now().UTC(),
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.invoiceRepo.AddPayment(ctx, dbTx, payment); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	invoice.Payments = append(invoice.Payments, *payment)

	s.log.Info().
		Str("invoice_id", invoice.ID.String()).
		Str("amount", req.Amount.StringFixed(2)).
		Msg("payment recorded")

	s.emit(ctx, domain.EventPaymentReceived, invoice)
	if settled, _ := invoice.Totals(); !settled.BalanceDue.IsPositive() {
		s.emit(ctx, domain.EventInvoicePaid, invoice)
	}
	s.activity.Record(ctx, &domain.ActivityEntry{
		Action:       domain.ActivityPayment,
		ResourceType: "invoice",
		ResourceID:   invoice.ID.String(),
		Detail:       fmt.Sprintf("payment of %s recorded on %s", req.Amount.StringFixed(2), invoice.Number),
	})

	return s.project(invoice), nil
}

// DeletePayment removes a mistakenly recorded payment and returns the
// invoice with its restored balance. Payments on cancelled invoices are
// frozen along with everything else.
func (s *InvoiceServiceImpl) DeletePayment(ctx context.Context, invoiceID, paymentID uuid.UUID) (*domain.Invoice, error) {
	invoice, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("fetch invoice: %w", err))
	}
	if invoice == nil {
		return nil, apperror.ErrNotFound("invoice")
	}
	if invoice.Status == domain.StatusCancelled {
		return nil, apperror.ErrInvoiceCancelled()
	}

	idx := -1
	for i := range invoice.Payments {
		if invoice.Payments[i].ID == paymentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, apperror.ErrNotFound("payment")
	}
	removed := invoice.Payments[idx]

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.invoiceRepo.DeletePayment(ctx, dbTx, invoiceID, paymentID); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("delete payment: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	invoice.Payments = append(invoice.Payments[:idx], invoice.Payments[idx+1:]...)

	s.log.Info().
		Str("invoice_id", invoice.ID.String()).
		Str("payment_id", paymentID.String()).
		Str("amount", removed.Amount.StringFixed(2)).
		Msg("payment deleted")

	s.activity.Record(ctx, &domain.ActivityEntry{
		Action:       domain.ActivityPayment,
		ResourceType: "invoice",
		ResourceID:   invoice.ID.String(),
		Detail:       fmt.Sprintf("payment of %s deleted from %s", removed.Amount.StringFixed(2), invoice.Number),
	})

	return s.project(invoice), nil
}

// SetStatus moves the stored anchor. Only draft, sent and cancelled are
// ever stored; requesting a derived bucket is rejected. Cancellation is
// terminal.
func (s *InvoiceServiceImpl) SetStatus(ctx context.Context, id uuid.UUID, status domain.InvoiceStatus) (*domain.Invoice, error) {
	invoice, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("fetch invoice: %w", err))
	}
	if invoice == nil {
		return nil, apperror.ErrNotFound("invoice")
	}
	if invoice.Status == domain.StatusCancelled {
		return nil, apperror.ErrInvoiceCancelled()
	}
	switch status {
	case domain.StatusDraft, domain.StatusSent, domain.StatusCancelled:
	default:
		return nil, apperror.ErrInvalidStatusTransition(string(invoice.Status), string(status))
	}
	if invoice.Status == status {
		return s.project(invoice), nil
	}

	if err := s.invoiceRepo.UpdateStatus(ctx, id, status); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update status: %w", err))
	}

	from := invoice.Status
	invoice.Status = status
	invoice.UpdatedAt = s.now().UTC()

	s.log.Info().
		Str("invoice_id", invoice.ID.String()).
		Str("from", string(from)).
		Str("to", string(status)).
		Msg("invoice status changed")

	s.activity.Record(ctx, &domain.ActivityEntry{
		Action:       domain.ActivityStatusChange,
		ResourceType: "invoice",
		ResourceID:   invoice.ID.String(),
		Detail:       fmt.Sprintf("%s: %s -> %s", invoice.Number, from, status),
	})

	return s.project(invoice), nil
}

// project returns a copy with the derived status in place of the anchor.
func (s *InvoiceServiceImpl) project(invoice *domain.Invoice) *domain.Invoice {
	out := *invoice
	out.Status = invoice.Classify(s.now())
	return &out
}

// emit builds the event payload from current totals and hands it to the
// dispatcher. Dispatch failures never reach the caller.
func (s *InvoiceServiceImpl) emit(ctx context.Context, kind domain.EventKind, invoice *domain.Invoice) {
	totals, err := invoice.Totals()
	if err != nil {
		return
	}
	s.dispatcher.Dispatch(ctx, domain.InvoiceEvent{
		Kind:          kind,
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.Number,
		CustomerID:    invoice.CustomerID,
		GrandTotal:    totals.GrandTotal,
		BalanceDue:    totals.BalanceDue,
		OccurredAt:    s.now().UTC(),
	})
}

func dateOnlyUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
