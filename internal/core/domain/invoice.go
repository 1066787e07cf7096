package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crm-billing-engine/pkg/apperror"
)

// InvoiceStatus represents an invoice's lifecycle bucket.
//
// Only draft, sent and cancelled are ever stored: they are the explicit
// anchors set by user actions. partially_paid, paid and overdue are derived
// projections computed by Classify from amounts and dates, never persisted.
type InvoiceStatus string

const (
	StatusDraft         InvoiceStatus = "draft"
	StatusSent          InvoiceStatus = "sent"
	StatusPartiallyPaid InvoiceStatus = "partially_paid"
	StatusPaid          InvoiceStatus = "paid"
	StatusOverdue       InvoiceStatus = "overdue"
	StatusCancelled     InvoiceStatus = "cancelled"
)

// LineItem is a single billed row of an invoice.
type LineItem struct {
	ID          uuid.UUID       `json:"id"`
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"` // fraction in [0,1], e.g. 0.20
}

// Payment is a full or partial payment recorded against an invoice.
type Payment struct {
	ID        uuid.UUID       `json:"id"`
	InvoiceID uuid.UUID       `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	PaidOn    time.Time       `json:"paid_on"`
	Method    string          `json:"method"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Invoice is a bill issued to a customer.
type Invoice struct {
	ID         uuid.UUID     `json:"id"`
	Number     string        `json:"number"`
	CustomerID uuid.UUID     `json:"customer_id"`
	IssueDate  time.Time     `json:"issue_date"`
	DueDate    time.Time     `json:"due_date"`
	Status     InvoiceStatus `json:"status"` // stored anchor: draft, sent or cancelled
	Notes      string        `json:"notes,omitempty"`
	Items      []LineItem    `json:"items"`
	Payments   []Payment     `json:"payments"`

	// Provenance when generated by the recurrence engine. The pair
	// (TemplateID, OccurrenceDate) is unique in storage, which makes
	// repeated ticks for the same occurrence a no-op.
	TemplateID     *uuid.UUID `json:"template_id,omitempty"`
	OccurrenceDate *time.Time `json:"occurrence_date,omitempty"`

	OverdueNotifiedAt *time.Time `json:"overdue_notified_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Totals holds the amounts derived from line items and payments.
type Totals struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	VATTotal   decimal.Decimal `json:"vat_total"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	Paid       decimal.Decimal `json:"paid"`
	BalanceDue decimal.Decimal `json:"balance_due"`
}

// ValidateItems checks every line item against the billing invariants:
// quantity positive, unit price non-negative, VAT rate a fraction in [0,1].
func ValidateItems(items []LineItem) error {
	for _, it := range items {
		if !it.Quantity.IsPositive() {
			return apperror.ErrInvalidQuantity()
		}
		if it.UnitPrice.IsNegative() {
			return apperror.ErrInvalidUnitPrice()
		}
		if it.VATRate.IsNegative() || it.VATRate.GreaterThan(decimal.NewFromInt(1)) {
			return apperror.ErrInvalidVATRate()
		}
	}
	return nil
}

// LineTotal returns the item's net amount rounded to the currency minor unit.
func (it LineItem) LineTotal() decimal.Decimal {
	return it.Quantity.Mul(it.UnitPrice).Round(2)
}

// VATAmount returns the item's VAT rounded to the currency minor unit.
// Rounding happens per line, before summation, so aggregates never drift
// from the sum of their rows.
func (it LineItem) VATAmount() decimal.Decimal {
	return it.Quantity.Mul(it.UnitPrice).Mul(it.VATRate).Round(2)
}

// CalculateTotals derives subtotal, VAT total, grand total and balance due
// from line items and recorded payments. Pure: same inputs, same result.
func CalculateTotals(items []LineItem, payments []Payment) (Totals, error) {
	if err := ValidateItems(items); err != nil {
		return Totals{}, err
	}

	subtotal := decimal.Zero
	vatTotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal())
		vatTotal = vatTotal.Add(it.VATAmount())
	}

	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}

	grand := subtotal.Add(vatTotal)
	return Totals{
		Subtotal:   subtotal,
		VATTotal:   vatTotal,
		GrandTotal: grand,
		Paid:       paid,
		BalanceDue: grand.Sub(paid),
	}, nil
}

// Totals computes the invoice's derived amounts.
func (inv *Invoice) Totals() (Totals, error) {
	return CalculateTotals(inv.Items, inv.Payments)
}

// PaidAmount returns the sum of recorded payments.
func (inv *Invoice) PaidAmount() decimal.Decimal {
	paid := decimal.Zero
	for _, p := range inv.Payments {
		paid = paid.Add(p.Amount)
	}
	return paid
}

// IsEditable reports whether line items may still change.
func (inv *Invoice) IsEditable() bool {
	return inv.Status == StatusDraft || inv.Status == StatusSent
}

// Classify derives the invoice's display bucket from current data.
// Precedence, evaluated on every read:
//
//  1. cancelled is sticky
//  2. balance due zero -> paid
//  3. balance due positive and past the due date -> overdue
//  4. balance due positive but below the grand total -> partially_paid
//  5. otherwise the stored draft/sent anchor
//
// Re-evaluating at any time over unchanged data yields the same bucket.
func (inv *Invoice) Classify(today time.Time) InvoiceStatus {
	if inv.Status == StatusCancelled {
		return StatusCancelled
	}

	totals, err := inv.Totals()
	if err != nil {
		return inv.Status
	}

	if totals.GrandTotal.IsPositive() && !totals.BalanceDue.IsPositive() {
		return StatusPaid
	}
	if totals.BalanceDue.IsPositive() {
		if dateOnly(today).After(dateOnly(inv.DueDate)) {
			return StatusOverdue
		}
		if totals.BalanceDue.LessThan(totals.GrandTotal) {
			return StatusPartiallyPaid
		}
	}
	return inv.Status
}

// dateOnly truncates a timestamp to its calendar day in UTC, so a payment
// recorded on the due date never classifies as overdue.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
