package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crm-billing-engine/pkg/apperror"
)

// Cadence is the recurrence period of a template.
type Cadence string

const (
	CadenceWeekly    Cadence = "weekly"
	CadenceMonthly   Cadence = "monthly"
	CadenceQuarterly Cadence = "quarterly"
	CadenceYearly    Cadence = "yearly"
)

// Valid reports whether the cadence is one of the four supported periods.
func (c Cadence) Valid() bool {
	switch c {
	case CadenceWeekly, CadenceMonthly, CadenceQuarterly, CadenceYearly:
		return true
	}
	return false
}

// TemplateLine is one row of a recurring template's line-item blueprint.
// Lines are copied verbatim onto every generated invoice.
type TemplateLine struct {
	ID          uuid.UUID       `json:"id"`
	TemplateID  uuid.UUID       `json:"template_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"`
}

// RecurringTemplate periodically materializes invoices for a customer.
//
// AnchorDate is the next occurrence that is due. After generation it
// advances by one cadence step; the template is never deleted while
// generated invoices exist, only deactivated.
type RecurringTemplate struct {
	ID         uuid.UUID  `json:"id"`
	CustomerID uuid.UUID  `json:"customer_id"`
	Cadence    Cadence    `json:"cadence"`
	AnchorDate time.Time  `json:"anchor_date"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	Active     bool       `json:"active"`
	Notes      string     `json:"notes,omitempty"`

	Lines []TemplateLine `json:"lines"`

	LastOccurrence *time.Time `json:"last_occurrence,omitempty"`
	LastInvoiceID  *uuid.UUID `json:"last_invoice_id,omitempty"`
	TotalGenerated int        `json:"total_generated"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate rejects malformed templates before the engine touches them.
func (t *RecurringTemplate) Validate() error {
	if !t.Cadence.Valid() {
		return apperror.ErrUnknownCadence(string(t.Cadence))
	}
	if len(t.Lines) == 0 {
		return apperror.ErrTemplateWithoutItems()
	}
	return nil
}

// BlueprintItems converts the template's lines into invoice line items.
func (t *RecurringTemplate) BlueprintItems() []LineItem {
	items := make([]LineItem, 0, len(t.Lines))
	for _, l := range t.Lines {
		items = append(items, LineItem{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			VATRate:     l.VATRate,
		})
	}
	return items
}

// NextOccurrence advances a date by one cadence step using calendar
// arithmetic. Month-based cadences keep the day of month where possible
// and clamp to the last valid day of shorter months, so Jan 31 plus one
// month lands on Feb 28 (or Feb 29 in a leap year).
func NextOccurrence(from time.Time, cadence Cadence) (time.Time, error) {
	switch cadence {
	case CadenceWeekly:
		return from.AddDate(0, 0, 7), nil
	case CadenceMonthly:
		return addMonthsClamped(from, 1), nil
	case CadenceQuarterly:
		return addMonthsClamped(from, 3), nil
	case CadenceYearly:
		return addMonthsClamped(from, 12), nil
	default:
		return time.Time{}, apperror.ErrUnknownCadence(string(cadence))
	}
}

// addMonthsClamped adds months without the normalization overflow of
// time.AddDate (which turns Jan 31 + 1 month into Mar 2/3).
func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	firstOfTarget := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	last := daysInMonth(firstOfTarget.Year(), firstOfTarget.Month())
	if d > last {
		d = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), d, 0, 0, 0, 0, t.Location())
}

func daysInMonth(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
