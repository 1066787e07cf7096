package dto

import (
	"github.com/shopspring/decimal"
)

// CreateCustomerRequest is the request body for customer creation.
type CreateCustomerRequest struct {
	Name  string `json:"name" binding:"required,min=1,max=200"`
	Email string `json:"email" binding:"omitempty,email"`
}

// LineItemRequest is one billed row in a create or replace request.
type LineItemRequest struct {
	Description string          `json:"description" binding:"required,max=500"`
	Quantity    decimal.Decimal `json:"quantity" binding:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price" binding:"required"`
	VATRate     decimal.Decimal `json:"vat_rate"`
}

// CreateInvoiceRequest is the request body for invoice creation.
// Dates use the 2006-01-02 form.
type CreateInvoiceRequest struct {
	CustomerID string            `json:"customer_id" binding:"required,uuid"`
	IssueDate  string            `json:"issue_date" binding:"required"`
	DueDate    *string           `json:"due_date,omitempty"`
	Notes      string            `json:"notes" binding:"max=2000"`
	Items      []LineItemRequest `json:"items" binding:"required,min=1,dive"`
}

// ReplaceItemsRequest swaps an invoice's line items wholesale.
type ReplaceItemsRequest struct {
	Items []LineItemRequest `json:"items" binding:"required,min=1,dive"`
}

// RecordPaymentRequest is the request body for recording a payment.
type RecordPaymentRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
	PaidOn string          `json:"paid_on" binding:"required"`
	Method string          `json:"method" binding:"required,max=50"`
	Notes  string          `json:"notes" binding:"max=2000"`
}

// SetStatusRequest moves an invoice between user-set statuses.
type SetStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=draft sent cancelled"`
}

// CreateTemplateRequest is the request body for recurring template creation.
type CreateTemplateRequest struct {
	CustomerID string            `json:"customer_id" binding:"required,uuid"`
	Cadence    string            `json:"cadence" binding:"required,oneof=weekly monthly quarterly yearly"`
	AnchorDate string            `json:"anchor_date" binding:"required"`
	EndDate    *string           `json:"end_date,omitempty"`
	Notes      string            `json:"notes" binding:"max=2000"`
	Lines      []LineItemRequest `json:"lines" binding:"required,min=1,dive"`
}

// SetActiveRequest toggles template generation.
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SubscribeRequest registers a webhook endpoint.
type SubscribeRequest struct {
	URL         string   `json:"url" binding:"required,safe_url"`
	Secret      string   `json:"secret" binding:"required,min=16,max=128"`
	Events      []string `json:"events" binding:"required,min=1"`
	Description string   `json:"description" binding:"max=500"`
}

// LineItemResponse is one billed row with its derived amounts.
type LineItemResponse struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	VATRate     string `json:"vat_rate"`
	LineTotal   string `json:"line_total"`
	VATAmount   string `json:"vat_amount"`
}

// PaymentResponse is one recorded payment.
type PaymentResponse struct {
	ID     string `json:"id"`
	Amount string `json:"amount"`
	PaidOn string `json:"paid_on"`
	Method string `json:"method"`
	Notes  string `json:"notes,omitempty"`
}

// InvoiceResponse is the full invoice view with derived totals and the
// derived status projected onto the status field.
type InvoiceResponse struct {
	ID             string             `json:"id"`
	Number         string             `json:"number"`
	CustomerID     string             `json:"customer_id"`
	IssueDate      string             `json:"issue_date"`
	DueDate        string             `json:"due_date"`
	Status         string             `json:"status"`
	Notes          string             `json:"notes,omitempty"`
	Items          []LineItemResponse `json:"items"`
	Payments       []PaymentResponse  `json:"payments"`
	Subtotal       string             `json:"subtotal"`
	VATTotal       string             `json:"vat_total"`
	GrandTotal     string             `json:"grand_total"`
	Paid           string             `json:"paid"`
	BalanceDue     string             `json:"balance_due"`
	TemplateID     *string            `json:"template_id,omitempty"`
	OccurrenceDate *string            `json:"occurrence_date,omitempty"`
	CreatedAt      string             `json:"created_at"`
}

// InvoiceListResponse wraps a paginated invoice list.
type InvoiceListResponse struct {
	Items      []InvoiceResponse `json:"items"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

// TemplateResponse is the recurring template view.
type TemplateResponse struct {
	ID             string             `json:"id"`
	CustomerID     string             `json:"customer_id"`
	Cadence        string             `json:"cadence"`
	AnchorDate     string             `json:"anchor_date"`
	EndDate        *string            `json:"end_date,omitempty"`
	Active         bool               `json:"active"`
	Notes          string             `json:"notes,omitempty"`
	Lines          []LineItemResponse `json:"lines"`
	LastOccurrence *string            `json:"last_occurrence,omitempty"`
	LastInvoiceID  *string            `json:"last_invoice_id,omitempty"`
	TotalGenerated int                `json:"total_generated"`
	CreatedAt      string             `json:"created_at"`
}

// TemplateListResponse wraps a paginated template list.
type TemplateListResponse struct {
	Items      []TemplateResponse `json:"items"`
	Total      int64              `json:"total"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
	TotalPages int                `json:"total_pages"`
}

// RunReportResponse summarizes a batch generation run.
type RunReportResponse struct {
	Due       int      `json:"due"`
	Generated int      `json:"generated"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// StatsResponse is the dashboard aggregate view.
type StatsResponse struct {
	TotalInvoices  int64  `json:"total_invoices"`
	TotalInvoiced  string `json:"total_invoiced"`
	TotalCollected string `json:"total_collected"`
	Outstanding    string `json:"outstanding"`
	OverdueCount   int64  `json:"overdue_count"`
	OverdueAmount  string `json:"overdue_amount"`
	DraftCount     int64  `json:"draft_count"`
	CancelledCount int64  `json:"cancelled_count"`
	PaymentsCount  int64  `json:"payments_count"`
}

// RevenueMonthResponse is one month of collected revenue.
type RevenueMonthResponse struct {
	Month     int    `json:"month"`
	Collected string `json:"collected"`
}

// RevenueResponse is the per-month revenue view for one year.
type RevenueResponse struct {
	Year   int                    `json:"year"`
	Months []RevenueMonthResponse `json:"months"`
}

// AttemptResponse is one row of the webhook delivery log.
type AttemptResponse struct {
	ID          string  `json:"id"`
	Event       string  `json:"event"`
	Attempt     int     `json:"attempt"`
	HTTPStatus  *int    `json:"http_status,omitempty"`
	Error       *string `json:"error,omitempty"`
	Outcome     string  `json:"outcome"`
	AttemptedAt string  `json:"attempted_at"`
}

// AttemptListResponse wraps a paginated delivery log.
type AttemptListResponse struct {
	Items      []AttemptResponse `json:"items"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}
