package handler

import (
	"math"
	"time"

	"crm-billing-engine/internal/adapter/http/dto"
	"crm-billing-engine/internal/core/domain"
	"crm-billing-engine/internal/core/ports"
	"crm-billing-engine/pkg/apperror"
	"crm-billing-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// InvoiceHandler handles invoice lifecycle endpoints.
type InvoiceHandler struct {
	invoiceSvc  ports.InvoiceService
	activitySvc ports.ActivityService
}

// NewInvoiceHandler creates a new InvoiceHandler.
func NewInvoiceHandler(invoiceSvc ports.InvoiceService, activitySvc ports.ActivityService) *InvoiceHandler {
	return &InvoiceHandler{invoiceSvc: invoiceSvc, activitySvc: activitySvc}
}

// Create handles POST /api/v1/invoices.
func (h *InvoiceHandler) Create(c *gin.Context) {
	var req dto.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid customer id"))
		return
	}
	issueDate, err := parseDate(req.IssueDate)
	if err != nil {
		response.Error(c, apperror.Validation("issue_date must be YYYY-MM-DD"))
		return
	}
	var dueDate *time.Time
	if req.DueDate != nil {
		d, err := parseDate(*req.DueDate)
		if err != nil {
			response.Error(c, apperror.Validation("due_date must be YYYY-MM-DD"))
			return
		}
		dueDate = &d
	}

	invoice, err := h.invoiceSvc.Create(c.Request.Context(), ports.CreateInvoiceRequest{
		CustomerID: customerID,
		IssueDate:  issueDate,
		DueDate:    dueDate,
		Notes:      req.Notes,
		Items:      toLineItems(req.Items),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	resp, err := toInvoiceResponse(invoice)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, resp)
}

// Get handles GET /api/v1/invoices/:id.
func (h *InvoiceHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid invoice id"))
		return
	}

	invoice, err := h.invoiceSvc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp, err := toInvoiceResponse(invoice)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}

// List handles GET /api/v1/invoices.
func (h *InvoiceHandler) List(c *gin.Context) {
	page, pageSize := pagination(c)
	params := ports.InvoiceListParams{Page: page, PageSize: pageSize}

	if s := c.Query("customer_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			response.Error(c, apperror.Validation("invalid customer id"))
			return
		}
		params.CustomerID = &id
	}
	if s := c.Query("status"); s != "" {
		status := domain.InvoiceStatus(s)
		params.Status = &status
	}
	if s := c.Query("from"); s != "" {
		d, err := parseDate(s)
		if err != nil {
			response.Error(c, apperror.Validation("from must be YYYY-MM-DD"))
			return
		}
		params.From = &d
	}
	if s := c.Query("to"); s != "" {
		d, err := parseDate(s)
		if err != nil {
			response.Error(c, apperror.Validation("to must be YYYY-MM-DD"))
			return
		}
		params.To = &d
	}

	invoices, total, err := h.invoiceSvc.List(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.InvoiceResponse, 0, len(invoices))
	for i := range invoices {
		resp, err := toInvoiceResponse(&invoices[i])
		if err != nil {
			response.Error(c, err)
			return
		}
		items = append(items, *resp)
	}

	response.OK(c, dto.InvoiceListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	})
}

// ReplaceItems handles PUT /api/v1/invoices/:id/items.
func (h *InvoiceHandler) ReplaceItems(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid invoice id"))
		return
	}

	var req dto.ReplaceItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	invoice, err := h.invoiceSvc.ReplaceItems(c.Request.Context(), id, toLineItems(req.Items))
	if err != nil {
		response.Error(c, err)
		return
	}

	resp, err := toInvoiceResponse(invoice)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}

// RecordPayment handles POST /api/v1/invoices/:id/payments.
func (h *InvoiceHandler) RecordPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid invoice id"))
		return
	}

	var req dto.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	paidOn, err := parseDate(req.PaidOn)
	if err != nil {
		response.Error(c, apperror.Validation("paid_on must be YYYY-MM-DD"))
		return
	}

	invoice, err := h.invoiceSvc.RecordPayment(c.Request.Context(), ports.RecordPaymentRequest{
		InvoiceID: id,
		Amount:    req.Amount,
		PaidOn:    paidOn,
		Method:    req.Method,
		Notes:     req.Notes,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	resp, err := toInvoiceResponse(invoice)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, resp)
}

// DeletePayment handles DELETE /api/v1/invoices/:id/payments/:paymentID.
func (h *InvoiceHandler) DeletePayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid invoice id"))
		return
	}
	paymentID, err := uuid.Parse(c.Param("paymentID"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid payment id"))
		return
	}

	invoice, err := h.invoiceSvc.DeletePayment(c.Request.Context(), id, paymentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp, err := toInvoiceResponse(invoice)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}

// SetStatus handles POST /api/v1/invoices/:id/status.
func (h *InvoiceHandler) SetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid invoice id"))
		return
	}

	var req dto.SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	invoice, err := h.invoiceSvc.SetStatus(c.Request.Context(), id, domain.InvoiceStatus(req.Status))
	if err != nil {
		response.Error(c, err)
		return
	}

	resp, err := toInvoiceResponse(invoice)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}

// Activity handles GET /api/v1/invoices/:id/activity.
func (h *InvoiceHandler) Activity(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid invoice id"))
		return
	}

	entries, err := h.activitySvc.Timeline(c.Request.Context(), "invoice", id, 50)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"items": entries})
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

func toLineItems(items []dto.LineItemRequest) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, domain.LineItem{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			VATRate:     it.VATRate,
		})
	}
	return out
}

func toLineItemResponses(items []domain.LineItem) []dto.LineItemResponse {
	out := make([]dto.LineItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, dto.LineItemResponse{
			ID:          it.ID.String(),
			Description: it.Description,
			Quantity:    it.Quantity.String(),
			UnitPrice:   it.UnitPrice.String(),
			VATRate:     it.VATRate.String(),
			LineTotal:   it.LineTotal().String(),
			VATAmount:   it.VATAmount().String(),
		})
	}
	return out
}

// toInvoiceResponse converts a domain invoice, with its derived totals,
// to the API view.
func toInvoiceResponse(inv *domain.Invoice) (*dto.InvoiceResponse, error) {
	totals, err := inv.Totals()
	if err != nil {
		return nil, err
	}

	payments := make([]dto.PaymentResponse, 0, len(inv.Payments))
	for _, p := range inv.Payments {
		payments = append(payments, dto.PaymentResponse{
			ID:     p.ID.String(),
			Amount: p.Amount.String(),
			PaidOn: p.PaidOn.Format(dateLayout),
			Method: p.Method,
			Notes:  p.Notes,
		})
	}

	resp := &dto.InvoiceResponse{
		ID:         inv.ID.String(),
		Number:     inv.Number,
		CustomerID: inv.CustomerID.String(),
		IssueDate:  inv.IssueDate.Format(dateLayout),
		DueDate:    inv.DueDate.Format(dateLayout),
		Status:     string(inv.Status),
		Notes:      inv.Notes,
		Items:      toLineItemResponses(inv.Items),
		Payments:   payments,
		Subtotal:   totals.Subtotal.String(),
		VATTotal:   totals.VATTotal.String(),
		GrandTotal: totals.GrandTotal.String(),
		Paid:       totals.Paid.String(),
		BalanceDue: totals.BalanceDue.String(),
		CreatedAt:  inv.CreatedAt.Format(time.RFC3339),
	}
	if inv.TemplateID != nil {
		s := inv.TemplateID.String()
		resp.TemplateID = &s
	}
	if inv.OccurrenceDate != nil {
		s := inv.OccurrenceDate.Format(dateLayout)
		resp.OccurrenceDate = &s
	}
	return resp, nil
}
