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

// RecurringHandler handles recurring template endpoints.
type RecurringHandler struct {
	recurringSvc ports.RecurringService
}

// NewRecurringHandler creates a new RecurringHandler.
func NewRecurringHandler(recurringSvc ports.RecurringService) *RecurringHandler {
	return &RecurringHandler{recurringSvc: recurringSvc}
}

// Create handles POST /api/v1/recurring.
func (h *RecurringHandler) Create(c *gin.Context) {
	var req dto.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid customer id"))
		return
	}
	anchor, err := parseDate(req.AnchorDate)
	if err != nil {
		response.Error(c, apperror.Validation("anchor_date must be YYYY-MM-DD"))
		return
	}
	var endDate *time.Time
	if req.EndDate != nil {
		d, err := parseDate(*req.EndDate)
		if err != nil {
			response.Error(c, apperror.Validation("end_date must be YYYY-MM-DD"))
			return
		}
		endDate = &d
	}

	lines := make([]domain.TemplateLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, domain.TemplateLine{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			VATRate:     l.VATRate,
		})
	}

	template, err := h.recurringSvc.Create(c.Request.Context(), &domain.RecurringTemplate{
		CustomerID: customerID,
		Cadence:    domain.Cadence(req.Cadence),
		AnchorDate: anchor,
		EndDate:    endDate,
		Notes:      req.Notes,
		Lines:      lines,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTemplateResponse(template))
}

// Get handles GET /api/v1/recurring/:id.
func (h *RecurringHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid template id"))
		return
	}

	template, err := h.recurringSvc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTemplateResponse(template))
}

// List handles GET /api/v1/recurring.
func (h *RecurringHandler) List(c *gin.Context) {
	page, pageSize := pagination(c)
	activeOnly := c.Query("active") == "true"

	templates, total, err := h.recurringSvc.List(c.Request.Context(), activeOnly, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TemplateResponse, 0, len(templates))
	for i := range templates {
		items = append(items, *toTemplateResponse(&templates[i]))
	}

	response.OK(c, dto.TemplateListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	})
}

// SetActive handles POST /api/v1/recurring/:id/active.
func (h *RecurringHandler) SetActive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid template id"))
		return
	}

	var req dto.SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	if err := h.recurringSvc.SetActive(c.Request.Context(), id, *req.Active); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"active": *req.Active})
}

// Generate handles POST /api/v1/recurring/:id/generate. It ticks the
// single template; a tick with nothing due returns 200 with no invoice.
func (h *RecurringHandler) Generate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid template id"))
		return
	}

	invoice, err := h.recurringSvc.Tick(c.Request.Context(), id, time.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	if invoice == nil {
		response.OK(c, gin.H{"generated": false})
		return
	}

	resp, err := toInvoiceResponse(invoice)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"generated": true, "invoice": resp})
}

// Run handles POST /api/v1/recurring/run, ticking every due template.
func (h *RecurringHandler) Run(c *gin.Context) {
	report, err := h.recurringSvc.RunDue(c.Request.Context(), time.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.RunReportResponse{
		Due:       report.Due,
		Generated: report.Generated,
		Skipped:   report.Skipped,
		Failed:    report.Failed,
		Errors:    report.Errors,
	})
}

// toTemplateResponse converts a domain template to the API view.
func toTemplateResponse(t *domain.RecurringTemplate) *dto.TemplateResponse {
	resp := &dto.TemplateResponse{
		ID:             t.ID.String(),
		CustomerID:     t.CustomerID.String(),
		Cadence:        string(t.Cadence),
		AnchorDate:     t.AnchorDate.Format(dateLayout),
		Active:         t.Active,
		Notes:          t.Notes,
		Lines:          toLineItemResponses(t.BlueprintItems()),
		TotalGenerated: t.TotalGenerated,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
	}
	if t.EndDate != nil {
		s := t.EndDate.Format(dateLayout)
		resp.EndDate = &s
	}
	if t.LastOccurrence != nil {
		s := t.LastOccurrence.Format(dateLayout)
		resp.LastOccurrence = &s
	}
	if t.LastInvoiceID != nil {
		s := t.LastInvoiceID.String()
		resp.LastInvoiceID = &s
	}
	return resp
}
