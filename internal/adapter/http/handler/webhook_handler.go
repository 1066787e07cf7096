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

// WebhookHandler handles subscription management and the delivery log.
type WebhookHandler struct {
	webhookSvc ports.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookSvc ports.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// Subscribe handles POST /api/v1/webhooks.
func (h *WebhookHandler) Subscribe(c *gin.Context) {
	var req dto.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	events := make([]domain.EventKind, 0, len(req.Events))
	for _, e := range req.Events {
		events = append(events, domain.EventKind(e))
	}

	sub, err := h.webhookSvc.Subscribe(c.Request.Context(), &domain.WebhookSubscription{
		URL:         req.URL,
		Secret:      req.Secret,
		Events:      events,
		Description: req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, sub)
}

// Unsubscribe handles DELETE /api/v1/webhooks/:id.
func (h *WebhookHandler) Unsubscribe(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid subscription id"))
		return
	}

	if err := h.webhookSvc.Unsubscribe(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// List handles GET /api/v1/webhooks.
func (h *WebhookHandler) List(c *gin.Context) {
	subs, err := h.webhookSvc.ListSubscriptions(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"items": subs, "total": len(subs)})
}

// ListAttempts handles GET /api/v1/webhooks/:id/attempts.
func (h *WebhookHandler) ListAttempts(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid subscription id"))
		return
	}
	page, pageSize := pagination(c)

	attempts, total, err := h.webhookSvc.ListAttempts(c.Request.Context(), id, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.AttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		items = append(items, dto.AttemptResponse{
			ID:          a.ID.String(),
			Event:       string(a.Event),
			Attempt:     a.Attempt,
			HTTPStatus:  a.HTTPStatus,
			Error:       a.Error,
			Outcome:     string(a.Outcome),
			AttemptedAt: a.AttemptedAt.Format(time.RFC3339),
		})
	}

	response.OK(c, dto.AttemptListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	})
}
