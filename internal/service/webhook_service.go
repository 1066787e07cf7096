package service

import (
	"context"
	"fmt"
	"time"

	"crm-billing-engine/internal/core/domain"
	"crm-billing-engine/internal/core/ports"
	"crm-billing-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WebhookServiceImpl implements ports.WebhookService: subscription CRUD
// and the delivery log. Delivery itself lives in the dispatcher.
type WebhookServiceImpl struct {
	webhookRepo ports.WebhookRepository
	log         zerolog.Logger
}

// NewWebhookService creates a new WebhookServiceImpl.
func NewWebhookService(webhookRepo ports.WebhookRepository, log zerolog.Logger) *WebhookServiceImpl {
	return &WebhookServiceImpl{webhookRepo: webhookRepo, log: log}
}

// Subscribe registers an endpoint for the given event kinds.
func (s *WebhookServiceImpl) Subscribe(ctx context.Context, sub *domain.WebhookSubscription) (*domain.WebhookSubscription, error) {
	if sub.URL == "" {
		return nil, apperror.Validation("webhook url is required")
	}
	if sub.Secret == "" {
		return nil, apperror.Validation("webhook secret is required")
	}
	if len(sub.Events) == 0 {
		return nil, apperror.Validation("at least one event kind is required")
	}
	for _, kind := range sub.Events {
		switch kind {
		case domain.EventInvoiceCreated, domain.EventInvoicePaid, domain.EventInvoiceOverdue, domain.EventPaymentReceived:
		default:
			return nil, apperror.Validation(fmt.Sprintf("unknown event kind: %s", kind))
		}
	}

	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.Active = true
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	if err := s.webhookRepo.CreateSubscription(ctx, sub); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create subscription: %w", err))
	}

	s.log.Info().Str("subscription_id", sub.ID.String()).Str("url", sub.URL).Msg("webhook subscription created")
	return sub, nil
}

// Unsubscribe removes a subscription. Its delivery log is kept.
func (s *WebhookServiceImpl) Unsubscribe(ctx context.Context, id uuid.UUID) error {
	sub, err := s.webhookRepo.GetSubscription(ctx, id)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("fetch subscription: %w", err))
	}
	if sub == nil {
		return apperror.ErrNotFound("webhook subscription")
	}
	if err := s.webhookRepo.DeleteSubscription(ctx, id); err != nil {
		return apperror.InternalError(fmt.Errorf("delete subscription: %w", err))
	}
	return nil
}

// ListSubscriptions returns all subscriptions, active or not.
func (s *WebhookServiceImpl) ListSubscriptions(ctx context.Context) ([]domain.WebhookSubscription, error) {
	subs, err := s.webhookRepo.ListSubscriptions(ctx, false)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list subscriptions: %w", err))
	}
	return subs, nil
}

// ListAttempts pages through a subscription's delivery log.
func (s *WebhookServiceImpl) ListAttempts(ctx context.Context, subscriptionID uuid.UUID, page, pageSize int) ([]domain.WebhookDeliveryAttempt, int64, error) {
	sub, err := s.webhookRepo.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("fetch subscription: %w", err))
	}
	if sub == nil {
		return nil, 0, apperror.ErrNotFound("webhook subscription")
	}
	attempts, total, err := s.webhookRepo.ListAttempts(ctx, subscriptionID, page, pageSize)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list attempts: %w", err))
	}
	return attempts, total, nil
}
