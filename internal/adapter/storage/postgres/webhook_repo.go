package postgres

import (
	"context"
	"errors"
	"fmt"

	"crm-billing-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WebhookRepo implements ports.WebhookRepository. Subscription events
// are stored as a text array; delivery attempts are append-only.
type WebhookRepo struct {
	pool Pool
}

// NewWebhookRepo creates a new WebhookRepo.
func NewWebhookRepo(pool Pool) *WebhookRepo {
	return &WebhookRepo{pool: pool}
}

// CreateSubscription inserts a subscription.
func (r *WebhookRepo) CreateSubscription(ctx context.Context, sub *domain.WebhookSubscription) error {
	query := `INSERT INTO webhook_subscriptions (id, url, secret, events, active, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		sub.ID, sub.URL, sub.Secret, eventStrings(sub.Events),
		sub.Active, sub.Description, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// GetSubscription fetches a subscription by ID.
func (r *WebhookRepo) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.WebhookSubscription, error) {
	query := `SELECT id, url, secret, events, active, description, created_at, updated_at
		FROM webhook_subscriptions WHERE id = $1`

	sub, err := scanSubscription(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// DeleteSubscription removes a subscription; its attempt log stays.
func (r *WebhookRepo) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// ListSubscriptions returns subscriptions, optionally only active ones.
func (r *WebhookRepo) ListSubscriptions(ctx context.Context, activeOnly bool) ([]domain.WebhookSubscription, error) {
	query := `SELECT id, url, secret, events, active, description, created_at, updated_at
		FROM webhook_subscriptions`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// ListSubscribers returns active subscriptions listening for the event.
func (r *WebhookRepo) ListSubscribers(ctx context.Context, kind domain.EventKind) ([]domain.WebhookSubscription, error) {
	query := `SELECT id, url, secret, events, active, description, created_at, updated_at
		FROM webhook_subscriptions WHERE active AND $1 = ANY(events) ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// RecordAttempt appends one row to the delivery log.
func (r *WebhookRepo) RecordAttempt(ctx context.Context, a *domain.WebhookDeliveryAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	query := `INSERT INTO webhook_delivery_attempts
		(id, subscription_id, event, payload, attempt, http_status, error, outcome, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.SubscriptionID, string(a.Event), a.Payload,
		a.Attempt, a.HTTPStatus, a.Error, string(a.Outcome), a.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery attempt: %w", err)
	}
	return nil
}

// ListAttempts pages through a subscription's delivery log, newest
// first.
func (r *WebhookRepo) ListAttempts(ctx context.Context, subscriptionID uuid.UUID, page, pageSize int) ([]domain.WebhookDeliveryAttempt, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_delivery_attempts WHERE subscription_id = $1`,
		subscriptionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count delivery attempts: %w", err)
	}

	query := `SELECT id, subscription_id, event, payload, attempt, http_status, error, outcome, attempted_at
		FROM webhook_delivery_attempts WHERE subscription_id = $1
		ORDER BY attempted_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, subscriptionID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.WebhookDeliveryAttempt
	for rows.Next() {
		var a domain.WebhookDeliveryAttempt
		var event, outcome string
		if err := rows.Scan(&a.ID, &a.SubscriptionID, &event, &a.Payload, &a.Attempt, &a.HTTPStatus, &a.Error, &outcome, &a.AttemptedAt); err != nil {
			return nil, 0, fmt.Errorf("scan delivery attempt: %w", err)
		}
		a.Event = domain.EventKind(event)
		a.Outcome = domain.AttemptOutcome(outcome)
		attempts = append(attempts, a)
	}
	return attempts, total, rows.Err()
}

func scanSubscription(row pgx.Row) (*domain.WebhookSubscription, error) {
	sub := &domain.WebhookSubscription{}
	var events []string
	err := row.Scan(&sub.ID, &sub.URL, &sub.Secret, &events, &sub.Active, &sub.Description, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.Events = eventKinds(events)
	return sub, nil
}

func collectSubscriptions(rows pgx.Rows) ([]domain.WebhookSubscription, error) {
	var subs []domain.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func eventStrings(kinds []domain.EventKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func eventKinds(strs []string) []domain.EventKind {
	out := make([]domain.EventKind, len(strs))
	for i, s := range strs {
		out[i] = domain.EventKind(s)
	}
	return out
}
