package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"crm-billing-engine/config"
	"crm-billing-engine/internal/core/domain"
	"crm-billing-engine/internal/core/ports"

	"github.com/rs/zerolog"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// webhookDispatcher implements ports.WebhookDispatcher.
//
// Delivery is fire-and-forget: Dispatch returns once the payload is
// marshaled and a goroutine per matching subscription is launched.
// Delivery failures are recorded in the attempt log, never returned.
type webhookDispatcher struct {
	webhookRepo ports.WebhookRepository
	sigSvc      ports.SignatureService
	httpClient  HTTPClient
	cfg         config.WebhookConfig
	log         zerolog.Logger

	wg sync.WaitGroup
}

// NewWebhookDispatcher creates the outbound event dispatcher.
func NewWebhookDispatcher(
	webhookRepo ports.WebhookRepository,
	sigSvc ports.SignatureService,
	httpClient HTTPClient,
	cfg config.WebhookConfig,
	log zerolog.Logger,
) *webhookDispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &webhookDispatcher{
		webhookRepo: webhookRepo,
		sigSvc:      sigSvc,
		httpClient:  httpClient,
		cfg:         cfg,
		log:         log,
	}
}

// Dispatch fans the event out to every active subscription listening for
// its kind. The payload is marshaled exactly once; all subscribers and
// all retries send the identical bytes.
func (d *webhookDispatcher) Dispatch(ctx context.Context, event domain.InvoiceEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		d.log.Error().Err(err).Str("event", string(event.Kind)).Msg("webhook: failed to marshal event")
		return
	}

	subs, err := d.webhookRepo.ListSubscribers(ctx, event.Kind)
	if err != nil {
		d.log.Error().Err(err).Str("event", string(event.Kind)).Msg("webhook: failed to list subscribers")
		return
	}
	if len(subs) == 0 {
		d.log.Debug().Str("event", string(event.Kind)).Msg("webhook: no subscribers, skipping")
		return
	}

	for _, sub := range subs {
		d.wg.Add(1)
		go func(sub domain.WebhookSubscription) {
			defer d.wg.Done()
			d.deliverWithRetries(sub, event.Kind, payload)
		}(sub)
	}
}

// Wait blocks until all in-flight deliveries finish. Called on shutdown.
func (d *webhookDispatcher) Wait() {
	d.wg.Wait()
}

// deliverWithRetries posts the payload until a 2xx response or the
// attempt ceiling, doubling the backoff after each failure. Every
// attempt is recorded in the delivery log.
func (d *webhookDispatcher) deliverWithRetries(sub domain.WebhookSubscription, kind domain.EventKind, payload []byte) {
	signature := "sha256=" + d.sigSvc.Sign(sub.Secret, payload)
	backoff := d.cfg.BackoffBase

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(backoff)
			backoff *= 2
		}

		status, err := d.post(sub.URL, kind, payload, signature)

		rec := &domain.WebhookDeliveryAttempt{
			SubscriptionID: sub.ID,
			Event:          kind,
			Payload:        string(payload),
			Attempt:        attempt,
			AttemptedAt:    time.Now().UTC(),
		}
		if status != 0 {
			s := status
			rec.HTTPStatus = &s
		}

		delivered := err == nil && status >= 200 && status < 300
		if delivered {
			rec.Outcome = domain.AttemptDelivered
		} else {
			rec.Outcome = domain.AttemptFailed
			msg := deliveryErrorMessage(status, err)
			rec.Error = &msg
		}

		if recErr := d.webhookRepo.RecordAttempt(context.Background(), rec); recErr != nil {
			d.log.Error().Err(recErr).Str("subscription_id", sub.ID.String()).Msg("webhook: failed to record attempt")
		}

		if delivered {
			d.log.Info().
				Str("subscription_id", sub.ID.String()).
				Str("event", string(kind)).
				Int("attempt", attempt).
				Int("status", status).
				Msg("webhook: delivered")
			return
		}

		d.log.Warn().
			Str("subscription_id", sub.ID.String()).
			Str("event", string(kind)).
			Int("attempt", attempt).
			Int("status", status).
			Err(err).
			Msg("webhook: delivery failed")
	}

	d.log.Error().
		Str("subscription_id", sub.ID.String()).
		Str("event", string(kind)).
		Msg("webhook: all attempts exhausted")
}

// post sends one delivery attempt. Returns the HTTP status (0 when the
// request never got a response) and any transport error.
func (d *webhookDispatcher) post(url string, kind domain.EventKind, payload []byte, signature string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", string(kind))
	req.Header.Set("X-Webhook-Signature", signature)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func deliveryErrorMessage(status int, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("non-2xx response: %d", status)
}
