package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"crm-billing-engine/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isoDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// createInvoice posts a single-line invoice of 10 x 100.00 at 20% VAT
// (grand total 1200) and returns the response payload.
func (ta *testApp) createInvoice(customerID string, issue, due time.Time) map[string]interface{} {
	ta.t.Helper()
	dueStr := isoDate(due)
	status, body := ta.do(http.MethodPost, "/api/v1/invoices", map[string]any{
		"customer_id": customerID,
		"issue_date":  isoDate(issue),
		"due_date":    dueStr,
		"items": []map[string]any{
			{"description": "Consulting", "quantity": "10", "unit_price": "100.00", "vat_rate": "0.20"},
		},
	})
	require.Equal(ta.t, http.StatusCreated, status)
	return ta.data(body)
}

func TestInvoiceLifecycleFlow(t *testing.T) {
	ta := newTestApp(t)
	customerID := ta.createCustomer("acme")

	now := time.Now().UTC()
	inv := ta.createInvoice(customerID, now, now.AddDate(0, 1, 0))
	invoiceID := inv["id"].(string)

	assert.Equal(t, "draft", inv["status"])
	assert.Equal(t, "1000", inv["subtotal"])
	assert.Equal(t, "200", inv["vat_total"])
	assert.Equal(t, "1200", inv["grand_total"])
	assert.Equal(t, "1200", inv["balance_due"])
	assert.Contains(t, inv["number"], fmt.Sprintf("INV-%d-", now.Year()))

	// Move the anchor to sent.
	status, body := ta.do(http.MethodPost, "/api/v1/invoices/"+invoiceID+"/status", map[string]any{
		"status": "sent",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "sent", ta.data(body)["status"])

	// Partial payment projects partially_paid without touching the anchor.
	status, body = ta.do(http.MethodPost, "/api/v1/invoices/"+invoiceID+"/payments", map[string]any{
		"amount": "500.00", "paid_on": isoDate(now), "method": "bank_transfer",
	})
	require.Equal(t, http.StatusCreated, status)
	data := ta.data(body)
	assert.Equal(t, "partially_paid", data["status"])
	assert.Equal(t, "700", data["balance_due"])

	// Settling the remainder flips the projection to paid.
	status, body = ta.do(http.MethodPost, "/api/v1/invoices/"+invoiceID+"/payments", map[string]any{
		"amount": "700.00", "paid_on": isoDate(now), "method": "bank_transfer",
	})
	require.Equal(t, http.StatusCreated, status)
	data = ta.data(body)
	assert.Equal(t, "paid", data["status"])
	assert.Equal(t, "0", data["balance_due"])

	// Anything beyond the balance is rejected.
	status, body = ta.do(http.MethodPost, "/api/v1/invoices/"+invoiceID+"/payments", map[string]any{
		"amount": "0.01", "paid_on": isoDate(now), "method": "bank_transfer",
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VAL_005", body["error_code"])

	// The timeline recorded every step.
	status, body = ta.do(http.MethodGet, "/api/v1/invoices/"+invoiceID+"/activity", nil)
	require.Equal(t, http.StatusOK, status)
	items, ok := ta.data(body)["items"].([]interface{})
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(items), 4) // create, status change, two payments
}

func TestInvoiceOverdueProjection(t *testing.T) {
	ta := newTestApp(t)
	customerID := ta.createCustomer("latepayer")

	past := time.Now().UTC().AddDate(0, -2, 0)
	inv := ta.createInvoice(customerID, past, past.AddDate(0, 0, 14))
	invoiceID := inv["id"].(string)

	// Unpaid and past due classifies as overdue on every read.
	status, body := ta.do(http.MethodGet, "/api/v1/invoices/"+invoiceID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "overdue", ta.data(body)["status"])

	// Paying in full wins over the calendar.
	status, body = ta.do(http.MethodPost, "/api/v1/invoices/"+invoiceID+"/payments", map[string]any{
		"amount": "1200.00", "paid_on": isoDate(time.Now()), "method": "card",
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "paid", ta.data(body)["status"])
}

func TestInvoiceCancellationIsTerminal(t *testing.T) {
	ta := newTestApp(t)
	customerID := ta.createCustomer("churned")

	now := time.Now().UTC()
	inv := ta.createInvoice(customerID, now, now.AddDate(0, 1, 0))
	invoiceID := inv["id"].(string)

	status, body := ta.do(http.MethodPost, "/api/v1/invoices/"+invoiceID+"/status", map[string]any{
		"status": "cancelled",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "cancelled", ta.data(body)["status"])

	// No payments against a cancelled invoice.
	status, body = ta.do(http.MethodPost, "/api/v1/invoices/"+invoiceID+"/payments", map[string]any{
		"amount": "100.00", "paid_on": isoDate(now), "method": "card",
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BIL_002", body["error_code"])

	// And no way back out.
	status, body = ta.do(http.MethodPost, "/api/v1/invoices/"+invoiceID+"/status", map[string]any{
		"status": "sent",
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BIL_002", body["error_code"])
}

func TestInvoiceListFiltersByDerivedStatus(t *testing.T) {
	ta := newTestApp(t)
	customerID := ta.createCustomer("mixed")

	now := time.Now().UTC()
	past := now.AddDate(0, -2, 0)

	ta.createInvoice(customerID, now, now.AddDate(0, 1, 0))
	overdue := ta.createInvoice(customerID, past, past.AddDate(0, 0, 7))

	status, body := ta.do(http.MethodGet, "/api/v1/invoices?status=overdue", nil)
	require.Equal(t, http.StatusOK, status)
	data := ta.data(body)
	items, ok := data["items"].([]interface{})
	require.True(t, ok)
	require.Len(t, items, 1)
	first := items[0].(map[string]interface{})
	assert.Equal(t, overdue["id"], first["id"])
	assert.Equal(t, "overdue", first["status"])
}

// createTemplate posts a monthly template with one 90.00 line at 20% VAT.
func (ta *testApp) createTemplate(customerID string, anchor time.Time) map[string]interface{} {
	ta.t.Helper()
	status, body := ta.do(http.MethodPost, "/api/v1/recurring", map[string]any{
		"customer_id": customerID,
		"cadence":     "monthly",
		"anchor_date": isoDate(anchor),
		"lines": []map[string]any{
			{"description": "Subscription", "quantity": "1", "unit_price": "90.00", "vat_rate": "0.20"},
		},
	})
	require.Equal(ta.t, http.StatusCreated, status)
	return ta.data(body)
}

func TestRecurrenceGeneratesExactlyOnce(t *testing.T) {
	ta := newTestApp(t)
	customerID := ta.createCustomer("subscriber")

	anchor := time.Now().UTC().AddDate(0, 0, -3)
	tmpl := ta.createTemplate(customerID, anchor)
	templateID := tmpl["id"].(string)

	// First tick materializes the due occurrence.
	status, body := ta.do(http.MethodPost, "/api/v1/recurring/"+templateID+"/generate", nil)
	require.Equal(t, http.StatusCreated, status)
	data := ta.data(body)
	assert.Equal(t, true, data["generated"])
	generated := data["invoice"].(map[string]interface{})
	assert.Equal(t, "108", generated["grand_total"])
	require.NotNil(t, generated["template_id"])
	assert.Equal(t, templateID, generated["template_id"])
	assert.Equal(t, isoDate(anchor), generated["occurrence_date"])

	// The anchor advanced one month, so an immediate replay finds
	// nothing due.
	status, body = ta.do(http.MethodPost, "/api/v1/recurring/"+templateID+"/generate", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, ta.data(body)["generated"])

	// Rewind the anchor to simulate a crashed run replaying the same
	// occurrence. The uniqueness guard skips it instead of double
	// billing.
	id := uuid.MustParse(templateID)
	stored, err := ta.templates.GetByID(context.Background(), id)
	require.NoError(t, err)
	stored.AnchorDate = anchor
	require.NoError(t, ta.templates.Update(context.Background(), nil, stored))

	status, body = ta.do(http.MethodPost, "/api/v1/recurring/"+templateID+"/generate", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, ta.data(body)["generated"])

	// Exactly one invoice exists for the customer.
	status, body = ta.do(http.MethodGet, "/api/v1/invoices?customer_id="+customerID, nil)
	require.Equal(t, http.StatusOK, status)
	items := ta.data(body)["items"].([]interface{})
	assert.Len(t, items, 1)

	// Bookkeeping on the template reflects the single generation.
	status, body = ta.do(http.MethodGet, "/api/v1/recurring/"+templateID, nil)
	require.Equal(t, http.StatusOK, status)
	tmplData := ta.data(body)
	assert.Equal(t, float64(1), tmplData["total_generated"])
	assert.Equal(t, isoDate(anchor), tmplData["last_occurrence"])
}

func TestRecurrenceBatchRun(t *testing.T) {
	ta := newTestApp(t)
	customerID := ta.createCustomer("fleet")

	now := time.Now().UTC()
	due := ta.createTemplate(customerID, now.AddDate(0, 0, -1))
	ta.createTemplate(customerID, now.AddDate(0, 2, 0)) // not yet due

	disabled := ta.createTemplate(customerID, now.AddDate(0, 0, -1))
	status, _ := ta.do(http.MethodPost, "/api/v1/recurring/"+disabled["id"].(string)+"/active", map[string]any{
		"active": false,
	})
	require.Equal(t, http.StatusOK, status)

	status, body := ta.do(http.MethodPost, "/api/v1/recurring/run", nil)
	require.Equal(t, http.StatusOK, status)
	report := ta.data(body)
	assert.Equal(t, float64(1), report["due"])
	assert.Equal(t, float64(1), report["generated"])
	assert.Equal(t, float64(0), report["failed"])

	// Only the active, due template produced an invoice.
	status, body = ta.do(http.MethodGet, "/api/v1/invoices", nil)
	require.Equal(t, http.StatusOK, status)
	items := ta.data(body)["items"].([]interface{})
	require.Len(t, items, 1)
	inv := items[0].(map[string]interface{})
	assert.Equal(t, due["id"], inv["template_id"])
}

func TestRecurringTemplateDisabledRejectsGenerate(t *testing.T) {
	ta := newTestApp(t)
	customerID := ta.createCustomer("paused")

	tmpl := ta.createTemplate(customerID, time.Now().UTC().AddDate(0, 0, -1))
	templateID := tmpl["id"].(string)

	status, _ := ta.do(http.MethodPost, "/api/v1/recurring/"+templateID+"/active", map[string]any{
		"active": false,
	})
	require.Equal(t, http.StatusOK, status)

	status, body := ta.do(http.MethodPost, "/api/v1/recurring/"+templateID+"/generate", nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BIL_006", body["error_code"])
}

// webhookSink is a test endpoint capturing delivered payloads.
type webhookSink struct {
	mu         sync.Mutex
	statusCode int
	bodies     [][]byte
	signatures []string
	events     []string
}

func newWebhookSink(statusCode int) (*webhookSink, *httptest.Server) {
	sink := &webhookSink{statusCode: statusCode}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		sink.mu.Lock()
		sink.bodies = append(sink.bodies, raw)
		sink.signatures = append(sink.signatures, r.Header.Get("X-Webhook-Signature"))
		sink.events = append(sink.events, r.Header.Get("X-Webhook-Event"))
		sink.mu.Unlock()
		w.WriteHeader(sink.statusCode)
	}))
	return sink, server
}

func (s *webhookSink) received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

func TestWebhookDeliveryOnPaidInvoice(t *testing.T) {
	ta := newTestApp(t)
	customerID := ta.createCustomer("observed")

	sink, endpoint := newWebhookSink(http.StatusOK)
	defer endpoint.Close()

	secret := "whsec_integration_test_0001"
	status, body := ta.do(http.MethodPost, "/api/v1/webhooks", map[string]any{
		"url":    endpoint.URL,
		"secret": secret,
		"events": []string{"invoice.paid"},
	})
	require.Equal(t, http.StatusCreated, status)
	subID := ta.data(body)["id"].(string)

	now := time.Now().UTC()
	inv := ta.createInvoice(customerID, now, now.AddDate(0, 1, 0))
	invoiceID := inv["id"].(string)

	status, _ = ta.do(http.MethodPost, "/api/v1/invoices/"+invoiceID+"/payments", map[string]any{
		"amount": "1200.00", "paid_on": isoDate(now), "method": "card",
	})
	require.Equal(t, http.StatusCreated, status)

	ta.dispatcher.Wait()

	// Exactly one delivery: invoice.created and payment.received were
	// not subscribed.
	require.Equal(t, 1, sink.received())
	assert.Equal(t, "invoice.paid", sink.events[0])

	// The signature covers the exact bytes delivered.
	sigSvc := service.NewHMACSignatureService()
	expected := "sha256=" + sigSvc.Sign(secret, sink.bodies[0])
	assert.Equal(t, expected, sink.signatures[0])

	// The delivery log shows the successful attempt.
	status, body = ta.do(http.MethodGet, "/api/v1/webhooks/"+subID+"/attempts", nil)
	require.Equal(t, http.StatusOK, status)
	attempts := ta.data(body)["items"].([]interface{})
	require.Len(t, attempts, 1)
	attempt := attempts[0].(map[string]interface{})
	assert.Equal(t, "delivered", attempt["outcome"])
	assert.Equal(t, float64(1), attempt["attempt"])
	assert.Equal(t, float64(http.StatusOK), attempt["http_status"])
}

func TestWebhookRetriesUntilCeiling(t *testing.T) {
	ta := newTestApp(t)
	customerID := ta.createCustomer("flaky-endpoint")

	sink, endpoint := newWebhookSink(http.StatusInternalServerError)
	defer endpoint.Close()

	status, body := ta.do(http.MethodPost, "/api/v1/webhooks", map[string]any{
		"url":    endpoint.URL,
		"secret": "whsec_integration_test_0002",
		"events": []string{"invoice.created"},
	})
	require.Equal(t, http.StatusCreated, status)
	subID := ta.data(body)["id"].(string)

	now := time.Now().UTC()
	ta.createInvoice(customerID, now, now.AddDate(0, 1, 0))

	ta.dispatcher.Wait()

	// MaxAttempts is 3 in the test config.
	assert.Equal(t, 3, sink.received())

	status, body = ta.do(http.MethodGet, "/api/v1/webhooks/"+subID+"/attempts", nil)
	require.Equal(t, http.StatusOK, status)
	attempts := ta.data(body)["items"].([]interface{})
	require.Len(t, attempts, 3)
	for _, raw := range attempts {
		attempt := raw.(map[string]interface{})
		assert.Equal(t, "failed", attempt["outcome"])
		assert.Equal(t, float64(http.StatusInternalServerError), attempt["http_status"])
	}
}

func TestWebhookUnsubscribeStopsDelivery(t *testing.T) {
	ta := newTestApp(t)
	customerID := ta.createCustomer("unsubscribed")

	sink, endpoint := newWebhookSink(http.StatusOK)
	defer endpoint.Close()

	status, body := ta.do(http.MethodPost, "/api/v1/webhooks", map[string]any{
		"url":    endpoint.URL,
		"secret": "whsec_integration_test_0003",
		"events": []string{"invoice.created"},
	})
	require.Equal(t, http.StatusCreated, status)
	subID := ta.data(body)["id"].(string)

	status, _ = ta.do(http.MethodDelete, "/api/v1/webhooks/"+subID, nil)
	require.Equal(t, http.StatusNoContent, status)

	now := time.Now().UTC()
	ta.createInvoice(customerID, now, now.AddDate(0, 1, 0))
	ta.dispatcher.Wait()

	assert.Equal(t, 0, sink.received())
}

func TestOverdueSweepNotifiesOnce(t *testing.T) {
	ta := newTestApp(t)
	customerID := ta.createCustomer("collections")

	sink, endpoint := newWebhookSink(http.StatusOK)
	defer endpoint.Close()

	status, _ := ta.do(http.MethodPost, "/api/v1/webhooks", map[string]any{
		"url":    endpoint.URL,
		"secret": "whsec_integration_test_0004",
		"events": []string{"invoice.overdue"},
	})
	require.Equal(t, http.StatusCreated, status)

	now := time.Now().UTC()
	past := now.AddDate(0, -1, 0)
	inv := ta.createInvoice(customerID, past, past.AddDate(0, 0, 14))
	ta.createInvoice(customerID, now, now.AddDate(0, 1, 0)) // not due yet

	report, err := ta.overdueSvc.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Notified)

	ta.dispatcher.Wait()
	require.Equal(t, 1, sink.received())
	assert.Equal(t, "invoice.overdue", sink.events[0])

	// The notification stamp makes the next sweep a no-op.
	report, err = ta.overdueSvc.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, 0, report.Notified)

	ta.dispatcher.Wait()
	assert.Equal(t, 1, sink.received())

	// The stamp is visible on the invoice itself.
	stored, err := ta.invoices.GetByID(context.Background(), uuid.MustParse(inv["id"].(string)))
	require.NoError(t, err)
	require.NotNil(t, stored.OverdueNotifiedAt)
}

func TestConcurrentTicksGenerateOneInvoice(t *testing.T) {
	ta := newTestApp(t)
	customerID := ta.createCustomer("racy")

	tmpl := ta.createTemplate(customerID, time.Now().UTC().AddDate(0, 0, -1))
	templateID := uuid.MustParse(tmpl["id"].(string))

	const workers = 8
	asOf := time.Now().UTC()

	var wg sync.WaitGroup
	generated := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv, err := ta.recurringSvc.Tick(context.Background(), templateID, asOf)
			assert.NoError(t, err)
			if inv != nil {
				generated <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(generated)

	assert.Equal(t, 1, len(generated))

	status, body := ta.do(http.MethodGet, "/api/v1/invoices", nil)
	require.Equal(t, http.StatusOK, status)
	items := ta.data(body)["items"].([]interface{})
	assert.Len(t, items, 1)
}

func TestPaymentDeletionRestoresBalance(t *testing.T) {
	ta := newTestApp(t)

	customerID := ta.createCustomer("Initech")
	now := time.Now().UTC()
	inv := ta.createInvoice(customerID, now, now.AddDate(0, 1, 0))
	invID := inv["id"].(string)

	code, _ := ta.do(http.MethodPost, "/api/v1/invoices/"+invID+"/status", map[string]any{
		"status": "sent",
	})
	require.Equal(t, http.StatusOK, code)

	code, body := ta.do(http.MethodPost, "/api/v1/invoices/"+invID+"/payments", map[string]any{
		"amount":  "500.00",
		"paid_on": isoDate(now),
		"method":  "bank_transfer",
	})
	require.Equal(t, http.StatusCreated, code)
	data := ta.data(body)
	assert.Equal(t, "700", data["balance_due"])
	payments := data["payments"].([]interface{})
	require.Len(t, payments, 1)
	paymentID := payments[0].(map[string]interface{})["id"].(string)

	code, body = ta.do(http.MethodDelete, "/api/v1/invoices/"+invID+"/payments/"+paymentID, nil)
	require.Equal(t, http.StatusOK, code)
	data = ta.data(body)
	assert.Equal(t, "1200", data["balance_due"])
	assert.Equal(t, "sent", data["status"])
	assert.Empty(t, data["payments"])

	code, body = ta.do(http.MethodDelete, "/api/v1/invoices/"+invID+"/payments/"+paymentID, nil)
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "BIL_001", body["error_code"])
}

func TestRevenueReportAggregatesByMonth(t *testing.T) {
	ta := newTestApp(t)

	customerID := ta.createCustomer("Globex")

	first := ta.createInvoice(customerID,
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC))
	code, _ := ta.do(http.MethodPost, "/api/v1/invoices/"+first["id"].(string)+"/payments", map[string]any{
		"amount":  "1200.00",
		"paid_on": "2024-02-15",
		"method":  "card",
	})
	require.Equal(t, http.StatusCreated, code)

	second := ta.createInvoice(customerID,
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC))
	code, _ = ta.do(http.MethodPost, "/api/v1/invoices/"+second["id"].(string)+"/payments", map[string]any{
		"amount":  "300.00",
		"paid_on": "2024-06-05",
		"method":  "card",
	})
	require.Equal(t, http.StatusCreated, code)

	code, body := ta.do(http.MethodGet, "/api/v1/reports/revenue?year=2024", nil)
	require.Equal(t, http.StatusOK, code)
	data := ta.data(body)
	assert.Equal(t, float64(2024), data["year"])

	months := data["months"].([]interface{})
	require.Len(t, months, 12)
	feb := months[1].(map[string]interface{})
	assert.Equal(t, "1200", feb["collected"])
	jun := months[5].(map[string]interface{})
	assert.Equal(t, "300", jun["collected"])
	jan := months[0].(map[string]interface{})
	assert.Equal(t, "0", jan["collected"])
}
