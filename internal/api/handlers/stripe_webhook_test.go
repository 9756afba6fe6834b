package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cliphost/internal/types"
)

// ---------------------------------------------------------------------------
// Mock Implementations
// ---------------------------------------------------------------------------

type mockWebhookVerifier struct {
	shouldFail bool
}

func (m *mockWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	if m.shouldFail {
		return errors.New("signature verification failed")
	}
	return nil
}

type mockLedgerWriter struct {
	entries   []types.UserLedgerEntry
	insertErr error
	duplicate bool
}

func (m *mockLedgerWriter) InsertIgnore(_ context.Context, entry types.UserLedgerEntry) (bool, error) {
	if m.insertErr != nil {
		return false, m.insertErr
	}
	if m.duplicate {
		return false, nil
	}
	m.entries = append(m.entries, entry)
	return true, nil
}

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func buildWebhookEvent(eventType, eventID string, created int64, object map[string]interface{}) []byte {
	objBytes, _ := json.Marshal(object)
	event := map[string]interface{}{
		"id":      eventID,
		"type":    eventType,
		"created": created,
		"data": map[string]interface{}{
			"object": json.RawMessage(objBytes),
		},
	}
	b, _ := json.Marshal(event)
	return b
}

func buildInvoicePaidEvent(uid string, amountPaid int64) []byte {
	obj := map[string]interface{}{
		"id":          "in_test_1",
		"customer":    "cus_test_1",
		"currency":    "usd",
		"amount_paid": amountPaid,
		"metadata":    map[string]string{"uid": uid},
	}
	return buildWebhookEvent(eventInvoicePaymentSucceeded, "evt_inv_1", 1756600000, obj)
}

func buildChargeRefundedEvent(uid string, amountRefunded int64) []byte {
	obj := map[string]interface{}{
		"id":              "ch_test_1",
		"customer":        "cus_test_1",
		"currency":        "usd",
		"amount_refunded": amountRefunded,
		"metadata":        map[string]string{"uid": uid},
	}
	return buildWebhookEvent(eventChargeRefunded, "evt_ref_1", 1756600000, obj)
}

func doWebhookRequest(h *StripeWebhookHandler, body []byte, sigHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	if sigHeader != "" {
		req.Header.Set("Stripe-Signature", sigHeader)
	}
	rr := httptest.NewRecorder()
	h.Handle(rr, req)
	return rr
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestStripeWebhookHandler_InvalidSignature(t *testing.T) {
	ledger := &mockLedgerWriter{}
	h := NewStripeWebhookHandler(&mockWebhookVerifier{shouldFail: true}, ledger, "whsec_test", nil)

	rr := doWebhookRequest(h, buildInvoicePaidEvent("user_1", 2500), "t=1,v1=bad")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	if len(ledger.entries) != 0 {
		t.Error("no ledger entry may be written on a bad signature")
	}
}

func TestStripeWebhookHandler_InvoicePaidRecordsCredit(t *testing.T) {
	ledger := &mockLedgerWriter{}
	h := NewStripeWebhookHandler(&mockWebhookVerifier{}, ledger, "whsec_test", nil)

	rr := doWebhookRequest(h, buildInvoicePaidEvent("user_1", 2500), "t=1,v1=good")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(ledger.entries))
	}
	entry := ledger.entries[0]
	if entry.Type != types.LedgerCredit {
		t.Errorf("expected credit, got %s", entry.Type)
	}
	if entry.StripeEventID != "evt_inv_1" || entry.UserID != "user_1" {
		t.Errorf("unexpected identity fields: %+v", entry)
	}
	if entry.StripeObjectID != "in_test_1" || entry.StripeCustomerID != "cus_test_1" {
		t.Errorf("unexpected stripe references: %+v", entry)
	}
	if entry.Amount != 2500 || entry.Currency != "usd" {
		t.Errorf("unexpected amount fields: %+v", entry)
	}
	if entry.SourceType != eventInvoicePaymentSucceeded {
		t.Errorf("unexpected source type %q", entry.SourceType)
	}
	if !entry.CreatedAt.Equal(time.Unix(1756600000, 0).UTC()) {
		t.Errorf("unexpected created at %v", entry.CreatedAt)
	}
}

func TestStripeWebhookHandler_ChargeRefundedRecordsDebit(t *testing.T) {
	ledger := &mockLedgerWriter{}
	h := NewStripeWebhookHandler(&mockWebhookVerifier{}, ledger, "whsec_test", nil)

	rr := doWebhookRequest(h, buildChargeRefundedEvent("user_1", 900), "t=1,v1=good")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(ledger.entries))
	}
	if ledger.entries[0].Type != types.LedgerDebit {
		t.Errorf("expected debit, got %s", ledger.entries[0].Type)
	}
	if ledger.entries[0].Amount != 900 {
		t.Errorf("expected amount 900, got %d", ledger.entries[0].Amount)
	}
}

func TestStripeWebhookHandler_UnhandledEventAcknowledged(t *testing.T) {
	ledger := &mockLedgerWriter{}
	h := NewStripeWebhookHandler(&mockWebhookVerifier{}, ledger, "whsec_test", nil)

	body := buildWebhookEvent("customer.created", "evt_cus_1", 1756600000, map[string]interface{}{
		"id": "cus_test_1",
	})
	rr := doWebhookRequest(h, body, "t=1,v1=good")

	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if len(ledger.entries) != 0 {
		t.Error("unhandled event types must not write ledger entries")
	}
}

func TestStripeWebhookHandler_DuplicateEventIgnored(t *testing.T) {
	ledger := &mockLedgerWriter{duplicate: true}
	h := NewStripeWebhookHandler(&mockWebhookVerifier{}, ledger, "whsec_test", nil)

	rr := doWebhookRequest(h, buildInvoicePaidEvent("user_1", 2500), "t=1,v1=good")

	// Redelivery of a seen event acks cleanly without a new row.
	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestStripeWebhookHandler_MissingUIDMetadata(t *testing.T) {
	ledger := &mockLedgerWriter{}
	h := NewStripeWebhookHandler(&mockWebhookVerifier{}, ledger, "whsec_test", nil)

	obj := map[string]interface{}{
		"id":          "in_test_1",
		"customer":    "cus_test_1",
		"currency":    "usd",
		"amount_paid": int64(2500),
	}
	body := buildWebhookEvent(eventInvoicePaymentSucceeded, "evt_inv_2", 1756600000, obj)
	rr := doWebhookRequest(h, body, "t=1,v1=good")

	// The uid can never arrive via redelivery, so the event is acknowledged
	// and skipped rather than bounced back into the retry schedule.
	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if len(ledger.entries) != 0 {
		t.Error("entry without uid metadata must not be written")
	}
}

func TestStripeWebhookHandler_LedgerErrorReturnsError(t *testing.T) {
	ledger := &mockLedgerWriter{insertErr: errors.New("db down")}
	h := NewStripeWebhookHandler(&mockWebhookVerifier{}, ledger, "whsec_test", nil)

	rr := doWebhookRequest(h, buildInvoicePaidEvent("user_1", 2500), "t=1,v1=good")

	// Non-2xx makes the provider redeliver; the idempotent insert makes the
	// retry safe.
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, rr.Code)
	}
}
