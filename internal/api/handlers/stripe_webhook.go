package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cliphost/internal/core"
	"cliphost/internal/external"
	"cliphost/internal/types"
)

// maxWebhookBodySize bounds the webhook payload (64 KB). Stripe payloads are
// small; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// Stripe event types the ledger cares about.
const (
	eventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	eventChargeRefunded          = "charge.refunded"
)

// LedgerWriter is the idempotent user ledger surface the webhook writes.
type LedgerWriter interface {
	// InsertIgnore records the entry unless its event id was already seen,
	// and reports whether a row was written.
	InsertIgnore(ctx context.Context, entry types.UserLedgerEntry) (bool, error)
}

// stripeEvent is the envelope Stripe delivers. Only the fields the ledger
// needs are decoded.
type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object stripeEventObject `json:"object"`
	} `json:"data"`
}

// stripeEventObject is the union of the invoice and charge fields consumed.
type stripeEventObject struct {
	ID             string            `json:"id"`
	Customer       string            `json:"customer"`
	Currency       string            `json:"currency"`
	AmountPaid     int64             `json:"amount_paid"`
	AmountRefunded int64             `json:"amount_refunded"`
	Metadata       map[string]string `json:"metadata"`
}

// StripeWebhookHandler ingests payment events into the user ledger. It is
// not behind the job secret because Stripe calls it directly; authenticity
// comes from the signature header instead.
type StripeWebhookHandler struct {
	verifier external.WebhookVerifier
	ledger   LedgerWriter
	secret   string
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates the handler. secret is the webhook signing
// secret from the Stripe dashboard.
func NewStripeWebhookHandler(verifier external.WebhookVerifier, ledger LedgerWriter, secret string, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		ledger:   ledger,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Kept separate from the job
// routes because it carries no bearer secret.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle verifies the signature, decodes the event, and routes it into the
// ledger. Unhandled event types are acknowledged and skipped. A ledger write
// failure is returned as an error so Stripe redelivers; redelivery is safe
// because the insert is idempotent on the event id.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidBody,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationBadSignature,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidBody,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// routeEvent maps the event type to its ledger entry type.
func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripeEvent) error {
	switch event.Type {
	case eventInvoicePaymentSucceeded:
		return h.recordEntry(ctx, event, types.LedgerCredit, event.Data.Object.AmountPaid)

	case eventChargeRefunded:
		return h.recordEntry(ctx, event, types.LedgerDebit, event.Data.Object.AmountRefunded)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

// recordEntry writes one ledger row keyed by the event id. The uid comes
// from the Stripe object's metadata, stamped there when the customer was
// created.
func (h *StripeWebhookHandler) recordEntry(ctx context.Context, event *stripeEvent, entryType types.LedgerEntryType, amount int64) error {
	obj := event.Data.Object
	uid := obj.Metadata["uid"]
	if uid == "" {
		// Permanently malformed: redelivery can never supply the uid, so
		// acknowledge and skip instead of making Stripe retry.
		h.logger.WarnContext(ctx, "skipping webhook event without uid metadata",
			"event_id", event.ID,
			"event_type", event.Type,
			"stripe_object_id", obj.ID,
		)
		return nil
	}

	entry := types.UserLedgerEntry{
		StripeEventID:    event.ID,
		UserID:           uid,
		StripeObjectID:   obj.ID,
		StripeCustomerID: obj.Customer,
		Type:             entryType,
		Amount:           amount,
		Currency:         obj.Currency,
		SourceType:       event.Type,
		CreatedAt:        time.Unix(event.Created, 0).UTC(),
	}

	inserted, err := h.ledger.InsertIgnore(ctx, entry)
	if err != nil {
		return fmt.Errorf("recording ledger entry for event %s: %w", event.ID, err)
	}
	if !inserted {
		h.logger.InfoContext(ctx, "duplicate webhook event ignored",
			"event_id", event.ID,
			"event_type", event.Type,
		)
	}
	return nil
}
