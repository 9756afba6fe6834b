package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"

	"cliphost/internal/types"
)

// stripeAPIBase is the default Stripe API base URL. Overridable in tests via
// StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient talks to the payment processor by making direct HTTP calls to
// the Stripe REST API through BaseClient. Routing requests through the shared
// resilience layer keeps retry/breaker behavior uniform and makes testing
// with httptest straightforward.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient over the given http client.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"stripe",
		DefaultRetryPolicy(),
		"ClipHost/1.0",
	)

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient, for tests that control retry/breaker behavior.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// Customer is the slice of a processor customer the pipeline needs.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// ListCustomers returns one page of customers ordered by id, starting after
// the given cursor (empty for the first page). An empty result means the
// listing is exhausted.
func (s *StripeClient) ListCustomers(ctx context.Context, startingAfter string, limit int) ([]Customer, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if startingAfter != "" {
		params.Set("starting_after", startingAfter)
	}

	resp, err := s.doGet(ctx, "/v1/customers", params)
	if err != nil {
		return nil, s.wrapStripeError("ListCustomers", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "ListCustomers")
	}

	var list struct {
		Data []Customer `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer list response",
			err,
		)
	}
	return list.Data, nil
}

// HasCardPaymentMethod reports whether the customer has at least one card
// payment method on file.
func (s *StripeClient) HasCardPaymentMethod(ctx context.Context, customerID string) (bool, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("type", "card")
	params.Set("limit", "1")

	resp, err := s.doGet(ctx, "/v1/payment_methods", params)
	if err != nil {
		return false, s.wrapStripeError("HasCardPaymentMethod", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, s.handleErrorResponse(resp, "HasCardPaymentMethod")
	}

	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return false, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe payment method response",
			err,
		)
	}
	return len(list.Data) > 0, nil
}

// LastInvoicePaid reports whether the customer's most recent invoice has
// settled. A customer with no invoices at all counts as not settled.
func (s *StripeClient) LastInvoicePaid(ctx context.Context, customerID string) (bool, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("limit", "1")

	resp, err := s.doGet(ctx, "/v1/invoices", params)
	if err != nil {
		return false, s.wrapStripeError("LastInvoicePaid", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, s.handleErrorResponse(resp, "LastInvoicePaid")
	}

	var list struct {
		Data []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return false, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe invoice response",
			err,
		)
	}

	if len(list.Data) == 0 {
		return false, nil
	}
	return list.Data[0].Status == "paid", nil
}

// CreateTopUpInvoice issues a top-up invoice for the customer: a pending
// invoice item followed by an auto-advancing invoice that collects it. The
// idempotency key covers the invoice item so a retried job run cannot
// double-bill a customer.
func (s *StripeClient) CreateTopUpInvoice(
	ctx context.Context,
	customerID string,
	amountCents int64,
	currency string,
	description string,
	idempotencyKey string,
) (invoiceID string, err error) {
	itemParams := url.Values{}
	itemParams.Set("customer", customerID)
	itemParams.Set("amount", strconv.FormatInt(amountCents, 10))
	itemParams.Set("currency", currency)
	itemParams.Set("description", description)

	itemResp, err := s.doPost(ctx, "/v1/invoiceitems", itemParams, idempotencyKey)
	if err != nil {
		return "", s.wrapStripeError("CreateTopUpInvoice.item", err)
	}
	defer itemResp.Body.Close()

	if itemResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(itemResp, "CreateTopUpInvoice.item")
	}

	invParams := url.Values{}
	invParams.Set("customer", customerID)
	invParams.Set("auto_advance", "true")
	invParams.Set("pending_invoice_items_behavior", "include")

	invResp, err := s.doPost(ctx, "/v1/invoices", invParams, "")
	if err != nil {
		return "", s.wrapStripeError("CreateTopUpInvoice.invoice", err)
	}
	defer invResp.Body.Close()

	if invResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(invResp, "CreateTopUpInvoice.invoice")
	}

	var invoice struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(invResp.Body).Decode(&invoice); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe invoice creation response",
			err,
		)
	}
	return invoice.ID, nil
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req, "")

	return s.base.Do(req)
}

func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values, idempotencyKey string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req, idempotencyKey)

	return s.base.Do(req)
}

func (s *StripeClient) setAuthHeaders(req *http.Request, idempotencyKey string) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
}

// ---------------------------------------------------------------------------
// Error handling
// ---------------------------------------------------------------------------

// stripeErrorResponse represents the JSON error body returned by the API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

// handleErrorResponse reads a Stripe error response and maps it to an AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	e := &stripeErr.Error
	if e.Code == "card_declined" || e.DeclineCode != "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", operation, e.Message),
			nil,
			map[string]any{
				"decline_code": e.DeclineCode,
				"stripe_code":  e.Code,
			},
		)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, e.Message),
			nil,
		)
	case resp.StatusCode == http.StatusNotFound:
		return types.NewAppError(
			types.ErrCodeNotFoundCustomer,
			fmt.Sprintf("%s: Stripe resource not found: %s", operation, e.Message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, e.Message),
			nil,
		)
	}
}

// wrapStripeError wraps a BaseClient transport error with operation context.
// AppErrors from BaseClient (breaker open, retries exhausted) pass through
// unchanged since they already carry the right code.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Webhook verification
// ---------------------------------------------------------------------------

// WebhookVerifier validates an inbound webhook payload against its signature
// header and signing secret.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature verification (HMAC-SHA256 with timestamp tolerance).
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}
