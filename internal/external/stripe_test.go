package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cliphost/internal/types"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func noopSleep(time.Duration) {}

// newTestStripeClient points a StripeClient at an httptest server with
// retries disabled for deterministic behavior.
func newTestStripeClient(t *testing.T, serverURL string) *StripeClient {
	t.Helper()
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-stripe",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: 10 * time.Millisecond},
		"ClipHost-Test/1.0",
		WithSleepFunc(noopSleep),
	)
	return NewStripeClientWithBase(base, StripeClientConfig{
		SecretKey: "sk_test_secret",
		BaseURL:   serverURL,
	})
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.Fatalf("encoding response: %v", err)
	}
}

// ---------------------------------------------------------------------------
// ListCustomers Tests
// ---------------------------------------------------------------------------

func TestListCustomers_FirstPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/customers" {
			t.Errorf("expected path /v1/customers, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "100" {
			t.Errorf("expected limit=100, got %q", got)
		}
		if got := r.URL.Query().Get("starting_after"); got != "" {
			t.Errorf("first page must not carry a cursor, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_secret" {
			t.Errorf("unexpected authorization header %q", got)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"data": []map[string]string{
				{"id": "cus_1", "email": "a@example.com"},
				{"id": "cus_2", "email": "b@example.com"},
			},
		})
	}))
	defer server.Close()

	client := newTestStripeClient(t, server.URL)
	customers, err := client.ListCustomers(context.Background(), "", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(customers) != 2 {
		t.Fatalf("expected 2 customers, got %d", len(customers))
	}
	if customers[0].ID != "cus_1" || customers[1].ID != "cus_2" {
		t.Errorf("unexpected customers: %+v", customers)
	}
}

func TestListCustomers_CursorPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("starting_after"); got != "cus_2" {
			t.Errorf("expected starting_after=cus_2, got %q", got)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{"data": []map[string]string{}})
	}))
	defer server.Close()

	client := newTestStripeClient(t, server.URL)
	customers, err := client.ListCustomers(context.Background(), "cus_2", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(customers) != 0 {
		t.Errorf("expected exhausted page, got %+v", customers)
	}
}

// ---------------------------------------------------------------------------
// Status Check Tests
// ---------------------------------------------------------------------------

func TestHasCardPaymentMethod(t *testing.T) {
	hasCard := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_methods" {
			t.Errorf("expected path /v1/payment_methods, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("type"); got != "card" {
			t.Errorf("expected type=card, got %q", got)
		}
		data := []map[string]string{}
		if hasCard {
			data = append(data, map[string]string{"id": "pm_1"})
		}
		writeJSON(t, w, http.StatusOK, map[string]any{"data": data})
	}))
	defer server.Close()

	client := newTestStripeClient(t, server.URL)

	got, err := client.HasCardPaymentMethod(context.Background(), "cus_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Error("expected card on file")
	}

	hasCard = false
	got, err = client.HasCardPaymentMethod(context.Background(), "cus_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got {
		t.Error("expected no card on file")
	}
}

func TestLastInvoicePaid(t *testing.T) {
	cases := []struct {
		name     string
		invoices []map[string]string
		want     bool
	}{
		{"paid", []map[string]string{{"id": "in_1", "status": "paid"}}, true},
		{"open", []map[string]string{{"id": "in_1", "status": "open"}}, false},
		{"no invoices", []map[string]string{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/invoices" {
					t.Errorf("expected path /v1/invoices, got %s", r.URL.Path)
				}
				if got := r.URL.Query().Get("limit"); got != "1" {
					t.Errorf("expected limit=1, got %q", got)
				}
				writeJSON(t, w, http.StatusOK, map[string]any{"data": tc.invoices})
			}))
			defer server.Close()

			client := newTestStripeClient(t, server.URL)
			got, err := client.LastInvoicePaid(context.Background(), "cus_1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// CreateTopUpInvoice Tests
// ---------------------------------------------------------------------------

func TestCreateTopUpInvoice(t *testing.T) {
	var itemIdempotencyKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/invoiceitems":
			itemIdempotencyKey = r.Header.Get("Idempotency-Key")
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parsing form: %v", err)
			}
			if got := r.PostForm.Get("amount"); got != "2500" {
				t.Errorf("expected amount=2500, got %q", got)
			}
			if got := r.PostForm.Get("currency"); got != "usd" {
				t.Errorf("expected currency=usd, got %q", got)
			}
			writeJSON(t, w, http.StatusOK, map[string]string{"id": "ii_1"})

		case "/v1/invoices":
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parsing form: %v", err)
			}
			if got := r.PostForm.Get("auto_advance"); got != "true" {
				t.Errorf("expected auto_advance=true, got %q", got)
			}
			writeJSON(t, w, http.StatusOK, map[string]string{"id": "in_42"})

		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestStripeClient(t, server.URL)
	invoiceID, err := client.CreateTopUpInvoice(context.Background(), "cus_1", 2500, "usd", "top-up", "idem_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if invoiceID != "in_42" {
		t.Errorf("expected invoice in_42, got %s", invoiceID)
	}
	if itemIdempotencyKey != "idem_1" {
		t.Errorf("expected idempotency key on the invoice item, got %q", itemIdempotencyKey)
	}
}

func TestCreateTopUpInvoice_CardDeclined(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusPaymentRequired, map[string]any{
			"error": map[string]string{
				"type":         "card_error",
				"code":         "card_declined",
				"decline_code": "insufficient_funds",
				"message":      "Your card has insufficient funds.",
			},
		})
	}))
	defer server.Close()

	client := newTestStripeClient(t, server.URL)
	_, err := client.CreateTopUpInvoice(context.Background(), "cus_1", 2500, "usd", "top-up", "idem_1")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	appErr, ok := err.(*types.AppError)
	if !ok {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodePaymentDeclined {
		t.Errorf("expected %s, got %s", types.ErrCodePaymentDeclined, appErr.Code)
	}
}
