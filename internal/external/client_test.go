package external

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cliphost/internal/types"
)

// newTestBaseClient creates a BaseClient pointed at a test server with fast
// test defaults: no real sleep between retries.
func newTestBaseClient(t *testing.T, policy RetryPolicy) *BaseClient {
	t.Helper()
	return NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-breaker",
		policy,
		"ClipHost-Test/1.0",
		WithSleepFunc(noopSleep),
	)
}

func TestDo_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := newTestBaseClient(t, DefaultRetryPolicy())

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/test", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"status":"ok"}` {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestDo_InjectsRequestID(t *testing.T) {
	var receivedRequestID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedRequestID = r.Header.Get("X-Request-Id")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestBaseClient(t, DefaultRetryPolicy())

	ctx := types.WithRequestID(context.Background(), "req-test-42")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	resp.Body.Close()

	if receivedRequestID != "req-test-42" {
		t.Errorf("X-Request-Id = %q, want %q", receivedRequestID, "req-test-42")
	}
}

func TestDo_SetsUserAgent(t *testing.T) {
	var receivedUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestBaseClient(t, DefaultRetryPolicy())

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	resp.Body.Close()

	if receivedUA != "ClipHost-Test/1.0" {
		t.Errorf("User-Agent = %q, want %q", receivedUA, "ClipHost-Test/1.0")
	}
}

func TestDo_RetriesOn500ThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := newTestBaseClient(t, RetryPolicy{
		MaxRetries: 2,
		MinWait:    time.Millisecond,
		MaxWait:    10 * time.Millisecond,
	})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("expected success on the second attempt, got: %v", err)
	}
	resp.Body.Close()

	if got := attempts.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestDo_RetriesOn429(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestBaseClient(t, RetryPolicy{
		MaxRetries: 1,
		MinWait:    time.Millisecond,
		MaxWait:    10 * time.Millisecond,
	})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("expected success after retrying 429, got: %v", err)
	}
	resp.Body.Close()

	if got := attempts.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestDo_NoRetryOn400(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad input"}`))
	}))
	defer server.Close()

	client := newTestBaseClient(t, RetryPolicy{
		MaxRetries: 3,
		MinWait:    time.Millisecond,
		MaxWait:    10 * time.Millisecond,
	})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("4xx responses are returned to the caller, got error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", resp.StatusCode)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("expected exactly 1 attempt for a 400, got %d", got)
	}
}

func TestDo_ExhaustedRetriesMapTo502Error(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestBaseClient(t, RetryPolicy{
		MaxRetries: 2,
		MinWait:    time.Millisecond,
		MaxWait:    10 * time.Millisecond,
	})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := client.Do(req)
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamUnavailable {
		t.Errorf("Code = %q, want %q", appErr.Code, types.ErrCodeUpstreamUnavailable)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
}

func TestDo_RateLimitExhaustedMapsToRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestBaseClient(t, RetryPolicy{
		MaxRetries: 1,
		MinWait:    time.Millisecond,
		MaxWait:    10 * time.Millisecond,
	})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := client.Do(req)
	if err == nil {
		t.Fatal("expected an error after exhausting retries on 429")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamRateLimited {
		t.Errorf("Code = %q, want %q", appErr.Code, types.ErrCodeUpstreamRateLimited)
	}
}

func TestDo_ReplaysBodyOnRetry(t *testing.T) {
	var bodies []string
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestBaseClient(t, RetryPolicy{
		MaxRetries: 1,
		MinWait:    time.Millisecond,
		MaxWait:    10 * time.Millisecond,
	})

	payload := `{"amount":2500}`
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader(payload))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("expected success on retry, got: %v", err)
	}
	resp.Body.Close()

	if len(bodies) != 2 {
		t.Fatalf("expected 2 request bodies, got %d", len(bodies))
	}
	for i, b := range bodies {
		if b != payload {
			t.Errorf("attempt %d body = %q, want %q", i+1, b, payload)
		}
	}
}

func TestComputeBackoff_RetryAfterSeconds(t *testing.T) {
	client := newTestBaseClient(t, RetryPolicy{
		MaxRetries: 1,
		MinWait:    100 * time.Millisecond,
		MaxWait:    10 * time.Second,
	})

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "3")

	if got := client.computeBackoff(0, resp); got != 3*time.Second {
		t.Errorf("computeBackoff = %v, want 3s from Retry-After", got)
	}
}

func TestComputeBackoff_RetryAfterClampedToMaxWait(t *testing.T) {
	client := newTestBaseClient(t, RetryPolicy{
		MaxRetries: 1,
		MinWait:    100 * time.Millisecond,
		MaxWait:    2 * time.Second,
	})

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "600")

	if got := client.computeBackoff(0, resp); got != 2*time.Second {
		t.Errorf("computeBackoff = %v, want MaxWait 2s", got)
	}
}

func TestComputeBackoff_JitterWithinBounds(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries: 3,
		MinWait:    100 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
	client := newTestBaseClient(t, policy)

	for attempt := 0; attempt < 4; attempt++ {
		for i := 0; i < 20; i++ {
			got := client.computeBackoff(attempt, nil)
			if got < policy.MinWait || got > policy.MaxWait {
				t.Fatalf("computeBackoff(attempt=%d) = %v, outside [%v, %v]", attempt, got, policy.MinWait, policy.MaxWait)
			}
		}
	}
}
