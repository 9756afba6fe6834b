package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cliphost/internal/types"
)

// Interval names the two reporting windows the analytics backend serves.
type Interval string

const (
	IntervalToday     Interval = "today"
	IntervalYesterday Interval = "yesterday"
)

// ParseInterval validates a raw interval string from a job request.
func ParseInterval(raw string) (Interval, error) {
	switch Interval(raw) {
	case IntervalToday, IntervalYesterday:
		return Interval(raw), nil
	default:
		return "", types.NewAppError(
			types.ErrCodeValidationInvalidInterval,
			fmt.Sprintf("interval must be %q or %q", IntervalToday, IntervalYesterday),
			nil,
		)
	}
}

// CostFacet is one aggregated usage row grouped by (customer, user, date).
type CostFacet struct {
	CustomerID string    `json:"cid"`
	UserID     string    `json:"uid"`
	Date       time.Time `json:"date"`
	Costs      *int64    `json:"costs"` // minor units; nil when the backend reports no spend
}

// PerformanceFacet is one aggregated performance row per video.
type PerformanceFacet struct {
	VideoID      string `json:"video_id"`
	Views        int64  `json:"views"`
	WatchSeconds int64  `json:"watch_seconds"`
}

// AnalyticsClientConfig holds the configuration for creating an AnalyticsClient.
type AnalyticsClientConfig struct {
	BaseURL string
	Token   string
}

// AnalyticsClient queries the analytics backend's facet endpoints. The
// backend exposes a plain REST query interface; responses are rows grouped by
// facet tuples.
type AnalyticsClient struct {
	base    *BaseClient
	baseURL string
	token   string
}

// NewAnalyticsClient creates an AnalyticsClient over the given http client.
func NewAnalyticsClient(httpClient *http.Client, cfg AnalyticsClientConfig) *AnalyticsClient {
	base := NewBaseClient(
		httpClient,
		"analytics",
		DefaultRetryPolicy(),
		"ClipHost/1.0",
	)
	return &AnalyticsClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
	}
}

// NewAnalyticsClientWithBase creates an AnalyticsClient with a pre-configured
// BaseClient, for tests.
func NewAnalyticsClientWithBase(base *BaseClient, cfg AnalyticsClientConfig) *AnalyticsClient {
	return &AnalyticsClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
	}
}

// QueryCosts returns the interval's usage facts grouped by
// (customerId, userId, date). Zero rows is a valid, empty result.
func (a *AnalyticsClient) QueryCosts(ctx context.Context, interval Interval) ([]CostFacet, error) {
	params := url.Values{}
	params.Set("interval", string(interval))

	var result struct {
		Facets []CostFacet `json:"facets"`
	}
	if err := a.doGet(ctx, "/v1/facets/costs", params, &result); err != nil {
		return nil, err
	}
	return result.Facets, nil
}

// QueryPerformance returns per-video performance stats for the ranking
// reconciliation job.
func (a *AnalyticsClient) QueryPerformance(ctx context.Context) ([]PerformanceFacet, error) {
	var result struct {
		Facets []PerformanceFacet `json:"facets"`
	}
	if err := a.doGet(ctx, "/v1/facets/performance", nil, &result); err != nil {
		return nil, err
	}
	return result.Facets, nil
}

func (a *AnalyticsClient) doGet(ctx context.Context, path string, params url.Values, dst any) error {
	reqURL := a.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.base.Do(req)
	if err != nil {
		if _, ok := err.(*types.AppError); ok {
			return err
		}
		return types.NewAppError(
			types.ErrCodeUpstreamAnalytics,
			fmt.Sprintf("analytics request failed: %v", err),
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.NewAppError(
			types.ErrCodeUpstreamAnalytics,
			fmt.Sprintf("analytics returned status %d for %s", resp.StatusCode, path),
			nil,
		)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamAnalytics,
			"failed to decode analytics response",
			err,
		)
	}
	return nil
}
