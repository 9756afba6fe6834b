package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"cliphost/internal/types"
)

// SearchClientConfig holds the configuration for creating a SearchClient.
type SearchClientConfig struct {
	BaseURL string
	APIKey  string
	Index   string // video index name, e.g. "videos"
}

// SearchClient provides document retrieve/update by id and the filtered
// search operations the ranking jobs use to find candidate videos. The index
// exposes a documents-and-search REST API; partial document updates merge
// into the stored document.
type SearchClient struct {
	base    *BaseClient
	baseURL string
	apiKey  string
	index   string
}

// NewSearchClient creates a SearchClient over the given http client.
func NewSearchClient(httpClient *http.Client, cfg SearchClientConfig) *SearchClient {
	base := NewBaseClient(
		httpClient,
		"search",
		DefaultRetryPolicy(),
		"ClipHost/1.0",
	)
	return &SearchClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		index:   cfg.Index,
	}
}

// NewSearchClientWithBase creates a SearchClient with a pre-configured
// BaseClient, for tests.
func NewSearchClientWithBase(base *BaseClient, cfg SearchClientConfig) *SearchClient {
	return &SearchClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		index:   cfg.Index,
	}
}

// MonetizationPatch is the partial document write the pipeline performs.
// Only the monetization fields are touched; the rest of the document belongs
// to the creator workflow.
type MonetizationPatch struct {
	ID       string  `json:"id"`
	CPV      float64 `json:"cpv"`
	Budget   float64 `json:"budget"`
	Gated    int     `json:"gated"`
	Score    int64   `json:"score"`
	Ranking  int64   `json:"ranking"`
	Modified int64   `json:"modified"`
}

// RankingPatch is the narrower write the reconciliation jobs perform: the
// cron jobs only ever toggle ranking (and refresh score and performance
// counters), never cpv, budget, or gated. Counter fields are pointers so a
// video without fresh stats keeps its stored counters.
type RankingPatch struct {
	ID       string   `json:"id"`
	Score    int64    `json:"score"`
	Ranking  int64    `json:"ranking"`
	Views    *int64   `json:"views,omitempty"`
	Minutes  *float64 `json:"minutes,omitempty"`
	Modified int64    `json:"modified"`
}

// GetVideo retrieves a video document by id.
func (s *SearchClient) GetVideo(ctx context.Context, id string) (*types.VideoDoc, error) {
	path := fmt.Sprintf("/indexes/%s/documents/%s", s.index, url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeader(req)

	resp, err := s.base.Do(req)
	if err != nil {
		return nil, s.wrapSearchError("GetVideo", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, types.NewAppError(
			types.ErrCodeNotFoundVideo,
			fmt.Sprintf("video %s not found in search index", id),
			nil,
		)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, s.statusError("GetVideo", resp.StatusCode)
	}

	var doc types.VideoDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamSearch,
			"failed to decode search document response",
			err,
		)
	}
	return &doc, nil
}

// UpdateVideo merges a partial document into the index. The patch value must
// carry the document id; any struct with json tags works.
func (s *SearchClient) UpdateVideo(ctx context.Context, patch any) error {
	path := fmt.Sprintf("/indexes/%s/documents", s.index)

	body, err := json.Marshal([]any{patch})
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to marshal search document patch",
			err,
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.setAuthHeader(req)

	resp, err := s.base.Do(req)
	if err != nil {
		return s.wrapSearchError("UpdateVideo", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return s.statusError("UpdateVideo", resp.StatusCode)
	}
	return nil
}

// SearchMonetized returns the candidate documents for ranking
// reconciliation: every video with a positive cost-per-view. Unmonetized
// documents already carry ranking 0 and need no writes.
func (s *SearchClient) SearchMonetized(ctx context.Context) ([]types.VideoDoc, error) {
	return s.search(ctx, "cpv > 0")
}

// SearchDueForReset returns the videos the index flags as due for a ranking
// refresh on the given day key (yymmdd).
func (s *SearchClient) SearchDueForReset(ctx context.Context, yymmdd string) ([]types.VideoDoc, error) {
	return s.search(ctx, fmt.Sprintf("reset_ymd = %s", yymmdd))
}

// search runs a filtered search and collects all hits, paging until the
// index reports no more.
func (s *SearchClient) search(ctx context.Context, filter string) ([]types.VideoDoc, error) {
	const pageSize = 1000
	path := fmt.Sprintf("/indexes/%s/search", s.index)

	var all []types.VideoDoc
	offset := 0
	for {
		payload := map[string]any{
			"filter": filter,
			"limit":  pageSize,
			"offset": offset,
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, types.NewAppError(
				types.ErrCodeInternalUnexpected,
				"failed to marshal search query",
				err,
			)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		s.setAuthHeader(req)

		resp, err := s.base.Do(req)
		if err != nil {
			return nil, s.wrapSearchError("Search", err)
		}

		var page struct {
			Hits []types.VideoDoc `json:"hits"`
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, s.statusError("Search", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			resp.Body.Close()
			return nil, types.NewAppError(
				types.ErrCodeUpstreamSearch,
				"failed to decode search response",
				err,
			)
		}
		resp.Body.Close()

		all = append(all, page.Hits...)
		if len(page.Hits) < pageSize {
			return all, nil
		}
		offset += pageSize
	}
}

func (s *SearchClient) setAuthHeader(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}

func (s *SearchClient) statusError(operation string, status int) error {
	return types.NewAppError(
		types.ErrCodeUpstreamSearch,
		fmt.Sprintf("%s: search index returned status %d", operation, status),
		nil,
	)
}

func (s *SearchClient) wrapSearchError(operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamSearch,
		fmt.Sprintf("%s: search request failed: %v", operation, err),
		err,
	)
}
