package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cliphost/internal/cache"
	"cliphost/internal/external"
	"cliphost/internal/monetize"
	"cliphost/internal/types"
)

// VideoSearch is the search-index surface the ranking jobs use: candidate
// discovery plus partial document writes.
type VideoSearch interface {
	SearchMonetized(ctx context.Context) ([]types.VideoDoc, error)
	SearchDueForReset(ctx context.Context, yymmdd string) ([]types.VideoDoc, error)
	UpdateVideo(ctx context.Context, patch any) error
}

// StatusReader is the cache surface the ranking jobs read. The full map is
// loaded once per run so per-video processing never round-trips the cache.
type StatusReader interface {
	GetAll(ctx context.Context) (map[string]string, error)
}

// PerformanceSource is the analytics surface supplying per-video view
// counters.
type PerformanceSource interface {
	QueryPerformance(ctx context.Context) ([]external.PerformanceFacet, error)
}

// RankingReconcileSummary reports one run of the reconciliation.
type RankingReconcileSummary struct {
	Updated    int `json:"updated"`
	Candidates int `json:"candidates"`
}

// RankingReconcile realigns every monetized video's ranking with its
// customer's cached billing status. The cron jobs only ever write ranking,
// score, and performance counters; cpv, budget, and gated change solely
// through explicit monetization updates.
type RankingReconcile struct {
	search   VideoSearch
	statuses StatusReader
	stats    PerformanceSource
	metrics  MetricPublisher
	minCPV   float64
	logger   *slog.Logger
}

// NewRankingReconcile creates the job.
func NewRankingReconcile(search VideoSearch, statuses StatusReader, stats PerformanceSource, metrics MetricPublisher, minCPV float64, logger *slog.Logger) *RankingReconcile {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NopMetricPublisher{}
	}
	if minCPV <= 0 {
		minCPV = monetize.DefaultMinCPV
	}
	return &RankingReconcile{
		search:   search,
		statuses: statuses,
		stats:    stats,
		metrics:  metrics,
		minCPV:   minCPV,
		logger:   logger,
	}
}

// Run loads the billing status map and the performance facets once, then
// rewrites each monetized video's score and ranking. Candidate discovery,
// the cache read, and the stats read are fatal when they fail; a single
// video's write is isolated, logged with its id, and excluded from the
// updated count.
func (r *RankingReconcile) Run(ctx context.Context, now time.Time) (RankingReconcileSummary, error) {
	var summary RankingReconcileSummary

	statuses, err := r.statuses.GetAll(ctx)
	if err != nil {
		return summary, fmt.Errorf("reading billing statuses: %w", err)
	}

	facets, err := r.stats.QueryPerformance(ctx)
	if err != nil {
		return summary, fmt.Errorf("querying performance facets: %w", err)
	}
	counters := make(map[string]external.PerformanceFacet, len(facets))
	for _, facet := range facets {
		counters[facet.VideoID] = facet
	}

	docs, err := r.search.SearchMonetized(ctx)
	if err != nil {
		return summary, fmt.Errorf("searching monetized videos: %w", err)
	}
	summary.Candidates = len(docs)

	for _, doc := range docs {
		patch := r.reconcilePatch(doc, statuses, counters, now)
		if err := r.search.UpdateVideo(ctx, patch); err != nil {
			r.logger.ErrorContext(ctx, "ranking update failed",
				"video_id", doc.ID,
				"cid", doc.CID,
				"error", err,
			)
			continue
		}
		summary.Updated++
	}

	r.logger.InfoContext(ctx, "ranking reconcile complete",
		"updated", summary.Updated,
		"candidates", summary.Candidates,
	)
	if err := r.metrics.PublishJobSummary(ctx, "ranking_reconcile", map[string]float64{
		"Updated":    float64(summary.Updated),
		"Candidates": float64(summary.Candidates),
	}); err != nil {
		r.logger.WarnContext(ctx, "failed to publish job metrics", "error", err)
	}

	return summary, nil
}

// reconcilePatch recomputes one video's score from its stored cpv and
// budget and gates ranking on the cached billing flag. A customer absent
// from the cache counts as inactive. Counters are attached only when
// analytics reported fresh stats for the video.
func (r *RankingReconcile) reconcilePatch(doc types.VideoDoc, statuses map[string]string, counters map[string]external.PerformanceFacet, now time.Time) external.RankingPatch {
	score := monetize.Score(r.minCPV, doc.CPV, doc.Budget)
	active := statuses[doc.CID] == cache.FlagActive

	patch := external.RankingPatch{
		ID:       doc.ID,
		Score:    score,
		Ranking:  monetize.Ranking(score, active),
		Modified: now.Unix(),
	}
	if facet, ok := counters[doc.ID]; ok {
		views := facet.Views
		minutes := float64(facet.WatchSeconds) / 60
		patch.Views = &views
		patch.Minutes = &minutes
	}
	return patch
}

// RankingResetSummary reports one run of the reset job. Results carries one
// entry per due video in search order.
type RankingResetSummary struct {
	Results []types.ResetItemResult `json:"results"`
}

// RankingReset refreshes videos the index has flagged as due today. Each
// item is processed sequentially and independently; a failed item is
// recorded in its result entry and never aborts the run.
type RankingReset struct {
	search   VideoSearch
	statuses StatusReader
	metrics  MetricPublisher
	minCPV   float64
	logger   *slog.Logger
}

// NewRankingReset creates the job.
func NewRankingReset(search VideoSearch, statuses StatusReader, metrics MetricPublisher, minCPV float64, logger *slog.Logger) *RankingReset {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NopMetricPublisher{}
	}
	if minCPV <= 0 {
		minCPV = monetize.DefaultMinCPV
	}
	return &RankingReset{
		search:   search,
		statuses: statuses,
		metrics:  metrics,
		minCPV:   minCPV,
		logger:   logger,
	}
}

// Run finds videos due for a refresh on now's calendar day and rewrites
// each one's score and ranking individually. Discovery and the cache read
// are fatal; per-item failures land in the item's result entry.
func (r *RankingReset) Run(ctx context.Context, now time.Time) (RankingResetSummary, error) {
	summary := RankingResetSummary{Results: []types.ResetItemResult{}}

	statuses, err := r.statuses.GetAll(ctx)
	if err != nil {
		return summary, fmt.Errorf("reading billing statuses: %w", err)
	}

	day := types.YYMMDD(now)
	docs, err := r.search.SearchDueForReset(ctx, day)
	if err != nil {
		return summary, fmt.Errorf("searching videos due for reset on %s: %w", day, err)
	}

	failed := 0
	for _, doc := range docs {
		score := monetize.Score(r.minCPV, doc.CPV, doc.Budget)
		active := statuses[doc.CID] == cache.FlagActive

		result := types.ResetItemResult{
			ID:     doc.ID,
			Score:  score,
			Status: types.ResetUpdated,
		}
		patch := external.RankingPatch{
			ID:       doc.ID,
			Score:    score,
			Ranking:  monetize.Ranking(score, active),
			Modified: now.Unix(),
		}
		if err := r.search.UpdateVideo(ctx, patch); err != nil {
			r.logger.ErrorContext(ctx, "ranking reset failed",
				"video_id", doc.ID,
				"cid", doc.CID,
				"error", err,
			)
			result.Status = types.ResetFailed
			result.Error = err.Error()
			failed++
		}
		summary.Results = append(summary.Results, result)
	}

	r.logger.InfoContext(ctx, "ranking reset complete",
		"day", day,
		"total", len(summary.Results),
		"failed", failed,
	)
	if err := r.metrics.PublishJobSummary(ctx, "ranking_reset", map[string]float64{
		"Total":  float64(len(summary.Results)),
		"Failed": float64(failed),
	}); err != nil {
		r.logger.WarnContext(ctx, "failed to publish job metrics", "error", err)
	}

	return summary, nil
}
