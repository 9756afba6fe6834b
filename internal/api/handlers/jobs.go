// Package handlers contains the HTTP handler implementations for the
// monetization pipeline service: the scheduler-facing job endpoints, the
// payment webhook, and the monetization update endpoint.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cliphost/internal/core"
	"cliphost/internal/external"
	"cliphost/internal/jobs"
)

// ---------------------------------------------------------------------------
// Interfaces for job handler dependencies
// ---------------------------------------------------------------------------

// BillingSyncRunner runs one billing cache refresh.
type BillingSyncRunner interface {
	Run(ctx context.Context) (jobs.BillingSyncSummary, error)
}

// CostIngestRunner runs one cost ingestion for an interval.
type CostIngestRunner interface {
	Run(ctx context.Context, interval external.Interval) (jobs.CostIngestSummary, error)
}

// RechargeRunner runs one low-balance recharge pass.
type RechargeRunner interface {
	Run(ctx context.Context) (jobs.RechargeSummary, error)
}

// RankingReconcileRunner runs one ranking reconciliation.
type RankingReconcileRunner interface {
	Run(ctx context.Context, now time.Time) (jobs.RankingReconcileSummary, error)
}

// RankingResetRunner runs one due-today ranking reset.
type RankingResetRunner interface {
	Run(ctx context.Context, now time.Time) (jobs.RankingResetSummary, error)
}

// ---------------------------------------------------------------------------
// Job endpoints
// ---------------------------------------------------------------------------

// JobsHandler exposes each pipeline job as a synchronous POST endpoint for
// the external scheduler. Every run returns {success:true, ...counts} or a
// 500 with {success:false, error}.
type JobsHandler struct {
	billingSync BillingSyncRunner
	costIngest  CostIngestRunner
	recharge    RechargeRunner
	reconcile   RankingReconcileRunner
	reset       RankingResetRunner
	secret      string
	logger      *slog.Logger

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewJobsHandler creates the handler. secret guards all job routes.
func NewJobsHandler(
	billingSync BillingSyncRunner,
	costIngest CostIngestRunner,
	recharge RechargeRunner,
	reconcile RankingReconcileRunner,
	reset RankingResetRunner,
	secret string,
	logger *slog.Logger,
) *JobsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobsHandler{
		billingSync: billingSync,
		costIngest:  costIngest,
		recharge:    recharge,
		reconcile:   reconcile,
		reset:       reset,
		secret:      secret,
		logger:      logger,
		now:         time.Now,
	}
}

// RegisterRoutes mounts the job endpoints behind the shared-secret guard.
func (h *JobsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Use(core.JobAuthMiddleware(h.secret))
		r.Post("/billing-sync", h.HandleBillingSync)
		r.Post("/cost-ingest", h.HandleCostIngest)
		r.Post("/recharge", h.HandleRecharge)
		r.Post("/ranking-reconcile", h.HandleRankingReconcile)
		r.Post("/ranking-reset", h.HandleRankingReset)
	})
}

// HandleBillingSync triggers the billing cache refresh.
func (h *JobsHandler) HandleBillingSync(w http.ResponseWriter, r *http.Request) {
	summary, err := h.billingSync.Run(r.Context())
	if err != nil {
		h.jobError(w, r, "billing_sync", err)
		return
	}
	core.JSON(w, r, http.StatusOK, struct {
		Success bool `json:"success"`
		jobs.BillingSyncSummary
	}{true, summary})
}

// HandleCostIngest triggers the cost ingestion for the interval named in the
// query string.
func (h *JobsHandler) HandleCostIngest(w http.ResponseWriter, r *http.Request) {
	interval, err := external.ParseInterval(r.URL.Query().Get("interval"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	summary, err := h.costIngest.Run(r.Context(), interval)
	if err != nil {
		h.jobError(w, r, "cost_ingest", err)
		return
	}
	core.JSON(w, r, http.StatusOK, struct {
		Success bool `json:"success"`
		jobs.CostIngestSummary
	}{true, summary})
}

// HandleRecharge triggers the low-balance recharge pass.
func (h *JobsHandler) HandleRecharge(w http.ResponseWriter, r *http.Request) {
	summary, err := h.recharge.Run(r.Context())
	if err != nil {
		h.jobError(w, r, "recharge", err)
		return
	}
	core.JSON(w, r, http.StatusOK, struct {
		Success bool `json:"success"`
		jobs.RechargeSummary
	}{true, summary})
}

// HandleRankingReconcile triggers the ranking reconciliation.
func (h *JobsHandler) HandleRankingReconcile(w http.ResponseWriter, r *http.Request) {
	summary, err := h.reconcile.Run(r.Context(), h.now())
	if err != nil {
		h.jobError(w, r, "ranking_reconcile", err)
		return
	}
	core.JSON(w, r, http.StatusOK, struct {
		Success bool `json:"success"`
		jobs.RankingReconcileSummary
	}{true, summary})
}

// HandleRankingReset triggers the due-today ranking reset.
func (h *JobsHandler) HandleRankingReset(w http.ResponseWriter, r *http.Request) {
	summary, err := h.reset.Run(r.Context(), h.now())
	if err != nil {
		h.jobError(w, r, "ranking_reset", err)
		return
	}
	core.JSON(w, r, http.StatusOK, struct {
		Success bool `json:"success"`
		jobs.RankingResetSummary
	}{true, summary})
}

// jobError reports a fatal job run. Job endpoints are operator-facing, so
// the envelope carries the run error verbatim; the upstream/database status
// mapping used elsewhere does not apply here.
func (h *JobsHandler) jobError(w http.ResponseWriter, r *http.Request, job string, err error) {
	h.logger.ErrorContext(r.Context(), "job run failed",
		"job", job,
		"error", err,
	)
	core.JSON(w, r, http.StatusInternalServerError, core.JobErrorResponse{
		Success: false,
		Error:   err.Error(),
	})
}
