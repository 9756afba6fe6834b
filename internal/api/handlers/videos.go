package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cliphost/internal/core"
	"cliphost/internal/external"
	"cliphost/internal/monetize"
	"cliphost/internal/types"
)

// maxMonetizationBodySize bounds the monetization request payload (16 KB).
const maxMonetizationBodySize = 16 * 1024

// ---------------------------------------------------------------------------
// Interfaces for monetization handler dependencies
// ---------------------------------------------------------------------------

// VideoStore is the search-index surface the monetization endpoint needs.
type VideoStore interface {
	GetVideo(ctx context.Context, id string) (*types.VideoDoc, error)
	UpdateVideo(ctx context.Context, patch any) error
}

// BillingStatusReader answers whether a single customer is billing-active.
// Absent from the cache counts as inactive.
type BillingStatusReader interface {
	IsActive(ctx context.Context, customerID string) (bool, error)
}

// ---------------------------------------------------------------------------
// Monetization endpoint
// ---------------------------------------------------------------------------

// monetizationRequest is the creator platform's requested monetization
// change. All fields are required; pointers distinguish absent from zero.
type monetizationRequest struct {
	CPV    *float64 `json:"cpv"`
	Budget *float64 `json:"budget"`
	Gated  *int     `json:"gated"`
}

// monetizationResponse echoes the normalized fields actually written.
type monetizationResponse struct {
	Success bool    `json:"success"`
	ID      string  `json:"id"`
	CPV     float64 `json:"cpv"`
	Budget  float64 `json:"budget"`
	Gated   int     `json:"gated"`
	Score   int64   `json:"score"`
	Ranking int64   `json:"ranking"`
}

// MonetizationHandler applies explicit monetization updates to a video.
// This is the only write path for the cpv, budget, and gated fields; the
// cron jobs only ever rewrite ranking and score.
type MonetizationHandler struct {
	videos   VideoStore
	statuses BillingStatusReader
	secret   string
	minCPV   float64
	logger   *slog.Logger

	now func() time.Time
}

// NewMonetizationHandler creates the handler. The endpoint shares the job
// secret because it is called by the trusted creator platform backend, not
// by end users.
func NewMonetizationHandler(videos VideoStore, statuses BillingStatusReader, secret string, minCPV float64, logger *slog.Logger) *MonetizationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if minCPV <= 0 {
		minCPV = monetize.DefaultMinCPV
	}
	return &MonetizationHandler{
		videos:   videos,
		statuses: statuses,
		secret:   secret,
		minCPV:   minCPV,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterRoutes mounts the monetization endpoint behind the shared-secret
// guard.
func (h *MonetizationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/videos", func(r chi.Router) {
		r.Use(core.JobAuthMiddleware(h.secret))
		r.Put("/{id}/monetization", h.HandleUpdate)
	})
}

// HandleUpdate loads the video, normalizes the requested change through the
// gating policy, derives ranking from the owner's cached billing status, and
// writes the full monetization patch back to the index.
func (h *MonetizationHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")
	if videoID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"video id is required",
			nil,
		))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxMonetizationBodySize)
	var req monetizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidBody,
			"invalid request body",
			err,
		))
		return
	}
	if req.CPV == nil || req.Budget == nil || req.Gated == nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"cpv, budget, and gated are required",
			nil,
		))
		return
	}

	doc, err := h.videos.GetVideo(r.Context(), videoID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	update := monetize.ApplyMonetizationUpdate(h.minCPV, doc.Duration, *req.CPV, *req.Budget, *req.Gated)

	active := false
	if doc.CID != "" {
		active, err = h.statuses.IsActive(r.Context(), doc.CID)
		if err != nil {
			core.Error(w, r, err)
			return
		}
	}

	patch := external.MonetizationPatch{
		ID:       doc.ID,
		CPV:      update.CPV,
		Budget:   update.Budget,
		Gated:    update.Gated,
		Score:    update.Score,
		Ranking:  monetize.Ranking(update.Score, active),
		Modified: h.now().Unix(),
	}
	if err := h.videos.UpdateVideo(r.Context(), patch); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "monetization updated",
		"video_id", doc.ID,
		"cpv", update.CPV,
		"budget", update.Budget,
		"gated", update.Gated,
		"ranking", patch.Ranking,
	)

	core.JSON(w, r, http.StatusOK, monetizationResponse{
		Success: true,
		ID:      doc.ID,
		CPV:     update.CPV,
		Budget:  update.Budget,
		Gated:   update.Gated,
		Score:   update.Score,
		Ranking: patch.Ranking,
	})
}
