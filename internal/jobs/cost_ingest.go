package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"cliphost/internal/external"
	"cliphost/internal/types"
)

// CostSource is the analytics surface the cost ingestion reads: usage facts
// grouped by (customerId, userId, date) for one interval.
type CostSource interface {
	QueryCosts(ctx context.Context, interval external.Interval) ([]external.CostFacet, error)
}

// CostStore is the ledger surface the cost ingestion writes.
type CostStore interface {
	Upsert(ctx context.Context, entry types.CostLedgerEntry) error
}

// CostIngestSummary reports one run of the cost ingestion.
type CostIngestSummary struct {
	Upserted int `json:"upserted"`
}

// CostIngest pulls an interval's usage facts from analytics and idempotently
// upserts them into the cost ledger.
type CostIngest struct {
	source  CostSource
	store   CostStore
	metrics MetricPublisher
	logger  *slog.Logger
}

// NewCostIngest creates the job.
func NewCostIngest(source CostSource, store CostStore, metrics MetricPublisher, logger *slog.Logger) *CostIngest {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NopMetricPublisher{}
	}
	return &CostIngest{
		source:  source,
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// Run transforms each facet tuple into a cost ledger row keyed by
// (uid, cid, yymmdd) and upserts it, overwriting any previous row for the
// same day (last-write-wins, not additive). Zero facets is a successful
// no-op. Analytics and ledger failures are both fatal to the run; the
// partial upsert count collected so far is reported alongside the error.
func (c *CostIngest) Run(ctx context.Context, interval external.Interval) (CostIngestSummary, error) {
	var summary CostIngestSummary

	facets, err := c.source.QueryCosts(ctx, interval)
	if err != nil {
		return summary, fmt.Errorf("querying cost facets for %s: %w", interval, err)
	}
	if len(facets) == 0 {
		c.logger.InfoContext(ctx, "cost ingest complete, nothing to upsert",
			"interval", string(interval),
		)
		return summary, nil
	}

	for _, facet := range facets {
		entry := costEntryFromFacet(facet)
		if err := c.store.Upsert(ctx, entry); err != nil {
			return summary, fmt.Errorf("upserting cost for uid=%s cid=%s day=%s: %w",
				entry.UID, entry.CID, entry.YYMMDD, err)
		}
		summary.Upserted++
	}

	c.logger.InfoContext(ctx, "cost ingest complete",
		"interval", string(interval),
		"upserted", summary.Upserted,
	)
	if err := c.metrics.PublishJobSummary(ctx, "cost_ingest", map[string]float64{
		"Upserted": float64(summary.Upserted),
	}); err != nil {
		c.logger.WarnContext(ctx, "failed to publish job metrics", "error", err)
	}

	return summary, nil
}

// costEntryFromFacet maps one analytics facet to a ledger row. Minutes, cpv,
// and budget are placeholders this job does not populate; amount defaults to
// zero when the backend reports no spend value.
func costEntryFromFacet(facet external.CostFacet) types.CostLedgerEntry {
	var amount int64
	if facet.Costs != nil {
		amount = *facet.Costs
	}

	return types.CostLedgerEntry{
		UID:    facet.UserID,
		CID:    facet.CustomerID,
		YYMMDD: types.YYMMDD(facet.Date),
		Amount: amount,
	}
}
