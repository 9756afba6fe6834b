package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"cliphost/internal/types"
)

// LowBalanceSource is the detector surface: (uid, cid) groups whose running
// balance has fallen at or below the threshold.
type LowBalanceSource interface {
	ListLowBalance(ctx context.Context, threshold int64) ([]types.LowBalanceRow, error)
}

// Invoicer is the payment processor surface the recharge job uses.
type Invoicer interface {
	CreateTopUpInvoice(
		ctx context.Context,
		customerID string,
		amountCents int64,
		currency string,
		description string,
		idempotencyKey string,
	) (invoiceID string, err error)
}

// RechargeConfig carries the recharge job tunables.
type RechargeConfig struct {
	ThresholdCents int64
	TopUpCents     int64
	Currency       string
}

// RechargeSummary reports one run of the recharge job.
type RechargeSummary struct {
	Billed     int `json:"billed"`
	Considered int `json:"considered"`
}

// Recharge consumes the low-balance detector's output and issues top-up
// invoices through the payment processor.
type Recharge struct {
	balances LowBalanceSource
	invoicer Invoicer
	metrics  MetricPublisher
	cfg      RechargeConfig
	logger   *slog.Logger

	// newIdempotencyKey is injectable for deterministic tests.
	newIdempotencyKey func() string
}

// NewRecharge creates the job.
func NewRecharge(balances LowBalanceSource, invoicer Invoicer, metrics MetricPublisher, cfg RechargeConfig, logger *slog.Logger) *Recharge {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NopMetricPublisher{}
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Recharge{
		balances:          balances,
		invoicer:          invoicer,
		metrics:           metrics,
		cfg:               cfg,
		logger:            logger,
		newIdempotencyKey: uuid.NewString,
	}
}

// Run invoices every low-balance customer. A detector failure is fatal.
// Rows without a known processor customer are skipped with a log line, not
// an error. Each invoice attempt is isolated: one customer's failure is
// logged with its identifiers and the run continues, so one declined card
// never blocks the rest of the list.
func (r *Recharge) Run(ctx context.Context) (RechargeSummary, error) {
	var summary RechargeSummary

	rows, err := r.balances.ListLowBalance(ctx, r.cfg.ThresholdCents)
	if err != nil {
		return summary, fmt.Errorf("listing low balances: %w", err)
	}
	summary.Considered = len(rows)

	for _, row := range rows {
		if row.StripeCustomerID == "" {
			r.logger.InfoContext(ctx, "skipping low-balance row without processor customer",
				"uid", row.UID,
				"cid", row.CID,
				"balance", row.Balance,
			)
			continue
		}

		description := fmt.Sprintf("ClipHost balance top-up for %s", row.UID)
		invoiceID, err := r.invoicer.CreateTopUpInvoice(
			ctx,
			row.StripeCustomerID,
			r.cfg.TopUpCents,
			r.cfg.Currency,
			description,
			r.newIdempotencyKey(),
		)
		if err != nil {
			r.logger.ErrorContext(ctx, "top-up invoice failed",
				"uid", row.UID,
				"cid", row.CID,
				"customer_id", row.StripeCustomerID,
				"balance", row.Balance,
				"error", err,
			)
			continue
		}

		r.logger.InfoContext(ctx, "top-up invoice created",
			"uid", row.UID,
			"customer_id", row.StripeCustomerID,
			"invoice_id", invoiceID,
			"amount_cents", r.cfg.TopUpCents,
		)
		summary.Billed++
	}

	r.logger.InfoContext(ctx, "recharge complete",
		"billed", summary.Billed,
		"considered", summary.Considered,
	)
	if err := r.metrics.PublishJobSummary(ctx, "recharge", map[string]float64{
		"Billed":     float64(summary.Billed),
		"Considered": float64(summary.Considered),
	}); err != nil {
		r.logger.WarnContext(ctx, "failed to publish job metrics", "error", err)
	}

	return summary, nil
}
