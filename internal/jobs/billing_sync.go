// Package jobs implements the monetization pipeline's scheduled jobs. Each
// job is a single synchronous run triggered externally; jobs never call each
// other and communicate only through the shared stores. Every job is defined
// against narrow dependency interfaces so it can be tested with fakes.
package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"cliphost/internal/cache"
	"cliphost/internal/external"
)

// CustomerSource is the payment processor surface the billing sync needs:
// cursor-paginated customer listing plus the two independent per-customer
// status checks.
type CustomerSource interface {
	// ListCustomers returns one page ordered by id, starting after the
	// cursor; an empty page terminates the scan.
	ListCustomers(ctx context.Context, startingAfter string, limit int) ([]external.Customer, error)

	// HasCardPaymentMethod reports whether the customer has a card on file.
	HasCardPaymentMethod(ctx context.Context, customerID string) (bool, error)

	// LastInvoicePaid reports whether the customer's most recent invoice
	// settled; no invoices counts as not settled.
	LastInvoicePaid(ctx context.Context, customerID string) (bool, error)
}

// StatusWriter is the cache surface the billing sync writes: one bulk write
// per processor page.
type StatusWriter interface {
	SetAll(ctx context.Context, statuses map[string]string) error
}

// BillingSyncSummary reports one run of the billing sync.
type BillingSyncSummary struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// BillingSync refreshes the billing status cache from the payment
// processor's current customer list.
type BillingSync struct {
	source   CustomerSource
	statuses StatusWriter
	metrics  MetricPublisher
	pageSize int
	logger   *slog.Logger
}

// NewBillingSync creates the job. pageSize is the stable pagination size
// (100 in production).
func NewBillingSync(source CustomerSource, statuses StatusWriter, metrics MetricPublisher, pageSize int, logger *slog.Logger) *BillingSync {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NopMetricPublisher{}
	}
	return &BillingSync{
		source:   source,
		statuses: statuses,
		metrics:  metrics,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Run paginates the processor's customers with an explicit cursor loop,
// computes billing-active per customer, and batch-writes one cache update
// per page. A processor or cache failure is fatal to the run; a single
// customer's status check failure is isolated, logged, and counted, and the
// run continues without touching that customer's cached flag.
func (b *BillingSync) Run(ctx context.Context) (BillingSyncSummary, error) {
	var summary BillingSyncSummary
	cursor := ""

	for {
		customers, err := b.source.ListCustomers(ctx, cursor, b.pageSize)
		if err != nil {
			return summary, fmt.Errorf("listing customers after %q: %w", cursor, err)
		}
		if len(customers) == 0 {
			break
		}

		batch := make(map[string]string, len(customers))
		for _, customer := range customers {
			active, err := b.customerActive(ctx, customer.ID)
			if err != nil {
				b.logger.ErrorContext(ctx, "billing status check failed",
					"customer_id", customer.ID,
					"error", err,
				)
				summary.Failed++
				continue
			}

			flag := cache.FlagInactive
			if active {
				flag = cache.FlagActive
			}
			batch[customer.ID] = flag
			summary.Processed++
		}

		if err := b.statuses.SetAll(ctx, batch); err != nil {
			return summary, fmt.Errorf("writing billing status batch: %w", err)
		}

		cursor = customers[len(customers)-1].ID
	}

	b.logger.InfoContext(ctx, "billing sync complete",
		"processed", summary.Processed,
		"failed", summary.Failed,
	)
	if err := b.metrics.PublishJobSummary(ctx, "billing_sync", map[string]float64{
		"Processed": float64(summary.Processed),
		"Failed":    float64(summary.Failed),
	}); err != nil {
		b.logger.WarnContext(ctx, "failed to publish job metrics", "error", err)
	}

	return summary, nil
}

// customerActive runs the two independent checks concurrently as a
// fan-out/fan-in pair. Billing-active requires a card on file AND a settled
// most-recent invoice.
func (b *BillingSync) customerActive(ctx context.Context, customerID string) (bool, error) {
	var hasCard, invoicePaid bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hasCard, err = b.source.HasCardPaymentMethod(gctx, customerID)
		return err
	})
	g.Go(func() error {
		var err error
		invoicePaid, err = b.source.LastInvoicePaid(gctx, customerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	return hasCard && invoicePaid, nil
}
