package db

import (
	"context"

	"cliphost/internal/types"
)

// CostLedgerRepo provides data access for the cost_ledger table.
//
// The table has a composite unique key (uid, cid, yymmdd): one row per
// (user, customer, day). The ingestion job recreates rows idempotently every
// cycle, so the upsert overwrites all non-key fields with the latest computed
// values rather than accumulating.
type CostLedgerRepo struct {
	db DBTX
}

// NewCostLedgerRepo creates a CostLedgerRepo backed by the given connection
// (pool or transaction).
func NewCostLedgerRepo(db DBTX) *CostLedgerRepo {
	return &CostLedgerRepo{db: db}
}

// Upsert writes one daily spend row, replacing any existing row for the same
// (uid, cid, yymmdd) key. Re-running an identical ingest leaves the stored
// row unchanged.
func (r *CostLedgerRepo) Upsert(ctx context.Context, entry types.CostLedgerEntry) error {
	const query = `
		INSERT INTO cost_ledger (uid, cid, yymmdd, minutes, cpv, budget, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (uid, cid, yymmdd)
		DO UPDATE SET minutes = EXCLUDED.minutes,
		              cpv     = EXCLUDED.cpv,
		              budget  = EXCLUDED.budget,
		              amount  = EXCLUDED.amount`

	_, err := r.db.Exec(ctx, query,
		entry.UID,
		entry.CID,
		entry.YYMMDD,
		entry.Minutes,
		entry.CPV,
		entry.Budget,
		entry.Amount,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert cost ledger entry", err)
	}
	return nil
}
