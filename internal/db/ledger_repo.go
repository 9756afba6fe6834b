package db

import (
	"context"

	"cliphost/internal/types"
)

// UserLedgerRepo provides data access for the append-only user_ledger table.
//
// stripe_event_id is the table's unique key and the idempotency boundary:
// webhook redelivery re-presents the same event id and the insert becomes a
// no-op. Rows are never mutated or deleted.
type UserLedgerRepo struct {
	db DBTX
}

// NewUserLedgerRepo creates a UserLedgerRepo backed by the given connection.
func NewUserLedgerRepo(db DBTX) *UserLedgerRepo {
	return &UserLedgerRepo{db: db}
}

// InsertIgnore appends a credit/debit event. Returns true when a row was
// written, false when the event id had been seen before.
func (r *UserLedgerRepo) InsertIgnore(ctx context.Context, entry types.UserLedgerEntry) (bool, error) {
	const query = `
		INSERT INTO user_ledger
			(stripe_event_id, user_id, stripe_object_id, stripe_customer_id,
			 type, amount, currency, source_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (stripe_event_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query,
		entry.StripeEventID,
		entry.UserID,
		entry.StripeObjectID,
		entry.StripeCustomerID,
		string(entry.Type),
		entry.Amount,
		entry.Currency,
		entry.SourceType,
		entry.CreatedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert user ledger entry", err)
	}
	return tag.RowsAffected() > 0, nil
}

// BalanceRepo implements the low-balance detector: the join of the user
// ledger's credits against the cost ledger's spend, grouped by (uid, cid).
type BalanceRepo struct {
	db DBTX
}

// NewBalanceRepo creates a BalanceRepo backed by the given connection.
func NewBalanceRepo(db DBTX) *BalanceRepo {
	return &BalanceRepo{db: db}
}

// ListLowBalance returns every (uid, cid) group whose running balance
// (credit sum minus spend sum) has fallen at or below threshold, in minor
// units. The processor customer id is carried along when the user ledger
// knows it.
func (r *BalanceRepo) ListLowBalance(ctx context.Context, threshold int64) ([]types.LowBalanceRow, error) {
	const query = `
		SELECT spend.uid,
		       spend.cid,
		       COALESCE(credits.customer_id, '') AS stripe_customer_id,
		       COALESCE(credits.total, 0) - spend.spent AS balance
		FROM (
			SELECT uid, cid, SUM(amount) AS spent
			FROM cost_ledger
			GROUP BY uid, cid
		) spend
		LEFT JOIN (
			SELECT user_id, MAX(stripe_customer_id) AS customer_id, SUM(amount) AS total
			FROM user_ledger
			WHERE type = 'credit'
			GROUP BY user_id
		) credits ON credits.user_id = spend.uid
		WHERE COALESCE(credits.total, 0) - spend.spent <= $1
		ORDER BY spend.uid, spend.cid`

	rows, err := r.db.Query(ctx, query, threshold)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query low balances", err)
	}
	defer rows.Close()

	var results []types.LowBalanceRow
	for rows.Next() {
		var row types.LowBalanceRow
		if err := rows.Scan(&row.UID, &row.CID, &row.StripeCustomerID, &row.Balance); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan low balance row", err)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating low balance rows", err)
	}

	return results, nil
}
