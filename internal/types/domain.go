// Package types holds the shared domain model for the ClipHost monetization
// pipeline: the search-index video document, the two relational ledgers, the
// billing status cache entries, and the summary types the jobs report.
package types

import "time"

// YYMMDDLayout is the Go time layout producing the six-digit day key used by
// the cost ledger and the ranking reset query (two-digit year, month, day,
// no separators).
const YYMMDDLayout = "060102"

// YYMMDD formats t in UTC as the six-digit day key.
func YYMMDD(t time.Time) string {
	return t.UTC().Format(YYMMDDLayout)
}

// VideoDoc is the monetization view of a video document in the search index.
// Creation and deletion of documents belong to the creator workflow; this
// service only reads and rewrites the monetization fields.
type VideoDoc struct {
	ID       string  `json:"id"`
	UID      string  `json:"uid"`
	CID      string  `json:"cid,omitempty"`
	Duration float64 `json:"duration"`
	CPV      float64 `json:"cpv"`
	Budget   float64 `json:"budget"`
	Gated    int     `json:"gated"`
	Score    int64   `json:"score"`
	Ranking  int64   `json:"ranking"`
	Modified int64   `json:"modified"`
}

// CostLedgerEntry is one day of aggregated spend for a (user, customer) pair.
// Identity is the composite key (UID, CID, YYMMDD); upserts overwrite all
// non-key fields with the latest computed values.
type CostLedgerEntry struct {
	UID     string
	CID     string
	YYMMDD  string
	Minutes float64
	CPV     float64
	Budget  float64
	Amount  int64 // currency minor units
}

// LedgerEntryType distinguishes credits from debits in the user ledger.
type LedgerEntryType string

const (
	LedgerCredit LedgerEntryType = "credit"
	LedgerDebit  LedgerEntryType = "debit"
)

// UserLedgerEntry is an append-only credit/debit event. StripeEventID is the
// idempotency key: a given event is inserted at most once.
type UserLedgerEntry struct {
	StripeEventID    string
	UserID           string
	StripeObjectID   string
	StripeCustomerID string
	Type             LedgerEntryType
	Amount           int64 // minor units, always positive magnitude
	Currency         string
	SourceType       string
	CreatedAt        time.Time
}

// LowBalanceRow is one (uid, cid) group whose running balance has fallen at
// or below the recharge threshold. StripeCustomerID is empty when the group
// has no known processor customer.
type LowBalanceRow struct {
	UID              string
	CID              string
	StripeCustomerID string
	Balance          int64 // minor units; credits minus spend
}

// ResetItemStatus is the per-item outcome of the ranking reset job.
type ResetItemStatus string

const (
	ResetUpdated ResetItemStatus = "updated"
	ResetFailed  ResetItemStatus = "failed"
)

// ResetItemResult records the outcome of one video's ranking reset.
type ResetItemResult struct {
	ID     string          `json:"id"`
	Score  int64           `json:"score"`
	Status ResetItemStatus `json:"status"`
	Error  string          `json:"error,omitempty"`
}
