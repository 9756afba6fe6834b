// Package cache implements the billing status cache: a Redis hash mapping
// processor customer id to a "0"/"1" billing-active flag.
//
// The billing sync job is the hash's only writer; the ranking jobs and the
// video update handler only read it. Entries for customers the processor no
// longer returns are never evicted; they simply stop being queried.
package cache

import (
	"context"

	"github.com/redis/go-redis/v9"

	"cliphost/internal/types"
)

// billingStatusKey is the Redis key of the customer -> active-flag hash.
const billingStatusKey = "billing:customer:active"

// Active and inactive flag values as stored in the hash.
const (
	FlagActive   = "1"
	FlagInactive = "0"
)

// BillingStatus reads and writes the billing status hash through an
// explicitly constructed Redis client. The client is built once at process
// start and injected; there is no lazy global connection.
type BillingStatus struct {
	rdb *redis.Client
}

// NewBillingStatus creates a BillingStatus over the given Redis client.
func NewBillingStatus(rdb *redis.Client) *BillingStatus {
	return &BillingStatus{rdb: rdb}
}

// SetAll writes one batch of customer statuses in a single HSET. The billing
// sync job calls this once per processor page. An empty batch is a no-op.
func (b *BillingStatus) SetAll(ctx context.Context, statuses map[string]string) error {
	if len(statuses) == 0 {
		return nil
	}

	// HSet wants a flat field/value list.
	pairs := make([]any, 0, len(statuses)*2)
	for customerID, flag := range statuses {
		pairs = append(pairs, customerID, flag)
	}

	if err := b.rdb.HSet(ctx, billingStatusKey, pairs...).Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalCache, "failed to write billing status batch", err)
	}
	return nil
}

// GetAll returns the full customer -> flag map. The ranking reconciliation
// job reads the whole hash once per run.
func (b *BillingStatus) GetAll(ctx context.Context) (map[string]string, error) {
	statuses, err := b.rdb.HGetAll(ctx, billingStatusKey).Result()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalCache, "failed to read billing statuses", err)
	}
	return statuses, nil
}

// IsActive reports whether the given customer's cached billing status is
// active. A missing entry reads as inactive.
func (b *BillingStatus) IsActive(ctx context.Context, customerID string) (bool, error) {
	if customerID == "" {
		return false, nil
	}

	flag, err := b.rdb.HGet(ctx, billingStatusKey, customerID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalCache, "failed to read billing status", err)
	}
	return flag == FlagActive, nil
}
