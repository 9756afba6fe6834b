package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cliphost/internal/external"
	"cliphost/internal/types"
)

// ============================================================
// Mock: CostSource
// ============================================================

type mockCostSource struct {
	mu     sync.Mutex
	facets []external.CostFacet
	err    error
}

func (m *mockCostSource) QueryCosts(_ context.Context, _ external.Interval) ([]external.CostFacet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.facets, nil
}

// ============================================================
// Mock: CostStore
// ============================================================

type mockCostStore struct {
	mu      sync.Mutex
	entries []types.CostLedgerEntry
	failOn  string // uid that fails to upsert
}

func (m *mockCostStore) Upsert(_ context.Context, entry types.CostLedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && entry.UID == m.failOn {
		return errors.New("ledger write failed")
	}
	m.entries = append(m.entries, entry)
	return nil
}

// ============================================================
// CostIngest Tests
// ============================================================

func TestCostIngest_ZeroFacets(t *testing.T) {
	source := &mockCostSource{}
	store := &mockCostStore{}
	job := NewCostIngest(source, store, nil, jobsTestLogger())

	summary, err := job.Run(ctx(), external.IntervalToday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Upserted != 0 {
		t.Errorf("expected 0 upserted, got %d", summary.Upserted)
	}
	if len(store.entries) != 0 {
		t.Errorf("expected no ledger writes, got %d", len(store.entries))
	}
}

func TestCostIngest_MapsFacetsToLedgerRows(t *testing.T) {
	amount := int64(1234)
	source := &mockCostSource{
		facets: []external.CostFacet{
			{
				CustomerID: "cus_1",
				UserID:     "user_1",
				Date:       time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC),
				Costs:      &amount,
			},
			{
				CustomerID: "cus_2",
				UserID:     "user_2",
				Date:       time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC),
				Costs:      nil, // backend reported no spend value
			},
		},
	}
	store := &mockCostStore{}
	job := NewCostIngest(source, store, nil, jobsTestLogger())

	summary, err := job.Run(ctx(), external.IntervalYesterday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Upserted != 2 {
		t.Fatalf("expected 2 upserted, got %d", summary.Upserted)
	}

	first := store.entries[0]
	if first.UID != "user_1" || first.CID != "cus_1" {
		t.Errorf("unexpected key: %+v", first)
	}
	if first.YYMMDD != "260830" {
		t.Errorf("expected yymmdd 260830, got %s", first.YYMMDD)
	}
	if first.Amount != 1234 {
		t.Errorf("expected amount 1234, got %d", first.Amount)
	}
	if store.entries[1].Amount != 0 {
		t.Errorf("nil costs should default to 0, got %d", store.entries[1].Amount)
	}
}

func TestCostIngest_SourceError(t *testing.T) {
	source := &mockCostSource{err: errors.New("analytics down")}
	job := NewCostIngest(source, &mockCostStore{}, nil, jobsTestLogger())

	if _, err := job.Run(ctx(), external.IntervalToday); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestCostIngest_StoreErrorReportsPartialCount(t *testing.T) {
	source := &mockCostSource{
		facets: []external.CostFacet{
			{CustomerID: "cus_1", UserID: "user_1", Date: time.Now()},
			{CustomerID: "cus_2", UserID: "user_fail", Date: time.Now()},
			{CustomerID: "cus_3", UserID: "user_3", Date: time.Now()},
		},
	}
	store := &mockCostStore{failOn: "user_fail"}
	job := NewCostIngest(source, store, nil, jobsTestLogger())

	summary, err := job.Run(ctx(), external.IntervalToday)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if summary.Upserted != 1 {
		t.Errorf("expected partial count 1, got %d", summary.Upserted)
	}
}
