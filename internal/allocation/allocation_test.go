package allocation

import (
	"testing"
	"time"

	"pharmapro/backend/internal/domain"
)

var today = time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestPlanTakesEarliestExpiryFirst(t *testing.T) {
	batches := []domain.Batch{
		{ID: "bat-3", ExpiryDate: nil, QtyOnHand: 5},
		{ID: "bat-2", ExpiryDate: datePtr(2025, 2, 1), QtyOnHand: 5},
		{ID: "bat-1", ExpiryDate: datePtr(2025, 1, 1), QtyOnHand: 5},
	}

	takes, ok := Plan(batches, 7, today)
	if !ok {
		t.Fatalf("expected plan to succeed")
	}
	if len(takes) != 2 {
		t.Fatalf("expected 2 takes, got %d", len(takes))
	}
	if takes[0].BatchID != "bat-1" || takes[0].Qty != 5 {
		t.Fatalf("expected first take (bat-1, 5), got (%s, %d)", takes[0].BatchID, takes[0].Qty)
	}
	if takes[1].BatchID != "bat-2" || takes[1].Qty != 2 {
		t.Fatalf("expected second take (bat-2, 2), got (%s, %d)", takes[1].BatchID, takes[1].Qty)
	}
}

func TestPlanPrefersDatedBatchesOverNeverExpiring(t *testing.T) {
	batches := []domain.Batch{
		{ID: "bat-a", ExpiryDate: nil, QtyOnHand: 10},
		{ID: "bat-b", ExpiryDate: datePtr(2030, 1, 1), QtyOnHand: 3},
	}

	takes, ok := Plan(batches, 5, today)
	if !ok {
		t.Fatalf("expected plan to succeed")
	}
	if takes[0].BatchID != "bat-b" || takes[0].Qty != 3 {
		t.Fatalf("expected dated batch first, got (%s, %d)", takes[0].BatchID, takes[0].Qty)
	}
	if takes[1].BatchID != "bat-a" || takes[1].Qty != 2 {
		t.Fatalf("expected null-expiry batch second, got (%s, %d)", takes[1].BatchID, takes[1].Qty)
	}
}

func TestPlanBreaksExpiryTiesByBatchID(t *testing.T) {
	batches := []domain.Batch{
		{ID: "bat-2", ExpiryDate: datePtr(2025, 3, 1), QtyOnHand: 4},
		{ID: "bat-1", ExpiryDate: datePtr(2025, 3, 1), QtyOnHand: 4},
	}

	takes, ok := Plan(batches, 6, today)
	if !ok {
		t.Fatalf("expected plan to succeed")
	}
	if takes[0].BatchID != "bat-1" || takes[1].BatchID != "bat-2" {
		t.Fatalf("expected id tie-break bat-1 then bat-2, got %s then %s", takes[0].BatchID, takes[1].BatchID)
	}
}

func TestPlanSkipsExpiredAndEmptyBatches(t *testing.T) {
	batches := []domain.Batch{
		{ID: "bat-old", ExpiryDate: datePtr(2024, 6, 14), QtyOnHand: 50},
		{ID: "bat-empty", ExpiryDate: datePtr(2025, 1, 1), QtyOnHand: 0},
		{ID: "bat-good", ExpiryDate: datePtr(2025, 1, 1), QtyOnHand: 4},
	}

	takes, ok := Plan(batches, 4, today)
	if !ok {
		t.Fatalf("expected plan to succeed")
	}
	if len(takes) != 1 || takes[0].BatchID != "bat-good" {
		t.Fatalf("expected single take from bat-good, got %+v", takes)
	}
}

func TestPlanExpiringTodayStillSells(t *testing.T) {
	batches := []domain.Batch{
		{ID: "bat-today", ExpiryDate: datePtr(2024, 6, 15), QtyOnHand: 2},
	}

	if _, ok := Plan(batches, 2, today); !ok {
		t.Fatalf("expected batch expiring today to be sellable")
	}
}

func TestPlanUnsatisfiableReturnsNoPartialPlan(t *testing.T) {
	batches := []domain.Batch{
		{ID: "bat-1", ExpiryDate: datePtr(2025, 1, 1), QtyOnHand: 3},
		{ID: "bat-2", ExpiryDate: datePtr(2024, 1, 1), QtyOnHand: 100}, // expired
	}

	takes, ok := Plan(batches, 4, today)
	if ok || takes != nil {
		t.Fatalf("expected unsatisfiable plan, got %+v", takes)
	}
}

func TestPlanRejectsNonPositiveQuantity(t *testing.T) {
	batches := []domain.Batch{{ID: "bat-1", QtyOnHand: 5}}
	if _, ok := Plan(batches, 0, today); ok {
		t.Fatalf("expected zero quantity to be rejected")
	}
	if _, ok := Plan(batches, -1, today); ok {
		t.Fatalf("expected negative quantity to be rejected")
	}
}

func TestAvailableBatchedExcludesExpired(t *testing.T) {
	stock := domain.ItemStock{
		ItemName: "Paracetamol 500mg",
		Source:   domain.StockBatched,
		Batches: []domain.Batch{
			{ID: "bat-1", ExpiryDate: datePtr(2024, 6, 14), QtyOnHand: 40},
			{ID: "bat-2", ExpiryDate: datePtr(2026, 1, 1), QtyOnHand: 25},
			{ID: "bat-3", ExpiryDate: nil, QtyOnHand: 10},
		},
	}

	if got := Available(stock, today); got != 35 {
		t.Fatalf("expected availability 35, got %d", got)
	}
}

func TestAvailableFlatIgnoresLegacyExpiry(t *testing.T) {
	stock := domain.ItemStock{
		ItemName: "Aspirin 100mg",
		Source:   domain.StockFlat,
		FlatQty:  17,
	}

	if got := Available(stock, today); got != 17 {
		t.Fatalf("expected legacy availability 17, got %d", got)
	}
}

func TestAvailableUnknownItemIsZero(t *testing.T) {
	stock := domain.ItemStock{ItemName: "nope", Source: domain.StockNone}
	if got := Available(stock, today); got != 0 {
		t.Fatalf("expected 0 for unknown item, got %d", got)
	}
}
