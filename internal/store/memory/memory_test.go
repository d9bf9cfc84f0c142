package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pharmapro/backend/internal/allocation"
	"pharmapro/backend/internal/domain"
	"pharmapro/backend/internal/store"
)

func seedBatchedItem(t *testing.T, s *Store, name string, batchID string, qty int) {
	t.Helper()

	item, err := s.CreateItem(context.Background(), domain.ItemCreateRequest{
		Name:     name,
		Category: "General",
		Supplier: "TestSupply",
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	expiry := time.Now().UTC().AddDate(1, 0, 0)
	if _, err := s.ReceiveBatch(context.Background(), domain.Batch{
		ID:         batchID,
		ItemID:     item.ID,
		BatchNo:    "T-1",
		ExpiryDate: &expiry,
		QtyOnHand:  qty,
		SellPrice:  decimal.RequireFromString("2.00"),
	}); err != nil {
		t.Fatalf("receive batch: %v", err)
	}
}

func TestCommitSaleRejectsStalePlan(t *testing.T) {
	s := New()
	seedBatchedItem(t, s, "Diazepam 5mg", "bat-dia", 10)
	ctx := context.Background()

	plans := []store.SaleLinePlan{
		{
			Line:  domain.CartItem{ItemName: "Diazepam 5mg", Qty: 8},
			Takes: []domain.BatchTake{{BatchID: "bat-dia", Qty: 8}},
		},
	}

	// The batch loses stock between planning and commit.
	if _, err := s.AdjustBatch(ctx, "bat-dia", -4, "recount"); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	sale := domain.Sale{
		ID:    "sale-stale",
		Lines: []domain.SaleLine{{ItemName: "Diazepam 5mg", Qty: 8}},
	}
	_, err := s.CommitSale(ctx, sale, plans)

	var conflict *store.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.BatchID != "bat-dia" {
		t.Fatalf("conflict batch = %s, want bat-dia", conflict.BatchID)
	}

	batch, err := s.GetBatch(ctx, "bat-dia")
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.QtyOnHand != 6 {
		t.Fatalf("batch qty = %d, want 6 (untouched by failed sale)", batch.QtyOnHand)
	}
	if _, err := s.GetSaleByID(ctx, "sale-stale"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("failed sale must not be recorded, got %v", err)
	}

	movements, err := s.ListMovements(ctx, "bat-dia", 100)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	for _, m := range movements {
		if m.Kind == domain.MovementSale {
			t.Fatalf("failed sale must leave no SALE movement, got %+v", m)
		}
	}
}

func TestCommitSaleRejectsUnknownBatchInPlan(t *testing.T) {
	s := New()
	seedBatchedItem(t, s, "Tramadol 50mg", "bat-tra", 5)

	plans := []store.SaleLinePlan{
		{
			Line:  domain.CartItem{ItemName: "Tramadol 50mg", Qty: 2},
			Takes: []domain.BatchTake{{BatchID: "bat-gone", Qty: 2}},
		},
	}
	_, err := s.CommitSale(context.Background(), domain.Sale{ID: "sale-x"}, plans)

	var conflict *store.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.BatchID != "bat-gone" {
		t.Fatalf("conflict batch = %s, want bat-gone", conflict.BatchID)
	}
}

func TestSeededCatalogIsSellableAtStartup(t *testing.T) {
	s := NewSeeded()
	now := time.Now()

	for _, name := range []string{"Paracetamol 500mg", "Amoxicillin 500mg", "Vitamin C 1000mg"} {
		stock, err := s.GetItemStock(context.Background(), name)
		if err != nil {
			t.Fatalf("stock for %q: %v", name, err)
		}
		if stock.Source != domain.StockBatched {
			t.Fatalf("%q source = %s, want batched", name, stock.Source)
		}
		if available := allocation.Available(stock, now); available < 1 {
			t.Fatalf("%q available = %d, want sellable stock", name, available)
		}
	}

	legacy, err := s.GetItemStock(context.Background(), "Aspirin 100mg")
	if err != nil {
		t.Fatalf("legacy stock: %v", err)
	}
	if legacy.Source != domain.StockFlat || allocation.Available(legacy, now) != 40 {
		t.Fatalf("legacy stock = %+v, want flat 40", legacy)
	}
}
