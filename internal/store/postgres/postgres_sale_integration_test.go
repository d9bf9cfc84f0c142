package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pharmapro/backend/internal/domain"
	"pharmapro/backend/internal/store"
)

func TestCommitSaleDecrementsBatchesAndWritesMovements(t *testing.T) {
	databaseURL := os.Getenv("PHARMAPRO_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set PHARMAPRO_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	itemID := fmt.Sprintf("item-sale-it-%d", stamp)
	itemName := fmt.Sprintf("Sale IT Med %d", stamp)
	batchA := fmt.Sprintf("bat-sale-it-a-%d", stamp)
	batchB := fmt.Sprintf("bat-sale-it-b-%d", stamp)
	saleID := fmt.Sprintf("sale-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_movements WHERE item_batch_id IN ($1, $2)`, batchA, batchB)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM item_batches WHERE item_id = $1`, itemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, itemID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, category, supplier, reorder_level, created_at)
		VALUES ($1, $2, 'Analgesics', 'HealthCo', 10, now())
	`, itemID, itemName); err != nil {
		t.Fatalf("insert item: %v", err)
	}

	for _, row := range []struct {
		id     string
		expiry string
		qty    int
	}{
		{batchA, "2030-01-01", 5},
		{batchB, "2030-06-01", 5},
	} {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO item_batches (id, item_id, batch_no, expiry_date, qty_on_hand, purchase_price, sell_price, location, received_at)
			VALUES ($1, $2, 'IT-BATCH', $3, $4, 2.00, 3.20, 'Shelf A', now())
		`, row.id, itemID, row.expiry, row.qty); err != nil {
			t.Fatalf("insert batch: %v", err)
		}
	}

	sale := domain.Sale{
		ID:         saleID,
		Customer:   "walk-in",
		SaleDate:   time.Now().UTC(),
		Subtotal:   decimal.RequireFromString("22.40"),
		GrandTotal: decimal.RequireFromString("22.40"),
		Lines: []domain.SaleLine{
			{ItemName: itemName, Qty: 7, UnitPrice: decimal.RequireFromString("3.20"), LineTotal: decimal.RequireFromString("22.40")},
		},
	}
	plans := []store.SaleLinePlan{
		{
			Line: domain.CartItem{ItemName: itemName, Qty: 7, UnitPrice: decimal.RequireFromString("3.20")},
			Takes: []domain.BatchTake{
				{BatchID: batchA, Qty: 5},
				{BatchID: batchB, Qty: 2},
			},
		},
	}

	if _, err := s.CommitSale(ctx, sale, plans); err != nil {
		t.Fatalf("commit sale: %v", err)
	}

	for _, expect := range []struct {
		batchID string
		qty     int
	}{
		{batchA, 0},
		{batchB, 3},
	} {
		var qty int
		if err := s.db.QueryRowContext(ctx, `SELECT qty_on_hand FROM item_batches WHERE id = $1`, expect.batchID).Scan(&qty); err != nil {
			t.Fatalf("query batch %s: %v", expect.batchID, err)
		}
		if qty != expect.qty {
			t.Fatalf("batch %s: expected qty %d, got %d", expect.batchID, expect.qty, qty)
		}
	}

	var movementCount int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::int
		FROM inventory_movements
		WHERE ref_type = 'sale' AND ref_id = $1 AND movement_type = 'SALE'
	`, saleID).Scan(&movementCount); err != nil {
		t.Fatalf("query movements: %v", err)
	}
	if movementCount != 2 {
		t.Fatalf("expected 2 sale movements, got %d", movementCount)
	}

	// A second sale against the now-empty batch must fail whole and leave
	// no partial writes.
	conflictSaleID := fmt.Sprintf("sale-it-conflict-%d", stamp)
	conflictPlans := []store.SaleLinePlan{
		{
			Line:  domain.CartItem{ItemName: itemName, Qty: 4, UnitPrice: decimal.RequireFromString("3.20")},
			Takes: []domain.BatchTake{{BatchID: batchA, Qty: 4}},
		},
	}
	conflictSale := sale
	conflictSale.ID = conflictSaleID

	_, err = s.CommitSale(ctx, conflictSale, conflictPlans)
	var conflict *store.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.BatchID != batchA {
		t.Fatalf("expected conflict on %s, got %s", batchA, conflict.BatchID)
	}

	var qtyB int
	if err := s.db.QueryRowContext(ctx, `SELECT qty_on_hand FROM item_batches WHERE id = $1`, batchB).Scan(&qtyB); err != nil {
		t.Fatalf("query batch after conflict: %v", err)
	}
	if qtyB != 3 {
		t.Fatalf("expected batch %s untouched at 3 after failed sale, got %d", batchB, qtyB)
	}
}
