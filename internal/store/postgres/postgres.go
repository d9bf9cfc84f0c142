package postgres

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"pharmapro/backend/internal/domain"
	"pharmapro/backend/internal/store"
	"pharmapro/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (*domain.Item, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.ReorderLevel < 0 {
		return nil, store.ErrInvalidInput
	}

	item := domain.Item{
		ID:           xid.New("item"),
		Name:         name,
		Category:     req.Category,
		Supplier:     req.Supplier,
		ReorderLevel: req.ReorderLevel,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, category, supplier, reorder_level, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, item.ID, item.Name, item.Category, item.Supplier, item.ReorderLevel, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) GetItemByName(ctx context.Context, name string) (*domain.Item, error) {
	var item domain.Item
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, supplier, reorder_level, created_at
		FROM items
		WHERE LOWER(name) = LOWER($1)
	`, name).Scan(&item.ID, &item.Name, &item.Category, &item.Supplier, &item.ReorderLevel, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, supplier, reorder_level, created_at
		FROM items
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 64)
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Category, &item.Supplier, &item.ReorderLevel, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// GetItemStock resolves one name to exactly one stock representation:
// batches when any exist, the legacy flat row otherwise. The two are never
// blended for one item.
func (s *Store) GetItemStock(ctx context.Context, name string) (domain.ItemStock, error) {
	item, err := s.GetItemByName(ctx, name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.ItemStock{}, err
	}

	if item != nil {
		batches, err := s.batchesForItem(ctx, item.ID)
		if err != nil {
			return domain.ItemStock{}, err
		}
		if len(batches) > 0 {
			return domain.ItemStock{ItemName: item.Name, Source: domain.StockBatched, Batches: batches}, nil
		}
	}

	var legacy domain.LegacyItem
	var expiry sql.NullTime
	err = s.db.QueryRowContext(ctx, `
		SELECT id, name, quantity, price, expiry
		FROM inventory_items
		WHERE LOWER(name) = LOWER($1)
	`, name).Scan(&legacy.ID, &legacy.Name, &legacy.Quantity, &legacy.Price, &expiry)
	switch {
	case err == nil:
		return domain.ItemStock{ItemName: legacy.Name, Source: domain.StockFlat, FlatQty: legacy.Quantity}, nil
	case errors.Is(err, sql.ErrNoRows):
		if item != nil {
			return domain.ItemStock{ItemName: item.Name, Source: domain.StockBatched, Batches: []domain.Batch{}}, nil
		}
		return domain.ItemStock{ItemName: name, Source: domain.StockNone}, nil
	default:
		return domain.ItemStock{}, err
	}
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	var batch domain.Batch
	var expiry sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, item_id, batch_no, expiry_date, qty_on_hand, purchase_price, sell_price, location, received_at
		FROM item_batches
		WHERE id = $1
	`, batchID).Scan(&batch.ID, &batch.ItemID, &batch.BatchNo, &expiry, &batch.QtyOnHand, &batch.PurchasePrice, &batch.SellPrice, &batch.Location, &batch.ReceivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	batch.ReceivedAt = batch.ReceivedAt.UTC()
	if expiry.Valid {
		e := nowDateUTC(expiry.Time)
		batch.ExpiryDate = &e
	}
	return &batch, nil
}

func (s *Store) ListBatches(ctx context.Context, itemName string) ([]domain.Batch, error) {
	item, err := s.GetItemByName(ctx, itemName)
	if err != nil {
		return nil, err
	}
	return s.batchesForItem(ctx, item.ID)
}

func (s *Store) batchesForItem(ctx context.Context, itemID string) ([]domain.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, batch_no, expiry_date, qty_on_hand, purchase_price, sell_price, location, received_at
		FROM item_batches
		WHERE item_id = $1
		ORDER BY expiry_date ASC NULLS LAST, id ASC
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.Batch, 0, 8)
	for rows.Next() {
		var batch domain.Batch
		var expiry sql.NullTime
		if err := rows.Scan(&batch.ID, &batch.ItemID, &batch.BatchNo, &expiry, &batch.QtyOnHand, &batch.PurchasePrice, &batch.SellPrice, &batch.Location, &batch.ReceivedAt); err != nil {
			return nil, err
		}
		batch.ReceivedAt = batch.ReceivedAt.UTC()
		if expiry.Valid {
			e := nowDateUTC(expiry.Time)
			batch.ExpiryDate = &e
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) ReceiveBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error) {
	if batch.ItemID == "" || batch.QtyOnHand < 1 {
		return nil, store.ErrInvalidInput
	}
	if batch.ID == "" {
		batch.ID = xid.New("bat")
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO item_batches (id, item_id, batch_no, expiry_date, qty_on_hand, purchase_price, sell_price, location, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, batch.ID, batch.ItemID, batch.BatchNo, nullDate(batch.ExpiryDate), batch.QtyOnHand, batch.PurchasePrice, batch.SellPrice, batch.Location, batch.ReceivedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if err := insertMovement(ctx, tx, batch.ID, batch.QtyOnHand, domain.MovementGRN, domain.RefTypeBatch, batch.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := batch
	return &created, nil
}

func (s *Store) AdjustBatch(ctx context.Context, batchID string, delta int, _ string) (*domain.Batch, error) {
	if delta == 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var batch domain.Batch
	var expiry sql.NullTime
	err = tx.QueryRowContext(ctx, `
		UPDATE item_batches
		SET qty_on_hand = qty_on_hand + $2
		WHERE id = $1 AND qty_on_hand + $2 >= 0
		RETURNING id, item_id, batch_no, expiry_date, qty_on_hand, purchase_price, sell_price, location, received_at
	`, batchID, delta).Scan(&batch.ID, &batch.ItemID, &batch.BatchNo, &expiry, &batch.QtyOnHand, &batch.PurchasePrice, &batch.SellPrice, &batch.Location, &batch.ReceivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.adjustFailure(ctx, batchID, delta)
		}
		return nil, err
	}
	batch.ReceivedAt = batch.ReceivedAt.UTC()
	if expiry.Valid {
		e := nowDateUTC(expiry.Time)
		batch.ExpiryDate = &e
	}

	if err := insertMovement(ctx, tx, batchID, delta, domain.MovementAdjust, domain.RefTypeBatch, batchID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	updated := batch
	return &updated, nil
}

// adjustFailure distinguishes a missing batch from one whose quantity would
// go negative.
func (s *Store) adjustFailure(ctx context.Context, batchID string, delta int) error {
	var itemName string
	var qty int
	err := s.db.QueryRowContext(ctx, `
		SELECT i.name, b.qty_on_hand
		FROM item_batches b
		JOIN items i ON i.id = b.item_id
		WHERE b.id = $1
	`, batchID).Scan(&itemName, &qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	return &store.InsufficientStockError{Item: itemName, Requested: -delta, Available: qty}
}

func (s *Store) ReturnToBatch(ctx context.Context, batchID string, qty int, saleID string) (*domain.Batch, error) {
	if qty < 1 || saleID == "" {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE id = $1)`, saleID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	var batch domain.Batch
	var expiry sql.NullTime
	err = tx.QueryRowContext(ctx, `
		UPDATE item_batches
		SET qty_on_hand = qty_on_hand + $2
		WHERE id = $1
		RETURNING id, item_id, batch_no, expiry_date, qty_on_hand, purchase_price, sell_price, location, received_at
	`, batchID, qty).Scan(&batch.ID, &batch.ItemID, &batch.BatchNo, &expiry, &batch.QtyOnHand, &batch.PurchasePrice, &batch.SellPrice, &batch.Location, &batch.ReceivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	batch.ReceivedAt = batch.ReceivedAt.UTC()
	if expiry.Valid {
		e := nowDateUTC(expiry.Time)
		batch.ExpiryDate = &e
	}

	if err := insertMovement(ctx, tx, batchID, qty, domain.MovementReturn, domain.RefTypeSale, saleID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	updated := batch
	return &updated, nil
}

// CommitSale applies all line plans in one serializable transaction. Every
// batch decrement is conditional on the planned quantity still being on hand;
// a row that changed since planning fails the whole sale with ConflictError
// and the transaction rolls back.
func (s *Store) CommitSale(ctx context.Context, sale domain.Sale, plans []store.SaleLinePlan) (*domain.Sale, error) {
	if len(plans) == 0 {
		return nil, store.ErrInvalidInput
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.SaleDate.IsZero() {
		sale.SaleDate = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, plan := range plans {
		if plan.Legacy {
			// Legacy rows have no movement ledger; decrement floors at zero.
			_, err := tx.ExecContext(ctx, `
				UPDATE inventory_items
				SET quantity = GREATEST(quantity - $1, 0)
				WHERE LOWER(name) = LOWER($2)
			`, plan.Line.Qty, plan.Line.ItemName)
			if err != nil {
				return nil, err
			}
			continue
		}
		for _, take := range plan.Takes {
			res, err := tx.ExecContext(ctx, `
				UPDATE item_batches
				SET qty_on_hand = qty_on_hand - $1
				WHERE id = $2 AND qty_on_hand >= $1
			`, take.Qty, take.BatchID)
			if err != nil {
				return nil, err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return nil, err
			}
			if affected == 0 {
				return nil, &store.ConflictError{BatchID: take.BatchID}
			}
			if err := insertMovement(ctx, tx, take.BatchID, -take.Qty, domain.MovementSale, domain.RefTypeSale, sale.ID); err != nil {
				return nil, err
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, customer, sale_date, subtotal, discount_pct, tax_pct, grand_total)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, sale.ID, sale.Customer, sale.SaleDate, sale.Subtotal, sale.DiscountPct, sale.TaxPct, sale.GrandTotal)
	if err != nil {
		return nil, err
	}

	for i := range sale.Lines {
		if sale.Lines[i].ID == "" {
			sale.Lines[i].ID = xid.New("line")
		}
		sale.Lines[i].SaleID = sale.ID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, item_name, qty, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.Lines[i].ID, sale.ID, sale.Lines[i].ItemName, sale.Lines[i].Qty, sale.Lines[i].UnitPrice, sale.Lines[i].LineTotal)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed := sale
	return &committed, nil
}

func (s *Store) GetSaleByID(ctx context.Context, saleID string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer, sale_date, subtotal, discount_pct, tax_pct, grand_total
		FROM sales
		WHERE id = $1
	`, saleID).Scan(&sale.ID, &sale.Customer, &sale.SaleDate, &sale.Subtotal, &sale.DiscountPct, &sale.TaxPct, &sale.GrandTotal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.SaleDate = sale.SaleDate.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, item_name, qty, unit_price, line_total
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ItemName, &line.Qty, &line.UnitPrice, &line.LineTotal); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sale.Lines = lines

	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer, sale_date, subtotal, discount_pct, tax_pct, grand_total
		FROM sales
		WHERE ($1::timestamptz IS NULL OR sale_date >= $1)
			AND ($2::timestamptz IS NULL OR sale_date < $2)
		ORDER BY sale_date DESC, id DESC
		LIMIT $3
	`, nullTimeValue(from), nullTimeValue(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.Customer, &sale.SaleDate, &sale.Subtotal, &sale.DiscountPct, &sale.TaxPct, &sale.GrandTotal); err != nil {
			return nil, err
		}
		sale.SaleDate = sale.SaleDate.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) ListMovements(ctx context.Context, batchID string, limit int) ([]domain.Movement, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_batch_id, qty, movement_type, ref_type, ref_id, created_at
		FROM inventory_movements
		WHERE ($1 = '' OR item_batch_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, batchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.Movement, 0, limit)
	for rows.Next() {
		var m domain.Movement
		if err := rows.Scan(&m.ID, &m.BatchID, &m.Qty, &m.Kind, &m.RefType, &m.RefID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) ListLowStock(ctx context.Context, threshold int) ([]domain.LowStockEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.name,
			COALESCE(SUM(b.qty_on_hand), 0)::int,
			CASE WHEN i.reorder_level > 0 THEN i.reorder_level ELSE $1 END
		FROM items i
		LEFT JOIN item_batches b ON b.item_id = i.id
		GROUP BY i.id
		HAVING COALESCE(SUM(b.qty_on_hand), 0) <= CASE WHEN i.reorder_level > 0 THEN i.reorder_level ELSE $1 END
	`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LowStockEntry, 0, 16)
	for rows.Next() {
		var entry domain.LowStockEntry
		if err := rows.Scan(&entry.ItemName, &entry.QtyOnHand, &entry.ReorderLevel); err != nil {
			return nil, err
		}
		entry.Source = domain.StockBatched
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	legacyRows, err := s.db.QueryContext(ctx, `
		SELECT name, quantity
		FROM inventory_items
		WHERE quantity <= $1
	`, threshold)
	if err != nil {
		return nil, err
	}
	defer legacyRows.Close()

	for legacyRows.Next() {
		var entry domain.LowStockEntry
		if err := legacyRows.Scan(&entry.ItemName, &entry.QtyOnHand); err != nil {
			return nil, err
		}
		entry.ReorderLevel = threshold
		entry.Source = domain.StockFlat
		entries = append(entries, entry)
	}
	if err := legacyRows.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(entries, func(a, b domain.LowStockEntry) int {
		if a.QtyOnHand != b.QtyOnHand {
			return a.QtyOnHand - b.QtyOnHand
		}
		return strings.Compare(a.ItemName, b.ItemName)
	})
	return entries, nil
}

func (s *Store) ListExpiringSoon(ctx context.Context, today time.Time, windowDays int) ([]domain.ExpiringBatch, error) {
	dayStart := nowDateUTC(today)
	cutoff := dayStart.AddDate(0, 0, windowDays)

	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, i.name, b.batch_no, b.expiry_date, b.qty_on_hand
		FROM item_batches b
		JOIN items i ON i.id = b.item_id
		WHERE b.expiry_date IS NOT NULL
			AND b.qty_on_hand > 0
			AND b.expiry_date >= $1
			AND b.expiry_date <= $2
		ORDER BY b.expiry_date ASC, b.id ASC
	`, dayStart, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.ExpiringBatch, 0, 16)
	for rows.Next() {
		var entry domain.ExpiringBatch
		if err := rows.Scan(&entry.BatchID, &entry.ItemName, &entry.BatchNo, &entry.ExpiryDate, &entry.QtyOnHand); err != nil {
			return nil, err
		}
		entry.ExpiryDate = nowDateUTC(entry.ExpiryDate)
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) SalesTotalForDay(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	dayStart := nowDateUTC(day)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(grand_total), 0)
		FROM sales
		WHERE sale_date >= $1 AND sale_date < $2
	`, dayStart, dayEnd).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (s *Store) WeeklySales(ctx context.Context, today time.Time) ([]domain.DailySalesPoint, error) {
	weekStart := nowDateUTC(today).AddDate(0, 0, -6)

	rows, err := s.db.QueryContext(ctx, `
		SELECT DATE(sale_date AT TIME ZONE 'UTC'), COALESCE(SUM(grand_total), 0)
		FROM sales
		WHERE sale_date >= $1
		GROUP BY 1
	`, weekStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := map[string]decimal.Decimal{}
	for rows.Next() {
		var day time.Time
		var total decimal.Decimal
		if err := rows.Scan(&day, &total); err != nil {
			return nil, err
		}
		totals[day.Format(time.DateOnly)] = total
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	points := make([]domain.DailySalesPoint, 0, 7)
	for offset := 6; offset >= 0; offset-- {
		date := nowDateUTC(today).AddDate(0, 0, -offset).Format(time.DateOnly)
		total, ok := totals[date]
		if !ok {
			total = decimal.Zero
		}
		points = append(points, domain.DailySalesPoint{Date: date, Total: total})
	}
	return points, nil
}

func (s *Store) StockByCategory(ctx context.Context) ([]domain.CategoryStock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT CASE WHEN i.category = '' THEN 'Uncategorized' ELSE i.category END,
			COALESCE(SUM(b.qty_on_hand), 0)::int
		FROM items i
		LEFT JOIN item_batches b ON b.item_id = i.id
		GROUP BY 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := map[string]int{}
	for rows.Next() {
		var category string
		var qty int
		if err := rows.Scan(&category, &qty); err != nil {
			return nil, err
		}
		totals[category] += qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var legacyTotal int
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(GREATEST(quantity, 0)), 0)::int
		FROM inventory_items
	`).Scan(&legacyTotal)
	if err != nil {
		return nil, err
	}
	if legacyTotal > 0 {
		totals["Uncategorized"] += legacyTotal
	}

	result := make([]domain.CategoryStock, 0, len(totals))
	for category, qty := range totals {
		result = append(result, domain.CategoryStock{Category: category, Qty: qty})
	}
	slices.SortFunc(result, func(a, b domain.CategoryStock) int {
		return strings.Compare(a.Category, b.Category)
	})
	return result, nil
}

func (s *Store) RecentSaleLines(ctx context.Context, limit int) ([]domain.RecentSaleLine, error) {
	if limit < 1 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, li.item_name, li.qty, li.line_total, s.sale_date
		FROM sale_items li
		JOIN sales s ON s.id = li.sale_id
		ORDER BY s.sale_date DESC, s.id DESC, li.id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.RecentSaleLine, 0, limit)
	for rows.Next() {
		var line domain.RecentSaleLine
		if err := rows.Scan(&line.SaleID, &line.ItemName, &line.Qty, &line.LineTotal, &line.SaleDate); err != nil {
			return nil, err
		}
		line.SaleDate = line.SaleDate.UTC()
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) UnitsInStock(ctx context.Context, today time.Time) (int, error) {
	dayStart := nowDateUTC(today)

	var batched int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(qty_on_hand), 0)::int
		FROM item_batches
		WHERE expiry_date IS NULL OR expiry_date >= $1
	`, dayStart).Scan(&batched)
	if err != nil {
		return 0, err
	}

	var legacy int
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(GREATEST(quantity, 0)), 0)::int
		FROM inventory_items
	`).Scan(&legacy)
	if err != nil {
		return 0, err
	}

	return batched + legacy, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func insertMovement(ctx context.Context, tx *sql.Tx, batchID string, qty int, kind string, refType string, refID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_movements (id, item_batch_id, qty, movement_type, ref_type, ref_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, xid.New("mov"), batchID, qty, kind, refType, refID, time.Now().UTC())
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return nowDateUTC(*val)
}

func nullTimeValue(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}
