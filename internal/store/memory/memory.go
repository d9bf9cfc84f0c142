package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"pharmapro/backend/internal/domain"
	"pharmapro/backend/internal/store"
	"pharmapro/backend/internal/xid"
)

// Store is an in-memory Repository for dev/demo mode and tests. Atomicity is
// the mutex: CommitSale validates every planned decrement before applying any
// of them, so a failed sale leaves no trace.
type Store struct {
	mu              sync.RWMutex
	itemsByID       map[string]domain.Item
	itemIDByName    map[string]string // lowercase name -> item id
	batchesByID     map[string]domain.Batch
	batchIDsByItem  map[string][]string
	legacyByName    map[string]domain.LegacyItem // lowercase name
	movements       []domain.Movement
	salesByID       map[string]domain.Sale
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		itemsByID:       make(map[string]domain.Item),
		itemIDByName:    make(map[string]string),
		batchesByID:     make(map[string]domain.Batch),
		batchIDsByItem:  make(map[string][]string),
		legacyByName:    make(map[string]domain.LegacyItem),
		movements:       make([]domain.Movement, 0, 128),
		salesByID:       make(map[string]domain.Sale),
		usersByUsername: seedUsers(),
	}
}

// NewSeeded returns a store pre-loaded with a small pharmacy catalog plus one
// un-migrated legacy item, so dev mode exercises both stock representations.
// Expiry dates are relative to startup so seeded stock never arrives expired.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	seed := []struct {
		name        string
		category    string
		supplier    string
		reorder     int
		batchNo     string
		qty         int
		price       string
		shelfMonths int
	}{
		{"Paracetamol 500mg", "Analgesics", "HealthCo", 20, "B-1022", 120, "3.20", 8},
		{"Amoxicillin 500mg", "Antibiotics", "PharmaSupply", 15, "AMX-221", 80, "6.90", 12},
		{"Vitamin C 1000mg", "Vitamins", "NutriLabs", 30, "VC-019", 200, "4.50", 24},
		{"Ibuprofen 200mg", "Analgesics", "MediPlus", 10, "IB-551", 60, "2.80", 15},
		{"Hydrocortisone Cream 1%", "Dermatology", "SkinCare Ltd", 8, "DERM-44", 35, "5.75", 1},
	}
	for _, row := range seed {
		item := domain.Item{
			ID:           xid.New("item"),
			Name:         row.name,
			Category:     row.category,
			Supplier:     row.supplier,
			ReorderLevel: row.reorder,
			CreatedAt:    now,
		}
		s.itemsByID[item.ID] = item
		s.itemIDByName[strings.ToLower(item.Name)] = item.ID

		expiry := now.AddDate(0, row.shelfMonths, 0)
		price, err := decimal.NewFromString(row.price)
		if err != nil {
			log.Fatalf("[memory-store] bad seed price %q: %v", row.price, err)
		}
		batch := domain.Batch{
			ID:            xid.New("bat"),
			ItemID:        item.ID,
			BatchNo:       row.batchNo,
			ExpiryDate:    &expiry,
			QtyOnHand:     row.qty,
			PurchasePrice: price.Mul(decimal.NewFromFloat(0.6)).Round(2),
			SellPrice:     price,
			Location:      "Shelf A",
			ReceivedAt:    now,
		}
		s.batchesByID[batch.ID] = batch
		s.batchIDsByItem[item.ID] = append(s.batchIDsByItem[item.ID], batch.ID)
	}

	// One un-migrated row: flat quantity, expiry long past and carried for
	// display only.
	legacyExpiry := now.AddDate(-2, 0, 0)
	s.legacyByName["aspirin 100mg"] = domain.LegacyItem{
		ID:       xid.New("leg"),
		Name:     "Aspirin 100mg",
		Quantity: 40,
		Price:    decimal.RequireFromString("1.90"),
		Expiry:   &legacyExpiry,
	}

	return s
}

func (s *Store) CreateItem(_ context.Context, req domain.ItemCreateRequest) (*domain.Item, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.ReorderLevel < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.itemIDByName[strings.ToLower(name)]; exists {
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
	s.itemsByID[item.ID] = item
	s.itemIDByName[strings.ToLower(name)] = item.ID
	created := item
	return &created, nil
}

func (s *Store) GetItemByName(_ context.Context, name string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.itemIDByName[strings.ToLower(name)]
	if !ok {
		return nil, store.ErrNotFound
	}
	item := s.itemsByID[id]
	return &item, nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.itemsByID))
	for _, it := range s.itemsByID {
		items = append(items, it)
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		return cmpString(a.Name, b.Name)
	})
	return items, nil
}

func (s *Store) GetItemStock(_ context.Context, name string) (domain.ItemStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.itemStockLocked(name), nil
}

// itemStockLocked resolves one name to exactly one stock representation.
// Batches win over a legacy row of the same name; the two are never blended.
func (s *Store) itemStockLocked(name string) domain.ItemStock {
	key := strings.ToLower(name)
	if id, ok := s.itemIDByName[key]; ok {
		batches := make([]domain.Batch, 0, len(s.batchIDsByItem[id]))
		for _, bid := range s.batchIDsByItem[id] {
			batches = append(batches, s.batchesByID[bid])
		}
		if len(batches) > 0 {
			return domain.ItemStock{ItemName: s.itemsByID[id].Name, Source: domain.StockBatched, Batches: batches}
		}
	}
	if legacy, ok := s.legacyByName[key]; ok {
		return domain.ItemStock{ItemName: legacy.Name, Source: domain.StockFlat, FlatQty: legacy.Quantity}
	}
	if id, ok := s.itemIDByName[key]; ok {
		// Catalog entry with no stock rows at all.
		return domain.ItemStock{ItemName: s.itemsByID[id].Name, Source: domain.StockBatched, Batches: []domain.Batch{}}
	}
	return domain.ItemStock{ItemName: name, Source: domain.StockNone}
}

func (s *Store) GetBatch(_ context.Context, batchID string) (*domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batchesByID[batchID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &batch, nil
}

func (s *Store) ListBatches(_ context.Context, itemName string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.itemIDByName[strings.ToLower(itemName)]
	if !ok {
		return nil, store.ErrNotFound
	}
	batches := make([]domain.Batch, 0, len(s.batchIDsByItem[id]))
	for _, bid := range s.batchIDsByItem[id] {
		batches = append(batches, s.batchesByID[bid])
	}
	slices.SortFunc(batches, func(a, b domain.Batch) int {
		switch {
		case a.ExpiryDate != nil && b.ExpiryDate == nil:
			return -1
		case a.ExpiryDate == nil && b.ExpiryDate != nil:
			return 1
		case a.ExpiryDate != nil && b.ExpiryDate != nil:
			if c := a.ExpiryDate.Compare(*b.ExpiryDate); c != 0 {
				return c
			}
		}
		return cmpString(a.ID, b.ID)
	})
	return batches, nil
}

func (s *Store) ReceiveBatch(_ context.Context, batch domain.Batch) (*domain.Batch, error) {
	if batch.ItemID == "" || batch.QtyOnHand < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.itemsByID[batch.ItemID]; !ok {
		return nil, store.ErrNotFound
	}
	if batch.ID == "" {
		batch.ID = xid.New("bat")
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}
	s.batchesByID[batch.ID] = batch
	s.batchIDsByItem[batch.ItemID] = append(s.batchIDsByItem[batch.ItemID], batch.ID)
	s.appendMovementLocked(batch.ID, batch.QtyOnHand, domain.MovementGRN, domain.RefTypeBatch, batch.ID)

	created := batch
	return &created, nil
}

func (s *Store) AdjustBatch(_ context.Context, batchID string, delta int, _ string) (*domain.Batch, error) {
	if delta == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batchesByID[batchID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if batch.QtyOnHand+delta < 0 {
		return nil, &store.InsufficientStockError{
			Item:      s.itemsByID[batch.ItemID].Name,
			Requested: -delta,
			Available: batch.QtyOnHand,
		}
	}
	batch.QtyOnHand += delta
	s.batchesByID[batchID] = batch
	s.appendMovementLocked(batchID, delta, domain.MovementAdjust, domain.RefTypeBatch, batchID)

	updated := batch
	return &updated, nil
}

func (s *Store) ReturnToBatch(_ context.Context, batchID string, qty int, saleID string) (*domain.Batch, error) {
	if qty < 1 || saleID == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.salesByID[saleID]; !ok {
		return nil, store.ErrNotFound
	}
	batch, ok := s.batchesByID[batchID]
	if !ok {
		return nil, store.ErrNotFound
	}
	batch.QtyOnHand += qty
	s.batchesByID[batchID] = batch
	s.appendMovementLocked(batchID, qty, domain.MovementReturn, domain.RefTypeSale, saleID)

	updated := batch
	return &updated, nil
}

func (s *Store) CommitSale(_ context.Context, sale domain.Sale, plans []store.SaleLinePlan) (*domain.Sale, error) {
	if len(plans) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every decrement before touching anything. A batch that lost
	// stock since planning fails the whole sale.
	for _, plan := range plans {
		if plan.Legacy {
			continue
		}
		for _, take := range plan.Takes {
			batch, ok := s.batchesByID[take.BatchID]
			if !ok {
				return nil, &store.ConflictError{BatchID: take.BatchID}
			}
			if batch.QtyOnHand < take.Qty {
				return nil, &store.ConflictError{BatchID: take.BatchID}
			}
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.SaleDate.IsZero() {
		sale.SaleDate = time.Now().UTC()
	}

	for _, plan := range plans {
		if plan.Legacy {
			// Legacy rows have no movement ledger; decrement floors at zero.
			key := strings.ToLower(plan.Line.ItemName)
			if legacy, ok := s.legacyByName[key]; ok {
				legacy.Quantity = max(legacy.Quantity-plan.Line.Qty, 0)
				s.legacyByName[key] = legacy
			}
			continue
		}
		for _, take := range plan.Takes {
			batch := s.batchesByID[take.BatchID]
			batch.QtyOnHand -= take.Qty
			s.batchesByID[take.BatchID] = batch
			s.appendMovementLocked(take.BatchID, -take.Qty, domain.MovementSale, domain.RefTypeSale, sale.ID)
		}
	}

	for i := range sale.Lines {
		if sale.Lines[i].ID == "" {
			sale.Lines[i].ID = xid.New("line")
		}
		sale.Lines[i].SaleID = sale.ID
	}
	s.salesByID[sale.ID] = sale

	committed := sale
	return &committed, nil
}

func (s *Store) GetSaleByID(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if !from.IsZero() && sale.SaleDate.Before(from) {
			continue
		}
		if !to.IsZero() && !sale.SaleDate.Before(to) {
			continue
		}
		sales = append(sales, sale)
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if !a.SaleDate.Equal(b.SaleDate) {
			if a.SaleDate.After(b.SaleDate) {
				return -1
			}
			return 1
		}
		return cmpString(b.ID, a.ID)
	})
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) ListMovements(_ context.Context, batchID string, limit int) ([]domain.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Movement, 0, len(s.movements))
	for _, m := range s.movements {
		if batchID != "" && m.BatchID != batchID {
			continue
		}
		result = append(result, m)
	}
	slices.SortFunc(result, func(a, b domain.Movement) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if a.CreatedAt.After(b.CreatedAt) {
				return -1
			}
			return 1
		}
		return cmpString(b.ID, a.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListLowStock(_ context.Context, threshold int) ([]domain.LowStockEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.LowStockEntry, 0)
	for id, item := range s.itemsByID {
		level := item.ReorderLevel
		if level == 0 {
			level = threshold
		}
		total := 0
		for _, bid := range s.batchIDsByItem[id] {
			total += s.batchesByID[bid].QtyOnHand
		}
		if total <= level {
			entries = append(entries, domain.LowStockEntry{
				ItemName:     item.Name,
				QtyOnHand:    total,
				ReorderLevel: level,
				Source:       domain.StockBatched,
			})
		}
	}
	for _, legacy := range s.legacyByName {
		if legacy.Quantity <= threshold {
			entries = append(entries, domain.LowStockEntry{
				ItemName:     legacy.Name,
				QtyOnHand:    legacy.Quantity,
				ReorderLevel: threshold,
				Source:       domain.StockFlat,
			})
		}
	}
	slices.SortFunc(entries, func(a, b domain.LowStockEntry) int {
		if a.QtyOnHand != b.QtyOnHand {
			return a.QtyOnHand - b.QtyOnHand
		}
		return cmpString(a.ItemName, b.ItemName)
	})
	return entries, nil
}

func (s *Store) ListExpiringSoon(_ context.Context, today time.Time, windowDays int) ([]domain.ExpiringBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayStart := time.Date(today.UTC().Year(), today.UTC().Month(), today.UTC().Day(), 0, 0, 0, 0, time.UTC)
	cutoff := dayStart.AddDate(0, 0, windowDays)

	result := make([]domain.ExpiringBatch, 0)
	for _, batch := range s.batchesByID {
		if batch.ExpiryDate == nil || batch.QtyOnHand < 1 {
			continue
		}
		exp := *batch.ExpiryDate
		if exp.Before(dayStart) || exp.After(cutoff) {
			continue
		}
		result = append(result, domain.ExpiringBatch{
			BatchID:    batch.ID,
			ItemName:   s.itemsByID[batch.ItemID].Name,
			BatchNo:    batch.BatchNo,
			ExpiryDate: exp,
			QtyOnHand:  batch.QtyOnHand,
		})
	}
	slices.SortFunc(result, func(a, b domain.ExpiringBatch) int {
		if c := a.ExpiryDate.Compare(b.ExpiryDate); c != 0 {
			return c
		}
		return cmpString(a.BatchID, b.BatchID)
	})
	return result, nil
}

func (s *Store) SalesTotalForDay(_ context.Context, day time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target := day.UTC().Truncate(24 * time.Hour)
	total := decimal.Zero
	for _, sale := range s.salesByID {
		if sale.SaleDate.UTC().Truncate(24 * time.Hour).Equal(target) {
			total = total.Add(sale.GrandTotal)
		}
	}
	return total, nil
}

func (s *Store) WeeklySales(ctx context.Context, today time.Time) ([]domain.DailySalesPoint, error) {
	points := make([]domain.DailySalesPoint, 0, 7)
	for offset := 6; offset >= 0; offset-- {
		day := today.UTC().AddDate(0, 0, -offset)
		total, err := s.SalesTotalForDay(ctx, day)
		if err != nil {
			return nil, err
		}
		points = append(points, domain.DailySalesPoint{
			Date:  day.Format(time.DateOnly),
			Total: total,
		})
	}
	return points, nil
}

func (s *Store) StockByCategory(_ context.Context) ([]domain.CategoryStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := map[string]int{}
	for id, item := range s.itemsByID {
		category := item.Category
		if category == "" {
			category = "Uncategorized"
		}
		for _, bid := range s.batchIDsByItem[id] {
			totals[category] += s.batchesByID[bid].QtyOnHand
		}
	}
	for _, legacy := range s.legacyByName {
		totals["Uncategorized"] += max(legacy.Quantity, 0)
	}

	result := make([]domain.CategoryStock, 0, len(totals))
	for category, qty := range totals {
		result = append(result, domain.CategoryStock{Category: category, Qty: qty})
	}
	slices.SortFunc(result, func(a, b domain.CategoryStock) int {
		return cmpString(a.Category, b.Category)
	})
	return result, nil
}

func (s *Store) RecentSaleLines(_ context.Context, limit int) ([]domain.RecentSaleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.RecentSaleLine, 0)
	for _, sale := range s.salesByID {
		for _, line := range sale.Lines {
			lines = append(lines, domain.RecentSaleLine{
				SaleID:    sale.ID,
				ItemName:  line.ItemName,
				Qty:       line.Qty,
				LineTotal: line.LineTotal,
				SaleDate:  sale.SaleDate,
			})
		}
	}
	slices.SortFunc(lines, func(a, b domain.RecentSaleLine) int {
		if !a.SaleDate.Equal(b.SaleDate) {
			if a.SaleDate.After(b.SaleDate) {
				return -1
			}
			return 1
		}
		return cmpString(b.SaleID, a.SaleID)
	})
	if limit > 0 && len(lines) > limit {
		lines = lines[:limit]
	}
	return lines, nil
}

func (s *Store) UnitsInStock(_ context.Context, today time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayStart := time.Date(today.UTC().Year(), today.UTC().Month(), today.UTC().Day(), 0, 0, 0, 0, time.UTC)
	total := 0
	for _, batch := range s.batchesByID {
		if batch.ExpiryDate != nil && batch.ExpiryDate.Before(dayStart) {
			continue
		}
		total += batch.QtyOnHand
	}
	for _, legacy := range s.legacyByName {
		total += max(legacy.Quantity, 0)
	}
	return total, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) appendMovementLocked(batchID string, qty int, kind string, refType string, refID string) {
	s.movements = append(s.movements, domain.Movement{
		ID:        xid.New("mov"),
		BatchID:   batchID,
		Qty:       qty,
		Kind:      kind,
		RefType:   refType,
		RefID:     refID,
		CreatedAt: time.Now().UTC(),
	})
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
