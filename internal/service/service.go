package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pharmapro/backend/internal/allocation"
	"pharmapro/backend/internal/domain"
	"pharmapro/backend/internal/store"
	"pharmapro/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service orchestrates sales and stock operations on top of the Repository.
// Checkout is plan-then-commit: availability is planned against a point-in-time
// read, and the store re-validates every decrement at write time.
type Service struct {
	repo   store.Repository
	logger *logrus.Logger

	// now is the clock for expiry comparisons and sale dates. Tests
	// replace it.
	now func() time.Time
}

func New(repo store.Repository, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}

	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Item{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Supplier = strings.TrimSpace(req.Supplier)
	if req.Name == "" || req.ReorderLevel < 0 {
		return domain.Item{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateItem(ctx, req)
	if err != nil {
		return domain.Item{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"item":     created.Name,
		"category": created.Category,
	}).Info("item created")

	return *created, nil
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx)
}

// Availability reports the quantity an immediate sale could take for one
// item. Batched stock counts only batches that have not expired; legacy flat
// stock is reported as stored.
func (s *Service) Availability(ctx context.Context, itemName string) (domain.AvailabilityResponse, error) {
	itemName = strings.TrimSpace(itemName)
	if itemName == "" {
		return domain.AvailabilityResponse{}, store.ErrInvalidInput
	}

	stock, err := s.repo.GetItemStock(ctx, itemName)
	if err != nil {
		return domain.AvailabilityResponse{}, err
	}

	return domain.AvailabilityResponse{
		ItemName:  stock.ItemName,
		Available: allocation.Available(stock, s.now()),
		Source:    stock.Source,
	}, nil
}

func (s *Service) GetItemStock(ctx context.Context, itemName string) (domain.ItemStock, error) {
	itemName = strings.TrimSpace(itemName)
	if itemName == "" {
		return domain.ItemStock{}, store.ErrInvalidInput
	}
	return s.repo.GetItemStock(ctx, itemName)
}

// Checkout validates the cart, plans batch allocation per line, and commits
// the whole sale atomically. Any line that cannot be covered fails the sale;
// an unknown item reports as out of stock rather than as a distinct error.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.SaleReceipt, error) {
	lines, err := normalizeCart(req.Cart)
	if err != nil {
		return domain.SaleReceipt{}, err
	}

	today := s.now().UTC()

	// Lines for the same item at different prices stay separate on the
	// receipt but are planned together, so availability is checked once
	// against the item's combined quantity.
	type itemDemand struct {
		qty   int
		lines []domain.CartItem
	}
	order := make([]string, 0, len(lines))
	demand := make(map[string]*itemDemand, len(lines))
	for _, line := range lines {
		key := strings.ToLower(line.ItemName)
		d, ok := demand[key]
		if !ok {
			d = &itemDemand{}
			demand[key] = d
			order = append(order, key)
		}
		d.qty += line.Qty
		d.lines = append(d.lines, line)
	}

	plans := make([]store.SaleLinePlan, 0, len(order))
	saleLines := make([]domain.SaleLine, 0, len(lines))
	subtotal := decimal.Zero

	for _, key := range order {
		d := demand[key]
		requestedName := d.lines[0].ItemName

		stock, err := s.repo.GetItemStock(ctx, requestedName)
		if err != nil {
			return domain.SaleReceipt{}, err
		}

		plan := store.SaleLinePlan{Line: domain.CartItem{ItemName: requestedName, Qty: d.qty}}
		switch stock.Source {
		case domain.StockBatched:
			takes, ok := allocation.Plan(stock.Batches, d.qty, today)
			if !ok {
				return domain.SaleReceipt{}, &store.InsufficientStockError{
					Item:      stock.ItemName,
					Requested: d.qty,
					Available: allocation.Available(stock, today),
				}
			}
			plan.Takes = takes
		case domain.StockFlat:
			if available := allocation.Available(stock, today); available < d.qty {
				return domain.SaleReceipt{}, &store.InsufficientStockError{
					Item:      stock.ItemName,
					Requested: d.qty,
					Available: available,
				}
			}
			plan.Legacy = true
		default:
			return domain.SaleReceipt{}, &store.InsufficientStockError{
				Item:      requestedName,
				Requested: d.qty,
				Available: 0,
			}
		}
		plans = append(plans, plan)

		for _, line := range d.lines {
			lineTotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Qty))).Round(2)
			subtotal = subtotal.Add(lineTotal)
			saleLines = append(saleLines, domain.SaleLine{
				ItemName:  stock.ItemName,
				Qty:       line.Qty,
				UnitPrice: line.UnitPrice,
				LineTotal: lineTotal,
			})
		}
	}

	discountPct := clampPct(req.DiscountPct)
	taxPct := clampPct(req.TaxPct)
	grand := grandTotal(subtotal, discountPct, taxPct)

	sale := domain.Sale{
		ID:          xid.New("sale"),
		Customer:    strings.TrimSpace(req.Customer),
		SaleDate:    today,
		Subtotal:    subtotal.Round(2),
		DiscountPct: discountPct,
		TaxPct:      taxPct,
		GrandTotal:  grand,
		Lines:       saleLines,
	}

	committed, err := s.repo.CommitSale(ctx, sale, plans)
	if err != nil {
		var conflict *store.ConflictError
		if errors.As(err, &conflict) {
			s.logger.WithFields(logrus.Fields{
				"sale":  sale.ID,
				"batch": conflict.BatchID,
			}).Warn("sale aborted on concurrent batch change")
		}
		return domain.SaleReceipt{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"sale":  committed.ID,
		"lines": len(committed.Lines),
		"total": committed.GrandTotal.String(),
	}).Info("sale committed")

	return domain.SaleReceipt{Sale: *committed}, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, store.ErrInvalidInput
	}
	sale, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, from, to, limit)
}

// ReceiveBatch records a goods receipt: a new batch for an existing item plus
// its GRN ledger movement. The owning item may be named by id or by name.
func (s *Service) ReceiveBatch(ctx context.Context, req domain.ReceiveBatchRequest) (domain.Batch, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Batch{}, fmt.Errorf("admin role required")
	}

	if req.Qty < 1 {
		return domain.Batch{}, store.ErrInvalidInput
	}

	itemID := strings.TrimSpace(req.ItemID)
	if itemID == "" {
		name := strings.TrimSpace(req.ItemName)
		if name == "" {
			return domain.Batch{}, store.ErrInvalidInput
		}
		item, err := s.repo.GetItemByName(ctx, name)
		if err != nil {
			return domain.Batch{}, err
		}
		itemID = item.ID
	}

	var expiry *time.Time
	if strings.TrimSpace(req.ExpiryDate) != "" {
		parsed, err := time.Parse(time.DateOnly, strings.TrimSpace(req.ExpiryDate))
		if err != nil {
			return domain.Batch{}, store.ErrInvalidInput
		}
		exp := parsed.UTC()
		expiry = &exp
	}

	batch := domain.Batch{
		ID:            xid.New("bat"),
		ItemID:        itemID,
		BatchNo:       strings.TrimSpace(req.BatchNo),
		ExpiryDate:    expiry,
		QtyOnHand:     req.Qty,
		PurchasePrice: req.PurchasePrice,
		SellPrice:     req.SellPrice,
		Location:      strings.TrimSpace(req.Location),
		ReceivedAt:    s.now().UTC(),
	}
	created, err := s.repo.ReceiveBatch(ctx, batch)
	if err != nil {
		return domain.Batch{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"batch": created.ID,
		"item":  created.ItemID,
		"qty":   created.QtyOnHand,
	}).Info("batch received")

	return *created, nil
}

func (s *Service) ListBatches(ctx context.Context, itemName string) ([]domain.Batch, error) {
	itemName = strings.TrimSpace(itemName)
	if itemName == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.ListBatches(ctx, itemName)
}

func (s *Service) AdjustBatch(ctx context.Context, req domain.AdjustBatchRequest) (domain.Batch, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Batch{}, fmt.Errorf("admin role required")
	}
	if strings.TrimSpace(req.BatchID) == "" || req.Delta == 0 {
		return domain.Batch{}, store.ErrInvalidInput
	}

	updated, err := s.repo.AdjustBatch(ctx, req.BatchID, req.Delta, strings.TrimSpace(req.Reason))
	if err != nil {
		return domain.Batch{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"batch":  updated.ID,
		"delta":  req.Delta,
		"reason": strings.TrimSpace(req.Reason),
	}).Info("batch adjusted")

	return *updated, nil
}

// Return puts sold units back on a batch and records the RETURN movement
// against the originating sale.
func (s *Service) Return(ctx context.Context, req domain.ReturnRequest) (domain.Batch, error) {
	if strings.TrimSpace(req.BatchID) == "" || strings.TrimSpace(req.SaleID) == "" || req.Qty < 1 {
		return domain.Batch{}, store.ErrInvalidInput
	}

	updated, err := s.repo.ReturnToBatch(ctx, strings.TrimSpace(req.BatchID), req.Qty, strings.TrimSpace(req.SaleID))
	if err != nil {
		return domain.Batch{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"batch": updated.ID,
		"sale":  req.SaleID,
		"qty":   req.Qty,
	}).Info("units returned to batch")

	return *updated, nil
}

func (s *Service) Movements(ctx context.Context, batchID string, limit int) ([]domain.Movement, error) {
	return s.repo.ListMovements(ctx, strings.TrimSpace(batchID), limit)
}

// normalizeCart trims names and merges lines carrying the same item at the
// same unit price; lines at different prices stay separate so each keeps its
// own total. Every line must carry a positive quantity and a non-negative
// unit price.
func normalizeCart(cart []domain.CartItem) ([]domain.CartItem, error) {
	if len(cart) == 0 {
		return nil, store.ErrInvalidInput
	}

	lines := make([]domain.CartItem, 0, len(cart))
	for _, item := range cart {
		item.ItemName = strings.TrimSpace(item.ItemName)
		if item.ItemName == "" || item.Qty < 1 || item.UnitPrice.IsNegative() {
			return nil, store.ErrInvalidInput
		}
		merged := false
		for i := range lines {
			if strings.EqualFold(lines[i].ItemName, item.ItemName) && lines[i].UnitPrice.Equal(item.UnitPrice) {
				lines[i].Qty += item.Qty
				merged = true
				break
			}
		}
		if !merged {
			lines = append(lines, item)
		}
	}
	return lines, nil
}

func clampPct(pct decimal.Decimal) decimal.Decimal {
	if pct.IsNegative() {
		return decimal.Zero
	}
	return pct
}

// grandTotal applies discount then tax to the subtotal and rounds to cents.
func grandTotal(subtotal, discountPct, taxPct decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	discounted := subtotal.Mul(hundred.Sub(discountPct)).Div(hundred)
	total := discounted.Mul(hundred.Add(taxPct)).Div(hundred).Round(2)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}
