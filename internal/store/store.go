package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pharmapro/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// InsufficientStockError reports a line that cannot be covered by sellable
// stock. Available reflects what the store could see at plan time.
type InsufficientStockError struct {
	Item      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: requested %d, available %d", e.Item, e.Requested, e.Available)
}

// ConflictError reports a batch whose on-hand quantity changed between
// planning and commit. Callers may retry the whole sale.
type ConflictError struct {
	BatchID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("batch %s modified concurrently", e.BatchID)
}

// SaleLinePlan carries one cart line together with the batch takes that
// cover it. Legacy marks lines served from the flat-quantity fallback
// table instead of batches.
type SaleLinePlan struct {
	Line   domain.CartItem
	Takes  []domain.BatchTake
	Legacy bool
}

type Repository interface {
	CreateItem(ctx context.Context, req domain.ItemCreateRequest) (*domain.Item, error)
	GetItemByName(ctx context.Context, name string) (*domain.Item, error)
	ListItems(ctx context.Context) ([]domain.Item, error)

	// GetItemStock resolves an item name to its stock representation:
	// batches when any exist, the legacy flat row otherwise, or none.
	GetItemStock(ctx context.Context, name string) (domain.ItemStock, error)

	GetBatch(ctx context.Context, batchID string) (*domain.Batch, error)
	ListBatches(ctx context.Context, itemName string) ([]domain.Batch, error)
	ReceiveBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error)
	AdjustBatch(ctx context.Context, batchID string, delta int, reason string) (*domain.Batch, error)
	ReturnToBatch(ctx context.Context, batchID string, qty int, saleID string) (*domain.Batch, error)

	// CommitSale applies all line plans atomically. Every batch decrement
	// is conditional on the planned quantity still being on hand; any
	// shortfall fails the entire sale with ConflictError and no writes
	// survive.
	CommitSale(ctx context.Context, sale domain.Sale, plans []SaleLinePlan) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, saleID string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error)

	ListMovements(ctx context.Context, batchID string, limit int) ([]domain.Movement, error)

	ListLowStock(ctx context.Context, threshold int) ([]domain.LowStockEntry, error)
	ListExpiringSoon(ctx context.Context, today time.Time, windowDays int) ([]domain.ExpiringBatch, error)

	SalesTotalForDay(ctx context.Context, day time.Time) (decimal.Decimal, error)
	WeeklySales(ctx context.Context, today time.Time) ([]domain.DailySalesPoint, error)
	StockByCategory(ctx context.Context) ([]domain.CategoryStock, error)
	RecentSaleLines(ctx context.Context, limit int) ([]domain.RecentSaleLine, error)
	UnitsInStock(ctx context.Context, today time.Time) (int, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
