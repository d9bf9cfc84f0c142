package report

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"pharmapro/backend/internal/cache"
	"pharmapro/backend/internal/domain"
	"pharmapro/backend/internal/store"
)

const dashboardCacheKey = "pharmapro:dashboard"

// Engine aggregates repository reads into the dashboard payload and caches
// the result for a short TTL. Metrics are advisory; a stale read within the
// TTL window is acceptable.
type Engine struct {
	repo              store.Repository
	cache             cache.MetricsCache
	cacheTTL          time.Duration
	expiryWindowDays  int
	lowStockThreshold int
	recentSalesLimit  int

	now func() time.Time
}

func NewEngine(repo store.Repository, cacheStore cache.MetricsCache, cacheTTL time.Duration, expiryWindowDays int) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopMetricsCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 20 * time.Second
	}
	if expiryWindowDays < 1 {
		expiryWindowDays = 30
	}

	return &Engine{
		repo:              repo,
		cache:             cacheStore,
		cacheTTL:          cacheTTL,
		expiryWindowDays:  expiryWindowDays,
		lowStockThreshold: 10,
		recentSalesLimit:  5,
		now:               time.Now,
	}
}

func (e *Engine) Dashboard(ctx context.Context) (domain.DashboardMetrics, error) {
	if cached, ok, err := e.cache.Get(ctx, dashboardCacheKey); err == nil && ok {
		return *cached, nil
	}

	today := e.now().UTC()
	yesterday := today.AddDate(0, 0, -1)

	salesToday, err := e.repo.SalesTotalForDay(ctx, today)
	if err != nil {
		return domain.DashboardMetrics{}, err
	}
	salesYesterday, err := e.repo.SalesTotalForDay(ctx, yesterday)
	if err != nil {
		return domain.DashboardMetrics{}, err
	}
	units, err := e.repo.UnitsInStock(ctx, today)
	if err != nil {
		return domain.DashboardMetrics{}, err
	}
	lowStock, err := e.repo.ListLowStock(ctx, e.lowStockThreshold)
	if err != nil {
		return domain.DashboardMetrics{}, err
	}
	expiring, err := e.repo.ListExpiringSoon(ctx, today, e.expiryWindowDays)
	if err != nil {
		return domain.DashboardMetrics{}, err
	}
	weekly, err := e.repo.WeeklySales(ctx, today)
	if err != nil {
		return domain.DashboardMetrics{}, err
	}
	byCategory, err := e.repo.StockByCategory(ctx)
	if err != nil {
		return domain.DashboardMetrics{}, err
	}
	recent, err := e.repo.RecentSaleLines(ctx, e.recentSalesLimit)
	if err != nil {
		return domain.DashboardMetrics{}, err
	}

	metrics := domain.DashboardMetrics{
		SalesToday:    salesToday,
		SalesDeltaPct: salesDeltaPct(salesToday, salesYesterday),
		UnitsInStock:  units,
		LowStock:      len(lowStock),
		ExpiringSoon:  len(expiring),
		WeeklySales:   weekly,
		StockByCat:    byCategory,
		RecentSales:   recent,
		GeneratedAt:   today,
	}

	_ = e.cache.Set(ctx, dashboardCacheKey, &metrics, e.cacheTTL)
	return metrics, nil
}

func (e *Engine) LowStock(ctx context.Context) ([]domain.LowStockEntry, error) {
	return e.repo.ListLowStock(ctx, e.lowStockThreshold)
}

func (e *Engine) ExpiringSoon(ctx context.Context) ([]domain.ExpiringBatch, error) {
	return e.repo.ListExpiringSoon(ctx, e.now().UTC(), e.expiryWindowDays)
}

// salesDeltaPct compares today against yesterday. With no sales yesterday the
// delta is 100 when today has any revenue and 0 otherwise.
func salesDeltaPct(today, yesterday decimal.Decimal) float64 {
	if yesterday.LessThanOrEqual(decimal.Zero) {
		if today.GreaterThan(decimal.Zero) {
			return 100
		}
		return 0
	}
	delta, _ := today.Sub(yesterday).Div(yesterday).Mul(decimal.NewFromInt(100)).Float64()
	return math.Round(delta*100) / 100
}
