package report

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pharmapro/backend/internal/domain"
	"pharmapro/backend/internal/store"
	"pharmapro/backend/internal/store/memory"
)

func TestSalesDeltaPct(t *testing.T) {
	cases := []struct {
		name      string
		today     string
		yesterday string
		want      float64
	}{
		{"both zero", "0", "0", 0},
		{"first revenue day", "50.00", "0", 100},
		{"growth", "150.00", "100.00", 50},
		{"decline", "75.00", "100.00", -25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := salesDeltaPct(decimal.RequireFromString(tc.today), decimal.RequireFromString(tc.yesterday))
			if got != tc.want {
				t.Fatalf("delta = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDashboardShapesAndCaches(t *testing.T) {
	repo := memory.NewSeeded()
	cacheStore := &countingCache{}
	engine := NewEngine(repo, cacheStore, time.Minute, 30)
	engine.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	first, err := engine.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if len(first.WeeklySales) != 7 {
		t.Fatalf("weekly sales has %d points, want 7", len(first.WeeklySales))
	}
	if first.UnitsInStock <= 0 {
		t.Fatalf("seeded store should report units in stock, got %d", first.UnitsInStock)
	}
	if first.GeneratedAt.IsZero() {
		t.Fatalf("generated_at must be set")
	}

	if _, err := engine.Dashboard(context.Background()); err != nil {
		t.Fatalf("second dashboard failed: %v", err)
	}
	if cacheStore.hits != 1 {
		t.Fatalf("second read should come from cache, hits = %d", cacheStore.hits)
	}
}

var _ store.Repository = (*memory.Store)(nil)

type countingCache struct {
	stored *domain.DashboardMetrics
	hits   int
}

func (c *countingCache) Get(_ context.Context, _ string) (*domain.DashboardMetrics, bool, error) {
	if c.stored == nil {
		return nil, false, nil
	}
	c.hits++
	return c.stored, true, nil
}

func (c *countingCache) Set(_ context.Context, _ string, value *domain.DashboardMetrics, _ time.Duration) error {
	c.stored = value
	return nil
}
