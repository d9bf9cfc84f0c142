// Package allocation decides which batches satisfy a quantity request.
// Everything here is pure: callers pass the batches they read and the date to
// compare expiries against, and re-validate at write time.
package allocation

import (
	"slices"
	"time"

	"pharmapro/backend/internal/domain"
)

// Sellable reports whether a batch may satisfy sales on the given day.
// A nil expiry never expires; an expiry on or after today still sells.
func Sellable(b domain.Batch, today time.Time) bool {
	if b.ExpiryDate == nil {
		return true
	}
	return !DateOnly(*b.ExpiryDate).Before(DateOnly(today))
}

// DateOnly truncates a time to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Available sums the sellable stock for one item. Batched items count only
// non-expired batches; flat items report the legacy quantity as stored, even
// when the legacy row carries a past expiry date (un-migrated rows were never
// expiry-gated and keep that behavior).
func Available(stock domain.ItemStock, today time.Time) int {
	switch stock.Source {
	case domain.StockBatched:
		total := 0
		for _, b := range stock.Batches {
			if Sellable(b, today) {
				total += b.QtyOnHand
			}
		}
		return total
	case domain.StockFlat:
		if stock.FlatQty < 0 {
			return 0
		}
		return stock.FlatQty
	default:
		return 0
	}
}

// Plan allocates qty units across batches, earliest expiry first. Candidates
// must hold stock and be sellable today. Ordering is deterministic: batches
// with an expiry date come before never-expiring ones, then ascending expiry,
// then ascending batch id. The plan is all-or-nothing: if the candidates
// cannot cover the request, Plan returns (nil, false) and nothing may be
// applied.
func Plan(batches []domain.Batch, qty int, today time.Time) ([]domain.BatchTake, bool) {
	if qty <= 0 {
		return nil, false
	}

	candidates := make([]domain.Batch, 0, len(batches))
	total := 0
	for _, b := range batches {
		if b.QtyOnHand <= 0 || !Sellable(b, today) {
			continue
		}
		candidates = append(candidates, b)
		total += b.QtyOnHand
	}
	if total < qty {
		return nil, false
	}

	slices.SortFunc(candidates, compareBatches)

	takes := make([]domain.BatchTake, 0, len(candidates))
	remaining := qty
	for _, b := range candidates {
		if remaining == 0 {
			break
		}
		take := min(remaining, b.QtyOnHand)
		takes = append(takes, domain.BatchTake{BatchID: b.ID, Qty: take})
		remaining -= take
	}
	return takes, true
}

func compareBatches(a, b domain.Batch) int {
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
