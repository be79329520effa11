package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// GetStock returns the committed quantity of an item at a location. A missing row reads as zero.
func (s *Service) GetStock(ctx context.Context, itemID, locationID int64) (decimal.Decimal, error) {
	if itemID <= 0 || locationID <= 0 {
		return decimal.Zero, fmt.Errorf("%w: item and location required", shared.ErrValidation)
	}
	return s.repo.GetStock(ctx, itemID, locationID)
}

// ListStock returns the per-location breakdown of an item.
func (s *Service) ListStock(ctx context.Context, itemID int64) ([]Stock, error) {
	if itemID <= 0 {
		return nil, fmt.Errorf("%w: item required", shared.ErrValidation)
	}
	return s.repo.ListStock(ctx, itemID)
}

// increment locks the stock row, creating it when missing, and adds qty.
func increment(ctx context.Context, tx TxRepository, itemID, locationID int64, qty decimal.Decimal) (decimal.Decimal, error) {
	current, _, err := tx.LockStock(ctx, itemID, locationID, true)
	if err != nil {
		return decimal.Zero, err
	}
	next := current.Add(qty)
	if err := tx.SetStock(ctx, itemID, locationID, next); err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

// decrement locks the stock row and subtracts qty, re-checking availability under the lock.
func decrement(ctx context.Context, tx TxRepository, itemID, locationID int64, qty decimal.Decimal) (decimal.Decimal, error) {
	current, _, err := tx.LockStock(ctx, itemID, locationID, true)
	if err != nil {
		return decimal.Zero, err
	}
	if current.LessThan(qty) {
		return decimal.Zero, &InsufficientQuantityError{ItemID: itemID, LocationID: locationID, Available: current, Requested: qty}
	}
	next := current.Sub(qty)
	if err := tx.SetStock(ctx, itemID, locationID, next); err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

// shift applies a signed delta without an availability check; the result must stay >= 0.
// A non-nil expected must equal the locked quantity.
func shift(ctx context.Context, tx TxRepository, itemID, locationID int64, delta decimal.Decimal, expected *decimal.Decimal) (decimal.Decimal, error) {
	current, _, err := tx.LockStock(ctx, itemID, locationID, true)
	if err != nil {
		return decimal.Zero, err
	}
	if expected != nil && !current.Equal(*expected) {
		return decimal.Zero, &StaleCountError{ItemID: itemID, LocationID: locationID, Counted: *expected, Current: current}
	}
	next := current.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, &InsufficientQuantityError{ItemID: itemID, LocationID: locationID, Available: current, Requested: delta.Neg()}
	}
	if err := tx.SetStock(ctx, itemID, locationID, next); err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

type lockedRow struct {
	quantity decimal.Decimal
	exists   bool
}

// lockPair locks two stock rows in ascending location order. Only rows listed in create are
// inserted when missing.
func lockPair(ctx context.Context, tx TxRepository, itemID int64, a, b int64, create map[int64]bool) (map[int64]lockedRow, error) {
	ids := []int64{a, b}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	rows := make(map[int64]lockedRow, 2)
	for _, id := range ids {
		qty, exists, err := tx.LockStock(ctx, itemID, id, create[id])
		if err != nil {
			return nil, err
		}
		rows[id] = lockedRow{quantity: qty, exists: exists}
	}
	return rows, nil
}
