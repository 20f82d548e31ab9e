package core

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// SortFEFO orders lots first-expired-first-out: earliest expiration first,
// lots without an expiration date last, ties broken by creation order.
func SortFEFO(lots []LotBalance) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i].Lot, lots[j].Lot
		switch {
		case a.ExpirationDate == nil && b.ExpirationDate != nil:
			return false
		case a.ExpirationDate != nil && b.ExpirationDate == nil:
			return true
		case a.ExpirationDate != nil && !a.ExpirationDate.Equal(*b.ExpirationDate):
			return a.ExpirationDate.Before(*b.ExpirationDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// EligibleLots returns the FEFO-ordered lots that still have a positive balance.
func EligibleLots(lots []LotBalance) []LotBalance {
	out := make([]LotBalance, 0, len(lots))
	for _, l := range lots {
		if l.Balance.IsPositive() {
			out = append(out, l)
		}
	}
	SortFEFO(out)
	return out
}

// PickSingleLot is the automatic policy: the first eligible lot, in FEFO
// order, that covers qty on its own. Quantities are never split across lots.
func PickSingleLot(candidates []LotBalance, qty decimal.Decimal) (LotBalance, bool) {
	for _, c := range EligibleLots(candidates) {
		if c.Balance.GreaterThanOrEqual(qty) {
			return c, true
		}
	}
	return LotBalance{}, false
}

// ApplySelections is the manual policy. Pairs are checked in the order given
// against a running balance, so two pairs on one lot see each other.
// The operator's lot order is kept as-is; FEFO is not enforced.
// It returns the balance left on each touched lot.
func ApplySelections(candidates []LotBalance, selections []LotSelection) (map[int]decimal.Decimal, error) {
	if len(selections) == 0 {
		return nil, newValidationError("at least one lot selection is required")
	}

	lots := make(map[int]LotBalance, len(candidates))
	for _, c := range candidates {
		lots[c.Lot.ID] = c
	}

	remaining := make(map[int]decimal.Decimal, len(selections))
	for i, sel := range selections {
		if !sel.Quantity.IsPositive() {
			return nil, newValidationError("invalid lot selection", FieldError{
				Field:   fmt.Sprintf("selections[%d].quantity", i),
				Message: "must be greater than zero",
			})
		}
		if !fitsScale(sel.Quantity, QuantityScale) {
			return nil, newValidationError("invalid lot selection", FieldError{
				Field:   fmt.Sprintf("selections[%d].quantity", i),
				Message: fmt.Sprintf("at most %d decimal places", QuantityScale),
			})
		}
		lot, ok := lots[sel.LotID]
		if !ok {
			return nil, fmt.Errorf("lot %d for this product: %w", sel.LotID, ErrNotFound)
		}
		bal, seen := remaining[sel.LotID]
		if !seen {
			bal = lot.Balance
		}
		if sel.Quantity.GreaterThan(bal) {
			return nil, fmt.Errorf("lot %d has %s left, requested %s: %w",
				sel.LotID, bal.String(), sel.Quantity.String(), ErrInsufficientBalance)
		}
		remaining[sel.LotID] = bal.Sub(sel.Quantity)
	}
	return remaining, nil
}
