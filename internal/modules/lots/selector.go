package lots

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aristath/custodian/internal/domain"
	"github.com/aristath/custodian/internal/modules/ledger"
)

// Allocation is one lot's contribution to a sale: which lot and how much.
type Allocation struct {
	Lot      ledger.TaxLot
	Quantity decimal.Decimal
}

// SelectLots picks lots covering exactly quantity from the given open lots
// under the policy. The open slice must be in FIFO order (acquisition date,
// then lot id), which is how the ledger returns it; any policy whose sort key
// ties falls back to that order. Returns InsufficientLotsError when the open
// quantity cannot cover the request.
func SelectLots(open []ledger.TaxLot, quantity decimal.Decimal, policy SelectionPolicy, specificIDs []int64) ([]Allocation, error) {
	if !policy.Valid() {
		return nil, fmt.Errorf("unknown selection policy %q", policy)
	}
	if quantity.IsNegative() || quantity.IsZero() {
		return nil, &domain.InvalidTransactionError{Reason: "sell quantity must be positive"}
	}

	available := decimal.Zero
	for _, lot := range open {
		available = available.Add(lot.Remaining)
	}
	securityID := ""
	if len(open) > 0 {
		securityID = open[0].SecurityID
	}
	if available.LessThan(quantity) {
		return nil, &domain.InsufficientLotsError{
			SecurityID: securityID,
			Requested:  quantity,
			Available:  available,
		}
	}

	ordered, err := orderLots(open, policy, specificIDs)
	if err != nil {
		return nil, err
	}

	var allocations []Allocation
	left := quantity
	for _, lot := range ordered {
		if left.IsZero() {
			break
		}
		take := lot.Remaining
		if take.GreaterThan(left) {
			take = left
		}
		allocations = append(allocations, Allocation{Lot: lot, Quantity: take})
		left = left.Sub(take)
	}
	if !left.IsZero() {
		// Only reachable under SPECIFIC when the named lots fall short.
		return nil, &domain.InsufficientLotsError{
			SecurityID: securityID,
			Requested:  quantity,
			Available:  quantity.Sub(left),
		}
	}
	return allocations, nil
}

// orderLots returns the lots in consumption order for the policy. The input is
// FIFO-ordered; sorts are stable so ties keep that order.
func orderLots(open []ledger.TaxLot, policy SelectionPolicy, specificIDs []int64) ([]ledger.TaxLot, error) {
	switch policy {
	case PolicyFIFO:
		return open, nil

	case PolicyLIFO:
		ordered := append([]ledger.TaxLot(nil), open...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].AcquiredAt.After(ordered[j].AcquiredAt)
		})
		return ordered, nil

	case PolicyHIFO:
		ordered := append([]ledger.TaxLot(nil), open...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].EffectiveBasis().GreaterThan(ordered[j].EffectiveBasis())
		})
		return ordered, nil

	case PolicySpecific:
		if len(specificIDs) == 0 {
			return nil, &domain.InvalidTransactionError{Reason: "SPECIFIC policy requires lot ids"}
		}
		byID := make(map[int64]ledger.TaxLot, len(open))
		for _, lot := range open {
			byID[lot.ID] = lot
		}
		ordered := make([]ledger.TaxLot, 0, len(specificIDs))
		seen := make(map[int64]bool, len(specificIDs))
		for _, id := range specificIDs {
			if seen[id] {
				return nil, &domain.InvalidTransactionError{Reason: fmt.Sprintf("lot %d named twice", id)}
			}
			seen[id] = true
			lot, ok := byID[id]
			if !ok {
				return nil, &domain.InvalidTransactionError{Reason: fmt.Sprintf("lot %d is not an open lot of this position", id)}
			}
			ordered = append(ordered, lot)
		}
		return ordered, nil
	}
	return nil, fmt.Errorf("unknown selection policy %q", policy)
}
