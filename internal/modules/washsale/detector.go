package washsale

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/custodian/internal/domain"
	"github.com/aristath/custodian/internal/modules/ledger"
)

// Flag marks one loss line of a sale as disallowed because a substantially
// identical security was acquired within the disqualifying window. Flags are
// computed from the ledger, never stored as raw input.
type Flag struct {
	SaleEventID           string          `json:"sale_event_id"`
	SaleLineID            int64           `json:"sale_line_id"`
	LotID                 int64           `json:"lot_id"`
	AccountID             string          `json:"account_id"`
	SecurityID            string          `json:"security_id"`
	SaleDate              time.Time       `json:"sale_date"`
	DisallowedLoss        decimal.Decimal `json:"disallowed_loss"` // positive amount
	ReplacementLotID      int64           `json:"replacement_lot_id"`
	ReplacementSecurityID string          `json:"replacement_security_id"`
	ReplacementAcquiredAt time.Time       `json:"replacement_acquired_at"`
}

// DetectFlags scans committed sale events of one security for wash sales: a
// loss line is flagged when a lot of a substantially identical security was
// acquired within windowDays before or after the sale date (the 30/30 rule
// spans 61 days), across the given account scope. Lots consumed by the sale
// itself are never their own replacement. Pure over its inputs, so a rescan
// of an unchanged ledger yields identical flags.
func DetectFlags(events []ledger.SaleEvent, snap *ledger.Snapshot, table *EquivalenceTable, windowDays int, scope domain.AccountScope) []Flag {
	var flags []Flag
	for _, event := range events {
		if !scope.Covers(event.AccountID) {
			continue
		}

		class := table.Class(event.SecurityID)
		consumed := make(map[int64]bool, len(event.Lines))
		for _, line := range event.Lines {
			consumed[line.LotID] = true
		}

		windowStart := event.ExecutedAt.AddDate(0, 0, -windowDays)
		windowEnd := event.ExecutedAt.AddDate(0, 0, windowDays)
		replacement := findReplacement(snap.Lots, class, consumed, scope, windowStart, windowEnd)
		if replacement == nil {
			continue
		}

		for _, line := range event.Lines {
			if !line.Gain.IsNegative() {
				continue
			}
			flags = append(flags, Flag{
				SaleEventID:           event.ID,
				SaleLineID:            line.ID,
				LotID:                 line.LotID,
				AccountID:             event.AccountID,
				SecurityID:            event.SecurityID,
				SaleDate:              event.ExecutedAt,
				DisallowedLoss:        line.Gain.Neg(),
				ReplacementLotID:      replacement.ID,
				ReplacementSecurityID: replacement.SecurityID,
				ReplacementAcquiredAt: replacement.AcquiredAt,
			})
		}
	}
	return flags
}

// findReplacement returns the earliest-acquired lot of an equivalent security
// inside the window, or nil. Lot id breaks same-instant ties so the choice is
// deterministic.
func findReplacement(lots []ledger.TaxLot, class map[string]bool, consumed map[int64]bool, scope domain.AccountScope, windowStart, windowEnd time.Time) *ledger.TaxLot {
	var candidates []ledger.TaxLot
	for _, lot := range lots {
		if consumed[lot.ID] || !class[lot.SecurityID] || !scope.Covers(lot.AccountID) {
			continue
		}
		if lot.AcquiredAt.Before(windowStart) || lot.AcquiredAt.After(windowEnd) {
			continue
		}
		candidates = append(candidates, lot)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].AcquiredAt.Equal(candidates[j].AcquiredAt) {
			return candidates[i].AcquiredAt.Before(candidates[j].AcquiredAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return &candidates[0]
}
