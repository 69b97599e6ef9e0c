// Package ledger implements the durable, versioned store of positions and tax
// lots. It is the single source of truth: every mutation is journaled, lots are
// append-only (a consumed lot keeps a zero remaining quantity for audit), and
// the position invariant quantity == Σ open-lot remaining holds after every
// committed transaction.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/custodian/internal/domain"
)

// Position is one security held in one account.
type Position struct {
	ID         int64             `json:"id"`
	AccountID  string            `json:"account_id"`
	SecurityID string            `json:"security_id"`
	AssetClass domain.AssetClass `json:"asset_class"`
	IsFund     bool              `json:"is_fund"`
	Quantity   decimal.Decimal   `json:"quantity"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// TaxLot is an immutable record of one acquisition event. Only Remaining and
// BasisAdjustment ever change: Remaining is decremented by sales, and
// BasisAdjustment carries disallowed wash-sale losses forward.
type TaxLot struct {
	ID              int64           `json:"id"`
	AccountID       string          `json:"account_id"`
	SecurityID      string          `json:"security_id"`
	AcquiredAt      time.Time       `json:"acquired_at"`
	Quantity        decimal.Decimal `json:"quantity"`
	Remaining       decimal.Decimal `json:"remaining"`
	CostBasis       decimal.Decimal `json:"cost_basis"`       // per unit, as acquired
	BasisAdjustment decimal.Decimal `json:"basis_adjustment"` // per unit, wash-sale carry-over
	CreatedAt       time.Time       `json:"created_at"`
}

// EffectiveBasis is the per-unit basis including wash-sale adjustments.
func (l TaxLot) EffectiveBasis() decimal.Decimal {
	return l.CostBasis.Add(l.BasisAdjustment)
}

// Open reports whether the lot still has unsold quantity.
func (l TaxLot) Open() bool {
	return l.Remaining.IsPositive()
}

// Transaction is one journal entry. The journal is what wash-sale scans read.
type Transaction struct {
	ID         int64           `json:"id"`
	AccountID  string          `json:"account_id"`
	SecurityID string          `json:"security_id"`
	Side       domain.Side     `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// SaleEvent records one disposal, simulated or committed. Lines are ordered by
// consumption sequence.
type SaleEvent struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"account_id"`
	SecurityID    string          `json:"security_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Policy        string          `json:"policy"`
	ShortTermGain decimal.Decimal `json:"short_term_gain"`
	LongTermGain  decimal.Decimal `json:"long_term_gain"`
	ExecutedAt    time.Time       `json:"executed_at"`
	Lines         []SaleLine      `json:"lines"`
}

// RealizedGain is the net realized gain/loss across both terms.
func (e SaleEvent) RealizedGain() decimal.Decimal {
	return e.ShortTermGain.Add(e.LongTermGain)
}

// SaleLine is the consumption of one lot within a sale.
type SaleLine struct {
	ID        int64              `json:"id"`
	Seq       int                `json:"seq"`
	LotID     int64              `json:"lot_id"`
	Quantity  decimal.Decimal    `json:"quantity"`
	CostBasis decimal.Decimal    `json:"cost_basis"` // per unit, including adjustment
	Proceeds  decimal.Decimal    `json:"proceeds"`
	Gain      decimal.Decimal    `json:"gain"`
	Term      domain.HoldingTerm `json:"term"`
}

// Snapshot is a deep, read-consistent copy of the ledger. Version is the
// highest journal id at the time the snapshot was taken; it changes on every
// mutation, which is what makes snapshots cacheable.
type Snapshot struct {
	Version      int64         `json:"version"`
	TakenAt      time.Time     `json:"taken_at"`
	Positions    []Position    `json:"positions"`
	Lots         []TaxLot      `json:"lots"`
	Transactions []Transaction `json:"transactions"`
}

// PositionFor returns the position for an account/security pair, or nil.
func (s *Snapshot) PositionFor(accountID, securityID string) *Position {
	for i := range s.Positions {
		p := &s.Positions[i]
		if p.AccountID == accountID && p.SecurityID == securityID {
			return p
		}
	}
	return nil
}

// OpenLots returns the open lots for an account/security pair in acquisition
// order (FIFO order; lot id breaks same-day ties).
func (s *Snapshot) OpenLots(accountID, securityID string) []TaxLot {
	var out []TaxLot
	for _, l := range s.Lots {
		if l.AccountID == accountID && l.SecurityID == securityID && l.Open() {
			out = append(out, l)
		}
	}
	return out
}

// OpenQuantity sums the remaining quantity across open lots.
func (s *Snapshot) OpenQuantity(accountID, securityID string) decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.OpenLots(accountID, securityID) {
		total = total.Add(l.Remaining)
	}
	return total
}

// PurchasesWithin returns journal entries that added shares of any security in
// ids within [from, to], across the given account scope. Used by the wash-sale
// window scan.
func (s *Snapshot) PurchasesWithin(ids map[string]bool, from, to time.Time, scope domain.AccountScope) []Transaction {
	var out []Transaction
	for _, tx := range s.Transactions {
		if tx.Side != domain.SideBuy && tx.Side != domain.SideTransferIn {
			continue
		}
		if !ids[tx.SecurityID] || !scope.Covers(tx.AccountID) {
			continue
		}
		if tx.ExecutedAt.Before(from) || tx.ExecutedAt.After(to) {
			continue
		}
		out = append(out, tx)
	}
	return out
}
