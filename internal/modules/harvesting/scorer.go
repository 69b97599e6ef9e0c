// Package harvesting ranks open lots by the tax benefit of realizing their
// unrealized losses. Candidates that would wash the loss they harvest are
// excluded up front; survivors feed the lot selector under SPECIFIC policy.
package harvesting

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/custodian/internal/domain"
	"github.com/aristath/custodian/internal/modules/ledger"
	"github.com/aristath/custodian/internal/modules/washsale"
)

// Rates are the marginal tax rates applied to realized losses by holding term.
type Rates struct {
	ShortTerm decimal.Decimal `json:"short_term"`
	LongTerm  decimal.Decimal `json:"long_term"`
}

// Opportunity is one harvestable position: the specific lots to sell, the
// loss realized by selling them at the current price, and the estimated tax
// benefit of doing so.
type Opportunity struct {
	AccountID        string          `json:"account_id"`
	SecurityID       string          `json:"security_id"`
	LotIDs           []int64         `json:"lot_ids"`
	Quantity         decimal.Decimal `json:"quantity"`
	RealizableLoss   decimal.Decimal `json:"realizable_loss"` // positive amount
	EstimatedBenefit decimal.Decimal `json:"estimated_benefit"`
}

// Request parameterizes one ranking run.
type Request struct {
	// Prices maps security id to current price. Securities without a price
	// are skipped; a loss cannot be measured against a missing quote.
	Prices map[string]decimal.Decimal
	// MinLossThreshold drops lots whose loss is too small to bother with.
	MinLossThreshold decimal.Decimal
	// ExcludeWindowDays is the look-back window: a candidate is excluded when
	// an equivalent security was acquired this recently, because selling it
	// now would immediately wash the harvested loss.
	ExcludeWindowDays int
	AsOf              time.Time
	Scope             domain.AccountScope
}

// Service scores harvesting candidates over ledger snapshots.
type Service struct {
	ledger                *ledger.Service
	table                 *washsale.EquivalenceTable
	rates                 Rates
	longTermThresholdDays int
	log                   zerolog.Logger
}

// NewService creates a harvesting service. table may be nil.
func NewService(ledgerSvc *ledger.Service, table *washsale.EquivalenceTable, rates Rates, longTermThresholdDays int, log zerolog.Logger) *Service {
	return &Service{
		ledger:                ledgerSvc,
		table:                 table,
		rates:                 rates,
		longTermThresholdDays: longTermThresholdDays,
		log:                   log.With().Str("service", "harvesting").Logger(),
	}
}

// RankOpportunities enumerates open lots carrying an unrealized loss at or
// above the threshold, drops those that would wash, and returns the rest
// grouped per position and ordered by estimated benefit, best first.
func (s *Service) RankOpportunities(req Request) ([]Opportunity, error) {
	snap, err := s.ledger.Snapshot()
	if err != nil {
		return nil, err
	}
	return s.rank(snap, req), nil
}

func (s *Service) rank(snap *ledger.Snapshot, req Request) []Opportunity {
	type key struct{ account, security string }
	grouped := make(map[key]*Opportunity)

	for _, lot := range snap.Lots {
		if !lot.Open() || !req.Scope.Covers(lot.AccountID) {
			continue
		}
		price, ok := req.Prices[lot.SecurityID]
		if !ok {
			continue
		}

		loss := lot.EffectiveBasis().Sub(price).Mul(lot.Remaining)
		if !loss.IsPositive() || loss.LessThan(req.MinLossThreshold) {
			continue
		}
		if s.wouldWash(snap, lot, req) {
			continue
		}

		rate := s.rates.LongTerm
		if domain.ClassifyHoldingTerm(lot.AcquiredAt, req.AsOf, s.longTermThresholdDays) == domain.TermShort {
			rate = s.rates.ShortTerm
		}
		benefit := loss.Mul(rate)

		k := key{lot.AccountID, lot.SecurityID}
		opp, ok := grouped[k]
		if !ok {
			opp = &Opportunity{
				AccountID:        lot.AccountID,
				SecurityID:       lot.SecurityID,
				Quantity:         decimal.Zero,
				RealizableLoss:   decimal.Zero,
				EstimatedBenefit: decimal.Zero,
			}
			grouped[k] = opp
		}
		opp.LotIDs = append(opp.LotIDs, lot.ID)
		opp.Quantity = opp.Quantity.Add(lot.Remaining)
		opp.RealizableLoss = opp.RealizableLoss.Add(loss)
		opp.EstimatedBenefit = opp.EstimatedBenefit.Add(benefit)
	}

	opportunities := make([]Opportunity, 0, len(grouped))
	for _, opp := range grouped {
		sort.Slice(opp.LotIDs, func(i, j int) bool { return opp.LotIDs[i] < opp.LotIDs[j] })
		opportunities = append(opportunities, *opp)
	}
	sort.Slice(opportunities, func(i, j int) bool {
		if !opportunities[i].EstimatedBenefit.Equal(opportunities[j].EstimatedBenefit) {
			return opportunities[i].EstimatedBenefit.GreaterThan(opportunities[j].EstimatedBenefit)
		}
		if opportunities[i].AccountID != opportunities[j].AccountID {
			return opportunities[i].AccountID < opportunities[j].AccountID
		}
		return opportunities[i].SecurityID < opportunities[j].SecurityID
	})
	return opportunities
}

// wouldWash reports whether selling the lot now would immediately trigger a
// wash sale: another lot of an equivalent security was acquired within the
// look-back window.
func (s *Service) wouldWash(snap *ledger.Snapshot, lot ledger.TaxLot, req Request) bool {
	if req.ExcludeWindowDays <= 0 {
		return false
	}
	class := s.table.Class(lot.SecurityID)
	windowStart := req.AsOf.AddDate(0, 0, -req.ExcludeWindowDays)

	for _, other := range snap.Lots {
		if other.ID == lot.ID || !class[other.SecurityID] || !req.Scope.Covers(other.AccountID) {
			continue
		}
		if other.AcquiredAt.Before(windowStart) || other.AcquiredAt.After(req.AsOf) {
			continue
		}
		return true
	}
	return false
}
