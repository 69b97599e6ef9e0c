// Package domain provides core domain models and types.
package domain

import "time"

// AssetClass categorizes a held security.
type AssetClass string

const (
	AssetClassEquity AssetClass = "equity"
	AssetClassBond   AssetClass = "bond"
	AssetClassFund   AssetClass = "fund"
	AssetClassCash   AssetClass = "cash"
)

// Side is the direction of a ledger transaction.
type Side string

const (
	SideBuy         Side = "BUY"
	SideSell        Side = "SELL"
	SideTransferIn  Side = "TRANSFER_IN"
	SideTransferOut Side = "TRANSFER_OUT"
)

// Valid reports whether the side is one of the known journal directions.
func (s Side) Valid() bool {
	switch s {
	case SideBuy, SideSell, SideTransferIn, SideTransferOut:
		return true
	}
	return false
}

// HoldingTerm classifies realized gain/loss by holding period.
type HoldingTerm string

const (
	TermShort HoldingTerm = "short"
	TermLong  HoldingTerm = "long"
)

// ClassifyHoldingTerm derives the holding term from the acquisition date, the
// disposal date and the long-term threshold in days. A holding period of
// exactly the threshold is still short-term; one day beyond is long-term.
func ClassifyHoldingTerm(acquiredAt, soldAt time.Time, thresholdDays int) HoldingTerm {
	held := int(soldAt.Sub(acquiredAt).Hours() / 24)
	if held <= thresholdDays {
		return TermShort
	}
	return TermLong
}

// AccountScope selects which accounts a scan covers.
type AccountScope struct {
	// AccountID limits the scan to one account when set.
	AccountID string
	// AllAccounts scans every account under common control.
	AllAccounts bool
}

// Covers reports whether the scope includes the given account.
func (s AccountScope) Covers(accountID string) bool {
	if s.AllAccounts {
		return true
	}
	return s.AccountID == accountID
}

// Confidence grades the trustworthiness of a computed result.
type Confidence string

const (
	ConfidenceFull     Confidence = "full"
	ConfidenceDegraded Confidence = "degraded"
)
