package testing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/custodian/internal/domain"
	"github.com/aristath/custodian/internal/modules/ledger"
)

// MustApplyBuy applies a buy to the ledger service and fails the test on error.
func MustApplyBuy(t *testing.T, svc *ledger.Service, accountID, securityID string, quantity, price float64, executedAt time.Time) *ledger.TaxLot {
	t.Helper()
	lot, err := svc.ApplyTransaction(ledger.Transaction{
		AccountID:  accountID,
		SecurityID: securityID,
		Side:       domain.SideBuy,
		Quantity:   decimal.NewFromFloat(quantity),
		Price:      decimal.NewFromFloat(price),
		ExecutedAt: executedAt,
	}, domain.AssetClassEquity, false)
	if err != nil {
		t.Fatalf("Failed to apply buy %s %v@%v: %v", securityID, quantity, price, err)
	}
	return lot
}

// MustApplyFundBuy applies a buy of a fund wrapper position.
func MustApplyFundBuy(t *testing.T, svc *ledger.Service, accountID, securityID string, quantity, price float64, executedAt time.Time) *ledger.TaxLot {
	t.Helper()
	lot, err := svc.ApplyTransaction(ledger.Transaction{
		AccountID:  accountID,
		SecurityID: securityID,
		Side:       domain.SideBuy,
		Quantity:   decimal.NewFromFloat(quantity),
		Price:      decimal.NewFromFloat(price),
		ExecutedAt: executedAt,
	}, domain.AssetClassFund, true)
	if err != nil {
		t.Fatalf("Failed to apply fund buy %s: %v", securityID, err)
	}
	return lot
}

// Day returns a UTC timestamp n days after a fixed reference date. Keeps
// scenario tests readable without sprinkling time arithmetic everywhere.
func Day(n int) time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}
