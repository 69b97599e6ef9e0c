package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestClassifyHoldingTermBoundary(t *testing.T) {
	acquired := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		soldAt time.Time
		want   HoldingTerm
	}{
		{"same day", acquired, TermShort},
		{"364 days", acquired.AddDate(0, 0, 364), TermShort},
		{"exactly 365 days is still short", acquired.AddDate(0, 0, 365), TermShort},
		{"366 days crosses into long", acquired.AddDate(0, 0, 366), TermLong},
		{"two years", acquired.AddDate(2, 0, 0), TermLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyHoldingTerm(acquired, tt.soldAt, 365))
		})
	}
}

func TestAccountScopeCovers(t *testing.T) {
	single := AccountScope{AccountID: "acct-1"}
	assert.True(t, single.Covers("acct-1"))
	assert.False(t, single.Covers("acct-2"))

	all := AccountScope{AllAccounts: true}
	assert.True(t, all.Covers("acct-1"))
	assert.True(t, all.Covers("acct-2"))
}

func TestSideValid(t *testing.T) {
	assert.True(t, SideBuy.Valid())
	assert.True(t, SideTransferOut.Valid())
	assert.False(t, Side("SHORT").Valid())
}

func TestInsufficientLotsErrorMessage(t *testing.T) {
	err := &InsufficientLotsError{
		SecurityID: "US0378331005",
		Requested:  decimal.NewFromInt(120),
		Available:  decimal.NewFromInt(100),
	}
	assert.Contains(t, err.Error(), "US0378331005")
	assert.Contains(t, err.Error(), "120")
	assert.Contains(t, err.Error(), "100")
}
