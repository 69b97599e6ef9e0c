package washsale_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/custodian/internal/domain"
	"github.com/aristath/custodian/internal/modules/ledger"
	"github.com/aristath/custodian/internal/modules/lots"
	"github.com/aristath/custodian/internal/modules/washsale"
	ctesting "github.com/aristath/custodian/internal/testing"
)

type washFixture struct {
	ledger *ledger.Service
	lots   *lots.Service
	wash   *washsale.Service
}

func newWashFixture(t *testing.T, table *washsale.EquivalenceTable) (*washFixture, func()) {
	t.Helper()
	db, cleanup := ctesting.NewTestDB(t, "ledger")
	ledgerSvc := ledger.NewService(db.Conn(), nil, zerolog.Nop())
	return &washFixture{
		ledger: ledgerSvc,
		lots:   lots.NewService(ledgerSvc, 365, zerolog.Nop()),
		wash:   washsale.NewService(ledgerSvc, table, washsale.DefaultWindowDays, zerolog.Nop()),
	}, cleanup
}

// sellAll disposes the full quantity FIFO and returns the committed event.
func (f *washFixture) sellAll(t *testing.T, account, security string, quantity, price float64, day int) *ledger.SaleEvent {
	t.Helper()
	event, err := f.lots.CommitSale(lots.SaleRequest{
		AccountID:  account,
		SecurityID: security,
		Quantity:   decimal.NewFromFloat(quantity),
		Price:      decimal.NewFromFloat(price),
		Policy:     lots.PolicyFIFO,
		ExecutedAt: ctesting.Day(day),
	})
	require.NoError(t, err)
	return event
}

// Sell at a loss, repurchase ten days later: the loss is disallowed and moves
// into the replacement lot's basis.
func TestRepurchaseWithinWindowDisallowsLoss(t *testing.T) {
	f, cleanup := newWashFixture(t, nil)
	defer cleanup()

	ctesting.MustApplyBuy(t, f.ledger, "acct-1", "AAPL", 100, 20, ctesting.Day(0))
	event := f.sellAll(t, "acct-1", "AAPL", 100, 15, 100) // $500 loss
	replacement := ctesting.MustApplyBuy(t, f.ledger, "acct-1", "AAPL", 100, 16, ctesting.Day(110))

	flags, err := f.wash.Scan("AAPL", domain.AccountScope{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, event.ID, flags[0].SaleEventID)
	assert.Equal(t, replacement.ID, flags[0].ReplacementLotID)
	assert.True(t, flags[0].DisallowedLoss.Equal(decimal.NewFromInt(500)))

	applied, err := f.wash.ApplyAdjustments(flags)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	// $500 over 100 replacement shares raises basis from $16 to $21/unit.
	adjusted, err := f.ledger.Lots().Get(replacement.ID)
	require.NoError(t, err)
	assert.True(t, adjusted.BasisAdjustment.Equal(decimal.NewFromInt(5)))
	assert.True(t, adjusted.EffectiveBasis().Equal(decimal.NewFromInt(21)))
}

func TestRescanOnUnchangedLedgerIsIdempotent(t *testing.T) {
	f, cleanup := newWashFixture(t, nil)
	defer cleanup()

	ctesting.MustApplyBuy(t, f.ledger, "acct-1", "AAPL", 100, 20, ctesting.Day(0))
	f.sellAll(t, "acct-1", "AAPL", 100, 15, 100)
	replacement := ctesting.MustApplyBuy(t, f.ledger, "acct-1", "AAPL", 100, 16, ctesting.Day(110))

	scope := domain.AccountScope{AccountID: "acct-1"}
	firstFlags, firstApplied, err := f.wash.ScanAndApply("AAPL", scope)
	require.NoError(t, err)
	assert.Equal(t, 1, firstApplied)

	secondFlags, secondApplied, err := f.wash.ScanAndApply("AAPL", scope)
	require.NoError(t, err)
	assert.Equal(t, 0, secondApplied, "rescan must not re-adjust basis")
	assert.Equal(t, firstFlags, secondFlags, "rescan must produce identical flags")

	adjusted, err := f.ledger.Lots().Get(replacement.ID)
	require.NoError(t, err)
	assert.True(t, adjusted.BasisAdjustment.Equal(decimal.NewFromInt(5)))
}

func TestPurchaseOutsideWindowIsClean(t *testing.T) {
	f, cleanup := newWashFixture(t, nil)
	defer cleanup()

	ctesting.MustApplyBuy(t, f.ledger, "acct-1", "AAPL", 100, 20, ctesting.Day(0))
	f.sellAll(t, "acct-1", "AAPL", 100, 15, 100)
	// 31 days after the sale, one day past the window.
	ctesting.MustApplyBuy(t, f.ledger, "acct-1", "AAPL", 100, 16, ctesting.Day(131))

	flags, err := f.wash.Scan("AAPL", domain.AccountScope{AccountID: "acct-1"})
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestPurchaseOnWindowEdgeIsFlagged(t *testing.T) {
	f, cleanup := newWashFixture(t, nil)
	defer cleanup()

	ctesting.MustApplyBuy(t, f.ledger, "acct-1", "AAPL", 100, 20, ctesting.Day(0))
	f.sellAll(t, "acct-1", "AAPL", 100, 15, 100)
	// Exactly 30 days after the sale: still inside the window.
	ctesting.MustApplyBuy(t, f.ledger, "acct-1", "AAPL", 100, 16, ctesting.Day(130))

	flags, err := f.wash.Scan("AAPL", domain.AccountScope{AccountID: "acct-1"})
	require.NoError(t, err)
	assert.Len(t, flags, 1)
}

func TestPurchaseBeforeSaleIsFlagged(t *testing.T) {
	f, cleanup := newWashFixture(t, nil)
	defer cleanup()

	original := ctesting.MustApplyBuy(t, f.ledger, "acct-1", "AAPL", 100, 20, ctesting.Day(0))
	// Repurchase 10 days before the loss sale; the pre-sale side of the rule.
	replacement := ctesting.MustApplyBuy(t, f.ledger, "acct-1", "AAPL", 50, 16, ctesting.Day(90))

	event, err := f.lots.CommitSale(lots.SaleRequest{
		AccountID:  "acct-1",
		SecurityID: "AAPL",
		Quantity:   decimal.NewFromInt(100),
		Price:      decimal.NewFromInt(15),
		Policy:     lots.PolicySpecific,
		// Sell only the original lot; the day-90 lot is the replacement.
		SpecificLotIDs: []int64{original.ID},
		ExecutedAt:     ctesting.Day(100),
	})
	require.NoError(t, err)
	require.True(t, event.RealizedGain().IsNegative())

	flags, err := f.wash.Scan("AAPL", domain.AccountScope{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, replacement.ID, flags[0].ReplacementLotID)
}

func TestGainsAreNeverFlagged(t *testing.T) {
	f, cleanup := newWashFixture(t, nil)
	defer cleanup()

	ctesting.MustApplyBuy(t, f.ledger, "acct-1", "AAPL", 100, 10, ctesting.Day(0))
	f.sellAll(t, "acct-1", "AAPL", 100, 15, 100) // gain
	ctesting.MustApplyBuy(t, f.ledger, "acct-1", "AAPL", 100, 16, ctesting.Day(105))

	flags, err := f.wash.Scan("AAPL", domain.AccountScope{AccountID: "acct-1"})
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestEquivalentSecurityTriggersFlag(t *testing.T) {
	table := washsale.NewEquivalenceTable([][]string{{"SPY", "VOO"}})
	f, cleanup := newWashFixture(t, table)
	defer cleanup()

	ctesting.MustApplyBuy(t, f.ledger, "acct-1", "SPY", 100, 500, ctesting.Day(0))
	f.sellAll(t, "acct-1", "SPY", 100, 480, 100)
	// Buying the tracked index fund instead of the ETF still washes the loss.
	replacement := ctesting.MustApplyBuy(t, f.ledger, "acct-1", "VOO", 100, 440, ctesting.Day(110))

	flags, err := f.wash.Scan("SPY", domain.AccountScope{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, "VOO", flags[0].ReplacementSecurityID)
	assert.Equal(t, replacement.ID, flags[0].ReplacementLotID)
}

func TestCrossAccountScope(t *testing.T) {
	f, cleanup := newWashFixture(t, nil)
	defer cleanup()

	ctesting.MustApplyBuy(t, f.ledger, "acct-1", "AAPL", 100, 20, ctesting.Day(0))
	f.sellAll(t, "acct-1", "AAPL", 100, 15, 100)
	// Repurchase in a second account under common control.
	ctesting.MustApplyBuy(t, f.ledger, "acct-2", "AAPL", 100, 16, ctesting.Day(110))

	narrow, err := f.wash.Scan("AAPL", domain.AccountScope{AccountID: "acct-1"})
	require.NoError(t, err)
	assert.Empty(t, narrow, "single-account scope must not see the other account's purchase")

	broad, err := f.wash.Scan("AAPL", domain.AccountScope{AllAccounts: true})
	require.NoError(t, err)
	assert.Len(t, broad, 1)
}
