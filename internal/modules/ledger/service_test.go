package ledger_test

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/custodian/internal/domain"
	"github.com/aristath/custodian/internal/modules/ledger"
	ctesting "github.com/aristath/custodian/internal/testing"
)

func newTestService(t *testing.T) (*ledger.Service, func()) {
	t.Helper()
	db, cleanup := ctesting.NewTestDB(t, "ledger")
	svc := ledger.NewService(db.Conn(), nil, zerolog.Nop())
	return svc, cleanup
}

func TestApplyTransactionCreatesLotAndPosition(t *testing.T) {
	svc, cleanup := newTestService(t)
	defer cleanup()

	lot := ctesting.MustApplyBuy(t, svc, "acct-1", "AAPL", 100, 150.25, ctesting.Day(0))
	require.NotZero(t, lot.ID)
	assert.True(t, lot.Remaining.Equal(decimal.NewFromInt(100)))

	pos, err := svc.Positions().Get("acct-1", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(100)))

	violations, err := svc.VerifyInvariant()
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestApplyTransactionRejectsInvalidInput(t *testing.T) {
	svc, cleanup := newTestService(t)
	defer cleanup()

	tests := []struct {
		name string
		tx   ledger.Transaction
	}{
		{
			name: "negative quantity",
			tx: ledger.Transaction{
				AccountID: "acct-1", SecurityID: "AAPL", Side: domain.SideBuy,
				Quantity: decimal.NewFromInt(-10), Price: decimal.NewFromInt(100),
				ExecutedAt: ctesting.Day(0),
			},
		},
		{
			name: "negative price",
			tx: ledger.Transaction{
				AccountID: "acct-1", SecurityID: "AAPL", Side: domain.SideBuy,
				Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(-100),
				ExecutedAt: ctesting.Day(0),
			},
		},
		{
			name: "zero quantity",
			tx: ledger.Transaction{
				AccountID: "acct-1", SecurityID: "AAPL", Side: domain.SideBuy,
				Quantity: decimal.Zero, Price: decimal.NewFromInt(100),
				ExecutedAt: ctesting.Day(0),
			},
		},
		{
			name: "missing account",
			tx: ledger.Transaction{
				SecurityID: "AAPL", Side: domain.SideBuy,
				Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(100),
				ExecutedAt: ctesting.Day(0),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ApplyTransaction(tt.tx, domain.AssetClassEquity, false)
			var invalidErr *domain.InvalidTransactionError
			require.ErrorAs(t, err, &invalidErr)
		})
	}
}

func TestApplySaleRejectsMismatchedLines(t *testing.T) {
	svc, cleanup := newTestService(t)
	defer cleanup()

	lot := ctesting.MustApplyBuy(t, svc, "acct-1", "AAPL", 100, 150, ctesting.Day(0))

	err := svc.ApplySale(ledger.SaleEvent{
		ID: "sale-1", AccountID: "acct-1", SecurityID: "AAPL",
		Quantity: decimal.NewFromInt(50), Price: decimal.NewFromInt(160),
		ExecutedAt: ctesting.Day(10),
		Lines: []ledger.SaleLine{
			{Seq: 0, LotID: lot.ID, Quantity: decimal.NewFromInt(30)},
		},
	})
	var invalidErr *domain.InvalidTransactionError
	require.ErrorAs(t, err, &invalidErr)

	// Nothing was applied.
	reloaded, err := svc.Lots().Get(lot.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Remaining.Equal(decimal.NewFromInt(100)))
}

func TestApplySaleIsAtomicOnOverconsumption(t *testing.T) {
	svc, cleanup := newTestService(t)
	defer cleanup()

	lotA := ctesting.MustApplyBuy(t, svc, "acct-1", "AAPL", 60, 10, ctesting.Day(0))
	lotB := ctesting.MustApplyBuy(t, svc, "acct-1", "AAPL", 40, 15, ctesting.Day(5))

	// Second line over-draws its lot; the first line must roll back too.
	err := svc.ApplySale(ledger.SaleEvent{
		ID: "sale-1", AccountID: "acct-1", SecurityID: "AAPL",
		Quantity: decimal.NewFromInt(100), Price: decimal.NewFromInt(12),
		ExecutedAt: ctesting.Day(10),
		Lines: []ledger.SaleLine{
			{Seq: 0, LotID: lotA.ID, Quantity: decimal.NewFromInt(50)},
			{Seq: 1, LotID: lotB.ID, Quantity: decimal.NewFromInt(50)},
		},
	})
	require.Error(t, err)

	reloadedA, err := svc.Lots().Get(lotA.ID)
	require.NoError(t, err)
	assert.True(t, reloadedA.Remaining.Equal(decimal.NewFromInt(60)))

	pos, err := svc.Positions().Get("acct-1", "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(100)))
}

func TestTransferPreservesAcquisitionDates(t *testing.T) {
	svc, cleanup := newTestService(t)
	defer cleanup()

	ctesting.MustApplyBuy(t, svc, "acct-1", "AAPL", 60, 10, ctesting.Day(0))
	ctesting.MustApplyBuy(t, svc, "acct-1", "AAPL", 40, 15, ctesting.Day(30))

	err := svc.Transfer("acct-1", "acct-2", "AAPL", decimal.NewFromInt(80), ctesting.Day(60))
	require.NoError(t, err)

	moved, err := svc.Lots().GetOpen("acct-2", "AAPL")
	require.NoError(t, err)
	require.Len(t, moved, 2)

	// FIFO consumption: all of lot one, 20 of lot two; dates and bases intact.
	assert.True(t, moved[0].AcquiredAt.Equal(ctesting.Day(0)))
	assert.True(t, moved[0].Remaining.Equal(decimal.NewFromInt(60)))
	assert.True(t, moved[0].CostBasis.Equal(decimal.NewFromInt(10)))
	assert.True(t, moved[1].AcquiredAt.Equal(ctesting.Day(30)))
	assert.True(t, moved[1].Remaining.Equal(decimal.NewFromInt(20)))

	source, err := svc.Positions().Get("acct-1", "AAPL")
	require.NoError(t, err)
	assert.True(t, source.Quantity.Equal(decimal.NewFromInt(20)))

	violations, err := svc.VerifyInvariant()
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestTransferRejectsOverdraw(t *testing.T) {
	svc, cleanup := newTestService(t)
	defer cleanup()

	ctesting.MustApplyBuy(t, svc, "acct-1", "AAPL", 10, 10, ctesting.Day(0))

	err := svc.Transfer("acct-1", "acct-2", "AAPL", decimal.NewFromInt(20), ctesting.Day(1))
	var insufficientErr *domain.InsufficientLotsError
	require.ErrorAs(t, err, &insufficientErr)
	assert.True(t, insufficientErr.Available.Equal(decimal.NewFromInt(10)))
}

func TestImportLotsAllOrNothing(t *testing.T) {
	svc, cleanup := newTestService(t)
	defer cleanup()

	// Second record is malformed; nothing may be imported.
	bad := strings.Join([]string{
		"security_id,asset_class,is_fund,side,quantity,price,executed_at",
		"AAPL,equity,false,BUY,100,150.25,2024-01-02",
		"MSFT,equity,false,BUY,not-a-number,300,2024-01-03",
	}, "\n")

	_, err := svc.ImportLots("acct-1", ledger.FormatGeneric, strings.NewReader(bad))
	var parseErr *domain.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 2, parseErr.Line)

	lots, err := svc.Lots().GetAll()
	require.NoError(t, err)
	assert.Empty(t, lots)

	good := strings.Join([]string{
		"security_id,asset_class,is_fund,side,quantity,price,executed_at",
		"AAPL,equity,false,BUY,100,150.25,2024-01-02",
		"VWCE,fund,true,BUY,50,98.10,2024-01-03",
		"AAPL,equity,false,TRANSFER_IN,25,140.00,2024-01-04",
	}, "\n")

	result, err := svc.ImportLots("acct-1", ledger.FormatGeneric, strings.NewReader(good))
	require.NoError(t, err)
	assert.Equal(t, 3, result.ImportedCount)
	assert.ElementsMatch(t, []string{"AAPL", "VWCE"}, result.PositionsAffected)

	pos, err := svc.Positions().Get("acct-1", "VWCE")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.True(t, pos.IsFund)

	violations, err := svc.VerifyInvariant()
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestImportLotsRejectsSells(t *testing.T) {
	svc, cleanup := newTestService(t)
	defer cleanup()

	file := strings.Join([]string{
		"security_id,asset_class,is_fund,side,quantity,price,executed_at",
		"AAPL,equity,false,SELL,100,150.25,2024-01-02",
	}, "\n")

	_, err := svc.ImportLots("acct-1", ledger.FormatGeneric, strings.NewReader(file))
	var parseErr *domain.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Reason, "SELL")
}

func TestSnapshotIsDeepAndVersioned(t *testing.T) {
	svc, cleanup := newTestService(t)
	defer cleanup()

	ctesting.MustApplyBuy(t, svc, "acct-1", "AAPL", 100, 150, ctesting.Day(0))

	snapBefore, err := svc.Snapshot()
	require.NoError(t, err)
	require.Len(t, snapBefore.Positions, 1)

	ctesting.MustApplyBuy(t, svc, "acct-1", "MSFT", 10, 300, ctesting.Day(1))

	// The earlier snapshot is unaffected by the later mutation.
	assert.Len(t, snapBefore.Positions, 1)

	snapAfter, err := svc.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snapAfter.Positions, 2)
	assert.Greater(t, snapAfter.Version, snapBefore.Version)
}

func TestSnapshotCacheRoundTrip(t *testing.T) {
	ledgerDB, cleanupLedger := ctesting.NewTestDB(t, "ledger")
	defer cleanupLedger()
	cacheDB, cleanupCache := ctesting.NewTestDB(t, "cache")
	defer cleanupCache()

	cache := ledger.NewSnapshotCache(cacheDB.Conn(), zerolog.Nop())
	svc := ledger.NewService(ledgerDB.Conn(), cache, zerolog.Nop())

	ctesting.MustApplyBuy(t, svc, "acct-1", "AAPL", 100, 150.25, ctesting.Day(0))

	first, err := svc.Snapshot()
	require.NoError(t, err)

	// Second read is served from the cache and must be identical.
	second, err := svc.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
	require.Len(t, second.Lots, 1)
	assert.True(t, second.Lots[0].CostBasis.Equal(decimal.NewFromFloat(150.25)))

	// A mutation invalidates the cache; the next snapshot sees it.
	ctesting.MustApplyBuy(t, svc, "acct-1", "MSFT", 10, 300, ctesting.Day(1))
	third, err := svc.Snapshot()
	require.NoError(t, err)
	assert.Len(t, third.Positions, 2)
}
