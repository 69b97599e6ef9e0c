package ledger

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lotDay(n int) time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func setupLotRepoDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE tax_lots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id TEXT NOT NULL,
			security_id TEXT NOT NULL,
			acquired_at INTEGER NOT NULL,
			quantity TEXT NOT NULL,
			remaining TEXT NOT NULL,
			cost_basis TEXT NOT NULL,
			basis_adjustment TEXT NOT NULL DEFAULT '0',
			created_at INTEGER NOT NULL
		)`)
	require.NoError(t, err)
	return db
}

func TestLotRepositoryConsumeGuardsOversell(t *testing.T) {
	db := setupLotRepoDB(t)
	repo := NewLotRepository(db, zerolog.Nop())

	id, err := repo.Insert(db, TaxLot{
		AccountID:       "acct-1",
		SecurityID:      "AAPL",
		AcquiredAt:      lotDay(0),
		Quantity:        decimal.NewFromInt(100),
		Remaining:       decimal.NewFromInt(100),
		CostBasis:       decimal.NewFromInt(10),
		BasisAdjustment: decimal.Zero,
	})
	require.NoError(t, err)

	require.NoError(t, repo.Consume(db, id, decimal.NewFromInt(60)))

	err = repo.Consume(db, id, decimal.NewFromInt(50))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot consume")

	lot, err := repo.Get(id)
	require.NoError(t, err)
	assert.True(t, lot.Remaining.Equal(decimal.NewFromInt(40)))
	assert.True(t, lot.Open())
}

func TestLotRepositoryAdjustBasisAccumulates(t *testing.T) {
	db := setupLotRepoDB(t)
	repo := NewLotRepository(db, zerolog.Nop())

	id, err := repo.Insert(db, TaxLot{
		AccountID:       "acct-1",
		SecurityID:      "AAPL",
		AcquiredAt:      lotDay(0),
		Quantity:        decimal.NewFromInt(100),
		Remaining:       decimal.NewFromInt(100),
		CostBasis:       decimal.NewFromFloat(10.50),
		BasisAdjustment: decimal.Zero,
	})
	require.NoError(t, err)

	require.NoError(t, repo.AdjustBasis(db, id, decimal.NewFromFloat(0.75)))
	require.NoError(t, repo.AdjustBasis(db, id, decimal.NewFromFloat(0.25)))

	lot, err := repo.Get(id)
	require.NoError(t, err)
	assert.True(t, lot.BasisAdjustment.Equal(decimal.NewFromInt(1)))
	assert.True(t, lot.EffectiveBasis().Equal(decimal.NewFromFloat(11.50)))
}

func TestLotRepositoryGetOpenExcludesConsumed(t *testing.T) {
	db := setupLotRepoDB(t)
	repo := NewLotRepository(db, zerolog.Nop())

	first, err := repo.Insert(db, TaxLot{
		AccountID: "acct-1", SecurityID: "AAPL", AcquiredAt: lotDay(0),
		Quantity: decimal.NewFromInt(50), Remaining: decimal.NewFromInt(50),
		CostBasis: decimal.NewFromInt(10), BasisAdjustment: decimal.Zero,
	})
	require.NoError(t, err)
	second, err := repo.Insert(db, TaxLot{
		AccountID: "acct-1", SecurityID: "AAPL", AcquiredAt: lotDay(5),
		Quantity: decimal.NewFromInt(30), Remaining: decimal.NewFromInt(30),
		CostBasis: decimal.NewFromInt(12), BasisAdjustment: decimal.Zero,
	})
	require.NoError(t, err)

	require.NoError(t, repo.Consume(db, first, decimal.NewFromInt(50)))

	open, err := repo.GetOpen("acct-1", "AAPL")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, second, open[0].ID)

	// The consumed lot stays on record for audit.
	all, err := repo.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	sum, err := repo.OpenQuantitySum(db, "acct-1", "AAPL")
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(30)))
}
