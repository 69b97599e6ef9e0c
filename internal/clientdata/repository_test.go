package clientdata

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSchema creates all tables needed for testing
const testSchema = `
CREATE TABLE marketdata_returns (security_id TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);
CREATE TABLE marketdata_fund_holdings (fund_id TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);
CREATE TABLE marketdata_liquidity (security_id TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);
CREATE TABLE marketdata_prices (security_id TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);
`

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	return db
}

func TestStoreAndGetIfFresh(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	data := map[string]interface{}{
		"security_id": "AAPL",
		"returns":     []float64{0.01, -0.02},
	}
	err := repo.Store("marketdata_returns", "AAPL", data, TTLReturns)
	require.NoError(t, err)

	fresh, err := repo.GetIfFresh("marketdata_returns", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, fresh)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(fresh, &decoded))
	assert.Equal(t, "AAPL", decoded["security_id"])
}

func TestStoreUpserts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	require.NoError(t, repo.Store("marketdata_liquidity", "AAPL", map[string]float64{"adv": 1}, TTLLiquidity))
	require.NoError(t, repo.Store("marketdata_liquidity", "AAPL", map[string]float64{"adv": 2}, TTLLiquidity))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM marketdata_liquidity").Scan(&count))
	assert.Equal(t, 1, count)

	data, err := repo.Get("marketdata_liquidity", "AAPL")
	require.NoError(t, err)
	var decoded map[string]float64
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 2.0, decoded["adv"])
}

func TestGetIfFreshSkipsExpired(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	expiredAt := time.Now().Add(-time.Hour).Unix()
	_, err := db.Exec(
		"INSERT INTO marketdata_returns (security_id, data, expires_at) VALUES (?, ?, ?)",
		"AAPL", `{"stale":true}`, expiredAt)
	require.NoError(t, err)

	fresh, err := repo.GetIfFresh("marketdata_returns", "AAPL")
	require.NoError(t, err)
	assert.Nil(t, fresh)

	// Get still returns the stale payload for fallback use.
	stale, err := repo.Get("marketdata_returns", "AAPL")
	require.NoError(t, err)
	assert.NotNil(t, stale)
}

func TestGetUnknownKeyReturnsNil(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	data, err := repo.Get("marketdata_fund_holdings", "VWCE")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestInvalidTableRejected(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	err := repo.Store("positions; DROP TABLE marketdata_returns", "x", nil, time.Hour)
	assert.Error(t, err)
	_, err = repo.Get("nonexistent", "x")
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	require.NoError(t, repo.Store("marketdata_fund_holdings", "VWCE", map[string]string{"a": "b"}, TTLFundHoldings))
	require.NoError(t, repo.Delete("marketdata_fund_holdings", "VWCE"))

	data, err := repo.Get("marketdata_fund_holdings", "VWCE")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestDeleteAllExpired(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	expiredAt := time.Now().Add(-time.Hour).Unix()
	freshAt := time.Now().Add(time.Hour).Unix()
	for _, table := range AllTables {
		keyCol := getKeyColumn(table)
		_, err := db.Exec(
			"INSERT INTO "+table+" ("+keyCol+", data, expires_at) VALUES (?, ?, ?)",
			"EXPIRED", `{}`, expiredAt)
		require.NoError(t, err)
		_, err = db.Exec(
			"INSERT INTO "+table+" ("+keyCol+", data, expires_at) VALUES (?, ?, ?)",
			"FRESH", `{}`, freshAt)
		require.NoError(t, err)
	}

	results, err := repo.DeleteAllExpired()
	require.NoError(t, err)
	for _, table := range AllTables {
		assert.Equal(t, int64(1), results[table], table)

		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&count))
		assert.Equal(t, 1, count, table)
	}
}
