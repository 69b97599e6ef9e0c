package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LotRepository handles tax lot rows. Lots are append-only: rows are inserted
// on acquisition and only their remaining quantity and basis adjustment are
// ever updated. Nothing is deleted; zero-remaining lots stay for audit.
type LotRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewLotRepository creates a new lot repository
func NewLotRepository(db *sql.DB, log zerolog.Logger) *LotRepository {
	return &LotRepository{
		db:  db,
		log: log.With().Str("repo", "lot").Logger(),
	}
}

const lotColumns = `id, account_id, security_id, acquired_at, quantity, remaining, cost_basis, basis_adjustment, created_at`

// Insert appends a new lot inside the given transaction and returns its id.
func (r *LotRepository) Insert(q querier, lot TaxLot) (int64, error) {
	res, err := q.Exec(`
		INSERT INTO tax_lots (account_id, security_id, acquired_at, quantity, remaining, cost_basis, basis_adjustment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		lot.AccountID, lot.SecurityID, lot.AcquiredAt.Unix(),
		lot.Quantity.String(), lot.Remaining.String(),
		lot.CostBasis.String(), lot.BasisAdjustment.String(),
		time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert tax lot: %w", err)
	}
	return res.LastInsertId()
}

// Get returns a single lot by id.
func (r *LotRepository) Get(id int64) (*TaxLot, error) {
	row := r.db.QueryRow("SELECT "+lotColumns+" FROM tax_lots WHERE id = ?", id)
	lot, err := scanLotRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return lot, err
}

// GetAll returns every lot, open or consumed, in acquisition order.
func (r *LotRepository) GetAll() ([]TaxLot, error) {
	return r.queryLots(r.db,
		"SELECT "+lotColumns+" FROM tax_lots ORDER BY acquired_at, id")
}

// GetOpen returns the open lots of an account/security pair in FIFO order.
func (r *LotRepository) GetOpen(accountID, securityID string) ([]TaxLot, error) {
	return r.queryLots(r.db,
		"SELECT "+lotColumns+` FROM tax_lots
		 WHERE account_id = ? AND security_id = ? AND CAST(remaining AS REAL) > 0
		 ORDER BY acquired_at, id`,
		accountID, securityID)
}

// OpenQuantitySum sums remaining quantities for a pair inside a transaction.
// Decimal strings cannot be summed in SQL, so the sum happens here.
func (r *LotRepository) OpenQuantitySum(q querier, accountID, securityID string) (decimal.Decimal, error) {
	rows, err := q.Query(
		"SELECT remaining FROM tax_lots WHERE account_id = ? AND security_id = ?",
		accountID, securityID,
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query lot quantities: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var remaining string
		if err := rows.Scan(&remaining); err != nil {
			return decimal.Zero, err
		}
		d, err := parseDecimal(remaining)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// Consume decrements a lot's remaining quantity inside the given transaction.
// The guard clause makes oversell impossible even under concurrent writers.
func (r *LotRepository) Consume(q querier, lotID int64, quantity decimal.Decimal) error {
	row := q.QueryRow("SELECT remaining FROM tax_lots WHERE id = ?", lotID)
	var remainingStr string
	if err := row.Scan(&remainingStr); err != nil {
		return fmt.Errorf("failed to load lot %d: %w", lotID, err)
	}
	remaining, err := parseDecimal(remainingStr)
	if err != nil {
		return err
	}
	if remaining.LessThan(quantity) {
		return fmt.Errorf("lot %d has %s remaining, cannot consume %s", lotID, remaining, quantity)
	}

	_, err = q.Exec("UPDATE tax_lots SET remaining = ? WHERE id = ?",
		remaining.Sub(quantity).String(), lotID)
	if err != nil {
		return fmt.Errorf("failed to consume lot %d: %w", lotID, err)
	}
	return nil
}

// AdjustBasis adds a per-unit amount to a lot's wash-sale basis adjustment.
func (r *LotRepository) AdjustBasis(q querier, lotID int64, perUnit decimal.Decimal) error {
	row := q.QueryRow("SELECT basis_adjustment FROM tax_lots WHERE id = ?", lotID)
	var adjStr string
	if err := row.Scan(&adjStr); err != nil {
		return fmt.Errorf("failed to load lot %d: %w", lotID, err)
	}
	adj, err := parseDecimal(adjStr)
	if err != nil {
		return err
	}

	_, err = q.Exec("UPDATE tax_lots SET basis_adjustment = ? WHERE id = ?",
		adj.Add(perUnit).String(), lotID)
	if err != nil {
		return fmt.Errorf("failed to adjust basis of lot %d: %w", lotID, err)
	}
	return nil
}

func (r *LotRepository) queryLots(q querier, query string, args ...interface{}) ([]TaxLot, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var lots []TaxLot
	for rows.Next() {
		lot, err := scanLotRows(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, *lot)
	}
	return lots, rows.Err()
}

func scanLotRow(row *sql.Row) (*TaxLot, error) {
	var l TaxLot
	var acquiredAt, createdAt int64
	var quantity, remaining, costBasis, adjustment string
	if err := row.Scan(&l.ID, &l.AccountID, &l.SecurityID, &acquiredAt,
		&quantity, &remaining, &costBasis, &adjustment, &createdAt); err != nil {
		return nil, err
	}
	return fillLot(&l, acquiredAt, createdAt, quantity, remaining, costBasis, adjustment)
}

func scanLotRows(rows *sql.Rows) (*TaxLot, error) {
	var l TaxLot
	var acquiredAt, createdAt int64
	var quantity, remaining, costBasis, adjustment string
	if err := rows.Scan(&l.ID, &l.AccountID, &l.SecurityID, &acquiredAt,
		&quantity, &remaining, &costBasis, &adjustment, &createdAt); err != nil {
		return nil, fmt.Errorf("failed to scan lot: %w", err)
	}
	return fillLot(&l, acquiredAt, createdAt, quantity, remaining, costBasis, adjustment)
}

func fillLot(l *TaxLot, acquiredAt, createdAt int64, quantity, remaining, costBasis, adjustment string) (*TaxLot, error) {
	var err error
	if l.Quantity, err = parseDecimal(quantity); err != nil {
		return nil, err
	}
	if l.Remaining, err = parseDecimal(remaining); err != nil {
		return nil, err
	}
	if l.CostBasis, err = parseDecimal(costBasis); err != nil {
		return nil, err
	}
	if l.BasisAdjustment, err = parseDecimal(adjustment); err != nil {
		return nil, err
	}
	l.AcquiredAt = time.Unix(acquiredAt, 0).UTC()
	l.CreatedAt = time.Unix(createdAt, 0).UTC()
	return l, nil
}
