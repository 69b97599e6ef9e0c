package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/custodian/internal/domain"
)

// PositionRepository handles position rows in the ledger database.
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repo", "position").Logger(),
	}
}

const positionColumns = `id, account_id, security_id, asset_class, is_fund, quantity, updated_at`

// GetAll returns every position, including flat ones kept for audit.
func (r *PositionRepository) GetAll() ([]Position, error) {
	return r.queryPositions(r.db, "SELECT "+positionColumns+" FROM positions ORDER BY account_id, security_id")
}

// Get returns the position for an account/security pair, or nil when the
// security has never been held.
func (r *PositionRepository) Get(accountID, securityID string) (*Position, error) {
	row := r.db.QueryRow(
		"SELECT "+positionColumns+" FROM positions WHERE account_id = ? AND security_id = ?",
		accountID, securityID,
	)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// Upsert writes a position row inside the given transaction.
func (r *PositionRepository) Upsert(q querier, p Position) error {
	_, err := q.Exec(`
		INSERT INTO positions (account_id, security_id, asset_class, is_fund, quantity, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, security_id) DO UPDATE SET
			asset_class = excluded.asset_class,
			is_fund = excluded.is_fund,
			quantity = excluded.quantity,
			updated_at = excluded.updated_at`,
		p.AccountID, p.SecurityID, string(p.AssetClass), boolToInt(p.IsFund),
		p.Quantity.String(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s/%s: %w", p.AccountID, p.SecurityID, err)
	}
	return nil
}

// SetQuantity updates only the derived quantity of an existing position.
// Returns false when the position row does not exist yet.
func (r *PositionRepository) SetQuantity(q querier, accountID, securityID string, quantity decimal.Decimal, at time.Time) (bool, error) {
	res, err := q.Exec(
		"UPDATE positions SET quantity = ?, updated_at = ? WHERE account_id = ? AND security_id = ?",
		quantity.String(), at.Unix(), accountID, securityID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set position quantity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *PositionRepository) queryPositions(q querier, query string, args ...interface{}) ([]Position, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		pos, err := scanPositionRows(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *pos)
	}
	return positions, rows.Err()
}

func scanPosition(row *sql.Row) (*Position, error) {
	var p Position
	var assetClass, quantity string
	var isFund int
	var updatedAt int64
	if err := row.Scan(&p.ID, &p.AccountID, &p.SecurityID, &assetClass, &isFund, &quantity, &updatedAt); err != nil {
		return nil, err
	}
	return fillPosition(&p, assetClass, isFund, quantity, updatedAt)
}

func scanPositionRows(rows *sql.Rows) (*Position, error) {
	var p Position
	var assetClass, quantity string
	var isFund int
	var updatedAt int64
	if err := rows.Scan(&p.ID, &p.AccountID, &p.SecurityID, &assetClass, &isFund, &quantity, &updatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan position: %w", err)
	}
	return fillPosition(&p, assetClass, isFund, quantity, updatedAt)
}

func fillPosition(p *Position, assetClass string, isFund int, quantity string, updatedAt int64) (*Position, error) {
	q, err := parseDecimal(quantity)
	if err != nil {
		return nil, err
	}
	p.AssetClass = domain.AssetClass(assetClass)
	p.IsFund = isFund != 0
	p.Quantity = q
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
