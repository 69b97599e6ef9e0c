package washsale

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Adjustment is one recorded wash-sale basis carry-over. The table carries a
// UNIQUE constraint on sale_line_id; that constraint is what makes applying
// the detector idempotent.
type Adjustment struct {
	ID               int64           `json:"id"`
	SaleEventID      string          `json:"sale_event_id"`
	SaleLineID       int64           `json:"sale_line_id"`
	ReplacementLotID int64           `json:"replacement_lot_id"`
	DisallowedLoss   decimal.Decimal `json:"disallowed_loss"`
	CreatedAt        time.Time       `json:"created_at"`
}

// AdjustmentRepository persists wash-sale adjustments on the ledger database.
type AdjustmentRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAdjustmentRepository creates a new adjustment repository
func NewAdjustmentRepository(db *sql.DB, log zerolog.Logger) *AdjustmentRepository {
	return &AdjustmentRepository{
		db:  db,
		log: log.With().Str("repo", "wash_sale_adjustment").Logger(),
	}
}

// Insert records an adjustment inside the given transaction. Returns false
// when the sale line was already adjusted, which callers treat as "skip".
func (r *AdjustmentRepository) Insert(tx *sql.Tx, adj Adjustment) (bool, error) {
	res, err := tx.Exec(`
		INSERT OR IGNORE INTO wash_sale_adjustments
			(sale_event_id, sale_line_id, replacement_lot_id, disallowed_loss, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		adj.SaleEventID, adj.SaleLineID, adj.ReplacementLotID,
		adj.DisallowedLoss.String(), time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert wash-sale adjustment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetAll returns every recorded adjustment, oldest first.
func (r *AdjustmentRepository) GetAll() ([]Adjustment, error) {
	rows, err := r.db.Query(`
		SELECT id, sale_event_id, sale_line_id, replacement_lot_id, disallowed_loss, created_at
		FROM wash_sale_adjustments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query wash-sale adjustments: %w", err)
	}
	defer rows.Close()

	var adjustments []Adjustment
	for rows.Next() {
		var a Adjustment
		var loss string
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.SaleEventID, &a.SaleLineID, &a.ReplacementLotID, &loss, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan wash-sale adjustment: %w", err)
		}
		if a.DisallowedLoss, err = decimal.NewFromString(loss); err != nil {
			return nil, fmt.Errorf("bad disallowed loss %q: %w", loss, err)
		}
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		adjustments = append(adjustments, a)
	}
	return adjustments, rows.Err()
}
