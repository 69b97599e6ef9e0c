package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/custodian/internal/domain"
)

// JournalRepository appends to and reads the transaction journal. The journal
// is strictly append-only; the max row id doubles as the ledger version.
type JournalRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewJournalRepository creates a new journal repository
func NewJournalRepository(db *sql.DB, log zerolog.Logger) *JournalRepository {
	return &JournalRepository{
		db:  db,
		log: log.With().Str("repo", "journal").Logger(),
	}
}

const journalColumns = `id, account_id, security_id, side, quantity, price, executed_at`

// Append writes one journal entry inside the given transaction.
func (r *JournalRepository) Append(q querier, tx Transaction) (int64, error) {
	res, err := q.Exec(`
		INSERT INTO transactions (account_id, security_id, side, quantity, price, executed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.AccountID, tx.SecurityID, string(tx.Side),
		tx.Quantity.String(), tx.Price.String(),
		tx.ExecutedAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append journal entry: %w", err)
	}
	return res.LastInsertId()
}

// GetAll returns the full journal in execution order.
func (r *JournalRepository) GetAll() ([]Transaction, error) {
	return r.queryJournal("SELECT " + journalColumns + " FROM transactions ORDER BY executed_at, id")
}

// Version returns the highest journal id, or zero for an empty ledger.
func (r *JournalRepository) Version() (int64, error) {
	var version sql.NullInt64
	if err := r.db.QueryRow("SELECT MAX(id) FROM transactions").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read ledger version: %w", err)
	}
	return version.Int64, nil
}

func (r *JournalRepository) queryJournal(query string, args ...interface{}) ([]Transaction, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Transaction
	for rows.Next() {
		var tx Transaction
		var side, quantity, price string
		var executedAt int64
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.SecurityID, &side, &quantity, &price, &executedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		if tx.Quantity, err = parseDecimal(quantity); err != nil {
			return nil, err
		}
		if tx.Price, err = parseDecimal(price); err != nil {
			return nil, err
		}
		tx.Side = domain.Side(side)
		tx.ExecutedAt = time.Unix(executedAt, 0).UTC()
		entries = append(entries, tx)
	}
	return entries, rows.Err()
}
