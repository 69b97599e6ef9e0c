package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/custodian/internal/domain"
)

// SaleRepository persists committed sale events and their lot lines.
// Simulated sales never reach this repository.
type SaleRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSaleRepository creates a new sale repository
func NewSaleRepository(db *sql.DB, log zerolog.Logger) *SaleRepository {
	return &SaleRepository{
		db:  db,
		log: log.With().Str("repo", "sale").Logger(),
	}
}

// Insert writes a sale event and all its lines inside the given transaction.
func (r *SaleRepository) Insert(q querier, event SaleEvent) error {
	_, err := q.Exec(`
		INSERT INTO sale_events (id, account_id, security_id, quantity, price, policy, short_term_gain, long_term_gain, executed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.AccountID, event.SecurityID,
		event.Quantity.String(), event.Price.String(), event.Policy,
		event.ShortTermGain.String(), event.LongTermGain.String(),
		event.ExecutedAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sale event %s: %w", event.ID, err)
	}

	for _, line := range event.Lines {
		_, err := q.Exec(`
			INSERT INTO sale_lines (sale_event_id, seq, lot_id, quantity, cost_basis, proceeds, gain, term)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			event.ID, line.Seq, line.LotID,
			line.Quantity.String(), line.CostBasis.String(),
			line.Proceeds.String(), line.Gain.String(), string(line.Term),
		)
		if err != nil {
			return fmt.Errorf("failed to insert sale line %d of %s: %w", line.Seq, event.ID, err)
		}
	}
	return nil
}

// Get returns a sale event with its lines, or nil when unknown.
func (r *SaleRepository) Get(id string) (*SaleEvent, error) {
	row := r.db.QueryRow(`
		SELECT id, account_id, security_id, quantity, price, policy, short_term_gain, long_term_gain, executed_at
		FROM sale_events WHERE id = ?`, id)

	event, err := scanSaleEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	lines, err := r.linesFor(event.ID)
	if err != nil {
		return nil, err
	}
	event.Lines = lines
	return event, nil
}

// GetAll returns every committed sale, oldest first. The tax-consistency
// checksum is computed over these.
func (r *SaleRepository) GetAll() ([]SaleEvent, error) {
	rows, err := r.db.Query(`
		SELECT id, account_id, security_id, quantity, price, policy, short_term_gain, long_term_gain, executed_at
		FROM sale_events ORDER BY executed_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale events: %w", err)
	}
	defer rows.Close()

	var events []SaleEvent
	for rows.Next() {
		event, err := scanSaleEventRows(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range events {
		lines, err := r.linesFor(events[i].ID)
		if err != nil {
			return nil, err
		}
		events[i].Lines = lines
	}
	return events, nil
}

// GetBySecurity returns committed sales of one security across all accounts,
// oldest first. Wash-sale detection reads these.
func (r *SaleRepository) GetBySecurity(securityID string) ([]SaleEvent, error) {
	rows, err := r.db.Query(`
		SELECT id, account_id, security_id, quantity, price, policy, short_term_gain, long_term_gain, executed_at
		FROM sale_events WHERE security_id = ? ORDER BY executed_at, id`, securityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale events: %w", err)
	}
	defer rows.Close()

	var events []SaleEvent
	for rows.Next() {
		event, err := scanSaleEventRows(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range events {
		lines, err := r.linesFor(events[i].ID)
		if err != nil {
			return nil, err
		}
		events[i].Lines = lines
	}
	return events, nil
}

func (r *SaleRepository) linesFor(eventID string) ([]SaleLine, error) {
	rows, err := r.db.Query(`
		SELECT id, seq, lot_id, quantity, cost_basis, proceeds, gain, term
		FROM sale_lines WHERE sale_event_id = ? ORDER BY seq`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale lines: %w", err)
	}
	defer rows.Close()

	var lines []SaleLine
	for rows.Next() {
		var line SaleLine
		var quantity, costBasis, proceeds, gain, term string
		if err := rows.Scan(&line.ID, &line.Seq, &line.LotID, &quantity, &costBasis, &proceeds, &gain, &term); err != nil {
			return nil, fmt.Errorf("failed to scan sale line: %w", err)
		}
		if line.Quantity, err = parseDecimal(quantity); err != nil {
			return nil, err
		}
		if line.CostBasis, err = parseDecimal(costBasis); err != nil {
			return nil, err
		}
		if line.Proceeds, err = parseDecimal(proceeds); err != nil {
			return nil, err
		}
		if line.Gain, err = parseDecimal(gain); err != nil {
			return nil, err
		}
		line.Term = domain.HoldingTerm(term)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanSaleEvent(row *sql.Row) (*SaleEvent, error) {
	var e SaleEvent
	var quantity, price, shortGain, longGain string
	var executedAt int64
	if err := row.Scan(&e.ID, &e.AccountID, &e.SecurityID, &quantity, &price, &e.Policy, &shortGain, &longGain, &executedAt); err != nil {
		return nil, err
	}
	return fillSaleEvent(&e, quantity, price, shortGain, longGain, executedAt)
}

func scanSaleEventRows(rows *sql.Rows) (*SaleEvent, error) {
	var e SaleEvent
	var quantity, price, shortGain, longGain string
	var executedAt int64
	if err := rows.Scan(&e.ID, &e.AccountID, &e.SecurityID, &quantity, &price, &e.Policy, &shortGain, &longGain, &executedAt); err != nil {
		return nil, fmt.Errorf("failed to scan sale event: %w", err)
	}
	return fillSaleEvent(&e, quantity, price, shortGain, longGain, executedAt)
}

func fillSaleEvent(e *SaleEvent, quantity, price, shortGain, longGain string, executedAt int64) (*SaleEvent, error) {
	var err error
	if e.Quantity, err = parseDecimal(quantity); err != nil {
		return nil, err
	}
	if e.Price, err = parseDecimal(price); err != nil {
		return nil, err
	}
	if e.ShortTermGain, err = parseDecimal(shortGain); err != nil {
		return nil, err
	}
	if e.LongTermGain, err = parseDecimal(longGain); err != nil {
		return nil, err
	}
	e.ExecutedAt = time.Unix(executedAt, 0).UTC()
	return e, nil
}
