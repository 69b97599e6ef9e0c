package washsale

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/custodian/internal/database"
	"github.com/aristath/custodian/internal/domain"
	"github.com/aristath/custodian/internal/modules/ledger"
)

// DefaultWindowDays is the standard 30/30 rule: thirty calendar days on each
// side of the sale date.
const DefaultWindowDays = 30

// Service scans committed sales for wash sales and applies the resulting
// basis adjustments to replacement lots.
type Service struct {
	ledger      *ledger.Service
	table       *EquivalenceTable
	adjustments *AdjustmentRepository
	windowDays  int
	log         zerolog.Logger
}

// NewService creates a wash-sale service. table may be nil, in which case only
// ticker-identical repurchases are flagged.
func NewService(ledgerSvc *ledger.Service, table *EquivalenceTable, windowDays int, log zerolog.Logger) *Service {
	l := log.With().Str("service", "washsale").Logger()
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &Service{
		ledger:      ledgerSvc,
		table:       table,
		adjustments: NewAdjustmentRepository(ledgerSvc.DB(), l),
		windowDays:  windowDays,
		log:         l,
	}
}

// Adjustments exposes the adjustment repository for audit reads.
func (s *Service) Adjustments() *AdjustmentRepository { return s.adjustments }

// WindowDays returns the configured scan window in days.
func (s *Service) WindowDays() int { return s.windowDays }

// EquivalentIDs returns the substantially-identical class of a security,
// always including the security itself.
func (s *Service) EquivalentIDs(securityID string) map[string]bool {
	return s.table.Class(securityID)
}

// Scan flags wash sales among the committed sale events of one security
// within the account scope. Read-only; the same ledger state always yields
// the same flags.
func (s *Service) Scan(securityID string, scope domain.AccountScope) ([]Flag, error) {
	events, err := s.ledger.Sales().GetBySecurity(securityID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	snap, err := s.ledger.Snapshot()
	if err != nil {
		return nil, err
	}
	return DetectFlags(events, snap, s.table, s.windowDays, scope), nil
}

// ApplyAdjustments records the flags and moves each disallowed loss into its
// replacement lot's cost basis, per unit of the replacement lot. A sale line
// that was already adjusted is skipped, so reapplying the same flags never
// double-adjusts. Returns how many adjustments were newly applied.
func (s *Service) ApplyAdjustments(flags []Flag) (int, error) {
	if len(flags) == 0 {
		return 0, nil
	}

	applied := 0
	err := database.WithTransaction(s.ledger.DB(), func(tx *sql.Tx) error {
		for _, flag := range flags {
			inserted, err := s.adjustments.Insert(tx, Adjustment{
				SaleEventID:      flag.SaleEventID,
				SaleLineID:       flag.SaleLineID,
				ReplacementLotID: flag.ReplacementLotID,
				DisallowedLoss:   flag.DisallowedLoss,
			})
			if err != nil {
				return err
			}
			if !inserted {
				continue
			}

			lot, err := s.replacementLot(tx, flag.ReplacementLotID)
			if err != nil {
				return err
			}
			perUnit := flag.DisallowedLoss.Div(lot.Quantity)
			if err := s.ledger.AdjustLotBasis(tx, flag.ReplacementLotID, perUnit); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if applied > 0 {
		s.ledger.InvalidateCache()
		s.log.Info().
			Int("applied", applied).
			Int("flags", len(flags)).
			Msg("Wash-sale basis adjustments applied")
	}
	return applied, nil
}

// ScanAndApply runs Scan then ApplyAdjustments for one security.
func (s *Service) ScanAndApply(securityID string, scope domain.AccountScope) ([]Flag, int, error) {
	flags, err := s.Scan(securityID, scope)
	if err != nil {
		return nil, 0, err
	}
	applied, err := s.ApplyAdjustments(flags)
	if err != nil {
		return nil, 0, err
	}
	return flags, applied, nil
}

func (s *Service) replacementLot(tx *sql.Tx, lotID int64) (*ledger.TaxLot, error) {
	row := tx.QueryRow("SELECT quantity FROM tax_lots WHERE id = ?", lotID)
	var quantityStr string
	if err := row.Scan(&quantityStr); err != nil {
		return nil, fmt.Errorf("failed to load replacement lot %d: %w", lotID, err)
	}
	lot := &ledger.TaxLot{ID: lotID}
	var err error
	if lot.Quantity, err = decimal.NewFromString(quantityStr); err != nil {
		return nil, fmt.Errorf("bad lot quantity %q: %w", quantityStr, err)
	}
	if lot.Quantity.IsZero() {
		return nil, fmt.Errorf("replacement lot %d has zero quantity", lotID)
	}
	return lot, nil
}
