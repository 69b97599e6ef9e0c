package ledger

import (
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"github.com/aristath/custodian/internal/database"
	"github.com/aristath/custodian/internal/domain"
)

// BrokerFormat identifies a supported broker export layout.
type BrokerFormat string

const (
	// FormatGeneric is the house CSV layout:
	// security_id,asset_class,is_fund,side,quantity,price,executed_at
	FormatGeneric BrokerFormat = "generic"
)

// ImportResult summarizes an all-or-nothing lot import.
type ImportResult struct {
	ImportedCount     int      `json:"imported_count"`
	PositionsAffected []string `json:"positions_affected"`
}

// importRecord is one CSV row of a broker export.
type importRecord struct {
	SecurityID string `csv:"security_id"`
	AssetClass string `csv:"asset_class"`
	IsFund     string `csv:"is_fund"`
	Side       string `csv:"side"`
	Quantity   string `csv:"quantity"`
	Price      string `csv:"price"`
	ExecutedAt string `csv:"executed_at"`
}

// parsedRecord is a fully validated row ready to apply.
type parsedRecord struct {
	securityID string
	assetClass domain.AssetClass
	isFund     bool
	quantity   decimal.Decimal
	price      decimal.Decimal
	executedAt time.Time
}

// ImportLots ingests acquisition records from a broker CSV export into one
// account. The file is parsed and validated completely before anything is
// written; a single bad record rejects the whole file with a ParseError.
// Only acquisition sides (BUY, TRANSFER_IN) are accepted — disposals must flow
// through the sale pipeline so gains are computed against selected lots.
func (s *Service) ImportLots(accountID string, format BrokerFormat, r io.Reader) (*ImportResult, error) {
	if format != FormatGeneric {
		return nil, &domain.ParseError{Reason: fmt.Sprintf("unsupported broker format %q", format)}
	}
	if accountID == "" {
		return nil, &domain.ParseError{Reason: "account id is required"}
	}

	var records []importRecord
	if err := gocsv.Unmarshal(r, &records); err != nil {
		return nil, &domain.ParseError{Reason: err.Error()}
	}
	if len(records) == 0 {
		return nil, &domain.ParseError{Reason: "file contains no records"}
	}

	parsed := make([]parsedRecord, 0, len(records))
	for i, rec := range records {
		p, err := parseImportRecord(rec)
		if err != nil {
			return nil, &domain.ParseError{Line: i + 1, Reason: err.Error()}
		}
		parsed = append(parsed, *p)
	}

	unlock := s.lockAccount(accountID)
	defer unlock()

	affected := make(map[string]bool)
	err := database.WithTransaction(s.db, func(dbTx *sql.Tx) error {
		for _, p := range parsed {
			if _, err := s.lots.Insert(dbTx, TaxLot{
				AccountID:       accountID,
				SecurityID:      p.securityID,
				AcquiredAt:      p.executedAt,
				Quantity:        p.quantity,
				Remaining:       p.quantity,
				CostBasis:       p.price,
				BasisAdjustment: decimal.Zero,
			}); err != nil {
				return err
			}
			if _, err := s.journal.Append(dbTx, Transaction{
				AccountID:  accountID,
				SecurityID: p.securityID,
				Side:       domain.SideBuy,
				Quantity:   p.quantity,
				Price:      p.price,
				ExecutedAt: p.executedAt,
			}); err != nil {
				return err
			}
			affected[p.securityID] = true
		}

		for _, p := range parsed {
			if err := s.reconcilePosition(dbTx, accountID, p.securityID, p.assetClass, p.isFund); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateCache()

	result := &ImportResult{ImportedCount: len(parsed)}
	for securityID := range affected {
		result.PositionsAffected = append(result.PositionsAffected, securityID)
	}

	s.log.Info().
		Str("account", accountID).
		Int("records", result.ImportedCount).
		Int("positions", len(result.PositionsAffected)).
		Msg("Broker file imported")
	return result, nil
}

func parseImportRecord(rec importRecord) (*parsedRecord, error) {
	if rec.SecurityID == "" {
		return nil, fmt.Errorf("security_id is empty")
	}

	side := domain.Side(strings.ToUpper(strings.TrimSpace(rec.Side)))
	if side != domain.SideBuy && side != domain.SideTransferIn {
		return nil, fmt.Errorf("side %q is not importable; only BUY and TRANSFER_IN records create lots", rec.Side)
	}

	quantity, err := decimal.NewFromString(strings.TrimSpace(rec.Quantity))
	if err != nil {
		return nil, fmt.Errorf("bad quantity %q", rec.Quantity)
	}
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("quantity %s must be positive", quantity)
	}

	price, err := decimal.NewFromString(strings.TrimSpace(rec.Price))
	if err != nil {
		return nil, fmt.Errorf("bad price %q", rec.Price)
	}
	if price.IsNegative() {
		return nil, fmt.Errorf("price %s cannot be negative", price)
	}

	executedAt, err := parseImportTime(rec.ExecutedAt)
	if err != nil {
		return nil, err
	}

	assetClass := domain.AssetClass(strings.ToLower(strings.TrimSpace(rec.AssetClass)))
	switch assetClass {
	case domain.AssetClassEquity, domain.AssetClassBond, domain.AssetClassFund, domain.AssetClassCash:
	case "":
		assetClass = domain.AssetClassEquity
	default:
		return nil, fmt.Errorf("unknown asset class %q", rec.AssetClass)
	}

	isFund := strings.EqualFold(strings.TrimSpace(rec.IsFund), "true") ||
		strings.TrimSpace(rec.IsFund) == "1" ||
		assetClass == domain.AssetClassFund

	return &parsedRecord{
		securityID: strings.ToUpper(strings.TrimSpace(rec.SecurityID)),
		assetClass: assetClass,
		isFund:     isFund,
		quantity:   quantity,
		price:      price,
		executedAt: executedAt,
	}, nil
}

func parseImportTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad executed_at %q; want RFC3339 or YYYY-MM-DD", value)
}
