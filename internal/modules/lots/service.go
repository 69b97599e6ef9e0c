package lots

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/custodian/internal/domain"
	"github.com/aristath/custodian/internal/modules/ledger"
)

// SaleRequest describes one requested disposal.
type SaleRequest struct {
	AccountID      string          `json:"account_id"`
	SecurityID     string          `json:"security_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Policy         SelectionPolicy `json:"policy"`
	SpecificLotIDs []int64         `json:"specific_lot_ids,omitempty"`
	ExecutedAt     time.Time       `json:"executed_at"`
}

// Service builds sale events against the ledger. SimulateSale is side-effect
// free; CommitSale runs the identical selection and then applies it, so a
// commit with the same parameters realizes exactly what the preview showed.
type Service struct {
	ledger                *ledger.Service
	longTermThresholdDays int
	log                   zerolog.Logger
}

// NewService creates a lot selection service. longTermThresholdDays is the
// holding period (in days) at or below which a gain is short-term.
func NewService(ledgerSvc *ledger.Service, longTermThresholdDays int, log zerolog.Logger) *Service {
	return &Service{
		ledger:                ledgerSvc,
		longTermThresholdDays: longTermThresholdDays,
		log:                   log.With().Str("service", "lots").Logger(),
	}
}

// SimulateSale previews a sale without touching the ledger.
func (s *Service) SimulateSale(req SaleRequest) (*ledger.SaleEvent, error) {
	return s.buildSaleEvent(req)
}

// CommitSale runs the same selection as SimulateSale and applies the resulting
// event to the ledger atomically.
func (s *Service) CommitSale(req SaleRequest) (*ledger.SaleEvent, error) {
	event, err := s.buildSaleEvent(req)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.ApplySale(*event); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("sale", event.ID).
		Str("security", event.SecurityID).
		Str("policy", string(event.Policy)).
		Str("realized", event.RealizedGain().String()).
		Msg("Sale committed via lot selector")
	return event, nil
}

func (s *Service) buildSaleEvent(req SaleRequest) (*ledger.SaleEvent, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	open, err := s.ledger.Lots().GetOpen(req.AccountID, req.SecurityID)
	if err != nil {
		return nil, err
	}

	allocations, err := SelectLots(open, req.Quantity, req.Policy, req.SpecificLotIDs)
	if err != nil {
		// Selection can see an empty position; name the security anyway.
		if insufficient, ok := err.(*domain.InsufficientLotsError); ok && insufficient.SecurityID == "" {
			insufficient.SecurityID = req.SecurityID
		}
		return nil, err
	}

	event := &ledger.SaleEvent{
		ID:            uuid.New().String(),
		AccountID:     req.AccountID,
		SecurityID:    req.SecurityID,
		Quantity:      req.Quantity,
		Price:         req.Price,
		Policy:        string(req.Policy),
		ShortTermGain: decimal.Zero,
		LongTermGain:  decimal.Zero,
		ExecutedAt:    req.ExecutedAt,
	}

	for seq, alloc := range allocations {
		basis := alloc.Lot.EffectiveBasis()
		proceeds := req.Price.Mul(alloc.Quantity)
		gain := req.Price.Sub(basis).Mul(alloc.Quantity)
		term := domain.ClassifyHoldingTerm(alloc.Lot.AcquiredAt, req.ExecutedAt, s.longTermThresholdDays)

		event.Lines = append(event.Lines, ledger.SaleLine{
			Seq:       seq,
			LotID:     alloc.Lot.ID,
			Quantity:  alloc.Quantity,
			CostBasis: basis,
			Proceeds:  proceeds,
			Gain:      gain,
			Term:      term,
		})
		if term == domain.TermShort {
			event.ShortTermGain = event.ShortTermGain.Add(gain)
		} else {
			event.LongTermGain = event.LongTermGain.Add(gain)
		}
	}
	return event, nil
}

func validateRequest(req SaleRequest) error {
	if req.AccountID == "" {
		return &domain.InvalidTransactionError{Reason: "account id is required"}
	}
	if req.SecurityID == "" {
		return &domain.InvalidTransactionError{Reason: "security id is required"}
	}
	if req.Quantity.IsNegative() || req.Quantity.IsZero() {
		return &domain.InvalidTransactionError{Reason: "sell quantity must be positive"}
	}
	if req.Price.IsNegative() {
		return &domain.InvalidTransactionError{Reason: "sell price cannot be negative"}
	}
	if !req.Policy.Valid() {
		return &domain.InvalidTransactionError{Reason: "unknown selection policy " + string(req.Policy)}
	}
	if req.ExecutedAt.IsZero() {
		return &domain.InvalidTransactionError{Reason: "execution time is required"}
	}
	return nil
}
