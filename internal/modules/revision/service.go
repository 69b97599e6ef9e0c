package revision

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/custodian/internal/domain"
	"github.com/aristath/custodian/internal/modules/artifacts"
	"github.com/aristath/custodian/internal/modules/ledger"
	"github.com/aristath/custodian/internal/modules/risk"
)

// WeightTolerance is how far the weight sum may drift from 1.
const WeightTolerance = 1e-3

// ReasonChecksumMismatch is reported when the ledger changed between draft
// and evaluation, invalidating the attempt's tax-consistency checksum.
const ReasonChecksumMismatch = "tax_consistency_mismatch"

// EvaluateInput carries the externally sourced data an evaluation needs.
// Weights come from the attempt itself; fund classification from the ledger.
type EvaluateInput struct {
	Returns        map[string][]float64 `json:"returns"`
	PositionValues map[string]float64   `json:"position_values"`
	AvgDailyValues map[string]float64   `json:"avg_daily_values"`
}

// Service drives revision attempts through the gate.
type Service struct {
	ledger   *ledger.Service
	gate     *risk.Gate
	repo     *Repository
	recorder *artifacts.Recorder
	log      zerolog.Logger
}

// NewService creates a revision service. recorder may be nil, in which case
// no provenance artifacts are written.
func NewService(ledgerSvc *ledger.Service, gate *risk.Gate, repo *Repository, recorder *artifacts.Recorder, log zerolog.Logger) *Service {
	return &Service{
		ledger:   ledgerSvc,
		gate:     gate,
		repo:     repo,
		recorder: recorder,
		log:      log.With().Str("service", "revision").Logger(),
	}
}

// Repo exposes the attempt repository for read-side callers.
func (s *Service) Repo() *Repository { return s.repo }

// HeldSecurities returns the ids of every security the account currently
// holds a positive position in, sorted. This is the universe a weight
// proposal may draw from.
func (s *Service) HeldSecurities(accountID string) ([]string, error) {
	snap, err := s.ledger.Snapshot()
	if err != nil {
		return nil, err
	}
	var out []string
	for i := range snap.Positions {
		p := &snap.Positions[i]
		if p.AccountID == accountID && p.Quantity.IsPositive() {
			out = append(out, p.SecurityID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// PositionValues derives post-trade position values for an attempt's weights:
// the account's current portfolio value, priced per holding, spread across the
// candidate weights. Every held security must carry a price; a missing one
// would understate the portfolio and with it the liquidity check, so the
// derivation fails instead.
func (s *Service) PositionValues(accountID string, weights map[string]float64, prices map[string]float64) (map[string]float64, error) {
	snap, err := s.ledger.Snapshot()
	if err != nil {
		return nil, err
	}

	portfolioValue := 0.0
	for i := range snap.Positions {
		p := &snap.Positions[i]
		if p.AccountID != accountID || !p.Quantity.IsPositive() {
			continue
		}
		price, ok := prices[p.SecurityID]
		if !ok {
			return nil, fmt.Errorf("no price for held security %s", p.SecurityID)
		}
		quantity, _ := p.Quantity.Float64()
		portfolioValue += quantity * price
	}

	values := make(map[string]float64, len(weights))
	for securityID, weight := range weights {
		values[securityID] = weight * portfolioValue
	}
	return values, nil
}

// CreateDraft opens a new attempt in DRAFT and captures the ledger's current
// tax-consistency checksum.
func (s *Service) CreateDraft(accountID string, weights map[string]float64) (*Attempt, error) {
	if accountID == "" {
		return nil, errors.New("account id is required")
	}
	if len(weights) == 0 {
		return nil, errors.New("weights are required")
	}

	checksum, err := TaxChecksum(s.ledger)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	attempt := &Attempt{
		ID:        uuid.New().String(),
		AccountID: accountID,
		State:     StateDraft,
		Weights:   weights,
		Checksum:  checksum,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(attempt); err != nil {
		return nil, err
	}

	s.record("revision_attempt", 1.0, nil, attempt)
	s.log.Info().
		Str("attempt", attempt.ID).
		Str("account", accountID).
		Int("securities", len(weights)).
		Msg("Revision attempt drafted")
	return attempt, nil
}

// Evaluate runs a DRAFT attempt through structural validation, the risk gate
// and the tax-consistency check, and persists the outcome. A cancelled or
// timed-out context aborts the attempt back to DRAFT; no estimated data is
// ever substituted for the missing inputs.
func (s *Service) Evaluate(ctx context.Context, attemptID string, in EvaluateInput) (*Attempt, error) {
	attempt, err := s.repo.Get(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, fmt.Errorf("revision attempt %s not found", attemptID)
	}
	if attempt.State != StateDraft {
		return nil, fmt.Errorf("revision attempt %s is %s, only DRAFT can be evaluated", attemptID, attempt.State)
	}

	if err := s.transition(attempt, StateEvaluating, nil); err != nil {
		return nil, err
	}

	snap, err := s.ledger.Snapshot()
	if err != nil {
		return nil, s.abortToDraft(attempt, err)
	}

	if defects := s.structuralDefects(attempt, snap); len(defects) > 0 {
		if err := s.transition(attempt, StateRejected, defects); err != nil {
			return nil, err
		}
		s.record("gate_decision", 1.0, []string{attempt.ID}, attempt)
		return attempt, nil
	}

	funds := make(map[string]bool, len(attempt.Weights))
	for securityID := range attempt.Weights {
		if pos := snap.PositionFor(attempt.AccountID, securityID); pos != nil {
			funds[securityID] = pos.IsFund
		}
	}

	riskSnap, err := s.gate.Evaluate(ctx, risk.Input{
		Weights:        attempt.Weights,
		Funds:          funds,
		Returns:        in.Returns,
		PositionValues: in.PositionValues,
		AvgDailyValues: in.AvgDailyValues,
	})
	if err != nil {
		return nil, s.abortToDraft(attempt, err)
	}
	attempt.RiskSnapshotID = riskSnap.ID

	snapConfidence := 1.0
	if riskSnap.Confidence == domain.ConfidenceDegraded {
		snapConfidence = 0.5
	}
	s.record("risk_snapshot", snapConfidence, []string{attempt.ID}, riskSnap)

	reasons := make([]string, 0, len(riskSnap.Breaches)+1)
	for _, breach := range riskSnap.Breaches {
		reasons = append(reasons, breach.Check)
	}

	recomputed, err := TaxChecksum(s.ledger)
	if err != nil {
		return nil, s.abortToDraft(attempt, err)
	}
	if recomputed != attempt.Checksum {
		reasons = append(reasons, ReasonChecksumMismatch)
	}

	final := StateAccepted
	if len(reasons) > 0 {
		final = StateHalted
	}
	if err := s.transition(attempt, final, reasons); err != nil {
		return nil, err
	}

	s.record("gate_decision", snapConfidence, []string{attempt.ID, riskSnap.ID}, attempt)
	s.log.Info().
		Str("attempt", attempt.ID).
		Str("state", string(attempt.State)).
		Strs("reasons", attempt.Reasons).
		Msg("Revision attempt evaluated")
	return attempt, nil
}

// Override forces a HALTED attempt to ACCEPTED. The override is recorded with
// who forced it and why; it is never silent.
func (s *Service) Override(attemptID, by, justification string) (*Attempt, error) {
	if by == "" || justification == "" {
		return nil, errors.New("an override requires both an operator and a documented justification")
	}

	attempt, err := s.repo.Get(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, fmt.Errorf("revision attempt %s not found", attemptID)
	}
	if attempt.State != StateHalted {
		return nil, fmt.Errorf("revision attempt %s is %s, only HALTED can be overridden", attemptID, attempt.State)
	}

	now := time.Now().UTC()
	attempt.State = StateAccepted
	attempt.OverrideBy = by
	attempt.OverrideNote = justification
	attempt.OverriddenAt = &now
	attempt.UpdatedAt = now
	if err := s.repo.Update(attempt); err != nil {
		return nil, err
	}

	s.record("gate_override", 1.0, []string{attempt.ID}, attempt)
	s.log.Warn().
		Str("attempt", attempt.ID).
		Str("by", by).
		Msg("Halted revision manually overridden to accepted")
	return attempt, nil
}

// AbortToDraft returns an EVALUATING attempt to DRAFT, used when an external
// collaborator (optimizer, market data) times out before evaluation can run.
func (s *Service) AbortToDraft(attemptID string) (*Attempt, error) {
	attempt, err := s.repo.Get(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, fmt.Errorf("revision attempt %s not found", attemptID)
	}
	if attempt.State != StateEvaluating {
		return nil, fmt.Errorf("revision attempt %s is %s, only EVALUATING can be aborted", attemptID, attempt.State)
	}
	if err := s.transition(attempt, StateDraft, nil); err != nil {
		return nil, err
	}
	return attempt, nil
}

// structuralDefects validates the weight vector against the ledger: weights
// must sum to 1 within tolerance and every referenced security must actually
// be held in the account.
func (s *Service) structuralDefects(attempt *Attempt, snap *ledger.Snapshot) []string {
	var defects []string

	sum := 0.0
	for _, weight := range attempt.Weights {
		sum += weight
	}
	if math.Abs(sum-1.0) > WeightTolerance {
		defects = append(defects, fmt.Sprintf("weights sum to %.4f, tolerance %.3f", sum, WeightTolerance))
	}

	securities := make([]string, 0, len(attempt.Weights))
	for securityID := range attempt.Weights {
		securities = append(securities, securityID)
	}
	sort.Strings(securities)
	for _, securityID := range securities {
		if attempt.Weights[securityID] < 0 {
			defects = append(defects, fmt.Sprintf("security %s has negative weight", securityID))
			continue
		}
		// Open lots are the sellable substance behind a position row.
		if !snap.OpenQuantity(attempt.AccountID, securityID).IsPositive() {
			defects = append(defects, fmt.Sprintf("security %s is not held in account %s", securityID, attempt.AccountID))
		}
	}
	return defects
}

// abortToDraft reverts to DRAFT after an evaluation-time failure and returns
// the original error.
func (s *Service) abortToDraft(attempt *Attempt, cause error) error {
	if err := s.transition(attempt, StateDraft, nil); err != nil {
		s.log.Error().Err(err).
			Str("attempt", attempt.ID).
			Msg("Failed to abort attempt back to draft")
	}
	s.log.Warn().Err(cause).
		Str("attempt", attempt.ID).
		Msg("Evaluation aborted, attempt returned to draft")
	return cause
}

func (s *Service) transition(attempt *Attempt, to State, reasons []string) error {
	attempt.State = to
	attempt.Reasons = reasons
	attempt.UpdatedAt = time.Now().UTC()
	return s.repo.Update(attempt)
}

// record writes a provenance artifact; recording failures are logged, never
// allowed to fail the revision itself.
func (s *Service) record(kind string, confidence float64, dependsOn []string, payload interface{}) {
	if s.recorder == nil {
		return
	}
	if _, err := s.recorder.Record(kind, "revision", confidence, dependsOn, payload); err != nil {
		s.log.Error().Err(err).Str("kind", kind).Msg("Failed to record artifact")
	}
}
