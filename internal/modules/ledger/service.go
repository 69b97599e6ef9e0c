package ledger

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/custodian/internal/database"
	"github.com/aristath/custodian/internal/domain"
)

// Service is the single writer for the ledger database. Mutations are
// serialized per account; reads operate on deep snapshots so long-running gate
// evaluations never observe a half-applied transaction.
type Service struct {
	db        *sql.DB
	positions *PositionRepository
	lots      *LotRepository
	journal   *JournalRepository
	sales     *SaleRepository
	cache     *SnapshotCache // optional
	log       zerolog.Logger

	mu           sync.Mutex
	accountLocks map[string]*sync.Mutex
}

// NewService creates a new ledger service. cache may be nil.
func NewService(db *sql.DB, cache *SnapshotCache, log zerolog.Logger) *Service {
	l := log.With().Str("service", "ledger").Logger()
	return &Service{
		db:           db,
		positions:    NewPositionRepository(db, l),
		lots:         NewLotRepository(db, l),
		journal:      NewJournalRepository(db, l),
		sales:        NewSaleRepository(db, l),
		cache:        cache,
		log:          l,
		accountLocks: make(map[string]*sync.Mutex),
	}
}

// Positions exposes the position repository for read-side collaborators.
func (s *Service) Positions() *PositionRepository { return s.positions }

// Lots exposes the lot repository for read-side collaborators.
func (s *Service) Lots() *LotRepository { return s.lots }

// Sales exposes the sale repository for read-side collaborators.
func (s *Service) Sales() *SaleRepository { return s.sales }

// lockAccount serializes mutations per account and returns the unlock func.
func (s *Service) lockAccount(accountID string) func() {
	s.mu.Lock()
	lock, ok := s.accountLocks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		s.accountLocks[accountID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// ApplyTransaction applies a buy or transfer-in, creating a lot and updating
// the position atomically. Sells must go through ApplySale with a consumption
// plan from the lot selector; transfer-outs go through Transfer.
func (s *Service) ApplyTransaction(tx Transaction, assetClass domain.AssetClass, isFund bool) (*TaxLot, error) {
	if err := validateTransaction(tx); err != nil {
		return nil, err
	}
	if tx.Side != domain.SideBuy && tx.Side != domain.SideTransferIn {
		return nil, &domain.InvalidTransactionError{
			Reason: fmt.Sprintf("side %s cannot be applied directly; use ApplySale or Transfer", tx.Side),
		}
	}

	unlock := s.lockAccount(tx.AccountID)
	defer unlock()

	var created TaxLot
	err := database.WithTransaction(s.db, func(dbTx *sql.Tx) error {
		created = TaxLot{
			AccountID:       tx.AccountID,
			SecurityID:      tx.SecurityID,
			AcquiredAt:      tx.ExecutedAt,
			Quantity:        tx.Quantity,
			Remaining:       tx.Quantity,
			CostBasis:       tx.Price,
			BasisAdjustment: decimal.Zero,
		}
		id, err := s.lots.Insert(dbTx, created)
		if err != nil {
			return err
		}
		created.ID = id

		if _, err := s.journal.Append(dbTx, tx); err != nil {
			return err
		}

		return s.reconcilePosition(dbTx, tx.AccountID, tx.SecurityID, assetClass, isFund)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateCache()
	s.log.Info().
		Str("account", tx.AccountID).
		Str("security", tx.SecurityID).
		Str("side", string(tx.Side)).
		Str("quantity", tx.Quantity.String()).
		Msg("Transaction applied")
	return &created, nil
}

// ApplySale commits a sale event produced by the lot selector: decrements the
// consumed lots, persists the event and its lines, journals the disposal and
// reconciles the position. Either everything applies or nothing does.
func (s *Service) ApplySale(event SaleEvent) error {
	if event.Quantity.IsNegative() || event.Quantity.IsZero() {
		return &domain.InvalidTransactionError{Reason: "sale quantity must be positive"}
	}
	if event.Price.IsNegative() {
		return &domain.InvalidTransactionError{Reason: "sale price cannot be negative"}
	}

	lineTotal := decimal.Zero
	for _, line := range event.Lines {
		lineTotal = lineTotal.Add(line.Quantity)
	}
	if !lineTotal.Equal(event.Quantity) {
		return &domain.InvalidTransactionError{
			Reason: fmt.Sprintf("sale lines cover %s of %s requested", lineTotal, event.Quantity),
		}
	}

	unlock := s.lockAccount(event.AccountID)
	defer unlock()

	err := database.WithTransaction(s.db, func(dbTx *sql.Tx) error {
		for _, line := range event.Lines {
			if err := s.lots.Consume(dbTx, line.LotID, line.Quantity); err != nil {
				return err
			}
		}

		if err := s.sales.Insert(dbTx, event); err != nil {
			return err
		}

		if _, err := s.journal.Append(dbTx, Transaction{
			AccountID:  event.AccountID,
			SecurityID: event.SecurityID,
			Side:       domain.SideSell,
			Quantity:   event.Quantity,
			Price:      event.Price,
			ExecutedAt: event.ExecutedAt,
		}); err != nil {
			return err
		}

		return s.reconcilePosition(dbTx, event.AccountID, event.SecurityID, "", false)
	})
	if err != nil {
		return err
	}

	s.invalidateCache()
	s.log.Info().
		Str("sale", event.ID).
		Str("security", event.SecurityID).
		Str("quantity", event.Quantity.String()).
		Str("realized", event.RealizedGain().String()).
		Msg("Sale committed")
	return nil
}

// Transfer moves quantity between accounts in kind: consumed source lots are
// recreated in the destination with their acquisition dates and bases intact,
// so holding periods survive the move.
func (s *Service) Transfer(fromAccount, toAccount, securityID string, quantity decimal.Decimal, executedAt time.Time) error {
	if quantity.IsNegative() || quantity.IsZero() {
		return &domain.InvalidTransactionError{Reason: "transfer quantity must be positive"}
	}
	if fromAccount == toAccount {
		return &domain.InvalidTransactionError{Reason: "transfer source and destination are the same account"}
	}

	// Lock ordering by account id prevents deadlock between opposing transfers.
	first, second := fromAccount, toAccount
	if second < first {
		first, second = second, first
	}
	unlockFirst := s.lockAccount(first)
	defer unlockFirst()
	unlockSecond := s.lockAccount(second)
	defer unlockSecond()

	open, err := s.lots.GetOpen(fromAccount, securityID)
	if err != nil {
		return err
	}
	available := decimal.Zero
	for _, lot := range open {
		available = available.Add(lot.Remaining)
	}
	if available.LessThan(quantity) {
		return &domain.InsufficientLotsError{SecurityID: securityID, Requested: quantity, Available: available}
	}

	err = database.WithTransaction(s.db, func(dbTx *sql.Tx) error {
		left := quantity
		for _, lot := range open {
			if left.IsZero() {
				break
			}
			take := lot.Remaining
			if take.GreaterThan(left) {
				take = left
			}

			if err := s.lots.Consume(dbTx, lot.ID, take); err != nil {
				return err
			}
			if _, err := s.lots.Insert(dbTx, TaxLot{
				AccountID:       toAccount,
				SecurityID:      securityID,
				AcquiredAt:      lot.AcquiredAt,
				Quantity:        take,
				Remaining:       take,
				CostBasis:       lot.CostBasis,
				BasisAdjustment: lot.BasisAdjustment,
			}); err != nil {
				return err
			}
			left = left.Sub(take)
		}

		for _, leg := range []Transaction{
			{AccountID: fromAccount, SecurityID: securityID, Side: domain.SideTransferOut, Quantity: quantity, Price: decimal.Zero, ExecutedAt: executedAt},
			{AccountID: toAccount, SecurityID: securityID, Side: domain.SideTransferIn, Quantity: quantity, Price: decimal.Zero, ExecutedAt: executedAt},
		} {
			if _, err := s.journal.Append(dbTx, leg); err != nil {
				return err
			}
		}

		if err := s.reconcilePosition(dbTx, fromAccount, securityID, "", false); err != nil {
			return err
		}
		return s.reconcilePosition(dbTx, toAccount, securityID, "", false)
	})
	if err != nil {
		return err
	}

	s.invalidateCache()
	return nil
}

// AdjustLotBasis applies a per-unit wash-sale basis adjustment to a lot.
// Callers record the adjustment provenance themselves; this only moves basis.
func (s *Service) AdjustLotBasis(dbTx *sql.Tx, lotID int64, perUnit decimal.Decimal) error {
	return s.lots.AdjustBasis(dbTx, lotID, perUnit)
}

// DB returns the underlying connection for collaborating repositories that
// live in the same database (wash-sale adjustments).
func (s *Service) DB() *sql.DB { return s.db }

// InvalidateCache drops the cached snapshot after an out-of-band mutation.
func (s *Service) InvalidateCache() { s.invalidateCache() }

// Version returns the current ledger version (highest journal id).
func (s *Service) Version() (int64, error) {
	return s.journal.Version()
}

// Snapshot returns a deep, read-consistent copy of the ledger. When a snapshot
// cache is configured and the ledger version is unchanged, the cached copy is
// returned without touching the lot tables.
func (s *Service) Snapshot() (*Snapshot, error) {
	version, err := s.journal.Version()
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if snap, ok := s.cache.Get(version); ok {
			return snap, nil
		}
	}

	positions, err := s.positions.GetAll()
	if err != nil {
		return nil, err
	}
	lots, err := s.lots.GetAll()
	if err != nil {
		return nil, err
	}
	journal, err := s.journal.GetAll()
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Version:      version,
		TakenAt:      time.Now().UTC(),
		Positions:    positions,
		Lots:         lots,
		Transactions: journal,
	}

	if s.cache != nil {
		if err := s.cache.Put(snap); err != nil {
			s.log.Warn().Err(err).Msg("Failed to cache ledger snapshot")
		}
	}
	return snap, nil
}

// VerifyInvariant checks quantity == Σ remaining for every position and
// returns the pairs that violate it. An empty result means the ledger is
// internally consistent.
func (s *Service) VerifyInvariant() ([]string, error) {
	positions, err := s.positions.GetAll()
	if err != nil {
		return nil, err
	}

	var violations []string
	for _, pos := range positions {
		sum, err := s.lots.OpenQuantitySum(s.db, pos.AccountID, pos.SecurityID)
		if err != nil {
			return nil, err
		}
		if !pos.Quantity.Equal(sum) {
			violations = append(violations,
				fmt.Sprintf("%s/%s: position %s != lots %s", pos.AccountID, pos.SecurityID, pos.Quantity, sum))
		}
	}
	return violations, nil
}

// reconcilePosition recomputes a position's quantity from its lots inside the
// transaction, keeping the invariant true by construction. assetClass and
// isFund are only used when the position row does not exist yet.
func (s *Service) reconcilePosition(dbTx *sql.Tx, accountID, securityID string, assetClass domain.AssetClass, isFund bool) error {
	sum, err := s.lots.OpenQuantitySum(dbTx, accountID, securityID)
	if err != nil {
		return err
	}
	if sum.IsNegative() {
		return &domain.InvalidTransactionError{
			Reason: fmt.Sprintf("lot reconciliation for %s/%s produced negative quantity %s", accountID, securityID, sum),
		}
	}

	if assetClass == "" {
		assetClass = domain.AssetClassEquity
	}

	now := time.Now().UTC()
	updated, err := s.positions.SetQuantity(dbTx, accountID, securityID, sum, now)
	if err != nil {
		return err
	}
	if updated {
		return nil
	}

	// First acquisition of this security in this account.
	return s.positions.Upsert(dbTx, Position{
		AccountID:  accountID,
		SecurityID: securityID,
		AssetClass: assetClass,
		IsFund:     isFund,
		Quantity:   sum,
		UpdatedAt:  now,
	})
}

func (s *Service) invalidateCache() {
	if s.cache != nil {
		s.cache.Invalidate()
	}
}

func validateTransaction(tx Transaction) error {
	if !tx.Side.Valid() {
		return &domain.InvalidTransactionError{Reason: fmt.Sprintf("unknown side %q", tx.Side)}
	}
	if tx.Quantity.IsNegative() || tx.Quantity.IsZero() {
		return &domain.InvalidTransactionError{Reason: "quantity must be positive"}
	}
	if tx.Price.IsNegative() {
		return &domain.InvalidTransactionError{Reason: "price cannot be negative"}
	}
	if tx.AccountID == "" || tx.SecurityID == "" {
		return &domain.InvalidTransactionError{Reason: "account and security are required"}
	}
	if tx.ExecutedAt.IsZero() {
		return &domain.InvalidTransactionError{Reason: "execution time is required"}
	}
	return nil
}
