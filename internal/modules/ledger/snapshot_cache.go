package ledger

import (
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/custodian/internal/domain"
)

// SnapshotCache keeps the last ledger snapshot in the cache database, keyed by
// ledger version. Gate evaluations over an unchanged ledger then skip the lot
// table scans. Decimal values are stored as strings; msgpack cannot see inside
// decimal.Decimal.
type SnapshotCache struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSnapshotCache creates a new snapshot cache over the cache database.
func NewSnapshotCache(db *sql.DB, log zerolog.Logger) *SnapshotCache {
	return &SnapshotCache{
		db:  db,
		log: log.With().Str("cache", "snapshot").Logger(),
	}
}

const cacheKey = "ledger" // single-ledger deployment; one cache row

// Get returns the cached snapshot when its version matches.
func (c *SnapshotCache) Get(version int64) (*Snapshot, bool) {
	var storedVersion int64
	var payload []byte
	err := c.db.QueryRow(
		"SELECT version, payload FROM snapshot_cache WHERE account_id = ?", cacheKey,
	).Scan(&storedVersion, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("Snapshot cache read failed")
		return nil, false
	}
	if storedVersion != version {
		return nil, false
	}

	var cached cachedSnapshot
	if err := msgpack.Unmarshal(payload, &cached); err != nil {
		c.log.Warn().Err(err).Msg("Snapshot cache payload corrupt, ignoring")
		return nil, false
	}

	snap, err := cached.toSnapshot()
	if err != nil {
		c.log.Warn().Err(err).Msg("Snapshot cache decode failed, ignoring")
		return nil, false
	}
	return snap, true
}

// Put stores a snapshot, replacing any previous cache entry.
func (c *SnapshotCache) Put(snap *Snapshot) error {
	payload, err := msgpack.Marshal(fromSnapshot(snap))
	if err != nil {
		return err
	}
	_, err = c.db.Exec(`
		INSERT INTO snapshot_cache (account_id, version, taken_at, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			version = excluded.version,
			taken_at = excluded.taken_at,
			payload = excluded.payload`,
		cacheKey, snap.Version, snap.TakenAt.Unix(), payload,
	)
	return err
}

// Invalidate drops the cache entry. Called after every ledger mutation.
func (c *SnapshotCache) Invalidate() {
	if _, err := c.db.Exec("DELETE FROM snapshot_cache WHERE account_id = ?", cacheKey); err != nil {
		c.log.Warn().Err(err).Msg("Snapshot cache invalidation failed")
	}
}

// msgpack transport types

type cachedSnapshot struct {
	Version      int64               `msgpack:"version"`
	TakenAt      int64               `msgpack:"taken_at"`
	Positions    []cachedPosition    `msgpack:"positions"`
	Lots         []cachedLot         `msgpack:"lots"`
	Transactions []cachedTransaction `msgpack:"transactions"`
}

type cachedPosition struct {
	ID         int64  `msgpack:"id"`
	AccountID  string `msgpack:"account_id"`
	SecurityID string `msgpack:"security_id"`
	AssetClass string `msgpack:"asset_class"`
	IsFund     bool   `msgpack:"is_fund"`
	Quantity   string `msgpack:"quantity"`
	UpdatedAt  int64  `msgpack:"updated_at"`
}

type cachedLot struct {
	ID              int64  `msgpack:"id"`
	AccountID       string `msgpack:"account_id"`
	SecurityID      string `msgpack:"security_id"`
	AcquiredAt      int64  `msgpack:"acquired_at"`
	Quantity        string `msgpack:"quantity"`
	Remaining       string `msgpack:"remaining"`
	CostBasis       string `msgpack:"cost_basis"`
	BasisAdjustment string `msgpack:"basis_adjustment"`
	CreatedAt       int64  `msgpack:"created_at"`
}

type cachedTransaction struct {
	ID         int64  `msgpack:"id"`
	AccountID  string `msgpack:"account_id"`
	SecurityID string `msgpack:"security_id"`
	Side       string `msgpack:"side"`
	Quantity   string `msgpack:"quantity"`
	Price      string `msgpack:"price"`
	ExecutedAt int64  `msgpack:"executed_at"`
}

func fromSnapshot(s *Snapshot) cachedSnapshot {
	out := cachedSnapshot{
		Version: s.Version,
		TakenAt: s.TakenAt.Unix(),
	}
	for _, p := range s.Positions {
		out.Positions = append(out.Positions, cachedPosition{
			ID: p.ID, AccountID: p.AccountID, SecurityID: p.SecurityID,
			AssetClass: string(p.AssetClass), IsFund: p.IsFund,
			Quantity: p.Quantity.String(), UpdatedAt: p.UpdatedAt.Unix(),
		})
	}
	for _, l := range s.Lots {
		out.Lots = append(out.Lots, cachedLot{
			ID: l.ID, AccountID: l.AccountID, SecurityID: l.SecurityID,
			AcquiredAt: l.AcquiredAt.Unix(), Quantity: l.Quantity.String(),
			Remaining: l.Remaining.String(), CostBasis: l.CostBasis.String(),
			BasisAdjustment: l.BasisAdjustment.String(), CreatedAt: l.CreatedAt.Unix(),
		})
	}
	for _, t := range s.Transactions {
		out.Transactions = append(out.Transactions, cachedTransaction{
			ID: t.ID, AccountID: t.AccountID, SecurityID: t.SecurityID,
			Side: string(t.Side), Quantity: t.Quantity.String(),
			Price: t.Price.String(), ExecutedAt: t.ExecutedAt.Unix(),
		})
	}
	return out
}

func (c cachedSnapshot) toSnapshot() (*Snapshot, error) {
	snap := &Snapshot{
		Version: c.Version,
		TakenAt: time.Unix(c.TakenAt, 0).UTC(),
	}
	for _, p := range c.Positions {
		quantity, err := parseDecimal(p.Quantity)
		if err != nil {
			return nil, err
		}
		snap.Positions = append(snap.Positions, Position{
			ID: p.ID, AccountID: p.AccountID, SecurityID: p.SecurityID,
			AssetClass: domain.AssetClass(p.AssetClass), IsFund: p.IsFund,
			Quantity: quantity, UpdatedAt: time.Unix(p.UpdatedAt, 0).UTC(),
		})
	}
	for _, l := range c.Lots {
		lot := TaxLot{
			ID: l.ID, AccountID: l.AccountID, SecurityID: l.SecurityID,
			AcquiredAt: time.Unix(l.AcquiredAt, 0).UTC(),
			CreatedAt:  time.Unix(l.CreatedAt, 0).UTC(),
		}
		var err error
		if lot.Quantity, err = parseDecimal(l.Quantity); err != nil {
			return nil, err
		}
		if lot.Remaining, err = parseDecimal(l.Remaining); err != nil {
			return nil, err
		}
		if lot.CostBasis, err = parseDecimal(l.CostBasis); err != nil {
			return nil, err
		}
		if lot.BasisAdjustment, err = parseDecimal(l.BasisAdjustment); err != nil {
			return nil, err
		}
		snap.Lots = append(snap.Lots, lot)
	}
	for _, t := range c.Transactions {
		tx := Transaction{
			ID: t.ID, AccountID: t.AccountID, SecurityID: t.SecurityID,
			Side:       domain.Side(t.Side),
			ExecutedAt: time.Unix(t.ExecutedAt, 0).UTC(),
		}
		var err error
		if tx.Quantity, err = parseDecimal(t.Quantity); err != nil {
			return nil, err
		}
		if tx.Price, err = parseDecimal(t.Price); err != nil {
			return nil, err
		}
		snap.Transactions = append(snap.Transactions, tx)
	}
	return snap, nil
}
