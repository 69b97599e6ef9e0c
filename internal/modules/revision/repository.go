package revision

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository persists revision attempts on the artifacts database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new revision repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "revision").Logger(),
	}
}

const attemptColumns = `id, account_id, state, weights, risk_snapshot_id, checksum, reasons,
	override_by, override_note, overridden_at, created_at, updated_at`

// Insert stores a new attempt.
func (r *Repository) Insert(a *Attempt) error {
	weights, err := json.Marshal(a.Weights)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	reasons, err := marshalReasons(a.Reasons)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT INTO revision_attempts
			(id, account_id, state, weights, risk_snapshot_id, checksum, reasons, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AccountID, string(a.State), string(weights),
		a.RiskSnapshotID, a.Checksum, reasons,
		a.CreatedAt.Unix(), a.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert revision attempt: %w", err)
	}
	return nil
}

// Update rewrites the mutable columns of an attempt.
func (r *Repository) Update(a *Attempt) error {
	reasons, err := marshalReasons(a.Reasons)
	if err != nil {
		return err
	}

	var overriddenAt interface{}
	if a.OverriddenAt != nil {
		overriddenAt = a.OverriddenAt.Unix()
	}

	res, err := r.db.Exec(`
		UPDATE revision_attempts
		SET state = ?, risk_snapshot_id = ?, reasons = ?,
		    override_by = ?, override_note = ?, overridden_at = ?, updated_at = ?
		WHERE id = ?`,
		string(a.State), a.RiskSnapshotID, reasons,
		nullable(a.OverrideBy), nullable(a.OverrideNote), overriddenAt,
		a.UpdatedAt.Unix(), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update revision attempt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("revision attempt %s not found", a.ID)
	}
	return nil
}

// Get returns an attempt by id, or nil when unknown.
func (r *Repository) Get(id string) (*Attempt, error) {
	row := r.db.QueryRow("SELECT "+attemptColumns+" FROM revision_attempts WHERE id = ?", id)
	attempt, err := scanAttempt(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return attempt, err
}

// GetByAccount returns the attempts of one account, newest first.
func (r *Repository) GetByAccount(accountID string) ([]Attempt, error) {
	rows, err := r.db.Query(
		"SELECT "+attemptColumns+" FROM revision_attempts WHERE account_id = ? ORDER BY created_at DESC, id",
		accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query revision attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		attempt, err := scanAttempt(rows.Scan)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *attempt)
	}
	return attempts, rows.Err()
}

func scanAttempt(scan func(...interface{}) error) (*Attempt, error) {
	var a Attempt
	var state, weights, reasons string
	var riskSnapshotID, checksum, overrideBy, overrideNote sql.NullString
	var overriddenAt sql.NullInt64
	var createdAt, updatedAt int64

	if err := scan(&a.ID, &a.AccountID, &state, &weights, &riskSnapshotID, &checksum,
		&reasons, &overrideBy, &overrideNote, &overriddenAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	a.State = State(state)
	if err := json.Unmarshal([]byte(weights), &a.Weights); err != nil {
		return nil, fmt.Errorf("bad weights for attempt %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(reasons), &a.Reasons); err != nil {
		return nil, fmt.Errorf("bad reasons for attempt %s: %w", a.ID, err)
	}
	a.RiskSnapshotID = riskSnapshotID.String
	a.Checksum = checksum.String
	a.OverrideBy = overrideBy.String
	a.OverrideNote = overrideNote.String
	if overriddenAt.Valid {
		t := time.Unix(overriddenAt.Int64, 0).UTC()
		a.OverriddenAt = &t
	}
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &a, nil
}

func marshalReasons(reasons []string) (string, error) {
	if reasons == nil {
		reasons = []string{}
	}
	out, err := json.Marshal(reasons)
	if err != nil {
		return "", fmt.Errorf("failed to marshal reasons: %w", err)
	}
	return string(out), nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
