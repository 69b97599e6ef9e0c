// Package artifacts persists every intermediate result of a revision with its
// provenance. Records are append-only JSON rows: given any record id, the
// depends_on chain reconstructs the full lineage without re-running anything.
package artifacts

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Record is one immutable provenance entry.
type Record struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Producer   string          `json:"producer"`
	Confidence float64         `json:"confidence"`
	DependsOn  []string        `json:"depends_on"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Recorder writes and reads the append-only artifact store.
type Recorder struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRecorder creates an artifact recorder on the artifacts database.
func NewRecorder(db *sql.DB, log zerolog.Logger) *Recorder {
	return &Recorder{
		db:  db,
		log: log.With().Str("service", "artifacts").Logger(),
	}
}

// Record serializes payload and appends a new artifact. dependsOn lists the
// ids of upstream records this one was derived from.
func (r *Recorder) Record(kind, producer string, confidence float64, dependsOn []string, payload interface{}) (*Record, error) {
	if kind == "" || producer == "" {
		return nil, errors.New("artifact kind and producer are required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal artifact payload: %w", err)
	}
	if dependsOn == nil {
		dependsOn = []string{}
	}
	deps, err := json.Marshal(dependsOn)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal artifact dependencies: %w", err)
	}

	record := &Record{
		ID:         uuid.New().String(),
		Kind:       kind,
		Producer:   producer,
		Confidence: confidence,
		DependsOn:  dependsOn,
		Payload:    body,
		CreatedAt:  time.Now().UTC(),
	}

	_, err = r.db.Exec(`
		INSERT INTO artifacts (id, kind, producer, confidence, depends_on, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Kind, record.Producer, record.Confidence,
		string(deps), string(body), record.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record artifact: %w", err)
	}

	r.log.Debug().
		Str("artifact", record.ID).
		Str("kind", kind).
		Str("producer", producer).
		Msg("Artifact recorded")
	return record, nil
}

// Get returns one artifact by id, or nil when unknown.
func (r *Recorder) Get(id string) (*Record, error) {
	row := r.db.QueryRow(`
		SELECT id, kind, producer, confidence, depends_on, payload, created_at
		FROM artifacts WHERE id = ?`, id)
	record, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

// GetByKind returns all artifacts of one kind, oldest first.
func (r *Recorder) GetByKind(kind string) ([]Record, error) {
	rows, err := r.db.Query(`
		SELECT id, kind, producer, confidence, depends_on, payload, created_at
		FROM artifacts WHERE kind = ? ORDER BY created_at, id`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// Lineage returns the record and every transitive dependency, dependencies
// first. Unknown ids in a depends_on list are skipped: lineage reconstruction
// is best-effort over what was actually recorded.
func (r *Recorder) Lineage(id string) ([]Record, error) {
	seen := make(map[string]bool)
	var ordered []Record

	var walk func(string) error
	walk = func(current string) error {
		if seen[current] {
			return nil
		}
		seen[current] = true

		record, err := r.Get(current)
		if err != nil {
			return err
		}
		if record == nil {
			return nil
		}
		for _, dep := range record.DependsOn {
			if err := walk(dep); err != nil {
				return err
			}
		}
		ordered = append(ordered, *record)
		return nil
	}

	if err := walk(id); err != nil {
		return nil, err
	}
	return ordered, nil
}

func scanRecord(scan func(...interface{}) error) (*Record, error) {
	var record Record
	var deps, payload string
	var createdAt int64
	if err := scan(&record.ID, &record.Kind, &record.Producer, &record.Confidence,
		&deps, &payload, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(deps), &record.DependsOn); err != nil {
		return nil, fmt.Errorf("bad depends_on for artifact %s: %w", record.ID, err)
	}
	record.Payload = json.RawMessage(payload)
	record.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &record, nil
}
