// Package revision runs the HALT protocol: a proposed reallocation moves
// DRAFT → EVALUATING → {ACCEPTED, HALTED, REJECTED}. Halting is a first-class
// outcome carrying the breached checks as data, never an exception; a HALTED
// attempt stays on record and only an explicit, recorded override can force
// it through.
package revision

import (
	"time"
)

// State is the lifecycle state of a revision attempt.
type State string

const (
	StateDraft      State = "DRAFT"
	StateEvaluating State = "EVALUATING"
	StateAccepted   State = "ACCEPTED"
	StateHalted     State = "HALTED"
	StateRejected   State = "REJECTED"
)

// Terminal reports whether no further transition is possible without an
// override. A HALTED attempt is terminal-pending: remediation happens in a
// new attempt, or an override forces this one to ACCEPTED.
func (s State) Terminal() bool {
	return s == StateAccepted || s == StateRejected
}

// Attempt is one proposed change to target weights, from draft through gate
// evaluation to its final status.
type Attempt struct {
	ID             string             `json:"id"`
	AccountID      string             `json:"account_id"`
	State          State              `json:"state"`
	Weights        map[string]float64 `json:"weights"`
	RiskSnapshotID string             `json:"risk_snapshot_id,omitempty"`
	// Checksum is the tax-consistency checksum of the ledger at draft time;
	// evaluation recomputes it independently and halts on mismatch.
	Checksum string `json:"checksum,omitempty"`
	// Reasons names every breached check or structural defect. A HALT always
	// enumerates the failed checks; a REJECTED states the defect.
	Reasons      []string   `json:"reasons,omitempty"`
	OverrideBy   string     `json:"override_by,omitempty"`
	OverrideNote string     `json:"override_note,omitempty"`
	OverriddenAt *time.Time `json:"overridden_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Overridden reports whether a human forced this attempt past a HALT.
func (a *Attempt) Overridden() bool {
	return a.OverriddenAt != nil
}
