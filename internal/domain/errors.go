package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InsufficientLotsError signals a sell that would over-draw the open lots of a
// position.
type InsufficientLotsError struct {
	SecurityID string
	Requested  decimal.Decimal
	Available  decimal.Decimal
}

func (e *InsufficientLotsError) Error() string {
	return fmt.Sprintf("insufficient lots for %s: requested %s, available %s",
		e.SecurityID, e.Requested.String(), e.Available.String())
}

// InvalidTransactionError signals a structurally invalid ledger mutation, such
// as a negative quantity or price.
type InvalidTransactionError struct {
	Reason string
}

func (e *InvalidTransactionError) Error() string {
	return "invalid transaction: " + e.Reason
}

// ParseError signals a malformed broker import record. The whole file is
// rejected; nothing is partially imported.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at record %d: %s", e.Line, e.Reason)
}

// StaleDataError signals externally sourced data that is too old to trust.
type StaleDataError struct {
	Source string
	AsOf   time.Time
	MaxAge time.Duration
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("stale data from %s: as of %s, max age %s",
		e.Source, e.AsOf.Format(time.RFC3339), e.MaxAge)
}

// GateBreachError surfaces a non-overridable gate condition to a caller that
// asked for a hard failure instead of a HALTED outcome.
type GateBreachError struct {
	Checks []string
}

func (e *GateBreachError) Error() string {
	return fmt.Sprintf("gate breach: %v", e.Checks)
}
