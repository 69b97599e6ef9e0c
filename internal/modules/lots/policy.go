// Package lots chooses which tax lots satisfy a sell request and computes the
// realized gain/loss per consumed lot. Selection is a pure function over the
// open lots of a position; committing the resulting sale event is delegated to
// the ledger so the two stay transactionally consistent.
package lots

import (
	"fmt"
	"strings"
)

// SelectionPolicy determines the order in which open lots are consumed.
type SelectionPolicy string

const (
	// PolicyFIFO consumes the oldest lots first.
	PolicyFIFO SelectionPolicy = "FIFO"
	// PolicyLIFO consumes the newest lots first.
	PolicyLIFO SelectionPolicy = "LIFO"
	// PolicyHIFO consumes the highest effective basis first.
	PolicyHIFO SelectionPolicy = "HIFO"
	// PolicySpecific consumes exactly the lots named by the caller, in order.
	PolicySpecific SelectionPolicy = "SPECIFIC"
)

// Valid reports whether the policy is one of the supported selection rules.
func (p SelectionPolicy) Valid() bool {
	switch p {
	case PolicyFIFO, PolicyLIFO, PolicyHIFO, PolicySpecific:
		return true
	}
	return false
}

// ParsePolicy parses a policy name case-insensitively.
func ParsePolicy(s string) (SelectionPolicy, error) {
	p := SelectionPolicy(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown selection policy %q", s)
	}
	return p, nil
}
