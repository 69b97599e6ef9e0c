// Package washsale flags losses disallowed by the 30/30 wash-sale rule and
// carries the disallowed amount into the replacement lot's cost basis. The
// basis adjustment is recorded once per sale line, so rescans of an unchanged
// ledger never double-adjust.
package washsale

import "strings"

// EquivalenceTable groups substantially identical securities. Tax law does not
// pin the rule down beyond ticker identity, so the groups are configuration:
// an ETF and the index fund tracking the same index typically share a group.
type EquivalenceTable struct {
	classOf map[string][]string
}

// NewEquivalenceTable builds a table from explicit groups. Every security is
// implicitly equivalent to itself; groups add cross-security identity.
func NewEquivalenceTable(groups [][]string) *EquivalenceTable {
	t := &EquivalenceTable{classOf: make(map[string][]string)}
	for _, group := range groups {
		normalized := make([]string, 0, len(group))
		for _, id := range group {
			id = strings.ToUpper(strings.TrimSpace(id))
			if id != "" {
				normalized = append(normalized, id)
			}
		}
		for _, id := range normalized {
			t.classOf[id] = normalized
		}
	}
	return t
}

// Class returns the set of securities substantially identical to the given
// one, always including the security itself.
func (t *EquivalenceTable) Class(securityID string) map[string]bool {
	securityID = strings.ToUpper(strings.TrimSpace(securityID))
	class := map[string]bool{securityID: true}
	if t == nil {
		return class
	}
	for _, id := range t.classOf[securityID] {
		class[id] = true
	}
	return class
}
