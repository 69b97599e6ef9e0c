package ledger

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// querier is satisfied by both *sql.DB and *sql.Tx so repository methods can
// run standalone or inside a ledger transaction.
type querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// parseDecimal converts a stored decimal string back to a decimal value.
func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt decimal value %q: %w", s, err)
	}
	return d, nil
}
