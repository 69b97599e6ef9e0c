package revision

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aristath/custodian/internal/modules/ledger"
)

// TaxChecksum fingerprints the tax state of the ledger: the journal version,
// per-account realized gain totals split by term, and the total wash-sale
// basis adjustment carried on open lots. An attempt captures the checksum at
// draft time; evaluation recomputes it from scratch, so any ledger mutation
// between draft and evaluation shows up as a mismatch.
func TaxChecksum(ledgerSvc *ledger.Service) (string, error) {
	version, err := ledgerSvc.Version()
	if err != nil {
		return "", err
	}
	sales, err := ledgerSvc.Sales().GetAll()
	if err != nil {
		return "", err
	}
	lots, err := ledgerSvc.Lots().GetAll()
	if err != nil {
		return "", err
	}

	type totals struct{ short, long decimal.Decimal }
	byAccount := make(map[string]*totals)
	for _, sale := range sales {
		t, ok := byAccount[sale.AccountID]
		if !ok {
			t = &totals{short: decimal.Zero, long: decimal.Zero}
			byAccount[sale.AccountID] = t
		}
		t.short = t.short.Add(sale.ShortTermGain)
		t.long = t.long.Add(sale.LongTermGain)
	}

	adjustment := decimal.Zero
	for _, lot := range lots {
		adjustment = adjustment.Add(lot.BasisAdjustment.Mul(lot.Quantity))
	}

	accounts := make([]string, 0, len(byAccount))
	for account := range byAccount {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	h := sha256.New()
	fmt.Fprintf(h, "version=%d\n", version)
	for _, account := range accounts {
		t := byAccount[account]
		fmt.Fprintf(h, "%s short=%s long=%s\n", account, t.short.String(), t.long.String())
	}
	fmt.Fprintf(h, "adjustment=%s\n", adjustment.String())
	return hex.EncodeToString(h.Sum(nil)), nil
}
