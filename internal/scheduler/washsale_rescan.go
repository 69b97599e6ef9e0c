package scheduler

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/custodian/internal/domain"
	"github.com/aristath/custodian/internal/modules/ledger"
	"github.com/aristath/custodian/internal/modules/washsale"
)

// WashSaleRescanJob re-runs wash-sale detection over every security with
// recorded sales. Applying adjustments is idempotent per sale line, so a
// rescan over an unchanged ledger is a no-op; new purchases landing inside an
// old sale's window are picked up here.
type WashSaleRescanJob struct {
	ledger *ledger.Service
	wash   *washsale.Service
	log    zerolog.Logger
}

// NewWashSaleRescanJob creates a new WashSaleRescanJob
func NewWashSaleRescanJob(ledgerSvc *ledger.Service, wash *washsale.Service, log zerolog.Logger) *WashSaleRescanJob {
	return &WashSaleRescanJob{
		ledger: ledgerSvc,
		wash:   wash,
		log:    log.With().Str("job", "washsale_rescan").Logger(),
	}
}

// Name returns the job name
func (j *WashSaleRescanJob) Name() string {
	return "washsale_rescan"
}

// Run executes the wash-sale rescan job
func (j *WashSaleRescanJob) Run() error {
	events, err := j.ledger.Sales().GetAll()
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to load sale events for rescan")
		return err
	}

	firstSale := make(map[string]time.Time)
	lastSale := make(map[string]time.Time)
	var securities []string
	for _, event := range events {
		if _, ok := firstSale[event.SecurityID]; !ok {
			securities = append(securities, event.SecurityID)
			firstSale[event.SecurityID] = event.ExecutedAt
			lastSale[event.SecurityID] = event.ExecutedAt
			continue
		}
		if event.ExecutedAt.Before(firstSale[event.SecurityID]) {
			firstSale[event.SecurityID] = event.ExecutedAt
		}
		if event.ExecutedAt.After(lastSale[event.SecurityID]) {
			lastSale[event.SecurityID] = event.ExecutedAt
		}
	}
	sort.Strings(securities)

	snap, err := j.ledger.Snapshot()
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to snapshot ledger for rescan")
		return err
	}

	scope := domain.AccountScope{AllAccounts: true}
	window := j.wash.WindowDays()
	totalFlags := 0
	totalApplied := 0
	skipped := 0
	for _, securityID := range securities {
		// A flag needs a replacement acquisition inside some sale's window.
		// No purchases of the equivalence class across the union of those
		// windows means a scan cannot find anything; skip it.
		spanStart := firstSale[securityID].AddDate(0, 0, -window)
		spanEnd := lastSale[securityID].AddDate(0, 0, window)
		class := j.wash.EquivalentIDs(securityID)
		if len(snap.PurchasesWithin(class, spanStart, spanEnd, scope)) == 0 {
			skipped++
			continue
		}

		flags, applied, err := j.wash.ScanAndApply(securityID, scope)
		if err != nil {
			j.log.Error().
				Err(err).
				Str("security", securityID).
				Msg("Wash-sale rescan failed for security")
			return err
		}
		totalFlags += len(flags)
		totalApplied += applied
	}

	j.log.Info().
		Int("securities", len(securities)).
		Int("skipped", skipped).
		Int("flags", totalFlags).
		Int("applied", totalApplied).
		Msg("Wash-sale rescan completed")

	return nil
}
