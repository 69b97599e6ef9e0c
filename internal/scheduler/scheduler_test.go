package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/custodian/internal/modules/ledger"
	"github.com/aristath/custodian/internal/modules/lots"
	"github.com/aristath/custodian/internal/modules/washsale"
	ctesting "github.com/aristath/custodian/internal/testing"
)

type countingJob struct {
	runs int64
}

func (j *countingJob) Run() error { atomic.AddInt64(&j.runs, 1); return nil }
func (j *countingJob) Name() string {
	return "counting"
}

func TestSchedulerRunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{}

	require.NoError(t, s.RunNow(job))
	assert.Equal(t, int64(1), atomic.LoadInt64(&job.runs))
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.AddJob("not a schedule", &countingJob{})
	assert.Error(t, err)
}

func TestSchedulerRunsScheduledJob(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{}

	require.NoError(t, s.AddJob("@every 10ms", job))
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&job.runs) >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCheckWALCheckpointsJob(t *testing.T) {
	ledgerDB, cleanup := ctesting.NewTestDB(t, "ledger")
	defer cleanup()

	job := NewCheckWALCheckpointsJob(ledgerDB, nil, nil, zerolog.Nop())
	assert.Equal(t, "check_wal_checkpoints", job.Name())
	require.NoError(t, job.Run())
}

func TestCheckWALCheckpointsJobNoDatabases(t *testing.T) {
	job := NewCheckWALCheckpointsJob(nil, nil, nil, zerolog.Nop())
	require.NoError(t, job.Run())
}

func TestWashSaleRescanAppliesNewFlags(t *testing.T) {
	db, cleanup := ctesting.NewTestDB(t, "ledger")
	defer cleanup()

	ledgerSvc := ledger.NewService(db.Conn(), nil, zerolog.Nop())
	lotSvc := lots.NewService(ledgerSvc, 365, zerolog.Nop())
	wash := washsale.NewService(ledgerSvc, nil, washsale.DefaultWindowDays, zerolog.Nop())
	job := NewWashSaleRescanJob(ledgerSvc, wash, zerolog.Nop())
	assert.Equal(t, "washsale_rescan", job.Name())

	// Loss sale with no acquisitions near it: the rescan skips the security
	// outright, since no purchase falls inside any sale window.
	ctesting.MustApplyBuy(t, ledgerSvc, "ACC1", "AAPL", 100, 20, ctesting.Day(0))
	_, err := lotSvc.CommitSale(lots.SaleRequest{
		AccountID:  "ACC1",
		SecurityID: "AAPL",
		Quantity:   decimal.NewFromInt(100),
		Price:      decimal.NewFromInt(15),
		Policy:     lots.PolicyFIFO,
		ExecutedAt: ctesting.Day(100),
	})
	require.NoError(t, err)

	require.NoError(t, job.Run())
	adjustments, err := wash.Adjustments().GetAll()
	require.NoError(t, err)
	assert.Empty(t, adjustments)

	// A repurchase lands inside the old sale's window; the next rescan
	// applies exactly one adjustment and stays idempotent after that.
	ctesting.MustApplyBuy(t, ledgerSvc, "ACC1", "AAPL", 100, 16, ctesting.Day(110))

	require.NoError(t, job.Run())
	adjustments, err = wash.Adjustments().GetAll()
	require.NoError(t, err)
	require.Len(t, adjustments, 1)

	require.NoError(t, job.Run())
	adjustments, err = wash.Adjustments().GetAll()
	require.NoError(t, err)
	assert.Len(t, adjustments, 1)
}

func TestWashSaleRescanSeesEquivalentRepurchase(t *testing.T) {
	db, cleanup := ctesting.NewTestDB(t, "ledger")
	defer cleanup()

	ledgerSvc := ledger.NewService(db.Conn(), nil, zerolog.Nop())
	lotSvc := lots.NewService(ledgerSvc, 365, zerolog.Nop())
	table := washsale.NewEquivalenceTable([][]string{{"SPY", "VOO"}})
	wash := washsale.NewService(ledgerSvc, table, washsale.DefaultWindowDays, zerolog.Nop())
	job := NewWashSaleRescanJob(ledgerSvc, wash, zerolog.Nop())

	ctesting.MustApplyBuy(t, ledgerSvc, "ACC1", "SPY", 100, 20, ctesting.Day(0))
	_, err := lotSvc.CommitSale(lots.SaleRequest{
		AccountID:  "ACC1",
		SecurityID: "SPY",
		Quantity:   decimal.NewFromInt(100),
		Price:      decimal.NewFromInt(15),
		Policy:     lots.PolicyFIFO,
		ExecutedAt: ctesting.Day(100),
	})
	require.NoError(t, err)

	// Only the equivalent ticker is repurchased; the rescan still has to
	// scan SPY and flag the loss.
	ctesting.MustApplyBuy(t, ledgerSvc, "ACC1", "VOO", 100, 16, ctesting.Day(110))

	require.NoError(t, job.Run())
	adjustments, err := wash.Adjustments().GetAll()
	require.NoError(t, err)
	require.Len(t, adjustments, 1)
}
