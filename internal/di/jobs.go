package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/custodian/internal/clientdata"
	"github.com/aristath/custodian/internal/scheduler"
)

// Cron schedules, with seconds. Quiet-hours work runs overnight UTC.
const (
	scheduleWALCheckpoints  = "0 */15 * * * *" // every 15 minutes
	scheduleWashSaleRescan  = "0 0 2 * * *"    // nightly at 02:00
	scheduleClientDataClean = "0 30 2 * * *"   // nightly at 02:30
)

// RegisterJobs creates the scheduler and registers all recurring jobs.
func RegisterJobs(container *Container, log zerolog.Logger) error {
	sched := scheduler.New(log)

	walJob := scheduler.NewCheckWALCheckpointsJob(
		container.LedgerDB,
		container.ArtifactsDB,
		container.CacheDB,
		log,
	)
	rescanJob := scheduler.NewWashSaleRescanJob(container.Ledger, container.WashSale, log)
	cleanupJob := clientdata.NewCleanupJob(container.ClientDataRepo, log)

	for _, reg := range []struct {
		schedule string
		job      scheduler.Job
	}{
		{scheduleWALCheckpoints, walJob},
		{scheduleWashSaleRescan, rescanJob},
		{scheduleClientDataClean, cleanupJob},
	} {
		if err := sched.AddJob(reg.schedule, reg.job); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", reg.job.Name(), err)
		}
	}

	container.Scheduler = sched
	container.Jobs = []scheduler.Job{walJob, rescanJob, cleanupJob}

	log.Info().Int("jobs", len(container.Jobs)).Msg("Scheduler jobs registered")
	return nil
}
