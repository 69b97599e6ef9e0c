package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/aristath/custodian/internal/database"
)

// CheckWALCheckpointsJob monitors WAL checkpoint status across the custodian
// databases and forces a passive checkpoint so the WAL never grows unbounded.
type CheckWALCheckpointsJob struct {
	log         zerolog.Logger
	ledgerDB    *database.DB
	artifactsDB *database.DB
	cacheDB     *database.DB
}

// NewCheckWALCheckpointsJob creates a new CheckWALCheckpointsJob
func NewCheckWALCheckpointsJob(ledgerDB, artifactsDB, cacheDB *database.DB, log zerolog.Logger) *CheckWALCheckpointsJob {
	return &CheckWALCheckpointsJob{
		log:         log.With().Str("job", "check_wal_checkpoints").Logger(),
		ledgerDB:    ledgerDB,
		artifactsDB: artifactsDB,
		cacheDB:     cacheDB,
	}
}

// Name returns the job name
func (j *CheckWALCheckpointsJob) Name() string {
	return "check_wal_checkpoints"
}

// Run executes the check WAL checkpoints job
func (j *CheckWALCheckpointsJob) Run() error {
	databases := map[string]*database.DB{
		"ledger":    j.ledgerDB,
		"artifacts": j.artifactsDB,
		"cache":     j.cacheDB,
	}

	checkedCount := 0
	for name, db := range databases {
		if db == nil {
			continue
		}

		// PRAGMA wal_checkpoint returns: busy, log, checkpointed
		var busy, walFrames, checkpointed int
		err := db.Conn().QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &walFrames, &checkpointed)
		if err != nil {
			j.log.Warn().
				Err(err).
				Str("database", name).
				Msg("Failed to check WAL checkpoint")
			continue
		}

		if walFrames > 1000 {
			j.log.Warn().
				Str("database", name).
				Int("wal_frames", walFrames).
				Int("checkpointed", checkpointed).
				Msg("WAL file is large, checkpoint may be needed")
		} else {
			j.log.Debug().
				Str("database", name).
				Int("wal_frames", walFrames).
				Msg("WAL checkpoint status OK")
		}

		checkedCount++
	}

	j.log.Info().
		Int("checked", checkedCount).
		Msg("WAL checkpoint check completed")

	return nil
}
