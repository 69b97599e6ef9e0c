package di

import (
	"github.com/aristath/custodian/internal/clientdata"
	"github.com/aristath/custodian/internal/clients/marketdata"
	"github.com/aristath/custodian/internal/clients/optimizer"
	"github.com/aristath/custodian/internal/database"
	"github.com/aristath/custodian/internal/modules/artifacts"
	"github.com/aristath/custodian/internal/modules/exposure"
	"github.com/aristath/custodian/internal/modules/harvesting"
	"github.com/aristath/custodian/internal/modules/ledger"
	"github.com/aristath/custodian/internal/modules/lots"
	"github.com/aristath/custodian/internal/modules/revision"
	"github.com/aristath/custodian/internal/modules/risk"
	"github.com/aristath/custodian/internal/modules/washsale"
	"github.com/aristath/custodian/internal/scheduler"
)

// Container holds every wired dependency. Constructed once by Wire and handed
// to the server and the scheduler.
type Container struct {
	// Databases
	LedgerDB    *database.DB
	ArtifactsDB *database.DB
	CacheDB     *database.DB

	// External clients
	MarketDataClient *marketdata.Client
	OptimizerClient  *optimizer.Client
	ClientDataRepo   *clientdata.Repository

	// Services
	Ledger     *ledger.Service
	Lots       *lots.Service
	WashSale   *washsale.Service
	Harvesting *harvesting.Service
	Exposure   *exposure.Resolver
	Gate       *risk.Gate
	Revision   *revision.Service
	Recorder   *artifacts.Recorder

	// Background work
	Scheduler *scheduler.Scheduler
	Jobs      []scheduler.Job
}

// Close closes every database. Safe to call on a partially wired container.
func (c *Container) Close() {
	for _, db := range []*database.DB{c.CacheDB, c.ArtifactsDB, c.LedgerDB} {
		if db != nil {
			_ = db.Close()
		}
	}
}
