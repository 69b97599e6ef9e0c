package di

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/custodian/internal/clientdata"
	"github.com/aristath/custodian/internal/clients/marketdata"
	"github.com/aristath/custodian/internal/clients/optimizer"
	"github.com/aristath/custodian/internal/config"
	"github.com/aristath/custodian/internal/modules/artifacts"
	"github.com/aristath/custodian/internal/modules/exposure"
	"github.com/aristath/custodian/internal/modules/harvesting"
	"github.com/aristath/custodian/internal/modules/ledger"
	"github.com/aristath/custodian/internal/modules/lots"
	"github.com/aristath/custodian/internal/modules/revision"
	"github.com/aristath/custodian/internal/modules/risk"
	"github.com/aristath/custodian/internal/modules/washsale"
)

// InitializeServices wires clients and domain services onto the databases.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	// External clients share the cache database for payload caching.
	container.ClientDataRepo = clientdata.NewRepository(container.CacheDB.Conn())
	container.MarketDataClient = marketdata.NewClient(
		cfg.MarketDataURL,
		cfg.ClientTimeout,
		cfg.Risk.HoldingsMaxAge,
		container.ClientDataRepo,
		log,
	)
	container.OptimizerClient = optimizer.NewClient(cfg.OptimizerURL, cfg.ClientTimeout, log)

	// Ledger with its snapshot cache on the cache database.
	snapshotCache := ledger.NewSnapshotCache(container.CacheDB.Conn(), log)
	container.Ledger = ledger.NewService(container.LedgerDB.Conn(), snapshotCache, log)

	container.Lots = lots.NewService(container.Ledger, cfg.Tax.LongTermThresholdDays, log)

	table := washsale.NewEquivalenceTable(cfg.Tax.EquivalenceClasses)
	container.WashSale = washsale.NewService(container.Ledger, table, cfg.Tax.WashSaleWindowDays, log)

	container.Harvesting = harvesting.NewService(container.Ledger, table, harvesting.Rates{
		ShortTerm: decimal.NewFromFloat(cfg.Tax.ShortTermRate),
		LongTerm:  decimal.NewFromFloat(cfg.Tax.LongTermRate),
	}, cfg.Tax.LongTermThresholdDays, log)

	// Risk gate: fund look-through comes from the market data client.
	container.Exposure = exposure.NewResolver(container.MarketDataClient, cfg.Risk.HoldingsMaxAge, log)
	container.Gate = risk.NewGate(container.Exposure, risk.Limits{
		ESConfidence:       cfg.Risk.ESConfidence,
		ESLimit:            cfg.Risk.ESLimit,
		LiquidityFloor:     cfg.Risk.LiquidityFloor,
		ConcentrationLimit: cfg.Risk.ConcentrationLimit,
		CorrelationCeiling: cfg.Risk.CorrelationCeiling,
		CorrelationTopN:    cfg.Risk.CorrelationTopN,
	}, log)

	// Revision pipeline persists on the artifacts database.
	container.Recorder = artifacts.NewRecorder(container.ArtifactsDB.Conn(), log)
	repo := revision.NewRepository(container.ArtifactsDB.Conn(), log)
	container.Revision = revision.NewService(container.Ledger, container.Gate, repo, container.Recorder, log)

	log.Info().Msg("Services initialized")
	return nil
}
