// Package di provides dependency injection wiring and initialization.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/custodian/internal/config"
	"github.com/aristath/custodian/internal/database"
)

// InitializeDatabases opens the three databases and applies their schemas.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// ledger.db - the immutable tax-lot audit trail
	ledgerDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath("ledger"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	container.LedgerDB = ledgerDB

	// artifacts.db - revision attempts and provenance records
	artifactsDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath("artifacts"),
		Profile: database.ProfileStandard,
		Name:    "artifacts",
	})
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize artifacts database: %w", err)
	}
	container.ArtifactsDB = artifactsDB

	// cache.db - snapshot cache and market data payloads, all rebuildable
	cacheDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath("cache"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	container.CacheDB = cacheDB

	for _, db := range []*database.DB{ledgerDB, artifactsDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", db.Name(), err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return container, nil
}
