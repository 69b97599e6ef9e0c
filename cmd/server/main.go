// Package main is the entry point for the Custodian tax-lot ledger service.
// It keeps a per-account tax-lot ledger, detects wash sales, scores
// tax-loss-harvesting candidates, and gates proposed target-weight revisions
// behind hard risk limits.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/custodian/internal/config"
	"github.com/aristath/custodian/internal/di"
	"github.com/aristath/custodian/internal/server"
	"github.com/aristath/custodian/pkg/logger"
)

func main() {
	// Load configuration first to get log level.
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	log.Info().Msg("Starting Custodian")

	// Wire databases, clients, services and scheduler jobs.
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:         log,
		LedgerDB:    container.LedgerDB,
		ArtifactsDB: container.ArtifactsDB,
		CacheDB:     container.CacheDB,
		Config:      cfg,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		Ledger:      container.Ledger,
		Lots:        container.Lots,
		WashSale:    container.WashSale,
		Harvesting:  container.Harvesting,
		Revision:    container.Revision,
		Recorder:    container.Recorder,
		MarketData:  container.MarketDataClient,
		Optimizer:   container.OptimizerClient,
		Scheduler:   container.Scheduler,
		Jobs:        container.Jobs,
	})

	// Start server in a goroutine so the scheduler can run alongside it.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	container.Scheduler.Start()
	log.Info().Msg("Scheduler started")

	// Wait for interrupt signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop the scheduler first; Stop waits for running jobs to finish so a
	// mid-flight wash-sale rescan completes against an open database.
	container.Scheduler.Stop()
	log.Info().Msg("Scheduler stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
