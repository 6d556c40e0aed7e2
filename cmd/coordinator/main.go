// Package main provides the entry point for the standalone rate-limit
// coordinator. One logical instance runs per deployment; every gateway
// routes its checks here.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/logweir/logweir/internal/api"
	"github.com/logweir/logweir/internal/quota"
	"github.com/logweir/logweir/internal/shutdown"
	pgstore "github.com/logweir/logweir/internal/store/postgres"
	"github.com/logweir/logweir/pkg/config"
	"github.com/logweir/logweir/pkg/logger"
)

func main() {
	log := logger.New(slog.LevelInfo, true)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	storeCfg := pgstore.DefaultConfig(cfg.DatabaseDSN)
	store, err := pgstore.NewPostgresStore(storeCfg, log.Logger)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordinator, err := quota.NewCoordinator(ctx, cfg.Quota, store.QuotaState(), log.Logger)
	if err != nil {
		log.Error("failed to start coordinator", "error", err)
		os.Exit(1)
	}

	server := api.NewCoordinatorServer(cfg, coordinator, store, log.Logger)

	coordinatorShutdown := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	coordinatorShutdown.Register(shutdown.NewCloserComponent("durable_store", store))
	coordinatorShutdown.Register(shutdown.NewCloserComponent("quota_coordinator", coordinator))
	coordinatorShutdown.Register(shutdown.NewFuncComponent("http_server", func(context.Context) error {
		cancel()
		return nil
	}))

	go coordinatorShutdown.WaitForSignal()

	log.Info("starting coordinator", "port", cfg.CoordinatorPort)

	if err := server.Start(ctx); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	coordinatorShutdown.Shutdown()
	coordinatorShutdown.Wait()
	log.Info("coordinator stopped")
	os.Exit(coordinatorShutdown.ExitCode())
}
