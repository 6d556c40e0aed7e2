// Package main provides the entry point for the ingestion gateway.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/logweir/logweir/internal/api"
	"github.com/logweir/logweir/internal/buffer"
	"github.com/logweir/logweir/internal/correlate"
	"github.com/logweir/logweir/internal/quota"
	"github.com/logweir/logweir/internal/shutdown"
	pgstore "github.com/logweir/logweir/internal/store/postgres"
	"github.com/logweir/logweir/internal/syncer"
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

	buf, err := buffer.Open(buffer.Options{
		Dir: cfg.BufferDir,
		TTL: cfg.BufferTTL,
	}, log.Logger)
	if err != nil {
		log.Error("failed to open buffer", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A gateway either consults a remote coordinator or hosts one
	// in-process. Either way, all quota state has a single writer.
	var checker quota.Checker
	var coordinator *quota.Coordinator
	if cfg.CoordinatorURL != "" {
		checker = quota.NewClient(quota.ClientOptions{
			BaseURL:  cfg.CoordinatorURL,
			Timeout:  cfg.Quota.CheckTimeout,
			FailOpen: cfg.Quota.FailOpen,
		}, log.Logger)
		log.Info("using remote coordinator", "url", cfg.CoordinatorURL)
	} else {
		coordinator, err = quota.NewCoordinator(ctx, cfg.Quota, store.QuotaState(), log.Logger)
		if err != nil {
			log.Error("failed to start coordinator", "error", err)
			os.Exit(1)
		}
		checker = coordinator
		log.Info("hosting coordinator in-process")
	}

	engine := correlate.NewEngine(buf, store.Events(), log.Logger)
	sync := syncer.New(buf, store.Events(), log.Logger)

	server := api.NewGatewayServer(cfg, api.GatewayDeps{
		Buffer:      buf,
		Checker:     checker,
		Store:       store,
		Engine:      engine,
		Syncer:      sync,
		Coordinator: coordinator,
	}, log.Logger)

	coordinatorShutdown := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	coordinatorShutdown.Register(shutdown.NewCloserComponent("durable_store", store))
	coordinatorShutdown.Register(shutdown.NewCloserComponent("buffer", buf))
	if coordinator != nil {
		coordinatorShutdown.Register(shutdown.NewCloserComponent("quota_coordinator", coordinator))
	}
	coordinatorShutdown.Register(shutdown.NewFuncComponent("http_server", func(context.Context) error {
		cancel()
		return nil
	}))

	go coordinatorShutdown.WaitForSignal()

	log.Info("starting gateway",
		"host", cfg.GatewayHost,
		"port", cfg.GatewayPort,
	)

	if err := server.Start(ctx); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	coordinatorShutdown.Shutdown()
	coordinatorShutdown.Wait()
	log.Info("gateway stopped")
	os.Exit(coordinatorShutdown.ExitCode())
}
