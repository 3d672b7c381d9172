package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spotguard/spotguard/internal/api"
	"github.com/spotguard/spotguard/internal/cloud"
	"github.com/spotguard/spotguard/internal/config"
	"github.com/spotguard/spotguard/internal/consolidator"
	"github.com/spotguard/spotguard/internal/ingest"
	"github.com/spotguard/spotguard/internal/logging"
	"github.com/spotguard/spotguard/internal/notify"
	"github.com/spotguard/spotguard/internal/orchestrator"
	"github.com/spotguard/spotguard/internal/pool"
	"github.com/spotguard/spotguard/internal/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		panic(err)
	}
	defer logging.Sync()
	logger := logging.Logger

	// Database
	logger.Info("connecting to database")
	st, err := store.NewStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	// Pool catalog
	loader := pool.NewLoader(cfg.PoolCatalogDir)
	registry, err := pool.NewRegistry(loader)
	if err != nil {
		logger.Fatal("load pool catalog", zap.Error(err))
	}
	logger.Info("pool catalog loaded", zap.Int("pools", len(registry.ListAll())))

	// Capacity provider
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	var provider cloud.Provider
	if os.Getenv("CLOUD_PROVIDER") == "fake" {
		provider = cloud.NewFake()
		logger.Warn("using fake capacity provider")
	} else {
		provider, err = cloud.NewEC2Provider(context.Background(), region)
		if err != nil {
			logger.Fatal("init EC2 provider", zap.Error(err))
		}
	}

	notifier := notify.FromConfig(cfg.Notify, logger)

	// Ingestion
	validator, err := ingest.NewValidator(cfg.Ingest, registry, st.Samples)
	if err != nil {
		logger.Fatal("init ingestion validator", zap.Error(err))
	}

	// Consolidation runner serves operator catch-up requests; the
	// scheduled loop lives in the worker process
	runner, err := consolidator.NewRunner(st, cfg.Consolidator, logger)
	if err != nil {
		logger.Fatal("init consolidator", zap.Error(err))
	}

	// Emergency orchestrator
	orch := orchestrator.New(
		st.Instances, st.Replicas, st.Commands, st.Agents,
		orchestrator.NewStorePromoter(st), registry, provider,
		st.Audit, notifier, cfg.Failover, cfg.Commands, logger,
	)

	serverCfg := api.DefaultServerConfig()
	serverCfg.Port = cfg.Port
	serverCfg.JWTSecret = cfg.JWTSecret
	serverCfg.PollLimit = cfg.Commands.PollLimit
	server := api.NewServer(serverCfg, st, registry, validator, orch, runner)

	go func() {
		logger.Info("API server starting", zap.Int("port", serverCfg.Port))
		if err := server.Start(); err != nil {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}
}
