package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/spotguard/spotguard/internal/advisor"
	"github.com/spotguard/spotguard/internal/cloud"
	"github.com/spotguard/spotguard/internal/config"
	"github.com/spotguard/spotguard/internal/consolidator"
	"github.com/spotguard/spotguard/internal/decision"
	"github.com/spotguard/spotguard/internal/logging"
	"github.com/spotguard/spotguard/internal/notify"
	"github.com/spotguard/spotguard/internal/pool"
	"github.com/spotguard/spotguard/internal/reaper"
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

	logger.Info("connecting to database")
	st, err := store.NewStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	loader := pool.NewLoader(cfg.PoolCatalogDir)
	registry, err := pool.NewRegistry(loader)
	if err != nil {
		logger.Fatal("load pool catalog", zap.Error(err))
	}

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

	runner, err := consolidator.NewRunner(st, cfg.Consolidator, logger)
	if err != nil {
		logger.Fatal("init consolidator", zap.Error(err))
	}

	gateway, err := decision.NewGateway(cfg.Decision, st.Audit, logger)
	if err != nil {
		logger.Fatal("init decision gateway", zap.Error(err))
	}
	adv := advisor.New(st.Instances, st.PricePoints, st.Commands, registry,
		gateway, cfg.Decision, cfg.Commands, logger)

	rpr := reaper.New(reaper.FromConfig(cfg), st, provider, notifier, logger)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := runner.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("consolidator stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := adv.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("advisor stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := rpr.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("reaper stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
}
