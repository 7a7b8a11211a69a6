package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solentra/ordersync-backend/internal/carrierlabels"
	"github.com/solentra/ordersync-backend/internal/connectors"
	"github.com/solentra/ordersync-backend/internal/cron"
	"github.com/solentra/ordersync-backend/internal/erpdocs"
	"github.com/solentra/ordersync-backend/internal/marketfeeds"
	"github.com/solentra/ordersync-backend/internal/syncengine"
	"github.com/solentra/ordersync-backend/pkg/config"
	"github.com/solentra/ordersync-backend/pkg/db"
	"github.com/solentra/ordersync-backend/pkg/instance"
	"github.com/solentra/ordersync-backend/pkg/logger"
	"github.com/solentra/ordersync-backend/pkg/metrics"
	"github.com/solentra/ordersync-backend/pkg/migrate"
	"github.com/solentra/ordersync-backend/pkg/outbox"
	"github.com/solentra/ordersync-backend/pkg/redis"
)

const lockKeyFormat = "ordersync:sync-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "sync-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "sync-worker"

	logg = logger.New(logger.Options{
		ServiceName: "sync-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	erpClient, err := connectors.NewERPClient(cfg.ERP, redisClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create erp client", err)
		os.Exit(1)
	}
	carrierClient, err := connectors.NewCarrierClient(cfg.Carrier, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create carrier client", err)
		os.Exit(1)
	}
	marketplaceClient, err := connectors.NewMarketplaceClient(cfg.Marketplace, redisClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create marketplace client", err)
		os.Exit(1)
	}

	workerID := instance.GetID()

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)
	events, err := outbox.NewSyncEventPublisher(outboxService, dbClient, logg, workerID)
	if err != nil {
		logg.Error(context.Background(), "failed to create sync event publisher", err)
		os.Exit(1)
	}

	syncRepo := syncengine.NewRepository(dbClient.DB())
	engine, err := syncengine.New(syncengine.Params{
		Repository: syncRepo,
		Logger:     logg,
		Metrics:    metrics.NewSyncEngineMetrics(prometheus.DefaultRegisterer),
		Events:     events,
		LockTTL:    cfg.Engine.ClaimLockTTL,
		WorkerID:   workerID,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sync engine", err)
		os.Exit(1)
	}

	erpService, err := erpdocs.NewService(engine, erpClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create erp documents service", err)
		os.Exit(1)
	}
	labelService, err := carrierlabels.NewService(engine, carrierClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create carrier labels service", err)
		os.Exit(1)
	}
	feedService, err := marketfeeds.NewService(engine, marketplaceClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create marketplace feeds service", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()

	erpSweep, err := cron.NewRetrySweepJob(cron.RetrySweepJobParams{
		Name:      "erp-document-retry-sweep",
		Logger:    logg,
		Sweeper:   erpService,
		BatchSize: cfg.Engine.SweepBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create erp retry sweep", err)
		os.Exit(1)
	}
	registry.Register(erpSweep)

	labelSweep, err := cron.NewRetrySweepJob(cron.RetrySweepJobParams{
		Name:      "carrier-label-retry-sweep",
		Logger:    logg,
		Sweeper:   labelService,
		BatchSize: cfg.Engine.SweepBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create carrier retry sweep", err)
		os.Exit(1)
	}
	registry.Register(labelSweep)

	feedSweep, err := cron.NewRetrySweepJob(cron.RetrySweepJobParams{
		Name:      "marketplace-feed-retry-sweep",
		Logger:    logg,
		Sweeper:   feedService,
		BatchSize: cfg.Engine.SweepBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create marketplace retry sweep", err)
		os.Exit(1)
	}
	registry.Register(feedSweep)

	purgeJob, err := cron.NewPurgeJob(cron.PurgeJobParams{
		Logger:        logg,
		Repository:    syncRepo,
		RetentionDays: cfg.Engine.PurgeAfterDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create purge job", err)
		os.Exit(1)
	}
	registry.Register(purgeJob)

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outboxRepo,
		Retention:   cfg.Outbox.RetentionDays,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}
	registry.Register(retentionJob)

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Engine.SweepInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"worker":      workerID,
	})
	logg.Info(ctx, "starting sync worker")

	metricsServer := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics server stopped unexpectedly", err)
		}
	}()
	defer metricsServer.Close()

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sync worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sync worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
