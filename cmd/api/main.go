package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/solentra/ordersync-backend/api/controllers"
	"github.com/solentra/ordersync-backend/api/routes"
	"github.com/solentra/ordersync-backend/internal/carrierlabels"
	"github.com/solentra/ordersync-backend/internal/connectors"
	"github.com/solentra/ordersync-backend/internal/erpdocs"
	"github.com/solentra/ordersync-backend/internal/marketfeeds"
	"github.com/solentra/ordersync-backend/internal/syncengine"
	"github.com/solentra/ordersync-backend/pkg/config"
	"github.com/solentra/ordersync-backend/pkg/db"
	"github.com/solentra/ordersync-backend/pkg/logger"
	"github.com/solentra/ordersync-backend/pkg/metrics"
	"github.com/solentra/ordersync-backend/pkg/migrate"
	"github.com/solentra/ordersync-backend/pkg/outbox"
	"github.com/solentra/ordersync-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	events, err := outbox.NewSyncEventPublisher(outboxService, dbClient, logg, "api")
	if err != nil {
		logg.Error(context.Background(), "failed to create sync event publisher", err)
		os.Exit(1)
	}

	engine, err := syncengine.New(syncengine.Params{
		Repository: syncengine.NewRepository(dbClient.DB()),
		Logger:     logg,
		Metrics:    metrics.NewSyncEngineMetrics(prometheus.DefaultRegisterer),
		Events:     events,
		LockTTL:    cfg.Engine.ClaimLockTTL,
		WorkerID:   "api",
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

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Dependencies{
			Config:       cfg,
			Logger:       logg,
			Engine:       engine,
			ERPDocs:      erpService,
			CarrierLabel: labelService,
			MarketFeeds:  feedService,
			Pingers: map[string]controllers.Pinger{
				"database": dbClient,
				"redis":    redisClient,
			},
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
