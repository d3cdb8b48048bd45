package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stocklane/stocklane/internal/app"
	"github.com/stocklane/stocklane/internal/catalog"
	"github.com/stocklane/stocklane/internal/fulfillment"
	"github.com/stocklane/stocklane/internal/inventory"
	"github.com/stocklane/stocklane/internal/masterdata/warehouses"
	"github.com/stocklane/stocklane/internal/observability"
	"github.com/stocklane/stocklane/internal/platform/cache"
	"github.com/stocklane/stocklane/internal/platform/db"
	"github.com/stocklane/stocklane/internal/shared"
	"github.com/stocklane/stocklane/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, redisClient, catalog.ServiceConfig{MappingCacheTTL: cfg.MappingCacheTTL})

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo)

	warehousesRepo := warehouses.NewRepository(pool)
	fulfillmentClient := fulfillment.NewClient(cfg.FulfillmentAPIURL, cfg.FulfillmentAPIToken, cfg.FulfillmentAPITimeout)
	fulfillmentRepo := fulfillment.NewRepository(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	syncer := jobs.NewSyncer(fulfillmentClient, inventoryService, catalogService, warehousesRepo, metrics, logger)
	cleaner := jobs.NewCleaner(fulfillmentRepo, idempotencyStore, cfg.LedgerRetention, logger)

	syncTask, err := jobs.NewFulfillmentSyncTask(jobs.FulfillmentSyncPayload{ScheduledFor: time.Now().UTC()})
	if err != nil {
		logger.Error("build sync task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewLedgerCleanupTask(jobs.LedgerCleanupPayload{Retention: cfg.LedgerRetention})
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskFulfillmentSync, Handler: syncer.HandleTask},
			{Type: jobs.TaskLedgerCleanup, Handler: cleaner.HandleTask},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.FulfillmentSyncCron, Task: syncTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
