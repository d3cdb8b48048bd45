package main

import (
	"context"
	"log/slog"
	"net/http"
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
	"github.com/stocklane/stocklane/internal/purchasing"
	"github.com/stocklane/stocklane/internal/shared"
	"github.com/stocklane/stocklane/internal/suppliers"
	"github.com/stocklane/stocklane/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
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
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	locker := shared.NewLocker(redisClient, cfg.DeductionLockTTL)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, redisClient, catalog.ServiceConfig{MappingCacheTTL: cfg.MappingCacheTTL})
	catalogHandler := catalog.NewHandler(logger, catalogService)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo)
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	suppliersRepo := suppliers.NewRepository(pool)
	suppliersHandler := suppliers.NewHandler(logger, suppliersRepo)

	warehousesRepo := warehouses.NewRepository(pool)
	warehousesHandler := warehouses.NewHandler(logger, warehousesRepo)

	purchasingRepo := purchasing.NewRepository(pool)
	purchasingService := purchasing.NewService(purchasingRepo, catalogService, auditLogger, metrics, idempotencyStore)
	purchasingHandler := purchasing.NewHandler(logger, purchasingService, purchasingRepo)

	fulfillmentClient := fulfillment.NewClient(cfg.FulfillmentAPIURL, cfg.FulfillmentAPIToken, cfg.FulfillmentAPITimeout)
	fulfillmentRepo := fulfillment.NewRepository(pool)
	fulfillmentService := fulfillment.NewService(fulfillmentRepo, fulfillmentClient, catalogService, warehousesRepo, locker, auditLogger, metrics, logger)
	fulfillmentHandler := fulfillment.NewHandler(logger, fulfillmentService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		PurchasingHandler:  purchasingHandler,
		FulfillmentHandler: fulfillmentHandler,
		InventoryHandler:   inventoryHandler,
		CatalogHandler:     catalogHandler,
		SuppliersHandler:   suppliersHandler,
		WarehousesHandler:  warehousesHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
