package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	standardhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/himalmaps/tilevault/internal/adapters/http"
	natsadapter "github.com/himalmaps/tilevault/internal/adapters/nats"
	"github.com/himalmaps/tilevault/internal/adapters/postgres"
	"github.com/himalmaps/tilevault/internal/adapters/upstream"
	"github.com/himalmaps/tilevault/internal/adapters/valkey"
	"github.com/himalmaps/tilevault/internal/core/ports"
	"github.com/himalmaps/tilevault/internal/core/usecases"
	"github.com/himalmaps/tilevault/internal/pkg/config"
	"github.com/himalmaps/tilevault/internal/pkg/logging"
	"github.com/himalmaps/tilevault/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("tilevault-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup(logLevel, "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Tile store
	store, err := valkey.NewTileStore(cfg.Valkey.Addr, cfg.Tiles.CacheVersion)
	if err != nil {
		log.Fatalf("tile store: %v", err)
	}
	defer store.Close()

	// Device state cache
	deviceRepo, err := valkey.NewDeviceStateRepository(cfg.Valkey.Addr)
	if err != nil {
		log.Fatalf("device state store: %v", err)
	}
	defer deviceRepo.Close()

	// NATS
	var events ports.ProgressPublisher
	publisher, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable", "error", err)
	} else {
		defer publisher.Close()
		events = publisher
	}

	// Raw NATS connection for WebSocket relay
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable", "error", err)
	}

	// Repos
	regionRepo := postgres.NewRegionStateRepo(db)
	queueRepo := postgres.NewSyncQueueRepo(db)

	// Use cases
	fetchClient := &standardhttp.Client{
		Timeout: time.Duration(cfg.Tiles.FetchTimeout) * time.Second,
	}
	tileSvc := usecases.NewTileFetchService(store, fetchClient, nil)
	downloadSvc := usecases.NewDownloadService(regionRepo, store, tileSvc, events)
	executor := upstream.NewExecutor(cfg.Sync.ExecutorURL)
	syncSvc := usecases.NewSyncService(queueRepo, deviceRepo, executor, events)

	deps := &http.Dependencies{
		Downloads: downloadSvc,
		Sync:      syncSvc,
		Tiles:     tileSvc,
		Store:     store,
		NATS:      natsConn,
		DB:        db,
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "TileVault API",
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173, https://*.himalmaps.com",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
