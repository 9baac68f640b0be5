package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsadapter "github.com/himalmaps/tilevault/internal/adapters/nats"
	"github.com/himalmaps/tilevault/internal/adapters/postgres"
	"github.com/himalmaps/tilevault/internal/adapters/upstream"
	"github.com/himalmaps/tilevault/internal/adapters/valkey"
	"github.com/himalmaps/tilevault/internal/core/usecases"
	"github.com/himalmaps/tilevault/internal/pkg/config"
	"github.com/himalmaps/tilevault/internal/pkg/logging"
)

func main() {
	cfg, err := config.Load("tilevault-syncworker")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup(logLevel, "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Device state cache
	deviceRepo, err := valkey.NewDeviceStateRepository(cfg.Valkey.Addr)
	if err != nil {
		log.Fatalf("device state store: %v", err)
	}
	defer deviceRepo.Close()

	queueRepo := postgres.NewSyncQueueRepo(db)
	executor := upstream.NewExecutor(cfg.Sync.ExecutorURL)
	syncSvc := usecases.NewSyncService(queueRepo, deviceRepo, executor, nil)

	// Critical operations skip the interval wait entirely: the API
	// publishes a trigger the moment one is enqueued.
	drain := make(chan struct{}, 1)
	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, critical triggers disabled", "error", err)
	} else {
		defer sub.Close()
		err := sub.SubscribeSyncTriggers(ctx, func(ctx context.Context, priority string) {
			select {
			case drain <- struct{}{}:
			default:
			}
		})
		if err != nil {
			slog.Warn("trigger subscription failed", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("sync worker started")

	// Run once immediately, then on the adaptive interval. The timer is
	// rebuilt every cycle because the interval tracks device conditions.
	runCycle(ctx, syncSvc)
	timer := time.NewTimer(syncSvc.NextInterval(ctx))
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			runCycle(ctx, syncSvc)
			timer.Reset(syncSvc.NextInterval(ctx))

		case <-drain:
			report, err := syncSvc.DrainCritical(ctx)
			if err != nil {
				slog.Error("critical drain failed", "error", err)
				continue
			}
			slog.Info("critical operations drained", "executed", report.Executed)

		case sig := <-quit:
			slog.Info("shutting down sync worker", "signal", sig.String())
			cancel()
			return
		}
	}
}

func runCycle(ctx context.Context, svc *usecases.SyncService) {
	report, err := svc.PerformSync(ctx)
	if err != nil {
		slog.Error("sync cycle failed", "error", err)
		return
	}
	if report.Offline {
		slog.Info("device offline, sync deferred", "next_interval", report.Interval.String())
		return
	}
	slog.Info("sync cycle finished",
		"executed", report.Executed,
		"retried", report.Retried,
		"moved_to_log", report.MovedToLog,
		"skipped_size", report.SkippedSize,
		"budget", report.Budget,
		"next_interval", report.Interval.String())
}
