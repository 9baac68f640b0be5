package main

import (
	"context"
	"log"
	standardhttp "net/http"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	natsadapter "github.com/himalmaps/tilevault/internal/adapters/nats"
	"github.com/himalmaps/tilevault/internal/adapters/postgres"
	"github.com/himalmaps/tilevault/internal/adapters/valkey"
	"github.com/himalmaps/tilevault/internal/core/ports"
	"github.com/himalmaps/tilevault/internal/core/usecases"
	"github.com/himalmaps/tilevault/internal/pkg/config"
	"github.com/himalmaps/tilevault/internal/workflows"
)

func main() {
	cfg, err := config.Load("tilevault-prefetcher")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	store, err := valkey.NewTileStore(cfg.Valkey.Addr, cfg.Tiles.CacheVersion)
	if err != nil {
		log.Fatalf("tile store: %v", err)
	}
	defer store.Close()

	var events ports.ProgressPublisher
	publisher, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Printf("nats unavailable, progress events disabled: %v", err)
	} else {
		defer publisher.Close()
		events = publisher
	}

	fetchClient := &standardhttp.Client{
		Timeout: time.Duration(cfg.Tiles.FetchTimeout) * time.Second,
	}
	tileSvc := usecases.NewTileFetchService(store, fetchClient, nil)
	downloadSvc := usecases.NewDownloadService(postgres.NewRegionStateRepo(db), store, tileSvc, events)

	// Connect to Temporal
	c, err := client.Dial(client.Options{
		HostPort: cfg.Temporal.HostPort,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	// Register workflow & activities
	w.RegisterWorkflow(workflows.RegionPrefetchWorkflow)
	w.RegisterActivity(&workflows.PrefetchActivities{
		Downloads: downloadSvc,
	})

	log.Println("prefetch worker started")
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
