package http

import (
	"github.com/nats-io/nats.go"

	"github.com/himalmaps/tilevault/internal/adapters/postgres"
	"github.com/himalmaps/tilevault/internal/core/ports"
	"github.com/himalmaps/tilevault/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Downloads *usecases.DownloadService
	Sync      *usecases.SyncService
	Tiles     *usecases.TileFetchService
	Store     ports.TileStore
	NATS      *nats.Conn
	DB        *postgres.DB
}
