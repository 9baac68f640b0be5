package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/himalmaps/tilevault/internal/pkg/metrics"
)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed, // Balance speed vs compression ratio
	}))

	// Request ID
	app.Use(requestid.New())

	// Propagate request ID into slog context
	app.Use(RequestIDLogMiddleware())

	// Access logs (structured HTTP request logging)
	app.Use(AccessLogMiddleware())

	// Rate limiting: 300 requests per minute per IP. Tile serving is
	// bursty (a map pan requests dozens of tiles), so this is looser
	// than a typical JSON API.
	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{
				"error":   "rate limit exceeded",
				"message": "too many requests, please try again later",
			})
		},
		SkipFailedRequests: false,
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	// ETag for conditional caching
	app.Use(ETagMiddleware())

	// Default Cache-Control headers
	app.Use(CachingMiddleware())

	// Health & readiness, no timeout: fast internal checks
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	// REST API v1, 15s per-request timeout
	v1 := app.Group("/v1")
	v1.Get("/regions", timeout.NewWithContext(ListRegionsHandler(deps), 15*time.Second))
	v1.Get("/regions/:key", timeout.NewWithContext(GetRegionHandler(deps), 15*time.Second))
	v1.Get("/regions/:key/estimate", timeout.NewWithContext(EstimateRegionHandler(deps), 15*time.Second))
	v1.Post("/regions/:key/download", timeout.NewWithContext(DownloadRegionHandler(deps), 15*time.Second))
	v1.Post("/regions/download-all", timeout.NewWithContext(DownloadAllRegionsHandler(deps), 15*time.Second))
	v1.Delete("/regions/:key/tiles", timeout.NewWithContext(DeleteRegionTilesHandler(deps), 60*time.Second))
	v1.Get("/downloads/status", timeout.NewWithContext(DownloadStatusHandler(deps), 15*time.Second))

	// Tile serving (cache-first)
	v1.Get("/tiles/:provider/:z/:x/:y", timeout.NewWithContext(ServeTileHandler(deps), 20*time.Second))
	v1.Get("/providers", timeout.NewWithContext(ListProvidersHandler(deps), 15*time.Second))

	// Storage
	v1.Get("/storage", timeout.NewWithContext(StorageStatsHandler(deps), 30*time.Second))
	v1.Delete("/storage", timeout.NewWithContext(ClearStorageHandler(deps), 60*time.Second))

	// Sync queue
	v1.Post("/sync/operations", timeout.NewWithContext(EnqueueSyncHandler(deps), 15*time.Second))
	v1.Get("/sync/queue", timeout.NewWithContext(ListSyncQueueHandler(deps), 15*time.Second))
	v1.Get("/sync/failures", timeout.NewWithContext(ListSyncFailuresHandler(deps), 15*time.Second))
	v1.Post("/sync/run", timeout.NewWithContext(RunSyncHandler(deps), 60*time.Second))

	// Device state
	v1.Put("/device/state", timeout.NewWithContext(ReportDeviceStateHandler(deps), 15*time.Second))
	v1.Get("/device/state", timeout.NewWithContext(GetDeviceStateHandler(deps), 15*time.Second))

	// GraphQL
	app.Post("/graphql", GraphQLHandler(deps))

	// API documentation (Swagger UI)
	SetupDocs(app)

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps.NATS)))
}
