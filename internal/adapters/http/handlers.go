package http

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/himalmaps/tilevault/internal/core/domain"
	"github.com/himalmaps/tilevault/internal/core/usecases"
	"github.com/himalmaps/tilevault/internal/pkg/metrics"
	"github.com/himalmaps/tilevault/internal/pkg/slippy"
)

// ListRegionsHandler returns the offline region catalog with download state.
func ListRegionsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status, err := deps.Downloads.Status(c.Context())
		if err != nil {
			return errInternal(c, err.Error())
		}
		c.Set("Cache-Control", "public, max-age=60")
		return c.JSON(status.Regions)
	}
}

// GetRegionHandler returns one catalog region with its download state.
func GetRegionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Params("key")
		region, ok := domain.RegionByKey(key)
		if !ok {
			return errNotFound(c, "region not found")
		}

		state, err := deps.Downloads.RegionState(c.Context(), key)
		if err != nil {
			return errInternal(c, err.Error())
		}

		resp := usecases.RegionStatus{Region: region, State: state}
		if state != nil {
			resp.Downloaded = true
			resp.Partial = state.Partial()
		}
		return c.JSON(resp)
	}
}

// EstimateRegionHandler returns the projected tile count and size for a
// region download, optionally for an overridden max zoom.
func EstimateRegionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Params("key")
		maxZoom := c.QueryInt("max_zoom", 0)
		if maxZoom < 0 || maxZoom > 22 {
			return errBadRequest(c, "max_zoom must be between 0 and 22")
		}

		est, err := deps.Downloads.Estimate(key, maxZoom)
		if err != nil {
			if errors.Is(err, domain.ErrRegionNotFound) {
				return errNotFound(c, "region not found")
			}
			return errBadRequest(c, err.Error())
		}
		return c.JSON(est)
	}
}

// DownloadRegionHandler starts a region download in the background and
// returns 202 immediately. Progress streams over NATS and the WebSocket
// relay; a concurrent download returns 409.
func DownloadRegionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Params("key")
		opts := usecases.DownloadOptions{
			MaxZoom:  c.QueryInt("max_zoom", 0),
			Provider: c.Query("provider"),
		}

		// The slot is reserved before the 202 goes out, so two
		// concurrent requests can never both be accepted.
		if err := deps.Downloads.StartRegionDownload(key, opts); err != nil {
			switch {
			case errors.Is(err, domain.ErrRegionNotFound):
				return errNotFound(c, "region not found")
			case errors.Is(err, domain.ErrBusy):
				return errConflict(c, "a download is already in progress")
			default:
				return errBadRequest(c, err.Error())
			}
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status": "accepted",
			"region": key,
		})
	}
}

// DownloadAllRegionsHandler starts a catalog-wide download sweep in the
// background, skipping regions already downloaded.
func DownloadAllRegionsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		opts := usecases.DownloadOptions{Provider: c.Query("provider")}

		if err := deps.Downloads.StartAllRegions(opts); err != nil {
			if errors.Is(err, domain.ErrBusy) {
				return errConflict(c, "a download is already in progress")
			}
			return errBadRequest(c, err.Error())
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status": "accepted",
		})
	}
}

// DownloadStatusHandler reports whether a download is running and the
// per-region download state.
func DownloadStatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status, err := deps.Downloads.Status(c.Context())
		if err != nil {
			return errInternal(c, err.Error())
		}
		c.Set("Cache-Control", "no-store")
		return c.JSON(status)
	}
}

// DeleteRegionTilesHandler removes one region's cached tiles.
func DeleteRegionTilesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Params("key")
		deleted, err := deps.Downloads.DeleteRegion(c.Context(), key)
		if err != nil {
			if errors.Is(err, domain.ErrRegionNotFound) {
				return errNotFound(c, "region not found")
			}
			return errInternal(c, err.Error())
		}
		return c.JSON(fiber.Map{
			"region":        key,
			"deleted_tiles": deleted,
		})
	}
}

// StorageStatsHandler reports cache occupancy.
func StorageStatsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		count, err := deps.Store.Count(c.Context())
		if err != nil {
			return errInternal(c, err.Error())
		}
		metrics.TileStoreEntries.Set(float64(count))

		status, err := deps.Downloads.Status(c.Context())
		if err != nil {
			return errInternal(c, err.Error())
		}

		downloaded := 0
		for _, r := range status.Regions {
			if r.Downloaded {
				downloaded++
			}
		}

		return c.JSON(fiber.Map{
			"cached_tiles":       count,
			"estimated_bytes":    count * slippy.AvgTileSizeBytes,
			"downloaded_regions": downloaded,
			"catalog_regions":    len(status.Regions),
		})
	}
}

// ClearStorageHandler wipes every cached tile and all region records.
func ClearStorageHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Downloads.ClearAllMaps(c.Context()); err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(fiber.Map{"status": "cleared"})
	}
}

// ListProvidersHandler returns the configured tile providers.
func ListProvidersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(domain.Providers)
	}
}

// ServeTileHandler serves one tile cache-first: a cached tile is returned
// without touching the origin, a miss is fetched, cached, then returned.
// The provider's attribution rides along in a response header.
func ServeTileHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		provider, ok := domain.ProviderByKey(c.Params("provider"))
		if !ok {
			return errNotFound(c, "unknown tile provider")
		}

		z, errZ := strconv.Atoi(c.Params("z"))
		x, errX := strconv.Atoi(c.Params("x"))
		y, errY := strconv.Atoi(c.Params("y"))
		if errZ != nil || errX != nil || errY != nil {
			return errBadRequest(c, "tile coordinates must be integers")
		}
		if z < 0 || z > provider.MaxZoom {
			return errBadRequest(c, "zoom out of range for provider")
		}
		max := 1 << z
		if x < 0 || x >= max || y < 0 || y >= max {
			return errBadRequest(c, "tile coordinates out of range for zoom")
		}

		tile := domain.TileCoordinate{X: x, Y: y, Z: z}
		c.Set("X-Tile-Attribution", provider.Attribution)

		data, contentType, err := deps.Store.Get(c.Context(), provider.CacheKeyURL(tile))
		if err == nil && len(data) > 0 {
			metrics.TilesServed.WithLabelValues(provider.Key, "cache").Inc()
			c.Set("X-Tile-Source", "cache")
			c.Set("Content-Type", contentType)
			return c.Send(data)
		}

		data, contentType, err = deps.Tiles.FetchTile(c.Context(), provider, tile)
		if err != nil {
			return errInternal(c, "tile fetch failed: "+err.Error())
		}
		metrics.TilesServed.WithLabelValues(provider.Key, "origin").Inc()
		c.Set("X-Tile-Source", "origin")
		c.Set("Content-Type", contentType)
		return c.Send(data)
	}
}

// enqueueRequest is the POST body for queueing a sync operation.
type enqueueRequest struct {
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Priority      string          `json:"priority"`
	EstimatedSize int64           `json:"estimated_size"`
}

// EnqueueSyncHandler adds an operation to the persistent sync queue.
// Critical operations trigger an immediate drain on the sync worker.
func EnqueueSyncHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req enqueueRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid JSON body")
		}
		if req.Type == "" {
			return errBadRequest(c, "type is required")
		}
		if req.EstimatedSize < 0 {
			return errBadRequest(c, "estimated_size must not be negative")
		}

		op := domain.SyncOperation{
			Type:          req.Type,
			Payload:       req.Payload,
			Priority:      domain.ParseSyncPriority(req.Priority),
			EstimatedSize: req.EstimatedSize,
		}
		if err := deps.Sync.QueueOperation(c.Context(), &op); err != nil {
			return errInternal(c, err.Error())
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"id":       op.ID,
			"priority": op.Priority.String(),
		})
	}
}

// ListSyncQueueHandler returns the pending queue in execution order.
func ListSyncQueueHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ops, err := deps.Sync.PendingOperations(c.Context())
		if err != nil {
			return errInternal(c, err.Error())
		}

		offset, limit := ParseWindow(c, 100, 200)
		page, pg := Paginate(ops, offset, limit)
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: page, Pagination: pg})
	}
}

// ListSyncFailuresHandler returns operations that exhausted their retries.
func ListSyncFailuresHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 50)
		failures, err := deps.Sync.FailedOperations(c.Context(), limit)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(fiber.Map{
			"failures": failures,
			"count":    len(failures),
		})
	}
}

// RunSyncHandler runs one sync cycle immediately and returns its report.
// Normally the sync worker drives cycles on its adaptive interval; this
// endpoint exists for manual flushes and tests.
func RunSyncHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		report, err := deps.Sync.PerformSync(c.Context())
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(report)
	}
}

// deviceStateRequest is the PUT body for reporting device conditions.
type deviceStateRequest struct {
	Online          bool    `json:"online"`
	Roaming         bool    `json:"roaming"`
	BatteryLevel    float64 `json:"battery_level"`
	BatteryCharging bool    `json:"battery_charging"`
}

// ReportDeviceStateHandler stores a client-reported connectivity snapshot.
// The sync scheduler adapts its interval and data budget to it.
func ReportDeviceStateHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req deviceStateRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid JSON body")
		}
		if req.BatteryLevel < 0 || req.BatteryLevel > 1 {
			return errBadRequest(c, "battery_level must be between 0 and 1")
		}

		state := domain.DeviceState{
			Online:          req.Online,
			Roaming:         req.Roaming,
			BatteryLevel:    req.BatteryLevel,
			BatteryCharging: req.BatteryCharging,
			ReportedAt:      time.Now(),
		}
		if err := deps.Sync.ReportDeviceState(c.Context(), state); err != nil {
			return errInternal(c, err.Error())
		}

		return c.JSON(fiber.Map{
			"sync_interval": state.SyncInterval().String(),
			"data_budget":   state.DataBudget(),
		})
	}
}

// GetDeviceStateHandler returns the last reported device state and the
// scheduling decisions derived from it.
func GetDeviceStateHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		state := deps.Sync.DeviceState(c.Context())
		return c.JSON(fiber.Map{
			"state":         state,
			"low_battery":   state.LowBattery(),
			"sync_interval": state.SyncInterval().String(),
			"data_budget":   state.DataBudget(),
		})
	}
}
