package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/himalmaps/tilevault/internal/core/domain"
	"github.com/himalmaps/tilevault/internal/core/ports"
	"github.com/himalmaps/tilevault/internal/pkg/metrics"
	"github.com/himalmaps/tilevault/internal/pkg/slippy"
)

// DownloadOptions tune one region download.
type DownloadOptions struct {
	// MaxZoom overrides the region's configured maximum when > 0.
	MaxZoom int
	// Provider selects a tile provider key; empty means the default.
	Provider string
}

// RegionStatus pairs a catalog region with its persisted download state.
type RegionStatus struct {
	Region     domain.Region       `json:"region"`
	Downloaded bool                `json:"downloaded"`
	Partial    bool                `json:"partial"`
	State      *domain.RegionState `json:"state,omitempty"`
}

// DownloadStatus is the full picture returned by Status.
type DownloadStatus struct {
	Downloading   bool           `json:"downloading"`
	CurrentRegion string         `json:"current_region,omitempty"`
	Regions       []RegionStatus `json:"regions"`
}

// Estimate is the projected cost of downloading a region.
type Estimate struct {
	Region    string `json:"region"`
	MinZoom   int    `json:"min_zoom"`
	MaxZoom   int    `json:"max_zoom"`
	TileCount int    `json:"tile_count"`
	Bytes     int64  `json:"bytes"`
}

// DownloadService sequences the fetch engine across zoom levels and
// regions. At most one download runs at a time: a second request is
// rejected with domain.ErrBusy, never queued.
type DownloadService struct {
	regions ports.RegionStateRepository
	store   ports.TileStore
	fetcher tileFetcher
	events  ports.ProgressPublisher

	mu      sync.Mutex
	busy    bool
	current string
}

// tileFetcher is what DownloadService needs from the fetch engine.
type tileFetcher interface {
	FetchAndCacheTiles(ctx context.Context, tiles []domain.TileCoordinate, provider domain.TileProvider, onCached func()) (int, error)
}

// NewDownloadService creates the download orchestrator.
func NewDownloadService(regions ports.RegionStateRepository, store ports.TileStore, fetcher tileFetcher, events ports.ProgressPublisher) *DownloadService {
	return &DownloadService{
		regions: regions,
		store:   store,
		fetcher: fetcher,
		events:  events,
	}
}

// DownloadRegion downloads every tile of a catalog region across its zoom
// range. Per-tile failures are skipped; the result's Downloaded/Total
// counts expose partial completion. The region is recorded as downloaded
// even when partial; callers should surface Partial() to the user.
func (s *DownloadService) DownloadRegion(ctx context.Context, key string, opts DownloadOptions) (domain.DownloadResult, error) {
	region, ok := domain.RegionByKey(key)
	if !ok {
		return domain.DownloadResult{}, fmt.Errorf("%q: %w", key, domain.ErrRegionNotFound)
	}
	if err := validateMaxZoom(region, opts.MaxZoom); err != nil {
		return domain.DownloadResult{}, err
	}
	provider, err := resolveProvider(opts.Provider)
	if err != nil {
		return domain.DownloadResult{}, err
	}

	if err := s.begin(key); err != nil {
		return domain.DownloadResult{}, err
	}
	defer s.end()

	return s.downloadLocked(ctx, region, provider, opts)
}

// StartRegionDownload validates the request and reserves the download
// slot before returning, then runs the download in the background. An
// accepted request therefore cannot lose a busy-flag race later: either
// this returns an error, or progress events will follow.
func (s *DownloadService) StartRegionDownload(key string, opts DownloadOptions) error {
	region, ok := domain.RegionByKey(key)
	if !ok {
		return fmt.Errorf("%q: %w", key, domain.ErrRegionNotFound)
	}
	if err := validateMaxZoom(region, opts.MaxZoom); err != nil {
		return err
	}
	provider, err := resolveProvider(opts.Provider)
	if err != nil {
		return err
	}
	if err := s.begin(key); err != nil {
		return err
	}

	go func() {
		defer s.end()
		if _, err := s.downloadLocked(context.Background(), region, provider, opts); err != nil {
			slog.Error("background region download failed", "region", key, "error", err)
		}
	}()
	return nil
}

// DownloadAllRegions walks the catalog by ascending priority, skipping
// regions already downloaded. A failing region is logged and the walk
// continues; nothing aborts the sweep.
func (s *DownloadService) DownloadAllRegions(ctx context.Context, opts DownloadOptions) ([]domain.DownloadResult, error) {
	provider, err := resolveProvider(opts.Provider)
	if err != nil {
		return nil, err
	}

	if err := s.begin("all"); err != nil {
		return nil, err
	}
	defer s.end()

	return s.sweepLocked(ctx, provider, opts)
}

// StartAllRegions reserves the download slot synchronously and runs the
// catalog sweep in the background.
func (s *DownloadService) StartAllRegions(opts DownloadOptions) error {
	provider, err := resolveProvider(opts.Provider)
	if err != nil {
		return err
	}
	if err := s.begin("all"); err != nil {
		return err
	}

	go func() {
		defer s.end()
		results, err := s.sweepLocked(context.Background(), provider, opts)
		if err != nil {
			slog.Error("background catalog download failed", "error", err)
			return
		}
		slog.Info("catalog download sweep finished", "regions", len(results))
	}()
	return nil
}

func (s *DownloadService) sweepLocked(ctx context.Context, provider domain.TileProvider, opts DownloadOptions) ([]domain.DownloadResult, error) {
	var results []domain.DownloadResult
	for _, region := range domain.RegionsByPriority() {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		state, err := s.regions.Get(ctx, region.Key)
		if err != nil {
			slog.Warn("region state lookup failed", "region", region.Key, "error", err)
		}
		if state != nil {
			slog.Info("region already downloaded, skipping", "region", region.Key)
			continue
		}

		s.setCurrent(region.Key)
		result, err := s.downloadLocked(ctx, region, provider, opts)
		if err != nil {
			slog.Error("region download failed, continuing", "region", region.Key, "error", err)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *DownloadService) downloadLocked(ctx context.Context, region domain.Region, provider domain.TileProvider, opts DownloadOptions) (domain.DownloadResult, error) {
	maxZoom := effectiveMaxZoom(region, opts.MaxZoom)

	total, err := slippy.CountTileRange(region.Bounds, region.MinZoom, maxZoom)
	if err != nil {
		s.publishError(ctx, region.Key, err)
		return domain.DownloadResult{}, err
	}

	slog.Info("region download starting",
		"region", region.Key, "provider", provider.Key,
		"min_zoom", region.MinZoom, "max_zoom", maxZoom, "total_tiles", total)
	started := time.Now()

	downloaded := 0
	for zoom := region.MinZoom; zoom <= maxZoom; zoom++ {
		tiles, err := slippy.TilesInBounds(region.Bounds, zoom)
		if err != nil {
			s.publishError(ctx, region.Key, err)
			return domain.DownloadResult{}, err
		}

		_, err = s.fetcher.FetchAndCacheTiles(ctx, tiles, provider, func() {
			downloaded++
			s.publishProgress(ctx, domain.DownloadProgress{
				Region:     region.Key,
				Downloaded: downloaded,
				Total:      total,
				Progress:   percent(downloaded, total),
				Zoom:       zoom,
			})
		})
		if err != nil {
			s.publishError(ctx, region.Key, err)
			return domain.DownloadResult{}, fmt.Errorf("download %s z%d: %w", region.Key, zoom, err)
		}
	}

	state := domain.RegionState{
		Key:          region.Key,
		Provider:     provider.Key,
		MaxZoom:      maxZoom,
		Downloaded:   downloaded,
		Total:        total,
		DownloadedAt: time.Now().UTC(),
	}
	if err := s.regions.MarkDownloaded(ctx, state); err != nil {
		s.publishError(ctx, region.Key, err)
		return domain.DownloadResult{}, fmt.Errorf("mark %s downloaded: %w", region.Key, err)
	}

	result := domain.DownloadResult{
		Region:     region.Key,
		Downloaded: downloaded,
		Total:      total,
		Success:    true,
	}
	if s.events != nil {
		if err := s.events.PublishComplete(ctx, result); err != nil {
			slog.Warn("publish completion event failed", "region", region.Key, "error", err)
		}
	}

	metrics.RegionDownloads.WithLabelValues(region.Key).Inc()
	metrics.RegionDownloadDuration.WithLabelValues(region.Key).Observe(time.Since(started).Seconds())
	slog.Info("region download finished",
		"region", region.Key, "downloaded", downloaded, "total", total,
		"elapsed", time.Since(started).String())

	return result, nil
}

// DeleteRegion removes a region's cached tiles and its downloaded mark.
// Returns the number of cache entries actually deleted, which may fall
// short of the tile count if the store already evicted some.
func (s *DownloadService) DeleteRegion(ctx context.Context, key string) (int, error) {
	region, ok := domain.RegionByKey(key)
	if !ok {
		return 0, fmt.Errorf("%q: %w", key, domain.ErrRegionNotFound)
	}

	// Delete against the provider and zoom range the download actually
	// used, falling back to defaults if no state survived.
	provider := domain.DefaultProvider()
	maxZoom := effectiveMaxZoom(region, 0)
	if state, err := s.regions.Get(ctx, key); err == nil && state != nil {
		if p, ok := domain.ProviderByKey(state.Provider); ok {
			provider = p
		}
		if state.MaxZoom > 0 {
			maxZoom = state.MaxZoom
		}
	}

	deleted := 0
	for zoom := region.MinZoom; zoom <= maxZoom; zoom++ {
		tiles, err := slippy.TilesInBounds(region.Bounds, zoom)
		if err != nil {
			return deleted, err
		}
		for _, tile := range tiles {
			ok, err := s.store.Delete(ctx, provider.CacheKeyURL(tile))
			if err != nil {
				return deleted, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
			}
			if ok {
				deleted++
			}
		}
	}

	if err := s.regions.Remove(ctx, key); err != nil {
		return deleted, fmt.Errorf("remove region state: %w", err)
	}

	slog.Info("region deleted", "region", key, "tiles_deleted", deleted)
	return deleted, nil
}

// ClearAllMaps drops the whole tile namespace and empties the region set.
func (s *DownloadService) ClearAllMaps(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	if err := s.regions.Clear(ctx); err != nil {
		return fmt.Errorf("clear region state: %w", err)
	}
	slog.Info("all cached maps cleared")
	return nil
}

// Status reports the busy flag and per-region download state.
func (s *DownloadService) Status(ctx context.Context) (DownloadStatus, error) {
	states, err := s.regions.List(ctx)
	if err != nil {
		return DownloadStatus{}, fmt.Errorf("list region state: %w", err)
	}

	byKey := make(map[string]domain.RegionState, len(states))
	for _, st := range states {
		byKey[st.Key] = st
	}

	status := DownloadStatus{Regions: make([]RegionStatus, 0, len(domain.Regions))}
	s.mu.Lock()
	status.Downloading = s.busy
	status.CurrentRegion = s.current
	s.mu.Unlock()

	for _, region := range domain.RegionsByPriority() {
		rs := RegionStatus{Region: region}
		if st, ok := byKey[region.Key]; ok {
			stCopy := st
			rs.Downloaded = true
			rs.Partial = st.Partial()
			rs.State = &stCopy
		}
		status.Regions = append(status.Regions, rs)
	}
	return status, nil
}

// RegionState returns the persisted download record for one region, or
// nil when it was never downloaded.
func (s *DownloadService) RegionState(ctx context.Context, key string) (*domain.RegionState, error) {
	return s.regions.Get(ctx, key)
}

// IsDownloading reports whether a download is currently in flight.
func (s *DownloadService) IsDownloading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Estimate projects the tile count and byte size of a region download.
func (s *DownloadService) Estimate(key string, maxZoom int) (Estimate, error) {
	region, ok := domain.RegionByKey(key)
	if !ok {
		return Estimate{}, fmt.Errorf("%q: %w", key, domain.ErrRegionNotFound)
	}
	if err := validateMaxZoom(region, maxZoom); err != nil {
		return Estimate{}, err
	}

	effective := effectiveMaxZoom(region, maxZoom)
	count, err := slippy.CountTileRange(region.Bounds, region.MinZoom, effective)
	if err != nil {
		return Estimate{}, err
	}
	bytes, err := slippy.EstimateDownloadSize(region, effective)
	if err != nil {
		return Estimate{}, err
	}

	return Estimate{
		Region:    key,
		MinZoom:   region.MinZoom,
		MaxZoom:   effective,
		TileCount: count,
		Bytes:     bytes,
	}, nil
}

func (s *DownloadService) begin(region string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return domain.ErrBusy
	}
	s.busy = true
	s.current = region
	return nil
}

func (s *DownloadService) end() {
	s.mu.Lock()
	s.busy = false
	s.current = ""
	s.mu.Unlock()
}

func (s *DownloadService) setCurrent(region string) {
	s.mu.Lock()
	s.current = region
	s.mu.Unlock()
}

func (s *DownloadService) publishProgress(ctx context.Context, p domain.DownloadProgress) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishProgress(ctx, p); err != nil {
		slog.Debug("publish progress failed", "region", p.Region, "error", err)
	}
}

func (s *DownloadService) publishError(ctx context.Context, region string, cause error) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishDownloadError(ctx, region, cause); err != nil {
		slog.Debug("publish error event failed", "region", region, "error", err)
	}
}

// validateMaxZoom rejects overrides that would produce an empty zoom
// range and a region marked downloaded with zero tiles.
func validateMaxZoom(region domain.Region, override int) error {
	if override > 0 && override < region.MinZoom {
		return fmt.Errorf("max zoom %d for %s (minimum %d): %w",
			override, region.Key, region.MinZoom, domain.ErrZoomBelowMinimum)
	}
	return nil
}

func effectiveMaxZoom(region domain.Region, override int) int {
	if override > 0 {
		return override
	}
	if region.MaxZoom > 0 {
		return region.MaxZoom
	}
	return domain.DefaultMaxZoom
}

func resolveProvider(key string) (domain.TileProvider, error) {
	if key == "" {
		return domain.DefaultProvider(), nil
	}
	provider, ok := domain.ProviderByKey(key)
	if !ok {
		return domain.TileProvider{}, fmt.Errorf("%q: %w", key, domain.ErrProviderNotFound)
	}
	return provider, nil
}

func percent(done, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}
