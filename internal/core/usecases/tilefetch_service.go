package usecases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/himalmaps/tilevault/internal/core/domain"
	"github.com/himalmaps/tilevault/internal/core/ports"
	"github.com/himalmaps/tilevault/internal/pkg/metrics"
)

const (
	// tileBatchSize bounds concurrent in-flight tile requests. The engine
	// waits for a full batch to settle before starting the next one.
	tileBatchSize = 10

	// interBatchDelay spaces batches out so a bulk download doesn't
	// saturate the connection the rest of the app is using.
	interBatchDelay = 100 * time.Millisecond

	tileFetchTimeout = 15 * time.Second
)

// TileFetchService downloads tiles in bounded batches and writes successes
// into the tile store. Individual tile failures are logged and skipped;
// only store or context failures abort a run.
type TileFetchService struct {
	store  ports.TileStore
	client *http.Client
	pick   ports.SubdomainPicker

	batchSize  int
	batchDelay time.Duration
}

// NewTileFetchService creates a fetch engine. A nil client gets a default
// with a bounded per-tile timeout; a nil picker gets the random pick.
func NewTileFetchService(store ports.TileStore, client *http.Client, pick ports.SubdomainPicker) *TileFetchService {
	if client == nil {
		client = &http.Client{Timeout: tileFetchTimeout}
	}
	if pick == nil {
		pick = RandomSubdomain
	}
	return &TileFetchService{
		store:      store,
		client:     client,
		pick:       pick,
		batchSize:  tileBatchSize,
		batchDelay: interBatchDelay,
	}
}

// RandomSubdomain picks a pseudo-random subdomain per request to spread
// load across the provider's CDN hosts.
func RandomSubdomain(subdomains []string) string {
	if len(subdomains) == 0 {
		return ""
	}
	return subdomains[rand.Intn(len(subdomains))]
}

type tileOutcome struct {
	cached bool
	err    error // infrastructure failure only, never a per-tile fetch error
}

// FetchAndCacheTiles downloads the given tiles through the provider and
// stores each success under its normalized URL. onCached runs on the
// calling goroutine once per cached tile, in settlement order. Returns
// the number of tiles cached; the count being short of len(tiles) means
// some tiles failed and were skipped.
func (s *TileFetchService) FetchAndCacheTiles(ctx context.Context, tiles []domain.TileCoordinate, provider domain.TileProvider, onCached func()) (int, error) {
	cached := 0

	for start := 0; start < len(tiles); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			return cached, err
		}

		end := start + s.batchSize
		if end > len(tiles) {
			end = len(tiles)
		}
		batch := tiles[start:end]

		outcomes := make(chan tileOutcome, len(batch))
		for _, tile := range batch {
			go func(t domain.TileCoordinate) {
				outcomes <- s.fetchOne(ctx, provider, t)
			}(tile)
		}

		// Batch settlement: every goroutine reports exactly once.
		var infraErr error
		for range batch {
			out := <-outcomes
			if out.err != nil {
				infraErr = out.err
				continue
			}
			if out.cached {
				cached++
				if onCached != nil {
					onCached()
				}
			}
		}
		if infraErr != nil {
			return cached, infraErr
		}

		if end < len(tiles) {
			select {
			case <-time.After(s.batchDelay):
			case <-ctx.Done():
				return cached, ctx.Err()
			}
		}
	}

	return cached, nil
}

// FetchTile fetches and caches a single tile, returning its bytes. Used by
// the cache-first tile endpoint on a cache miss.
func (s *TileFetchService) FetchTile(ctx context.Context, provider domain.TileProvider, tile domain.TileCoordinate) ([]byte, string, error) {
	data, contentType, err := s.download(ctx, provider, tile)
	if err != nil {
		return nil, "", err
	}
	if err := s.store.Put(ctx, provider.CacheKeyURL(tile), data, contentType); err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return data, contentType, nil
}

// fetchOne downloads one tile and stores it. Fetch failures are absorbed
// (logged, counted as not-cached); store failures surface as errors.
func (s *TileFetchService) fetchOne(ctx context.Context, provider domain.TileProvider, tile domain.TileCoordinate) tileOutcome {
	data, contentType, err := s.download(ctx, provider, tile)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return tileOutcome{err: err}
		}
		slog.Warn("tile fetch failed, skipping",
			"provider", provider.Key, "z", tile.Z, "x", tile.X, "y", tile.Y, "error", err)
		metrics.TilesFailed.WithLabelValues(provider.Key).Inc()
		return tileOutcome{}
	}

	if err := s.store.Put(ctx, provider.CacheKeyURL(tile), data, contentType); err != nil {
		return tileOutcome{err: fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)}
	}

	metrics.TilesDownloaded.WithLabelValues(provider.Key).Inc()
	return tileOutcome{cached: true}
}

func (s *TileFetchService) download(ctx context.Context, provider domain.TileProvider, tile domain.TileCoordinate) ([]byte, string, error) {
	url := provider.TileURL(tile, s.pick(provider.Subdomains))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", "tilevault/1.0 (+https://github.com/himalmaps/tilevault)")
	req.Header.Set("Accept", "image/png,image/jpeg,image/webp,*/*")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read body for %s: %w", url, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return data, contentType, nil
}
