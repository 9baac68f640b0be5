package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	handler "github.com/himalmaps/tilevault/internal/adapters/http"
	"github.com/himalmaps/tilevault/internal/core/domain"
	"github.com/himalmaps/tilevault/internal/core/usecases"
)

// --- In-memory ports for wiring real usecases under the handlers ---

type memTileStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemTileStore() *memTileStore {
	return &memTileStore{entries: make(map[string][]byte)}
}

func (m *memTileStore) Put(ctx context.Context, url string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[url] = data
	return nil
}

func (m *memTileStore) Get(ctx context.Context, url string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.entries[url]; ok {
		return d, "image/png", nil
	}
	return nil, "", errors.New("not found")
}

func (m *memTileStore) Delete(ctx context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[url]; !ok {
		return false, nil
	}
	delete(m.entries, url)
	return true, nil
}

func (m *memTileStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string][]byte)
	return nil
}

func (m *memTileStore) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries)), nil
}

type memRegionRepo struct {
	mu     sync.Mutex
	states map[string]domain.RegionState
}

func newMemRegionRepo() *memRegionRepo {
	return &memRegionRepo{states: make(map[string]domain.RegionState)}
}

func (m *memRegionRepo) MarkDownloaded(ctx context.Context, state domain.RegionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.Key] = state
	return nil
}

func (m *memRegionRepo) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key)
	return nil
}

func (m *memRegionRepo) Get(ctx context.Context, key string) (*domain.RegionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[key]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *memRegionRepo) List(ctx context.Context) ([]domain.RegionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RegionState
	for _, s := range m.states {
		out = append(out, s)
	}
	return out, nil
}

func (m *memRegionRepo) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]domain.RegionState)
	return nil
}

type memQueueRepo struct {
	mu       sync.Mutex
	ops      []domain.SyncOperation
	failures []domain.FailedOperation
}

func (m *memQueueRepo) Enqueue(ctx context.Context, op *domain.SyncOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, *op)
	return nil
}

func (m *memQueueRepo) ListReady(ctx context.Context, limit int) ([]domain.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SyncOperation, len(m.ops))
	copy(out, m.ops)
	return out, nil
}

func (m *memQueueRepo) ListAll(ctx context.Context) ([]domain.SyncOperation, error) {
	return m.ListReady(ctx, 0)
}

func (m *memQueueRepo) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, op := range m.ops {
		if op.ID == id {
			m.ops = append(m.ops[:i], m.ops[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memQueueRepo) Reschedule(ctx context.Context, op *domain.SyncOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.ops {
		if m.ops[i].ID == op.ID {
			m.ops[i] = *op
		}
	}
	return nil
}

func (m *memQueueRepo) LogFailure(ctx context.Context, failure *domain.FailedOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, *failure)
	return nil
}

func (m *memQueueRepo) ListFailures(ctx context.Context, limit int) ([]domain.FailedOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.failures) {
		limit = len(m.failures)
	}
	out := make([]domain.FailedOperation, limit)
	copy(out, m.failures[:limit])
	return out, nil
}

type memDeviceRepo struct {
	state domain.DeviceState
	ok    bool
}

func (m *memDeviceRepo) Put(ctx context.Context, state domain.DeviceState) error {
	m.state = state
	m.ok = true
	return nil
}

func (m *memDeviceRepo) Get(ctx context.Context) (domain.DeviceState, bool, error) {
	return m.state, m.ok, nil
}

type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, op domain.SyncOperation) error { return nil }

// stubFetcher caches everything instantly, or blocks until released.
type stubFetcher struct {
	store *memTileStore
	block chan struct{}
}

func (f *stubFetcher) FetchAndCacheTiles(ctx context.Context, tiles []domain.TileCoordinate, provider domain.TileProvider, onCached func()) (int, error) {
	if f.block != nil {
		<-f.block
	}
	for _, tile := range tiles {
		if f.store != nil {
			_ = f.store.Put(ctx, provider.CacheKeyURL(tile), []byte{1}, "image/png")
		}
		if onCached != nil {
			onCached()
		}
	}
	return len(tiles), nil
}

// --- Test fixture ---

type fixture struct {
	deps    *handler.Dependencies
	store   *memTileStore
	fetcher *stubFetcher
	queue   *memQueueRepo
}

func makeDeps() *fixture {
	store := newMemTileStore()
	fetcher := &stubFetcher{store: store}
	queue := &memQueueRepo{}

	downloads := usecases.NewDownloadService(newMemRegionRepo(), store, fetcher, nil)
	syncSvc := usecases.NewSyncService(queue, &memDeviceRepo{}, noopExecutor{}, nil)
	tiles := usecases.NewTileFetchService(store, nil, nil)

	return &fixture{
		deps: &handler.Dependencies{
			Downloads: downloads,
			Sync:      syncSvc,
			Tiles:     tiles,
			Store:     store,
		},
		store:   store,
		fetcher: fetcher,
		queue:   queue,
	}
}

func setupApp(deps *handler.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, target string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestListRegions(t *testing.T) {
	app := setupApp(makeDeps().deps)

	resp := doJSON(t, app, "GET", "/v1/regions", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var regions []usecases.RegionStatus
	decode(t, resp, &regions)
	if len(regions) != len(domain.Regions) {
		t.Fatalf("expected %d regions, got %d", len(domain.Regions), len(regions))
	}
	if regions[0].Region.Key != "kathmandu" {
		t.Errorf("expected kathmandu first, got %s", regions[0].Region.Key)
	}
	for _, r := range regions {
		if r.Downloaded {
			t.Errorf("region %s should not be downloaded yet", r.Region.Key)
		}
	}
}

func TestGetRegion(t *testing.T) {
	app := setupApp(makeDeps().deps)

	resp := doJSON(t, app, "GET", "/v1/regions/pokhara", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var rs usecases.RegionStatus
	decode(t, resp, &rs)
	if rs.Region.Name != "Pokhara & Phewa Lake" {
		t.Errorf("unexpected region name %q", rs.Region.Name)
	}

	resp = doJSON(t, app, "GET", "/v1/regions/atlantis", nil)
	if resp.StatusCode != 404 {
		t.Errorf("expected 404 for unknown region, got %d", resp.StatusCode)
	}
}

func TestEstimateRegion(t *testing.T) {
	app := setupApp(makeDeps().deps)

	resp := doJSON(t, app, "GET", "/v1/regions/kathmandu/estimate", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var est usecases.Estimate
	decode(t, resp, &est)
	if est.TileCount <= 0 || est.Bytes <= 0 {
		t.Errorf("estimate should be positive: %+v", est)
	}
	if est.MinZoom != 10 || est.MaxZoom != 16 {
		t.Errorf("unexpected zoom range %d-%d", est.MinZoom, est.MaxZoom)
	}

	resp = doJSON(t, app, "GET", "/v1/regions/kathmandu/estimate?max_zoom=30", nil)
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for max_zoom out of range, got %d", resp.StatusCode)
	}

	resp = doJSON(t, app, "GET", "/v1/regions/atlantis/estimate", nil)
	if resp.StatusCode != 404 {
		t.Errorf("expected 404 for unknown region, got %d", resp.StatusCode)
	}
}

func TestDownloadRegion_Accepted(t *testing.T) {
	fx := makeDeps()
	app := setupApp(fx.deps)

	resp := doJSON(t, app, "POST", "/v1/regions/lumbini/download?max_zoom=10", nil)
	if resp.StatusCode != 202 {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["status"] != "accepted" || body["region"] != "lumbini" {
		t.Errorf("unexpected body %v", body)
	}

	// The download runs in the background; wait for it to land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if n, _ := fx.store.Count(context.Background()); n > 0 && !fx.deps.Downloads.IsDownloading() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("background download never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDownloadRegion_Validation(t *testing.T) {
	app := setupApp(makeDeps().deps)

	resp := doJSON(t, app, "POST", "/v1/regions/atlantis/download", nil)
	if resp.StatusCode != 404 {
		t.Errorf("expected 404 for unknown region, got %d", resp.StatusCode)
	}

	resp = doJSON(t, app, "POST", "/v1/regions/kathmandu/download?provider=nosuch", nil)
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for unknown provider, got %d", resp.StatusCode)
	}

	resp = doJSON(t, app, "POST", "/v1/regions/kathmandu/download?max_zoom=3", nil)
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for max_zoom below the region minimum, got %d", resp.StatusCode)
	}
}

func TestDownloadRegion_ConflictWhileBusy(t *testing.T) {
	fx := makeDeps()
	fx.fetcher.block = make(chan struct{})
	app := setupApp(fx.deps)

	go func() {
		_, _ = fx.deps.Downloads.DownloadRegion(context.Background(), "kathmandu", usecases.DownloadOptions{MaxZoom: 10})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !fx.deps.Downloads.IsDownloading() {
		if time.Now().After(deadline) {
			t.Fatal("download never started")
		}
		time.Sleep(time.Millisecond)
	}

	resp := doJSON(t, app, "POST", "/v1/regions/pokhara/download", nil)
	if resp.StatusCode != 409 {
		t.Errorf("expected 409 while busy, got %d", resp.StatusCode)
	}
	close(fx.fetcher.block)
}

func TestDeleteRegionTiles(t *testing.T) {
	fx := makeDeps()
	app := setupApp(fx.deps)

	if _, err := fx.deps.Downloads.DownloadRegion(context.Background(), "lumbini", usecases.DownloadOptions{MaxZoom: 10}); err != nil {
		t.Fatalf("seed download: %v", err)
	}

	resp := doJSON(t, app, "DELETE", "/v1/regions/lumbini/tiles", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Region  string `json:"region"`
		Deleted int    `json:"deleted_tiles"`
	}
	decode(t, resp, &body)
	if body.Region != "lumbini" || body.Deleted == 0 {
		t.Errorf("unexpected body %+v", body)
	}

	resp = doJSON(t, app, "DELETE", "/v1/regions/atlantis/tiles", nil)
	if resp.StatusCode != 404 {
		t.Errorf("expected 404 for unknown region, got %d", resp.StatusCode)
	}
}

func TestStorageStats(t *testing.T) {
	fx := makeDeps()
	app := setupApp(fx.deps)

	if _, err := fx.deps.Downloads.DownloadRegion(context.Background(), "lumbini", usecases.DownloadOptions{MaxZoom: 10}); err != nil {
		t.Fatalf("seed download: %v", err)
	}

	resp := doJSON(t, app, "GET", "/v1/storage", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var stats struct {
		CachedTiles       int64 `json:"cached_tiles"`
		EstimatedBytes    int64 `json:"estimated_bytes"`
		DownloadedRegions int   `json:"downloaded_regions"`
		CatalogRegions    int   `json:"catalog_regions"`
	}
	decode(t, resp, &stats)
	if stats.CachedTiles == 0 || stats.EstimatedBytes == 0 {
		t.Errorf("expected non-empty cache stats, got %+v", stats)
	}
	if stats.DownloadedRegions != 1 {
		t.Errorf("expected 1 downloaded region, got %d", stats.DownloadedRegions)
	}
	if stats.CatalogRegions != len(domain.Regions) {
		t.Errorf("expected %d catalog regions, got %d", len(domain.Regions), stats.CatalogRegions)
	}
}

func TestClearStorage(t *testing.T) {
	fx := makeDeps()
	app := setupApp(fx.deps)

	if _, err := fx.deps.Downloads.DownloadRegion(context.Background(), "lumbini", usecases.DownloadOptions{MaxZoom: 10}); err != nil {
		t.Fatalf("seed download: %v", err)
	}

	resp := doJSON(t, app, "DELETE", "/v1/storage", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if n, _ := fx.store.Count(context.Background()); n != 0 {
		t.Errorf("store should be empty after clear, %d left", n)
	}
}

func TestListProviders(t *testing.T) {
	app := setupApp(makeDeps().deps)

	resp := doJSON(t, app, "GET", "/v1/providers", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var providers []domain.TileProvider
	decode(t, resp, &providers)
	if len(providers) != len(domain.Providers) {
		t.Errorf("expected %d providers, got %d", len(domain.Providers), len(providers))
	}
}

func TestServeTile_FromCache(t *testing.T) {
	fx := makeDeps()
	app := setupApp(fx.deps)

	provider, _ := domain.ProviderByKey("osm")
	tile := domain.TileCoordinate{X: 1, Y: 2, Z: 3}
	_ = fx.store.Put(context.Background(), provider.CacheKeyURL(tile), []byte("cached-tile"), "image/png")

	resp := doJSON(t, app, "GET", "/v1/tiles/osm/3/1/2", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Tile-Source"); got != "cache" {
		t.Errorf("expected cache source, got %q", got)
	}
	if resp.Header.Get("X-Tile-Attribution") == "" {
		t.Error("attribution header must be set")
	}
}

func TestServeTile_Validation(t *testing.T) {
	app := setupApp(makeDeps().deps)

	cases := []struct {
		path string
		want int
	}{
		{"/v1/tiles/nosuch/3/1/2", 404},
		{"/v1/tiles/osm/abc/1/2", 400},
		{"/v1/tiles/osm/25/1/2", 400},  // beyond provider max zoom
		{"/v1/tiles/osm/3/999/2", 400}, // x out of range for z3
	}
	for _, tc := range cases {
		resp := doJSON(t, app, "GET", tc.path, nil)
		if resp.StatusCode != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.path, tc.want, resp.StatusCode)
		}
	}
}

func TestEnqueueSync(t *testing.T) {
	fx := makeDeps()
	app := setupApp(fx.deps)

	resp := doJSON(t, app, "POST", "/v1/sync/operations", map[string]any{
		"type":           "poi_save",
		"payload":        map[string]string{"name": "teahouse"},
		"priority":       "high",
		"estimated_size": 2048,
	})
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["id"] == "" {
		t.Error("response should carry the generated id")
	}
	if body["priority"] != "high" {
		t.Errorf("expected high priority, got %q", body["priority"])
	}

	resp = doJSON(t, app, "POST", "/v1/sync/operations", map[string]any{"payload": "x"})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for missing type, got %d", resp.StatusCode)
	}
}

func TestListSyncQueue_Pagination(t *testing.T) {
	fx := makeDeps()
	app := setupApp(fx.deps)

	for i := 0; i < 5; i++ {
		resp := doJSON(t, app, "POST", "/v1/sync/operations", map[string]any{"type": "api_call"})
		resp.Body.Close()
	}

	resp := doJSON(t, app, "GET", "/v1/sync/queue?limit=2&offset=0", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var page struct {
		Data       []domain.SyncOperation `json:"data"`
		Pagination handler.Pagination     `json:"pagination"`
	}
	decode(t, resp, &page)
	if len(page.Data) != 2 {
		t.Errorf("expected 2 items, got %d", len(page.Data))
	}
	if page.Pagination.Total != 5 {
		t.Errorf("expected total 5, got %d", page.Pagination.Total)
	}
	if resp.Header.Get("Link") == "" {
		t.Error("paginated responses should carry Link headers")
	}
}

func TestRunSync(t *testing.T) {
	fx := makeDeps()
	app := setupApp(fx.deps)

	resp := doJSON(t, app, "POST", "/v1/sync/operations", map[string]any{"type": "api_call"})
	resp.Body.Close()

	resp = doJSON(t, app, "POST", "/v1/sync/run", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var report usecases.SyncReport
	decode(t, resp, &report)
	if report.Executed != 1 {
		t.Errorf("expected 1 executed, got %d", report.Executed)
	}
	if ops, _ := fx.queue.ListAll(context.Background()); len(ops) != 0 {
		t.Errorf("queue should be drained, %d left", len(ops))
	}
}

func TestReportDeviceState(t *testing.T) {
	app := setupApp(makeDeps().deps)

	resp := doJSON(t, app, "PUT", "/v1/device/state", map[string]any{
		"online":        true,
		"battery_level": 0.1,
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		SyncInterval string `json:"sync_interval"`
		DataBudget   int64  `json:"data_budget"`
	}
	decode(t, resp, &body)
	if body.SyncInterval != "2m0s" {
		t.Errorf("expected low-battery interval 2m0s, got %q", body.SyncInterval)
	}
	if body.DataBudget != 100*1024 {
		t.Errorf("expected low-battery budget, got %d", body.DataBudget)
	}

	resp = doJSON(t, app, "PUT", "/v1/device/state", map[string]any{"battery_level": 2.0})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for invalid battery level, got %d", resp.StatusCode)
	}
}

func TestGetDeviceState_Defaults(t *testing.T) {
	app := setupApp(makeDeps().deps)

	resp := doJSON(t, app, "GET", "/v1/device/state", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		State        domain.DeviceState `json:"state"`
		LowBattery   bool               `json:"low_battery"`
		SyncInterval string             `json:"sync_interval"`
	}
	decode(t, resp, &body)
	if !body.State.Online {
		t.Error("unreported device should default to online")
	}
	if body.LowBattery {
		t.Error("unknown battery must not count as low")
	}
	if body.SyncInterval != "30s" {
		t.Errorf("expected 30s, got %q", body.SyncInterval)
	}
}

func TestHealth(t *testing.T) {
	app := setupApp(makeDeps().deps)

	resp := doJSON(t, app, "GET", "/v1/health", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	decode(t, resp, &body)
	if body["status"] != "healthy" {
		t.Errorf("unexpected health body %v", body)
	}
}
