package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilevault",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tilevault",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	// Tile pipeline metrics
	TilesDownloaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilevault",
		Subsystem: "tiles",
		Name:      "downloaded_total",
		Help:      "Tiles fetched and written to the store",
	}, []string{"provider"})

	TilesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilevault",
		Subsystem: "tiles",
		Name:      "failed_total",
		Help:      "Tile fetches that failed and were skipped",
	}, []string{"provider"})

	TilesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilevault",
		Subsystem: "tiles",
		Name:      "served_total",
		Help:      "Tiles served to clients, by cache outcome",
	}, []string{"provider", "source"}) // source: cache | origin

	RegionDownloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilevault",
		Subsystem: "regions",
		Name:      "downloads_total",
		Help:      "Completed region downloads (including partial)",
	}, []string{"region"})

	RegionDownloadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tilevault",
		Subsystem: "regions",
		Name:      "download_duration_seconds",
		Help:      "Wall time of a full region download",
		Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
	}, []string{"region"})

	// Sync scheduler metrics
	SyncCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tilevault",
		Subsystem: "sync",
		Name:      "cycles_total",
		Help:      "Sync cycles run",
	})

	SyncOperationsQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilevault",
		Subsystem: "sync",
		Name:      "operations_queued_total",
		Help:      "Operations added to the sync queue",
	}, []string{"priority"})

	SyncOperationsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilevault",
		Subsystem: "sync",
		Name:      "operations_executed_total",
		Help:      "Operations executed successfully",
	}, []string{"priority"})

	SyncOperationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tilevault",
		Subsystem: "sync",
		Name:      "operations_failed_total",
		Help:      "Operations moved to the permanent failure log",
	}, []string{"type"})

	SyncQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tilevault",
		Subsystem: "sync",
		Name:      "queue_depth",
		Help:      "Operations currently waiting in the sync queue",
	})

	// Store metrics
	TileStoreEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tilevault",
		Subsystem: "store",
		Name:      "entries",
		Help:      "Tiles currently held in the store",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)

		return err
	}
}

// Handler returns a Fiber handler serving the Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}
