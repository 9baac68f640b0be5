package telemetry

// SLI metric names used for instrumentation.
const (
	// Latency
	MetricAPILatencyP50 = "api.latency.p50"
	MetricAPILatencyP95 = "api.latency.p95"
	MetricAPILatencyP99 = "api.latency.p99"

	// Throughput
	MetricRequestsPerSec = "api.requests_per_second"

	// Tile pipeline
	MetricTileFetchLatency = "tiles.fetch_latency"
	MetricTileCacheHitRate = "tiles.cache_hit_rate"
	MetricRegionCoverage   = "regions.downloaded_fraction"

	// Availability
	MetricUptime = "service.uptime_percentage"

	// Sync
	MetricSyncBacklog  = "sync.queue_depth"
	MetricSyncFailures = "sync.permanent_failures"
)
