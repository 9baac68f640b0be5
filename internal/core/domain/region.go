package domain

import "time"

// Bounds is a geographic bounding box in WGS 84 degrees.
// West must be <= East; boxes crossing the antimeridian are rejected
// by the tile math rather than silently wrapped.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Region is a named downloadable map area. The catalog is fixed at startup;
// regions are never created or mutated at runtime.
type Region struct {
	Key           string `json:"key"`
	Name          string `json:"name"`
	Bounds        Bounds `json:"bounds"`
	Priority      int    `json:"priority"` // ascending = downloaded first
	MinZoom       int    `json:"min_zoom"`
	MaxZoom       int    `json:"max_zoom"`
	EstimatedSize string `json:"estimated_size"` // human label, e.g. "~45 MB"
}

// RegionState is the persisted download state of one region. Provider and
// MaxZoom record what the download actually used so deletion can recompute
// the same cache keys later.
type RegionState struct {
	Key          string    `json:"key"`
	Provider     string    `json:"provider"`
	MaxZoom      int       `json:"max_zoom"`
	Downloaded   int       `json:"downloaded"`
	Total        int       `json:"total"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// Partial reports whether the region completed with tile failures.
func (s RegionState) Partial() bool {
	return s.Downloaded < s.Total
}

// DefaultMaxZoom bounds region downloads when neither the region nor the
// caller specifies a maximum zoom level.
const DefaultMaxZoom = 15

// Trek regions covered by the app, ordered by download priority.
var Regions = []Region{
	{
		Key:      "kathmandu",
		Name:     "Kathmandu Valley",
		Bounds:   Bounds{North: 27.8, South: 27.6, East: 85.4, West: 85.2},
		Priority: 1,
		MinZoom:  10, MaxZoom: 16,
		EstimatedSize: "~30 MB",
	},
	{
		Key:      "pokhara",
		Name:     "Pokhara & Phewa Lake",
		Bounds:   Bounds{North: 28.3, South: 28.1, East: 84.1, West: 83.9},
		Priority: 2,
		MinZoom:  10, MaxZoom: 16,
		EstimatedSize: "~28 MB",
	},
	{
		Key:      "annapurna-circuit",
		Name:     "Annapurna Circuit",
		Bounds:   Bounds{North: 28.9, South: 28.2, East: 84.5, West: 83.6},
		Priority: 3,
		MinZoom:  9, MaxZoom: 14,
		EstimatedSize: "~55 MB",
	},
	{
		Key:      "everest-region",
		Name:     "Everest / Khumbu",
		Bounds:   Bounds{North: 28.1, South: 27.6, East: 87.1, West: 86.5},
		Priority: 4,
		MinZoom:  9, MaxZoom: 14,
		EstimatedSize: "~40 MB",
	},
	{
		Key:      "chitwan",
		Name:     "Chitwan National Park",
		Bounds:   Bounds{North: 27.7, South: 27.4, East: 84.6, West: 84.2},
		Priority: 5,
		MinZoom:  10, MaxZoom: 14,
		EstimatedSize: "~12 MB",
	},
	{
		Key:      "lumbini",
		Name:     "Lumbini",
		Bounds:   Bounds{North: 27.6, South: 27.4, East: 83.4, West: 83.2},
		Priority: 6,
		MinZoom:  10, MaxZoom: 14,
		EstimatedSize: "~8 MB",
	},
}

// RegionByKey looks up a catalog region.
func RegionByKey(key string) (Region, bool) {
	for _, r := range Regions {
		if r.Key == key {
			return r, true
		}
	}
	return Region{}, false
}

// RegionsByPriority returns the catalog sorted by ascending priority.
// The package-level slice is already ordered; this returns a copy so
// callers can't reorder the catalog.
func RegionsByPriority() []Region {
	out := make([]Region, len(Regions))
	copy(out, Regions)
	return out
}
