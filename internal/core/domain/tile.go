package domain

// TileCoordinate addresses one slippy-map tile. Coordinates are derived
// from region bounds during enumeration and never persisted individually.
type TileCoordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// DownloadProgress is a point-in-time snapshot of a running region download.
type DownloadProgress struct {
	Region     string  `json:"region"`
	Downloaded int     `json:"downloaded"`
	Total      int     `json:"total"`
	Progress   float64 `json:"progress"` // percent, 0-100
	Zoom       int     `json:"zoom"`     // zoom level currently being fetched
}

// DownloadResult is the final outcome of a region download. Success means
// the download ran to completion; Downloaded < Total indicates per-tile
// failures that were skipped along the way.
type DownloadResult struct {
	Region     string `json:"region"`
	Downloaded int    `json:"downloaded"`
	Total      int    `json:"total"`
	Success    bool   `json:"success"`
}
