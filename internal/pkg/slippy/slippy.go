// Package slippy implements slippy-map (Web Mercator) tile arithmetic:
// converting geographic bounds into the set of z/x/y tile coordinates
// covering them, and size estimates for bulk downloads.
package slippy

import (
	"fmt"
	"math"

	"github.com/himalmaps/tilevault/internal/core/domain"
)

// MercatorMaxLat is the latitude limit of the Web Mercator projection.
// Latitudes beyond it are clamped before conversion.
const MercatorMaxLat = 85.0511

// AvgTileSizeBytes is the assumed average raster tile size used by
// download estimates. A heuristic, not a guarantee.
const AvgTileSizeBytes = 15 * 1024

// LonToTileX converts a longitude to a fractional tile X at the zoom level.
func LonToTileX(lon float64, zoom int) float64 {
	return (lon + 180) / 360 * math.Exp2(float64(zoom))
}

// LatToTileY converts a latitude to a fractional tile Y at the zoom level.
func LatToTileY(lat float64, zoom int) float64 {
	lat = clampLat(lat)
	rad := lat * math.Pi / 180
	return (1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2 * math.Exp2(float64(zoom))
}

// TilesInBounds enumerates every tile whose extent intersects the bounding
// box at the given zoom, row by row from the north-west corner. Bounds
// crossing the antimeridian (west > east) are rejected.
func TilesInBounds(b domain.Bounds, zoom int) ([]domain.TileCoordinate, error) {
	minX, maxX, minY, maxY, err := tileRange(b, zoom)
	if err != nil {
		return nil, err
	}

	tiles := make([]domain.TileCoordinate, 0, (maxX-minX+1)*(maxY-minY+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			tiles = append(tiles, domain.TileCoordinate{X: x, Y: y, Z: zoom})
		}
	}
	return tiles, nil
}

// CountTiles returns the number of tiles TilesInBounds would enumerate,
// without allocating them.
func CountTiles(b domain.Bounds, zoom int) (int, error) {
	minX, maxX, minY, maxY, err := tileRange(b, zoom)
	if err != nil {
		return 0, err
	}
	return (maxX - minX + 1) * (maxY - minY + 1), nil
}

// CountTileRange sums tile counts across [minZoom, maxZoom].
func CountTileRange(b domain.Bounds, minZoom, maxZoom int) (int, error) {
	total := 0
	for z := minZoom; z <= maxZoom; z++ {
		n, err := CountTiles(b, z)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// EstimateDownloadSize returns the estimated byte size of downloading a
// region from its configured minimum zoom up to maxZoom.
func EstimateDownloadSize(region domain.Region, maxZoom int) (int64, error) {
	if maxZoom <= 0 {
		maxZoom = region.MaxZoom
	}
	n, err := CountTileRange(region.Bounds, region.MinZoom, maxZoom)
	if err != nil {
		return 0, err
	}
	return int64(n) * AvgTileSizeBytes, nil
}

func tileRange(b domain.Bounds, zoom int) (minX, maxX, minY, maxY int, err error) {
	if b.West > b.East {
		return 0, 0, 0, 0, fmt.Errorf("west %.4f > east %.4f: %w", b.West, b.East, domain.ErrAntimeridian)
	}
	if b.South > b.North {
		return 0, 0, 0, 0, fmt.Errorf("south %.4f > north %.4f: invalid bounds", b.South, b.North)
	}
	if zoom < 0 {
		return 0, 0, 0, 0, fmt.Errorf("zoom %d out of range", zoom)
	}

	max := int(math.Exp2(float64(zoom))) - 1

	minX = clampTile(int(math.Floor(LonToTileX(b.West, zoom))), max)
	maxX = clampTile(int(math.Floor(LonToTileX(b.East, zoom))), max)
	// north latitude maps to the smaller Y
	minY = clampTile(int(math.Floor(LatToTileY(b.North, zoom))), max)
	maxY = clampTile(int(math.Floor(LatToTileY(b.South, zoom))), max)
	return minX, maxX, minY, maxY, nil
}

func clampTile(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func clampLat(lat float64) float64 {
	if lat > MercatorMaxLat {
		return MercatorMaxLat
	}
	if lat < -MercatorMaxLat {
		return -MercatorMaxLat
	}
	return lat
}
