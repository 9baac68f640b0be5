package domain

import (
	"strconv"
	"strings"
)

// TileProvider describes a public raster tile source. URL templates use the
// Leaflet placeholders {s} (subdomain), {z}, {x}, {y} and {r} (retina
// suffix, always cleared here).
type TileProvider struct {
	Key         string   `json:"key"`
	URLTemplate string   `json:"url_template"`
	Subdomains  []string `json:"subdomains"`
	Attribution string   `json:"attribution"`
	MaxZoom     int      `json:"max_zoom"`
}

// Built-in providers. Attribution must be surfaced by whatever renders the
// tiles; the API sets it on every served tile response.
var Providers = []TileProvider{
	{
		Key:         "osm",
		URLTemplate: "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}{r}.png",
		Subdomains:  []string{"a", "b", "c"},
		Attribution: "© OpenStreetMap contributors",
		MaxZoom:     19,
	},
	{
		Key:         "voyager",
		URLTemplate: "https://{s}.basemaps.cartocdn.com/rastertiles/voyager/{z}/{x}/{y}{r}.png",
		Subdomains:  []string{"a", "b", "c", "d"},
		Attribution: "© OpenStreetMap contributors © CARTO",
		MaxZoom:     19,
	},
}

// ProviderByKey looks up a built-in tile provider.
func ProviderByKey(key string) (TileProvider, bool) {
	for _, p := range Providers {
		if p.Key == key {
			return p, true
		}
	}
	return TileProvider{}, false
}

// DefaultProvider is used when a download request names no provider.
func DefaultProvider() TileProvider {
	return Providers[0]
}

// TileURL expands the template for one tile using the given subdomain.
func (p TileProvider) TileURL(tile TileCoordinate, subdomain string) string {
	return expandTemplate(p.URLTemplate, tile, subdomain)
}

// CacheKeyURL expands the template with the first configured subdomain.
// Any subdomain serves identical content, so cache entries are keyed by
// this normalized form no matter which subdomain the fetch actually used.
func (p TileProvider) CacheKeyURL(tile TileCoordinate) string {
	sub := ""
	if len(p.Subdomains) > 0 {
		sub = p.Subdomains[0]
	}
	return expandTemplate(p.URLTemplate, tile, sub)
}

func expandTemplate(tmpl string, tile TileCoordinate, subdomain string) string {
	r := strings.NewReplacer(
		"{s}", subdomain,
		"{z}", strconv.Itoa(tile.Z),
		"{x}", strconv.Itoa(tile.X),
		"{y}", strconv.Itoa(tile.Y),
		"{r}", "",
	)
	return r.Replace(tmpl)
}
