package domain_test

import (
	"strings"
	"testing"

	"github.com/himalmaps/tilevault/internal/core/domain"
)

func TestTileURL(t *testing.T) {
	p := domain.TileProvider{
		URLTemplate: "https://{s}.tiles.example.com/{z}/{x}/{y}{r}.png",
		Subdomains:  []string{"a", "b"},
	}
	tile := domain.TileCoordinate{X: 42, Y: 17, Z: 12}

	got := p.TileURL(tile, "b")
	want := "https://b.tiles.example.com/12/42/17.png"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestCacheKeyURL_StableAcrossSubdomains(t *testing.T) {
	p, ok := domain.ProviderByKey("osm")
	if !ok {
		t.Fatal("osm provider missing")
	}
	tile := domain.TileCoordinate{X: 1, Y: 2, Z: 3}

	key := p.CacheKeyURL(tile)
	if !strings.Contains(key, "a.tile.openstreetmap.org") {
		t.Errorf("cache key should pin the first subdomain: %s", key)
	}
	if strings.Contains(key, "{") {
		t.Errorf("cache key has unexpanded placeholders: %s", key)
	}
}

func TestDefaultProvider(t *testing.T) {
	if domain.DefaultProvider().Key != "osm" {
		t.Errorf("expected osm as default, got %s", domain.DefaultProvider().Key)
	}
}
