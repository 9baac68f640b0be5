package domain

import "errors"

var (
	// ErrBusy is returned when a download is requested while another one
	// is in flight. Callers must retry later; requests are not queued.
	ErrBusy = errors.New("a download is already in progress")

	// ErrRegionNotFound is returned for region keys outside the catalog.
	ErrRegionNotFound = errors.New("region not found")

	// ErrProviderNotFound is returned for unknown tile provider keys.
	ErrProviderNotFound = errors.New("tile provider not found")

	// ErrCacheUnavailable wraps tile store failures (connection lost,
	// storage quota exhausted). Per-tile fetch failures are not errors;
	// they only reduce the downloaded count.
	ErrCacheUnavailable = errors.New("tile store unavailable")

	// ErrAntimeridian is returned for bounds where west > east. Such
	// boxes are rejected explicitly instead of wrapping around.
	ErrAntimeridian = errors.New("bounds cross the antimeridian")

	// ErrZoomBelowMinimum is returned when a max zoom override falls
	// below the region's configured minimum, which would otherwise
	// mark the region downloaded with an empty tile set.
	ErrZoomBelowMinimum = errors.New("max zoom below region minimum")
)
