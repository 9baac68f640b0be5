package ports

import (
	"context"

	"github.com/himalmaps/tilevault/internal/core/domain"
)

// TileStore is the persistent cache of tile image bytes, keyed by the
// normalized tile URL. Owned exclusively by the fetch engine and the
// download orchestrator; nothing else writes to it.
type TileStore interface {
	Put(ctx context.Context, url string, data []byte, contentType string) error
	Get(ctx context.Context, url string) (data []byte, contentType string, err error)
	// Delete removes one entry; removing a missing entry is not an error
	// and reports deleted=false.
	Delete(ctx context.Context, url string) (deleted bool, err error)
	// Clear drops the entire versioned tile namespace in one operation.
	Clear(ctx context.Context) error
	// Count returns the number of cached tiles. Used for storage stats
	// only; failures here must never block a download.
	Count(ctx context.Context) (int64, error)
}

// RegionStateRepository persists the set of completed region downloads.
// A key is present only after a download ran to completion; the stored
// counts expose whether some tiles were skipped along the way.
type RegionStateRepository interface {
	MarkDownloaded(ctx context.Context, state domain.RegionState) error
	Remove(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (*domain.RegionState, error)
	List(ctx context.Context) ([]domain.RegionState, error)
	Clear(ctx context.Context) error
}

// SyncQueueRepository persists pending sync operations and the permanent
// failure log. Every queue mutation hits storage so the queue survives a
// restart while offline.
type SyncQueueRepository interface {
	Enqueue(ctx context.Context, op *domain.SyncOperation) error
	// ListReady returns operations whose next attempt time has passed,
	// ordered by priority then enqueue age.
	ListReady(ctx context.Context, limit int) ([]domain.SyncOperation, error)
	ListAll(ctx context.Context) ([]domain.SyncOperation, error)
	Remove(ctx context.Context, id string) error
	// Reschedule bumps the retry count and sets the next attempt time.
	Reschedule(ctx context.Context, op *domain.SyncOperation) error
	LogFailure(ctx context.Context, failure *domain.FailedOperation) error
	ListFailures(ctx context.Context, limit int) ([]domain.FailedOperation, error)
}

// DeviceStateRepository stores the most recent client-reported device and
// network condition.
type DeviceStateRepository interface {
	Put(ctx context.Context, state domain.DeviceState) error
	// Get returns the last reported state, or ok=false when the report
	// has expired or was never made.
	Get(ctx context.Context) (state domain.DeviceState, ok bool, err error)
}
