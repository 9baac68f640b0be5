package ports

import (
	"context"

	"github.com/himalmaps/tilevault/internal/core/domain"
)

// ProgressPublisher pushes download lifecycle events to whoever renders
// them (the WebSocket relay, in practice). Publish failures are logged and
// swallowed by callers; events are best-effort.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, p domain.DownloadProgress) error
	PublishComplete(ctx context.Context, r domain.DownloadResult) error
	PublishDownloadError(ctx context.Context, region string, err error) error
	// PublishSyncTrigger nudges the sync worker to drain critical
	// operations immediately instead of waiting for the next cycle.
	PublishSyncTrigger(ctx context.Context, priority domain.SyncPriority) error
}

// SubdomainPicker chooses a CDN subdomain for one tile request. Picks are
// for load distribution only; every subdomain serves identical content.
type SubdomainPicker func(subdomains []string) string

// OperationExecutor performs one queued sync operation against its
// upstream. A returned error schedules a retry.
type OperationExecutor interface {
	Execute(ctx context.Context, op domain.SyncOperation) error
}
