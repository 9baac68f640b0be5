package workflows

import (
	"context"
	"errors"
	"fmt"

	"github.com/himalmaps/tilevault/internal/core/domain"
	"github.com/himalmaps/tilevault/internal/core/usecases"
)

// PrefetchActivities holds the activity implementations for the region
// prefetch workflow.
type PrefetchActivities struct {
	Downloads *usecases.DownloadService
}

// ListPendingRegions returns catalog region keys without a download
// record, in priority order.
func (a *PrefetchActivities) ListPendingRegions(ctx context.Context) ([]string, error) {
	status, err := a.Downloads.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("region status: %w", err)
	}

	var pending []string
	for _, r := range status.Regions {
		if !r.Downloaded {
			pending = append(pending, r.Region.Key)
		}
	}
	return pending, nil
}

// EstimateRegion projects the cost of downloading one region.
func (a *PrefetchActivities) EstimateRegion(ctx context.Context, key string, maxZoom int) (usecases.Estimate, error) {
	return a.Downloads.Estimate(key, maxZoom)
}

// DownloadRegion downloads one region and returns its result. A busy
// orchestrator is a retryable condition: Temporal's retry policy backs
// off until the current download finishes.
func (a *PrefetchActivities) DownloadRegion(ctx context.Context, key string, opts usecases.DownloadOptions) (domain.DownloadResult, error) {
	result, err := a.Downloads.DownloadRegion(ctx, key, opts)
	if err != nil {
		if errors.Is(err, domain.ErrBusy) {
			return domain.DownloadResult{}, fmt.Errorf("download slot taken: %w", err)
		}
		return domain.DownloadResult{}, err
	}
	return result, nil
}
