package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/himalmaps/tilevault/internal/core/domain"
	"github.com/himalmaps/tilevault/internal/core/usecases"
)

// PrefetchInput is the input for the region prefetch workflow.
type PrefetchInput struct {
	// Regions limits the sweep to specific catalog keys; empty means
	// every region not yet downloaded, in priority order.
	Regions  []string
	Provider string
	MaxZoom  int
	// MaxBytes aborts the sweep once the estimated total exceeds it.
	// Zero means no cap.
	MaxBytes int64
}

// PrefetchResult summarizes one workflow run.
type PrefetchResult struct {
	Completed      []string
	Skipped        []string
	EstimatedBytes int64
}

// RegionPrefetchWorkflow downloads catalog regions ahead of the trekking
// season. Regions are fetched one at a time because the download
// orchestrator holds a single slot; a busy slot retries with backoff
// instead of failing the sweep.
func RegionPrefetchWorkflow(ctx workflow.Context, input PrefetchInput) (PrefetchResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting region prefetch", "regions", len(input.Regions), "maxBytes", input.MaxBytes)

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	// Step 1: Resolve the region list
	regions := input.Regions
	if len(regions) == 0 {
		if err := workflow.ExecuteActivity(ctx, "ListPendingRegions").Get(ctx, &regions); err != nil {
			return PrefetchResult{}, err
		}
	}

	// Downloads run far longer than the lookup activities and survive a
	// busy orchestrator slot via a longer backoff window.
	downloadOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		HeartbeatTimeout:    5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 30 * time.Second,
			MaximumAttempts: 5,
		},
	}
	downloadCtx := workflow.WithActivityOptions(ctx, downloadOpts)

	var result PrefetchResult
	opts := usecases.DownloadOptions{Provider: input.Provider, MaxZoom: input.MaxZoom}

	for _, key := range regions {
		// Step 2: Estimate before committing bandwidth
		var est usecases.Estimate
		if err := workflow.ExecuteActivity(ctx, "EstimateRegion", key, input.MaxZoom).Get(ctx, &est); err != nil {
			logger.Warn("estimate failed, skipping region", "region", key, "error", err)
			result.Skipped = append(result.Skipped, key)
			continue
		}

		if input.MaxBytes > 0 && result.EstimatedBytes+est.Bytes > input.MaxBytes {
			logger.Info("byte cap reached, stopping sweep", "region", key)
			result.Skipped = append(result.Skipped, key)
			continue
		}

		// Step 3: Download
		var dl domain.DownloadResult
		if err := workflow.ExecuteActivity(downloadCtx, "DownloadRegion", key, opts).Get(ctx, &dl); err != nil {
			logger.Warn("region download failed", "region", key, "error", err)
			result.Skipped = append(result.Skipped, key)
			continue
		}

		result.Completed = append(result.Completed, key)
		result.EstimatedBytes += est.Bytes
		logger.Info("region prefetched", "region", key, "downloaded", dl.Downloaded, "total", dl.Total)
	}

	logger.Info("Region prefetch finished",
		"completed", len(result.Completed), "skipped", len(result.Skipped))
	return result, nil
}
