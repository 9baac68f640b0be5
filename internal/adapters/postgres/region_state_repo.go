package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/himalmaps/tilevault/internal/core/domain"
)

// RegionStateRepo implements ports.RegionStateRepository with pgx.
type RegionStateRepo struct {
	db *DB
}

// NewRegionStateRepo creates a new RegionStateRepo.
func NewRegionStateRepo(db *DB) *RegionStateRepo {
	return &RegionStateRepo{db: db}
}

// MarkDownloaded records a completed region download, replacing any
// previous record for the same region.
func (r *RegionStateRepo) MarkDownloaded(ctx context.Context, state domain.RegionState) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO region_states (region_key, provider, max_zoom, downloaded, total, downloaded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (region_key) DO UPDATE
		SET provider = EXCLUDED.provider, max_zoom = EXCLUDED.max_zoom,
		    downloaded = EXCLUDED.downloaded, total = EXCLUDED.total,
		    downloaded_at = EXCLUDED.downloaded_at
	`, state.Key, state.Provider, state.MaxZoom, state.Downloaded, state.Total, state.DownloadedAt)
	return err
}

// Remove deletes the record for one region. Removing an absent region is
// a no-op.
func (r *RegionStateRepo) Remove(ctx context.Context, key string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM region_states WHERE region_key = $1`, key)
	return err
}

// Get returns the download record for a region, or nil when the region
// was never downloaded.
func (r *RegionStateRepo) Get(ctx context.Context, key string) (*domain.RegionState, error) {
	var s domain.RegionState
	err := r.db.Pool.QueryRow(ctx, `
		SELECT region_key, provider, max_zoom, downloaded, total, downloaded_at
		FROM region_states WHERE region_key = $1
	`, key).Scan(&s.Key, &s.Provider, &s.MaxZoom, &s.Downloaded, &s.Total, &s.DownloadedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// List returns all downloaded regions, most recent first.
func (r *RegionStateRepo) List(ctx context.Context) ([]domain.RegionState, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT region_key, provider, max_zoom, downloaded, total, downloaded_at
		FROM region_states ORDER BY downloaded_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []domain.RegionState
	for rows.Next() {
		var s domain.RegionState
		if err := rows.Scan(&s.Key, &s.Provider, &s.MaxZoom, &s.Downloaded, &s.Total, &s.DownloadedAt); err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

// Clear removes every record. Used when the whole tile cache is wiped.
func (r *RegionStateRepo) Clear(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM region_states`)
	return err
}
