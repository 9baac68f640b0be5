package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/himalmaps/tilevault/internal/core/domain"
)

// SyncQueueRepo implements ports.SyncQueueRepository with pgx. The queue
// and the permanent failure log live in separate tables so a restart
// never loses a pending operation.
type SyncQueueRepo struct {
	db *DB
}

// NewSyncQueueRepo creates a new SyncQueueRepo.
func NewSyncQueueRepo(db *DB) *SyncQueueRepo {
	return &SyncQueueRepo{db: db}
}

// Enqueue persists a new operation.
func (r *SyncQueueRepo) Enqueue(ctx context.Context, op *domain.SyncOperation) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO sync_operations (id, type, payload, priority, enqueued_at, retry_count, estimated_size, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, op.ID, op.Type, op.Payload, int(op.Priority), op.EnqueuedAt, op.RetryCount, op.EstimatedSize, op.NextAttemptAt)
	return err
}

// ListReady returns operations due for execution, highest priority first
// and oldest first within a priority.
func (r *SyncQueueRepo) ListReady(ctx context.Context, limit int) ([]domain.SyncOperation, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, type, payload, priority, enqueued_at, retry_count, estimated_size, next_attempt_at
		FROM sync_operations
		WHERE next_attempt_at <= now()
		ORDER BY priority ASC, enqueued_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOperations(rows)
}

// ListAll returns the whole queue in execution order.
func (r *SyncQueueRepo) ListAll(ctx context.Context) ([]domain.SyncOperation, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, type, payload, priority, enqueued_at, retry_count, estimated_size, next_attempt_at
		FROM sync_operations
		ORDER BY priority ASC, enqueued_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOperations(rows)
}

// Remove deletes an operation after it executed or was moved to the
// failure log.
func (r *SyncQueueRepo) Remove(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM sync_operations WHERE id = $1`, id)
	return err
}

// Reschedule stores the bumped retry count and next attempt time.
func (r *SyncQueueRepo) Reschedule(ctx context.Context, op *domain.SyncOperation) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE sync_operations SET retry_count = $2, next_attempt_at = $3 WHERE id = $1
	`, op.ID, op.RetryCount, op.NextAttemptAt)
	return err
}

// LogFailure records an operation that exhausted its retries.
func (r *SyncQueueRepo) LogFailure(ctx context.Context, failure *domain.FailedOperation) error {
	op := failure.Operation
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO failed_sync_operations (id, type, payload, priority, enqueued_at, retry_count, reason, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET retry_count = EXCLUDED.retry_count, reason = EXCLUDED.reason, failed_at = EXCLUDED.failed_at
	`, op.ID, op.Type, op.Payload, int(op.Priority), op.EnqueuedAt, op.RetryCount, failure.Reason, failure.FailedAt)
	return err
}

// ListFailures returns the most recent permanent failures.
func (r *SyncQueueRepo) ListFailures(ctx context.Context, limit int) ([]domain.FailedOperation, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, type, payload, priority, enqueued_at, retry_count, reason, failed_at
		FROM failed_sync_operations
		ORDER BY failed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failures []domain.FailedOperation
	for rows.Next() {
		var f domain.FailedOperation
		var priority int
		if err := rows.Scan(&f.Operation.ID, &f.Operation.Type, &f.Operation.Payload, &priority,
			&f.Operation.EnqueuedAt, &f.Operation.RetryCount, &f.Reason, &f.FailedAt); err != nil {
			return nil, err
		}
		f.Operation.Priority = domain.SyncPriority(priority)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

func scanOperations(rows pgx.Rows) ([]domain.SyncOperation, error) {
	var ops []domain.SyncOperation
	for rows.Next() {
		var op domain.SyncOperation
		var priority int
		if err := rows.Scan(&op.ID, &op.Type, &op.Payload, &priority,
			&op.EnqueuedAt, &op.RetryCount, &op.EstimatedSize, &op.NextAttemptAt); err != nil {
			return nil, err
		}
		op.Priority = domain.SyncPriority(priority)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}
