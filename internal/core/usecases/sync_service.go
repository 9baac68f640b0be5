package usecases

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/himalmaps/tilevault/internal/core/domain"
	"github.com/himalmaps/tilevault/internal/core/ports"
	"github.com/himalmaps/tilevault/internal/pkg/metrics"
)

// syncListLimit caps how many ready operations one cycle considers.
const syncListLimit = 100

// SyncReport summarizes one sync cycle.
type SyncReport struct {
	Executed    int           `json:"executed"`
	Retried     int           `json:"retried"`
	MovedToLog  int           `json:"moved_to_failed_log"`
	SkippedSize int           `json:"skipped_over_budget"`
	Budget      int64         `json:"budget_bytes"`
	Offline     bool          `json:"offline"`
	Interval    time.Duration `json:"-"`
}

// SyncService drains a persisted queue of deferred network operations,
// adapting cycle interval and per-cycle data budget to the reported device
// condition. Failed operations back off exponentially and land in a
// durable failure log after the retry budget is spent.
type SyncService struct {
	queue  ports.SyncQueueRepository
	device ports.DeviceStateRepository
	exec   ports.OperationExecutor
	events ports.ProgressPublisher
}

// NewSyncService creates the scheduler.
func NewSyncService(queue ports.SyncQueueRepository, device ports.DeviceStateRepository, exec ports.OperationExecutor, events ports.ProgressPublisher) *SyncService {
	return &SyncService{queue: queue, device: device, exec: exec, events: events}
}

// QueueOperation persists a new operation. Critical operations also emit a
// trigger so the worker drains them immediately when online.
func (s *SyncService) QueueOperation(ctx context.Context, op *domain.SyncOperation) error {
	if op.Type == "" {
		return fmt.Errorf("operation type is required")
	}
	if op.ID == "" {
		id, err := generateOpID()
		if err != nil {
			return fmt.Errorf("generate id: %w", err)
		}
		op.ID = id
	}
	now := time.Now().UTC()
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = now
	}
	if op.NextAttemptAt.IsZero() {
		op.NextAttemptAt = now
	}

	if err := s.queue.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("enqueue operation: %w", err)
	}
	metrics.SyncOperationsQueued.WithLabelValues(op.Priority.String()).Inc()

	if op.Priority == domain.PriorityCritical && s.events != nil {
		if err := s.events.PublishSyncTrigger(ctx, op.Priority); err != nil {
			slog.Warn("critical sync trigger publish failed", "op", op.ID, "error", err)
		}
	}
	return nil
}

// PerformSync runs one cycle: reads the device condition, selects ready
// operations within the cycle's byte budget (critical operations bypass
// the budget), and executes them. Offline cycles do nothing but still
// report the longer retry interval.
func (s *SyncService) PerformSync(ctx context.Context) (SyncReport, error) {
	state := s.deviceState(ctx)
	report := SyncReport{
		Budget:   state.DataBudget(),
		Interval: state.SyncInterval(),
	}

	if !state.Online {
		report.Offline = true
		return report, nil
	}

	ops, err := s.queue.ListReady(ctx, syncListLimit)
	if err != nil {
		return report, fmt.Errorf("list ready operations: %w", err)
	}
	orderForDrain(ops)

	var used int64
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		// Greedy budget fit by priority then age; critical always runs.
		if op.Priority != domain.PriorityCritical && used+op.EstimatedSize > report.Budget {
			report.SkippedSize++
			continue
		}

		if err := s.executeOne(ctx, op, &report); err != nil {
			return report, err
		}
		used += op.EstimatedSize
	}

	metrics.SyncCycles.Inc()
	metrics.SyncQueueDepth.Set(float64(len(ops) - report.Executed - report.MovedToLog))
	if report.Executed > 0 || report.Retried > 0 || report.MovedToLog > 0 {
		slog.Info("sync cycle finished",
			"executed", report.Executed, "retried", report.Retried,
			"failed_permanently", report.MovedToLog, "budget_bytes", report.Budget)
	}
	return report, nil
}

// DrainCritical executes every ready critical operation immediately,
// ignoring the data budget. Invoked by the worker on a critical trigger.
func (s *SyncService) DrainCritical(ctx context.Context) (SyncReport, error) {
	state := s.deviceState(ctx)
	report := SyncReport{Budget: state.DataBudget(), Interval: state.SyncInterval()}
	if !state.Online {
		report.Offline = true
		return report, nil
	}

	ops, err := s.queue.ListReady(ctx, syncListLimit)
	if err != nil {
		return report, fmt.Errorf("list ready operations: %w", err)
	}
	orderForDrain(ops)
	for _, op := range ops {
		if op.Priority != domain.PriorityCritical {
			continue
		}
		if err := s.executeOne(ctx, op, &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

// NextInterval returns how long the worker should sleep before the next
// cycle, from the current device condition.
func (s *SyncService) NextInterval(ctx context.Context) time.Duration {
	return s.deviceState(ctx).SyncInterval()
}

// PendingOperations lists the active queue for inspection.
func (s *SyncService) PendingOperations(ctx context.Context) ([]domain.SyncOperation, error) {
	return s.queue.ListAll(ctx)
}

// FailedOperations lists the permanent failure log.
func (s *SyncService) FailedOperations(ctx context.Context, limit int) ([]domain.FailedOperation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.queue.ListFailures(ctx, limit)
}

// ReportDeviceState stores a client-reported device condition.
func (s *SyncService) ReportDeviceState(ctx context.Context, state domain.DeviceState) error {
	state.ReportedAt = time.Now().UTC()
	if err := s.device.Put(ctx, state); err != nil {
		return fmt.Errorf("store device state: %w", err)
	}
	return nil
}

// DeviceState returns the effective device condition used for scheduling.
func (s *SyncService) DeviceState(ctx context.Context) domain.DeviceState {
	return s.deviceState(ctx)
}

// orderForDrain sorts operations into execution order: highest priority
// first, oldest first within a priority. The repositories return this
// order already, but drain order is a correctness property of the
// scheduler, not of whichever store backs it.
func orderForDrain(ops []domain.SyncOperation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Priority != ops[j].Priority {
			return ops[i].Priority < ops[j].Priority
		}
		return ops[i].EnqueuedAt.Before(ops[j].EnqueuedAt)
	})
}

func (s *SyncService) executeOne(ctx context.Context, op domain.SyncOperation, report *SyncReport) error {
	execErr := s.exec.Execute(ctx, op)
	if execErr == nil {
		if err := s.queue.Remove(ctx, op.ID); err != nil {
			return fmt.Errorf("remove completed operation %s: %w", op.ID, err)
		}
		report.Executed++
		metrics.SyncOperationsExecuted.WithLabelValues(op.Priority.String()).Inc()
		return nil
	}

	op.RetryCount++
	if op.RetryCount >= domain.MaxSyncRetries {
		failure := &domain.FailedOperation{
			Operation: op,
			Reason:    execErr.Error(),
			FailedAt:  time.Now().UTC(),
		}
		if err := s.queue.LogFailure(ctx, failure); err != nil {
			return fmt.Errorf("log permanent failure %s: %w", op.ID, err)
		}
		if err := s.queue.Remove(ctx, op.ID); err != nil {
			return fmt.Errorf("remove failed operation %s: %w", op.ID, err)
		}
		report.MovedToLog++
		metrics.SyncOperationsFailed.WithLabelValues(op.Type).Inc()
		slog.Warn("operation moved to failure log",
			"op", op.ID, "type", op.Type, "retries", op.RetryCount, "error", execErr)
		return nil
	}

	// Exponential backoff: 2^retries seconds.
	backoff := time.Duration(math.Exp2(float64(op.RetryCount))) * time.Second
	op.NextAttemptAt = time.Now().UTC().Add(backoff)
	if err := s.queue.Reschedule(ctx, &op); err != nil {
		return fmt.Errorf("reschedule operation %s: %w", op.ID, err)
	}
	report.Retried++
	slog.Info("operation rescheduled",
		"op", op.ID, "type", op.Type, "retry", op.RetryCount, "backoff", backoff.String())
	return nil
}

func (s *SyncService) deviceState(ctx context.Context) domain.DeviceState {
	if s.device == nil {
		return defaultDeviceState()
	}
	state, ok, err := s.device.Get(ctx)
	if err != nil {
		slog.Warn("device state read failed, assuming online", "error", err)
		return defaultDeviceState()
	}
	if !ok {
		return defaultDeviceState()
	}
	return state
}

func defaultDeviceState() domain.DeviceState {
	return domain.DeviceState{Online: true, BatteryLevel: -1}
}

func generateOpID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "op_" + hex.EncodeToString(buf), nil
}
