package usecases_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/himalmaps/tilevault/internal/core/domain"
	"github.com/himalmaps/tilevault/internal/core/usecases"
)

// --- Mock SyncQueueRepository ---

type mockQueueRepo struct {
	mu       sync.Mutex
	ops      []domain.SyncOperation
	failures []domain.FailedOperation

	enqueueFn func(ctx context.Context, op *domain.SyncOperation) error
}

func (m *mockQueueRepo) Enqueue(ctx context.Context, op *domain.SyncOperation) error {
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, op)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, *op)
	return nil
}

func (m *mockQueueRepo) ListReady(ctx context.Context, limit int) ([]domain.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []domain.SyncOperation
	for _, op := range m.ops {
		if !op.NextAttemptAt.After(now) {
			out = append(out, op)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockQueueRepo) ListAll(ctx context.Context) ([]domain.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SyncOperation, len(m.ops))
	copy(out, m.ops)
	return out, nil
}

func (m *mockQueueRepo) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, op := range m.ops {
		if op.ID == id {
			m.ops = append(m.ops[:i], m.ops[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *mockQueueRepo) Reschedule(ctx context.Context, op *domain.SyncOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.ops {
		if m.ops[i].ID == op.ID {
			m.ops[i] = *op
			return nil
		}
	}
	return nil
}

func (m *mockQueueRepo) LogFailure(ctx context.Context, failure *domain.FailedOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, *failure)
	return nil
}

func (m *mockQueueRepo) ListFailures(ctx context.Context, limit int) ([]domain.FailedOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.failures) {
		limit = len(m.failures)
	}
	out := make([]domain.FailedOperation, limit)
	copy(out, m.failures[:limit])
	return out, nil
}

func (m *mockQueueRepo) queued() []domain.SyncOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SyncOperation, len(m.ops))
	copy(out, m.ops)
	return out
}

// --- Mock DeviceStateRepository ---

type mockDeviceRepo struct {
	state domain.DeviceState
	ok    bool
	err   error
}

func (m *mockDeviceRepo) Put(ctx context.Context, state domain.DeviceState) error {
	m.state = state
	m.ok = true
	return nil
}

func (m *mockDeviceRepo) Get(ctx context.Context) (domain.DeviceState, bool, error) {
	return m.state, m.ok, m.err
}

// --- Mock OperationExecutor ---

type mockExecutor struct {
	mu       sync.Mutex
	executed []string
	failIDs  map[string]bool
}

func (m *mockExecutor) Execute(ctx context.Context, op domain.SyncOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs[op.ID] {
		return errors.New("upstream unavailable")
	}
	m.executed = append(m.executed, op.ID)
	return nil
}

func (m *mockExecutor) ran() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.executed))
	copy(out, m.executed)
	return out
}

// --- Mock trigger publisher ---

type triggerPublisher struct {
	mu       sync.Mutex
	triggers []domain.SyncPriority
}

func (p *triggerPublisher) PublishProgress(ctx context.Context, pr domain.DownloadProgress) error {
	return nil
}
func (p *triggerPublisher) PublishComplete(ctx context.Context, r domain.DownloadResult) error {
	return nil
}
func (p *triggerPublisher) PublishDownloadError(ctx context.Context, region string, err error) error {
	return nil
}
func (p *triggerPublisher) PublishSyncTrigger(ctx context.Context, priority domain.SyncPriority) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.triggers = append(p.triggers, priority)
	return nil
}

func op(id string, priority domain.SyncPriority, size int64) domain.SyncOperation {
	return domain.SyncOperation{
		ID:            id,
		Type:          "api_call",
		Priority:      priority,
		EstimatedSize: size,
		EnqueuedAt:    time.Now().UTC(),
		NextAttemptAt: time.Now().UTC(),
	}
}

func onlineDevice() *mockDeviceRepo {
	return &mockDeviceRepo{state: domain.DeviceState{Online: true, BatteryLevel: -1}, ok: true}
}

// --- Tests ---

func TestQueueOperation_GeneratesID(t *testing.T) {
	queue := &mockQueueRepo{}
	svc := usecases.NewSyncService(queue, onlineDevice(), &mockExecutor{}, nil)

	operation := &domain.SyncOperation{Type: "poi_save", Priority: domain.PriorityMedium}
	if err := svc.QueueOperation(context.Background(), operation); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(operation.ID, "op_") {
		t.Errorf("expected generated op_ id, got %q", operation.ID)
	}
	if operation.EnqueuedAt.IsZero() || operation.NextAttemptAt.IsZero() {
		t.Error("timestamps should be defaulted")
	}
	if len(queue.queued()) != 1 {
		t.Error("operation should be persisted")
	}
}

func TestQueueOperation_RequiresType(t *testing.T) {
	svc := usecases.NewSyncService(&mockQueueRepo{}, onlineDevice(), &mockExecutor{}, nil)
	if err := svc.QueueOperation(context.Background(), &domain.SyncOperation{}); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestQueueOperation_CriticalPublishesTrigger(t *testing.T) {
	events := &triggerPublisher{}
	svc := usecases.NewSyncService(&mockQueueRepo{}, onlineDevice(), &mockExecutor{}, events)

	critical := &domain.SyncOperation{Type: "sos", Priority: domain.PriorityCritical}
	if err := svc.QueueOperation(context.Background(), critical); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	medium := &domain.SyncOperation{Type: "poi_save", Priority: domain.PriorityMedium}
	if err := svc.QueueOperation(context.Background(), medium); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events.triggers) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(events.triggers))
	}
	if events.triggers[0] != domain.PriorityCritical {
		t.Errorf("expected critical trigger, got %s", events.triggers[0])
	}
}

func TestPerformSync_OfflineDoesNothing(t *testing.T) {
	queue := &mockQueueRepo{ops: []domain.SyncOperation{op("a", domain.PriorityHigh, 100)}}
	device := &mockDeviceRepo{state: domain.DeviceState{Online: false}, ok: true}
	exec := &mockExecutor{}
	svc := usecases.NewSyncService(queue, device, exec, nil)

	report, err := svc.PerformSync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Offline {
		t.Error("report should flag offline")
	}
	if len(exec.ran()) != 0 {
		t.Error("nothing should execute while offline")
	}
	if report.Interval != 300*time.Second {
		t.Errorf("expected offline interval 300s, got %s", report.Interval)
	}
}

func TestPerformSync_ExecutesAndRemoves(t *testing.T) {
	queue := &mockQueueRepo{ops: []domain.SyncOperation{
		op("a", domain.PriorityHigh, 100),
		op("b", domain.PriorityMedium, 100),
	}}
	exec := &mockExecutor{}
	svc := usecases.NewSyncService(queue, onlineDevice(), exec, nil)

	report, err := svc.PerformSync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Executed != 2 {
		t.Errorf("expected 2 executed, got %d", report.Executed)
	}
	if len(queue.queued()) != 0 {
		t.Errorf("queue should be drained, %d left", len(queue.queued()))
	}
}

func TestPerformSync_CriticalRunsBeforeOlderMedium(t *testing.T) {
	older := op("checkin", domain.PriorityMedium, 100)
	older.EnqueuedAt = older.EnqueuedAt.Add(-time.Minute)
	newer := op("sos", domain.PriorityCritical, 100)

	// The mock returns operations in insertion order, so this also
	// covers a backing store that ignores priority.
	queue := &mockQueueRepo{ops: []domain.SyncOperation{older, newer}}
	exec := &mockExecutor{}
	svc := usecases.NewSyncService(queue, onlineDevice(), exec, nil)

	if _, err := svc.PerformSync(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ran := exec.ran()
	if len(ran) != 2 {
		t.Fatalf("expected 2 executed, got %d", len(ran))
	}
	if ran[0] != "sos" || ran[1] != "checkin" {
		t.Errorf("critical op must run before the older medium one, got %v", ran)
	}
}

func TestPerformSync_BudgetSkipsLargeOps(t *testing.T) {
	// Roaming budget is 50KiB. The small medium op fits, the large one is
	// skipped, and the large critical op bypasses the budget entirely.
	queue := &mockQueueRepo{ops: []domain.SyncOperation{
		op("medium-small", domain.PriorityMedium, 1024),
		op("medium-big", domain.PriorityMedium, 500*1024),
		op("critical-big", domain.PriorityCritical, 500*1024),
	}}
	device := &mockDeviceRepo{state: domain.DeviceState{Online: true, Roaming: true, BatteryLevel: -1}, ok: true}
	exec := &mockExecutor{}
	svc := usecases.NewSyncService(queue, device, exec, nil)

	report, err := svc.PerformSync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Executed != 2 {
		t.Errorf("expected 2 executed, got %d", report.Executed)
	}
	if report.SkippedSize != 1 {
		t.Errorf("expected 1 skipped, got %d", report.SkippedSize)
	}
	ran := exec.ran()
	for _, id := range ran {
		if id == "medium-big" {
			t.Error("over-budget operation must not run")
		}
	}
}

func TestPerformSync_FailureReschedulesWithBackoff(t *testing.T) {
	queue := &mockQueueRepo{ops: []domain.SyncOperation{op("flaky", domain.PriorityHigh, 100)}}
	exec := &mockExecutor{failIDs: map[string]bool{"flaky": true}}
	svc := usecases.NewSyncService(queue, onlineDevice(), exec, nil)

	report, err := svc.PerformSync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Retried != 1 {
		t.Errorf("expected 1 retried, got %d", report.Retried)
	}

	ops := queue.queued()
	if len(ops) != 1 {
		t.Fatalf("operation should stay queued, got %d", len(ops))
	}
	if ops[0].RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", ops[0].RetryCount)
	}
	// First backoff is 2^1 seconds.
	wait := time.Until(ops[0].NextAttemptAt)
	if wait < time.Second || wait > 3*time.Second {
		t.Errorf("expected ~2s backoff, got %s", wait)
	}
}

func TestPerformSync_ExhaustedRetriesLandInFailureLog(t *testing.T) {
	worn := op("doomed", domain.PriorityHigh, 100)
	worn.RetryCount = domain.MaxSyncRetries - 1
	queue := &mockQueueRepo{ops: []domain.SyncOperation{worn}}
	exec := &mockExecutor{failIDs: map[string]bool{"doomed": true}}
	svc := usecases.NewSyncService(queue, onlineDevice(), exec, nil)

	report, err := svc.PerformSync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.MovedToLog != 1 {
		t.Errorf("expected 1 moved to log, got %d", report.MovedToLog)
	}
	if len(queue.queued()) != 0 {
		t.Error("failed operation should leave the active queue")
	}
	if len(queue.failures) != 1 {
		t.Fatalf("expected 1 failure logged, got %d", len(queue.failures))
	}
	if queue.failures[0].Operation.ID != "doomed" {
		t.Errorf("wrong operation logged: %s", queue.failures[0].Operation.ID)
	}
	if queue.failures[0].Reason == "" {
		t.Error("failure reason should be recorded")
	}
}

func TestDrainCritical_OnlyCriticals(t *testing.T) {
	queue := &mockQueueRepo{ops: []domain.SyncOperation{
		op("sos", domain.PriorityCritical, 100),
		op("note", domain.PriorityLow, 100),
	}}
	exec := &mockExecutor{}
	svc := usecases.NewSyncService(queue, onlineDevice(), exec, nil)

	report, err := svc.DrainCritical(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Executed != 1 {
		t.Errorf("expected 1 executed, got %d", report.Executed)
	}
	ran := exec.ran()
	if len(ran) != 1 || ran[0] != "sos" {
		t.Errorf("only the critical op should run, got %v", ran)
	}
	if len(queue.queued()) != 1 {
		t.Error("non-critical op should remain queued")
	}
}

func TestDeviceState_DefaultsWhenUnreported(t *testing.T) {
	svc := usecases.NewSyncService(&mockQueueRepo{}, &mockDeviceRepo{}, &mockExecutor{}, nil)

	state := svc.DeviceState(context.Background())
	if !state.Online {
		t.Error("unreported device should default to online")
	}
	if state.BatteryLevel != -1 {
		t.Errorf("unreported battery should be -1, got %f", state.BatteryLevel)
	}
	if got := svc.NextInterval(context.Background()); got != 30*time.Second {
		t.Errorf("expected 30s default interval, got %s", got)
	}
}

func TestReportDeviceState_DrivesScheduling(t *testing.T) {
	device := &mockDeviceRepo{}
	svc := usecases.NewSyncService(&mockQueueRepo{}, device, &mockExecutor{}, nil)

	low := domain.DeviceState{Online: true, BatteryLevel: 0.1}
	if err := svc.ReportDeviceState(context.Background(), low); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if device.state.ReportedAt.IsZero() {
		t.Error("ReportedAt should be stamped")
	}
	if got := svc.NextInterval(context.Background()); got != 120*time.Second {
		t.Errorf("expected low-battery interval 120s, got %s", got)
	}
}

func TestFailedOperations_ClampsLimit(t *testing.T) {
	queue := &mockQueueRepo{}
	for i := 0; i < 60; i++ {
		queue.failures = append(queue.failures, domain.FailedOperation{
			Operation: op("f", domain.PriorityLow, 0),
		})
	}
	svc := usecases.NewSyncService(queue, onlineDevice(), &mockExecutor{}, nil)

	failures, err := svc.FailedOperations(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failures) != 50 {
		t.Errorf("zero limit should clamp to 50, got %d", len(failures))
	}
}
