package domain

import (
	"encoding/json"
	"time"
)

// SyncPriority orders queued operations. Lower value drains first.
type SyncPriority int

const (
	PriorityCritical SyncPriority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

func (p SyncPriority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// ParseSyncPriority maps the wire form back to a priority. Unknown values
// fall back to medium.
func ParseSyncPriority(s string) SyncPriority {
	switch s {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// MaxSyncRetries bounds retry attempts before an operation is moved to the
// permanent failure log.
const MaxSyncRetries = 3

// SyncOperation is one pending network operation queued for deferred
// execution. The queue is persisted after every mutation so operations
// survive a restart while offline.
type SyncOperation struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Priority      SyncPriority    `json:"priority"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	RetryCount    int             `json:"retry_count"`
	EstimatedSize int64           `json:"estimated_size_bytes"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
}

// FailedOperation is a sync operation that exhausted its retries. It is
// kept for inspection and never retried again.
type FailedOperation struct {
	Operation SyncOperation `json:"operation"`
	Reason    string        `json:"reason"`
	FailedAt  time.Time     `json:"failed_at"`
}

// DeviceState is the client-reported network and battery condition the
// scheduler adapts to. A device that never reported is treated as online
// on an unmetered connection.
type DeviceState struct {
	Online          bool      `json:"online"`
	Roaming         bool      `json:"roaming"`
	BatteryLevel    float64   `json:"battery_level"` // 0-1, -1 when unknown
	BatteryCharging bool      `json:"battery_charging"`
	ReportedAt      time.Time `json:"reported_at"`
}

// LowBattery reports whether the device is below 20% and not charging.
func (d DeviceState) LowBattery() bool {
	return d.BatteryLevel >= 0 && d.BatteryLevel < 0.2 && !d.BatteryCharging
}

// SyncInterval picks the scheduler cycle interval from the most restrictive
// currently-true condition: roaming > low battery > offline > online.
func (d DeviceState) SyncInterval() time.Duration {
	switch {
	case d.Roaming:
		return 600 * time.Second
	case d.LowBattery():
		return 120 * time.Second
	case !d.Online:
		return 300 * time.Second
	default:
		return 30 * time.Second
	}
}

// DataBudget returns the byte budget for one sync cycle.
func (d DeviceState) DataBudget() int64 {
	switch {
	case d.Roaming:
		return 50 * 1024
	case d.LowBattery():
		return 100 * 1024
	default:
		return 1024 * 1024
	}
}
