package coordinator

import (
	"time"

	"grohe-sync-backend/internal/device"
)

// Snapshot is the latest accepted state of one appliance. It is replaced as a whole and
// must not be modified after it has been published.
type Snapshot struct {
	Details          map[string]any `json:"details"`
	Status           map[string]any `json:"status"`
	Pressure         map[string]any `json:"pressure,omitempty"`
	TotalConsumption *float64       `json:"total_water_consumption,omitempty"`
	CapturedAt       time.Time      `json:"captured_at"`
}

// document is the shape timestamp paths are resolved against.
func (s *Snapshot) document() map[string]any {
	if s == nil {
		return nil
	}
	return map[string]any{
		"details":  s.Details,
		"status":   s.Status,
		"pressure": s.Pressure,
	}
}

// UpdateKind tells listeners what changed.
type UpdateKind int

const (
	SnapshotUpdated UpdateKind = iota
	IntervalChanged
)

func (k UpdateKind) String() string {
	if k == IntervalChanged {
		return "interval_changed"
	}
	return "snapshot_updated"
}

// Update is delivered to listeners. Previous is nil for the first snapshot and for
// interval changes.
type Update struct {
	Kind     UpdateKind
	Device   device.Identity
	Previous *Snapshot
	Current  *Snapshot
	Interval time.Duration
}

// Listener is called synchronously from the goroutine that caused the update.
type Listener func(Update)
