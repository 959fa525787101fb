package telemetry

import "time"

// SyncStatus tracks whether the backend has confirmed a reading.
type SyncStatus string

// Sync statuses.
const (
	SyncPending SyncStatus = "PENDING"
	SyncSynced  SyncStatus = "SYNCED"
	SyncFailed  SyncStatus = "FAILED"
)

// Reading is one sensor sample reported by a device. Readings are
// append-only; only SyncStatus changes after insert.
type Reading struct {
	ID          string     `json:"id"`
	DeviceID    string     `json:"device_id"`
	SensorType  string     `json:"sensor_type"`
	Value       float64    `json:"value"`
	Unit        string     `json:"unit,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
	Quality     string     `json:"quality,omitempty"`
	RawValue    string     `json:"raw_value,omitempty"`
	IsProcessed bool       `json:"is_processed"`
	SyncStatus  SyncStatus `json:"sync_status"`
}

// Filter narrows Query results. Zero values match everything.
type Filter struct {
	DeviceID   string
	SensorType string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Counts holds reading totals per sync status.
type Counts struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}
