package settings

import "time"

// SyncStatus tracks whether the backend has confirmed an entry.
type SyncStatus string

// Sync statuses.
const (
	SyncPending SyncStatus = "PENDING"
	SyncSynced  SyncStatus = "SYNCED"
	SyncFailed  SyncStatus = "FAILED"
)

// DataType is the declared type of a configuration value. Values are
// always stored as text.
type DataType string

// Supported data types.
const (
	TypeString DataType = "string"
	TypeInt    DataType = "int"
	TypeFloat  DataType = "float"
	TypeBool   DataType = "bool"
	TypeJSON   DataType = "json"
)

// DefaultCategory is used when an entry has no category.
const DefaultCategory = "general"

// Entry is one per-device configuration value.
type Entry struct {
	ID              string     `json:"id"`
	DeviceID        string     `json:"device_id"`
	ConfigKey       string     `json:"config_key"`
	ConfigValue     string     `json:"config_value"`
	DataType        DataType   `json:"data_type"`
	Category        string     `json:"category"`
	IsReadOnly      bool       `json:"is_read_only"`
	ValidationRules string     `json:"validation_rules,omitempty"`
	Priority        int        `json:"priority"`
	SyncStatus      SyncStatus `json:"sync_status"`
	LastModified    time.Time  `json:"last_modified"`
	CreatedAt       time.Time  `json:"created_at"`
}

// SetRequest is a local edit of a configuration value.
type SetRequest struct {
	DeviceID    string   `json:"device_id"`
	ConfigKey   string   `json:"config_key"`
	ConfigValue string   `json:"config_value"`
	DataType    DataType `json:"data_type,omitempty"`
	Category    string   `json:"category,omitempty"`
}

// Outcome reports how a remote value was merged.
type Outcome string

// Merge outcomes.
const (
	// OutcomeApplied means the remote value was written as SYNCED.
	OutcomeApplied Outcome = "applied"

	// OutcomeKeptLocal means a newer local PENDING edit was kept and will
	// be pushed on the next cycle.
	OutcomeKeptLocal Outcome = "kept_local"
)

// Counts holds entry totals per sync status.
type Counts struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}
