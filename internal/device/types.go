package device

import "time"

// Device is a piece of hardware mirrored from the backend and updated by
// hardware callbacks. It owns its commands, telemetry and configuration rows;
// deleting a device cascades to all of them.
type Device struct {
	// Identity
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Protocol Protocol `json:"protocol"`
	Status   Status   `json:"status"`

	// Ownership. Token is the per-device credential issued by the backend.
	Token  string `json:"-"`
	UserID string `json:"user_id,omitempty"`

	// Network and hardware identifiers
	MACAddress      string `json:"mac_address,omitempty"`
	IPAddress       string `json:"ip_address,omitempty"`
	SerialNumber    string `json:"serial_number,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	HardwareVersion string `json:"hardware_version,omitempty"`

	// Live readings reported by the transport layer
	LastSeen       *time.Time `json:"last_seen,omitempty"`
	BatteryLevel   *int       `json:"battery_level,omitempty"`
	SignalStrength *int       `json:"signal_strength,omitempty"`

	// Location
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	LocationName string   `json:"location_name,omitempty"`

	Configuration map[string]any `json:"configuration"`
	Metadata      map[string]any `json:"metadata"`

	IsOnline          bool              `json:"is_online"`
	ConnectionQuality ConnectionQuality `json:"connection_quality"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates a complete independent copy of the Device.
// All map and pointer fields are cloned so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	cpy.Configuration = deepCopyMap(d.Configuration)
	cpy.Metadata = deepCopyMap(d.Metadata)

	cpy.LastSeen = copyPtr(d.LastSeen)
	cpy.BatteryLevel = copyPtr(d.BatteryLevel)
	cpy.SignalStrength = copyPtr(d.SignalStrength)
	cpy.Latitude = copyPtr(d.Latitude)
	cpy.Longitude = copyPtr(d.Longitude)

	return &cpy
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}

// Protocol is the transport a device is reached over.
type Protocol string

// Supported protocols.
const (
	ProtocolBLE  Protocol = "ble"
	ProtocolWiFi Protocol = "wifi"
	ProtocolUSB  Protocol = "usb"
	ProtocolMQTT Protocol = "mqtt"
)

// AllProtocols returns all valid protocols.
func AllProtocols() []Protocol {
	return []Protocol{ProtocolBLE, ProtocolWiFi, ProtocolUSB, ProtocolMQTT}
}

// Status is the operational status of a device as reported by the backend
// or a hardware callback.
type Status string

// Device statuses.
const (
	StatusActive      Status = "active"
	StatusInactive    Status = "inactive"
	StatusMaintenance Status = "maintenance"
	StatusError       Status = "error"
	StatusUnknown     Status = "unknown"
)

// AllStatuses returns all valid device statuses.
func AllStatuses() []Status {
	return []Status{StatusActive, StatusInactive, StatusMaintenance, StatusError, StatusUnknown}
}

// ConnectionQuality grades the link to a device.
type ConnectionQuality string

// Connection quality grades.
const (
	QualityExcellent ConnectionQuality = "excellent"
	QualityGood      ConnectionQuality = "good"
	QualityFair      ConnectionQuality = "fair"
	QualityPoor      ConnectionQuality = "poor"
	QualityUnknown   ConnectionQuality = "unknown"
)

// AllConnectionQualities returns all valid connection quality grades.
func AllConnectionQualities() []ConnectionQuality {
	return []ConnectionQuality{QualityExcellent, QualityGood, QualityFair, QualityPoor, QualityUnknown}
}

// QualityFromSignal grades an RSSI reading in dBm.
func QualityFromSignal(dbm int) ConnectionQuality {
	switch {
	case dbm >= -50:
		return QualityExcellent
	case dbm >= -65:
		return QualityGood
	case dbm >= -80:
		return QualityFair
	default:
		return QualityPoor
	}
}

// StatusUpdate carries the fields a hardware callback may change. Nil
// fields are left as they are.
type StatusUpdate struct {
	Status         *Status
	IsOnline       *bool
	BatteryLevel   *int
	SignalStrength *int
	Latitude       *float64
	Longitude      *float64
	LocationName   *string
	SeenAt         time.Time
}

// apply merges u into d. ConnectionQuality follows SignalStrength.
func (u StatusUpdate) apply(d *Device) {
	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.IsOnline != nil {
		d.IsOnline = *u.IsOnline
	}
	if u.BatteryLevel != nil {
		d.BatteryLevel = copyPtr(u.BatteryLevel)
	}
	if u.SignalStrength != nil {
		d.SignalStrength = copyPtr(u.SignalStrength)
		d.ConnectionQuality = QualityFromSignal(*u.SignalStrength)
	}
	if u.Latitude != nil {
		d.Latitude = copyPtr(u.Latitude)
	}
	if u.Longitude != nil {
		d.Longitude = copyPtr(u.Longitude)
	}
	if u.LocationName != nil {
		d.LocationName = *u.LocationName
	}
	if !u.SeenAt.IsZero() {
		seen := u.SeenAt.UTC()
		d.LastSeen = &seen
	}
}
