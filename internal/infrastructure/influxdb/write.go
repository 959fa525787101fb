package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the core.
const (
	MeasurementTelemetry    = "telemetry"
	MeasurementDeviceStatus = "device_status"
)

// Reading is one sensor sample to mirror.
type Reading struct {
	DeviceID   string
	SensorType string
	Unit       string
	Quality    string
	Value      float64
	Timestamp  time.Time
}

// ReadingPoint builds the point for a sensor sample. Device and sensor are
// tags; unit and quality are tags only when present.
func ReadingPoint(r Reading) *write.Point {
	tags := map[string]string{
		"device_id":   r.DeviceID,
		"sensor_type": r.SensorType,
	}
	if r.Unit != "" {
		tags["unit"] = r.Unit
	}
	if r.Quality != "" {
		tags["quality"] = r.Quality
	}
	return write.NewPoint(MeasurementTelemetry, tags, map[string]any{"value": r.Value}, r.Timestamp)
}

// WriteReading queues a sensor sample.
func (c *Client) WriteReading(r Reading) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(ReadingPoint(r))
}

// WriteDeviceStatus records the link state reported by a hardware
// callback. Nil readings are omitted from the point.
func (c *Client) WriteDeviceStatus(deviceID string, online bool, battery, signal *int, at time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]any{"online": online}
	if battery != nil {
		fields["battery_level"] = *battery
	}
	if signal != nil {
		fields["signal_strength"] = *signal
	}
	c.WritePointWithTime(MeasurementDeviceStatus, map[string]string{"device_id": deviceID}, fields, at)
}

// WritePointWithTime writes a custom point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
