package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/devsync-core/internal/device"
	"github.com/nerrad567/devsync-core/internal/infrastructure/mqtt"
)

// ingestTimeout bounds the store writes for one MQTT message.
const ingestTimeout = 5 * time.Second

// StatusUpdater applies hardware status callbacks to devices.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, update device.StatusUpdate) (*device.Device, error)
}

// StatusMirror records device status points. *influxdb.Client satisfies it.
type StatusMirror interface {
	WriteDeviceStatus(deviceID string, online bool, battery, signal *int, at time.Time)
}

// Subscriber is the MQTT subscription surface the ingestor needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// readingMessage is one sample on devsync/telemetry/{protocol}/{device}.
type readingMessage struct {
	SensorType  string    `json:"sensor_type"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Quality     string    `json:"quality,omitempty"`
	RawValue    string    `json:"raw_value,omitempty"`
	IsProcessed bool      `json:"is_processed,omitempty"`
}

// statusMessage is a callback on devsync/status/{protocol}/{device}.
type statusMessage struct {
	Status         *string   `json:"status,omitempty"`
	Online         *bool     `json:"online,omitempty"`
	BatteryLevel   *int      `json:"battery_level,omitempty"`
	SignalStrength *int      `json:"signal_strength,omitempty"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	LocationName   *string   `json:"location_name,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Ingestor turns gateway MQTT messages into stored readings and device
// status updates.
type Ingestor struct {
	recorder *Recorder
	devices  StatusUpdater
	mirror   StatusMirror
	logger   Logger
}

// NewIngestor creates an ingestor.
func NewIngestor(recorder *Recorder, devices StatusUpdater) *Ingestor {
	return &Ingestor{recorder: recorder, devices: devices, logger: noopLogger{}}
}

// SetLogger sets the logger for the ingestor.
func (in *Ingestor) SetLogger(logger Logger) {
	in.logger = logger
}

// SetStatusMirror sets where status callbacks are mirrored.
func (in *Ingestor) SetStatusMirror(m StatusMirror) {
	in.mirror = m
}

// Subscribe registers the telemetry and status handlers.
func (in *Ingestor) Subscribe(sub Subscriber, qos byte) error {
	topics := mqtt.Topics{}
	if err := sub.Subscribe(topics.AllDeviceTelemetry(), qos, in.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to telemetry: %w", err)
	}
	if err := sub.Subscribe(topics.AllDeviceStatus(), qos, in.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to device status: %w", err)
	}
	return nil
}

// HandleMessage routes a telemetry or status message. Telemetry payloads
// may be a single reading object or an array of them.
func (in *Ingestor) HandleMessage(topic string, payload []byte) error {
	category, _, deviceID, ok := mqtt.ParseDeviceTopic(topic)
	if !ok {
		return fmt.Errorf("unrecognised topic %q", topic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	switch category {
	case "telemetry":
		return in.handleTelemetry(ctx, deviceID, payload)
	case "status":
		return in.handleStatus(ctx, deviceID, payload)
	default:
		return fmt.Errorf("unexpected topic category %q", category)
	}
}

func (in *Ingestor) handleTelemetry(ctx context.Context, deviceID string, payload []byte) error {
	var msgs []readingMessage
	if len(payload) > 0 && payload[0] == '[' {
		if err := json.Unmarshal(payload, &msgs); err != nil {
			return fmt.Errorf("decoding telemetry batch: %w", err)
		}
	} else {
		var msg readingMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decoding telemetry: %w", err)
		}
		msgs = append(msgs, msg)
	}

	readings := make([]Reading, len(msgs))
	for i, m := range msgs {
		readings[i] = Reading{
			DeviceID:    deviceID,
			SensorType:  m.SensorType,
			Value:       m.Value,
			Unit:        m.Unit,
			Timestamp:   m.Timestamp,
			Quality:     m.Quality,
			RawValue:    m.RawValue,
			IsProcessed: m.IsProcessed,
		}
	}
	if _, err := in.recorder.RecordBatch(ctx, readings); err != nil {
		return err
	}
	return nil
}

func (in *Ingestor) handleStatus(ctx context.Context, deviceID string, payload []byte) error {
	var msg statusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}
	at := msg.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}

	update := device.StatusUpdate{
		IsOnline:       msg.Online,
		BatteryLevel:   msg.BatteryLevel,
		SignalStrength: msg.SignalStrength,
		Latitude:       msg.Latitude,
		Longitude:      msg.Longitude,
		LocationName:   msg.LocationName,
		SeenAt:         at,
	}
	if msg.Status != nil {
		s := device.Status(*msg.Status)
		update.Status = &s
	}

	d, err := in.devices.UpdateStatus(ctx, deviceID, update)
	if err != nil {
		return fmt.Errorf("updating device %s status: %w", deviceID, err)
	}

	if in.mirror != nil {
		in.mirror.WriteDeviceStatus(deviceID, d.IsOnline, d.BatteryLevel, d.SignalStrength, at)
	}
	return nil
}
