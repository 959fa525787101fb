package mqtt

import "fmt"

// Topic prefixes. Device topics use the flat scheme
// devsync/{category}/{protocol}/{device_id} so a gateway for one transport
// can subscribe with a single wildcard.
const (
	// TopicPrefix is the base for all device topics.
	TopicPrefix = "devsync"

	// TopicPrefixCore is the base for topics published by the core itself.
	TopicPrefixCore = "devsync/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "devsync/system"
)

// Topics provides builders for devsync MQTT topics.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.DeviceCommand("ble", "dev-42")
//	// Returns: "devsync/command/ble/dev-42"
type Topics struct{}

// DeviceCommand returns the topic commands are published on for a device.
//
// Example: devsync/command/ble/dev-42
func (Topics) DeviceCommand(protocol, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, deviceID)
}

// DeviceAck returns the topic a gateway acknowledges commands on.
//
// Example: devsync/ack/ble/dev-42
func (Topics) DeviceAck(protocol, deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocol, deviceID)
}

// DeviceTelemetry returns the topic a gateway publishes sensor readings on.
//
// Example: devsync/telemetry/wifi/dev-7
func (Topics) DeviceTelemetry(protocol, deviceID string) string {
	return fmt.Sprintf("%s/telemetry/%s/%s", TopicPrefix, protocol, deviceID)
}

// DeviceStatus returns the topic a gateway publishes status callbacks on
// (online state, battery, signal, location).
//
// Example: devsync/status/usb/dev-3
func (Topics) DeviceStatus(protocol, deviceID string) string {
	return fmt.Sprintf("%s/status/%s/%s", TopicPrefix, protocol, deviceID)
}

// CoreEvent returns the topic for core events such as sync completion.
//
// Example: devsync/core/event/sync_completed
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// SystemStatus returns the system status topic.
//
// Example: devsync/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceAcks matches acknowledgements from every gateway.
//
// Pattern: devsync/ack/+/+
func (Topics) AllDeviceAcks() string {
	return fmt.Sprintf("%s/ack/+/+", TopicPrefix)
}

// AllDeviceTelemetry matches readings from every gateway.
//
// Pattern: devsync/telemetry/+/+
func (Topics) AllDeviceTelemetry() string {
	return fmt.Sprintf("%s/telemetry/+/+", TopicPrefix)
}

// AllDeviceStatus matches status callbacks from every gateway.
//
// Pattern: devsync/status/+/+
func (Topics) AllDeviceStatus() string {
	return fmt.Sprintf("%s/status/+/+", TopicPrefix)
}

// ParseDeviceTopic splits a device topic into its category, protocol and
// device ID. ok is false if topic is not a four-segment devsync topic.
func ParseDeviceTopic(topic string) (category, protocol, deviceID string, ok bool) {
	var parts [4]string
	n := 0
	start := 0
	for i := 0; i <= len(topic); i++ {
		if i == len(topic) || topic[i] == '/' {
			if n == len(parts) {
				return "", "", "", false
			}
			parts[n] = topic[start:i]
			n++
			start = i + 1
		}
	}
	if n != len(parts) || parts[0] != TopicPrefix {
		return "", "", "", false
	}
	for _, p := range parts[1:] {
		if p == "" {
			return "", "", "", false
		}
	}
	return parts[1], parts[2], parts[3], true
}
