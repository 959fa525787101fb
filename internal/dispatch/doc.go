// Package dispatch delivers commands to devices.
//
// The queue sees a single Dispatcher. A Router picks the Transport
// registered for the device's protocol; the MQTT transport hands the
// command to a gateway that owns the raw BLE, Wi-Fi or USB link and waits
// for the gateway's acknowledgement on devsync/ack/{protocol}/{device}.
//
// Errors are classified for the retry policy: ErrInvalidCommand is
// permanent, everything else (ErrTimeout, ErrUnreachable, ErrNoTransport,
// ErrDeviceError) is transient.
package dispatch
