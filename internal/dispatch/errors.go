package dispatch

import "errors"

// Dispatch errors. ErrInvalidCommand is permanent; the rest are transient
// and feed the command retry policy.
var (
	// ErrTimeout is returned when no acknowledgement arrives before the deadline.
	ErrTimeout = errors.New("dispatch: timed out waiting for device")

	// ErrUnreachable is returned when the transport cannot reach the device.
	ErrUnreachable = errors.New("dispatch: device unreachable")

	// ErrNoTransport is returned when no transport is registered for a protocol.
	ErrNoTransport = errors.New("dispatch: no transport for protocol")

	// ErrDeviceError is returned when the device acknowledged the command with a failure.
	ErrDeviceError = errors.New("dispatch: device reported failure")

	// ErrInvalidCommand is returned when the device or gateway rejected the
	// command as malformed. It is never retried.
	ErrInvalidCommand = errors.New("dispatch: invalid command")
)

// IsPermanent reports whether err should skip the retry policy.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidCommand)
}
