package telemetry

import "errors"

var (
	// ErrInvalidReading is returned for readings that fail validation.
	ErrInvalidReading = errors.New("telemetry: invalid reading")

	// ErrUnknownDevice is returned when a reading names a device that is
	// not stored locally.
	ErrUnknownDevice = errors.New("telemetry: unknown device")
)
