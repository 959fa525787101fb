package device

import "errors"

// Sentinel errors; match with errors.Is. Validation returns the most
// specific one that applies.
var (
	ErrDeviceNotFound = errors.New("device: not found")
	ErrDeviceExists   = errors.New("device: already exists")

	ErrInvalidDevice   = errors.New("device: invalid")
	ErrInvalidName     = errors.New("device: invalid name")
	ErrInvalidProtocol = errors.New("device: unsupported protocol")
	ErrInvalidStatus   = errors.New("device: unknown status")
	// ErrInvalidReading covers battery, signal and location values out of range.
	ErrInvalidReading = errors.New("device: reading out of range")
)
