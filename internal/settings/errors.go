package settings

import "errors"

var (
	// ErrNotFound is returned when a configuration entry does not exist.
	ErrNotFound = errors.New("settings: entry not found")

	// ErrValidation is returned for values that do not match their data
	// type or validation rules.
	ErrValidation = errors.New("settings: validation failed")

	// ErrReadOnly is returned when editing a read-only entry locally.
	ErrReadOnly = errors.New("settings: entry is read-only")

	// ErrUnknownDevice is returned when the device is not stored locally.
	ErrUnknownDevice = errors.New("settings: unknown device")
)
