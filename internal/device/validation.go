package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength = 100
	maxTypeLength = 64

	// Size limits for JSON fields to prevent DoS via memory exhaustion.
	maxConfigurationKeys = 100
	maxMetadataKeys      = 100
	maxStringValueLen    = 1024
	maxArrayLen          = 100

	// maxNestingDepth prevents stack overflow from deeply nested structures.
	maxNestingDepth = 10
)

// Pre-computed validation sets for O(1) lookups.
var (
	validProtocols = setOf(AllProtocols())
	validStatuses  = setOf(AllStatuses())
	validQualities = setOf(AllConnectionQualities())
)

func setOf[T comparable](values []T) map[T]struct{} {
	set := make(map[T]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// ValidateDevice performs validation on a device.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: device is nil", ErrInvalidDevice)
	}
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if strings.TrimSpace(d.Type) == "" || len(d.Type) > maxTypeLength {
		return fmt.Errorf("%w: type must be 1-%d characters", ErrInvalidDevice, maxTypeLength)
	}
	if err := ValidateProtocol(d.Protocol); err != nil {
		return err
	}
	if err := ValidateStatus(d.Status); err != nil {
		return err
	}
	if d.ConnectionQuality != "" {
		if _, ok := validQualities[d.ConnectionQuality]; !ok {
			return fmt.Errorf("%w: connection quality %q", ErrInvalidDevice, d.ConnectionQuality)
		}
	}
	if err := validateReadings(d.BatteryLevel, d.Latitude, d.Longitude); err != nil {
		return err
	}

	if len(d.Configuration) > maxConfigurationKeys {
		return fmt.Errorf("%w: configuration exceeds %d keys", ErrInvalidDevice, maxConfigurationKeys)
	}
	if err := validateMapSize(d.Configuration, "configuration", 0); err != nil {
		return err
	}
	if len(d.Metadata) > maxMetadataKeys {
		return fmt.Errorf("%w: metadata exceeds %d keys", ErrInvalidDevice, maxMetadataKeys)
	}
	return validateMapSize(d.Metadata, "metadata", 0)
}

// ValidateStatusUpdate checks the ranged fields of a hardware callback.
func ValidateStatusUpdate(u StatusUpdate) error {
	if u.Status != nil {
		if err := ValidateStatus(*u.Status); err != nil {
			return err
		}
	}
	return validateReadings(u.BatteryLevel, u.Latitude, u.Longitude)
}

func validateReadings(battery *int, lat, lon *float64) error {
	if battery != nil && (*battery < 0 || *battery > 100) {
		return fmt.Errorf("%w: battery level %d outside 0-100", ErrInvalidReading, *battery)
	}
	if lat != nil && (*lat < -90 || *lat > 90) {
		return fmt.Errorf("%w: latitude %v outside -90..90", ErrInvalidReading, *lat)
	}
	if lon != nil && (*lon < -180 || *lon > 180) {
		return fmt.Errorf("%w: longitude %v outside -180..180", ErrInvalidReading, *lon)
	}
	return nil
}

// validateMapSize recursively validates map values with depth tracking.
func validateMapSize(m map[string]any, fieldName string, depth int) error {
	if depth > maxNestingDepth {
		return fmt.Errorf("%w: %s exceeds maximum nesting depth", ErrInvalidDevice, fieldName)
	}

	for k, v := range m {
		if len(k) > maxStringValueLen {
			return fmt.Errorf("%w: %s key too long", ErrInvalidDevice, fieldName)
		}
		if err := validateValueSize(v, fieldName, depth); err != nil {
			return err
		}
	}
	return nil
}

// validateValueSize recursively validates a value's size.
func validateValueSize(v any, fieldName string, depth int) error {
	switch val := v.(type) {
	case string:
		if len(val) > maxStringValueLen {
			return fmt.Errorf("%w: %s string value too long", ErrInvalidDevice, fieldName)
		}
	case map[string]any:
		if len(val) > maxConfigurationKeys {
			return fmt.Errorf("%w: %s nested map too large", ErrInvalidDevice, fieldName)
		}
		return validateMapSize(val, fieldName, depth+1)
	case []any:
		if len(val) > maxArrayLen {
			return fmt.Errorf("%w: %s array too large", ErrInvalidDevice, fieldName)
		}
		for _, elem := range val {
			if err := validateValueSize(elem, fieldName, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateProtocol checks if a protocol is valid.
func ValidateProtocol(protocol Protocol) error {
	if _, ok := validProtocols[protocol]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidProtocol, protocol)
	}
	return nil
}

// ValidateStatus checks if a status is valid.
func ValidateStatus(status Status) error {
	if _, ok := validStatuses[status]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return nil
}

// GenerateID creates a new UUID for a device.
func GenerateID() string {
	return uuid.New().String()
}
