package settings

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const maxKeyLength = 128

// keyPattern allows dotted keys such as "sampling.interval_s".
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]*$`)

// Rules is the decoded form of Entry.ValidationRules.
type Rules struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Enum      []string `json:"enum,omitempty"`
}

// ParseRules decodes validation rules. An empty string means no rules.
func ParseRules(raw string) (Rules, error) {
	var r Rules
	if strings.TrimSpace(raw) == "" {
		return r, nil
	}
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return r, fmt.Errorf("%w: malformed validation rules: %w", ErrValidation, err)
	}
	return r, nil
}

// ValidateKey checks a configuration key.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: config_key is required", ErrValidation)
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("%w: config_key exceeds %d characters", ErrValidation, maxKeyLength)
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: config_key %q has invalid characters", ErrValidation, key)
	}
	return nil
}

// ValidateValue checks value against its declared type and rules.
func ValidateValue(value string, dataType DataType, rulesJSON string) error {
	rules, err := ParseRules(rulesJSON)
	if err != nil {
		return err
	}

	var number *float64
	switch dataType {
	case TypeString, "":
	case TypeInt:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not an integer", ErrValidation, value)
		}
		f := float64(n)
		number = &f
	case TypeFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not a number", ErrValidation, value)
		}
		number = &f
	case TypeBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%w: %q is not a boolean", ErrValidation, value)
		}
	case TypeJSON:
		if !json.Valid([]byte(value)) {
			return fmt.Errorf("%w: value is not valid JSON", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown data type %q", ErrValidation, dataType)
	}

	if number != nil {
		if rules.Min != nil && *number < *rules.Min {
			return fmt.Errorf("%w: %v is below minimum %v", ErrValidation, *number, *rules.Min)
		}
		if rules.Max != nil && *number > *rules.Max {
			return fmt.Errorf("%w: %v is above maximum %v", ErrValidation, *number, *rules.Max)
		}
	}
	if rules.MaxLength != nil && len(value) > *rules.MaxLength {
		return fmt.Errorf("%w: value exceeds %d characters", ErrValidation, *rules.MaxLength)
	}
	if rules.Pattern != "" {
		re, err := regexp.Compile(rules.Pattern)
		if err != nil {
			return fmt.Errorf("%w: bad pattern in rules: %w", ErrValidation, err)
		}
		if !re.MatchString(value) {
			return fmt.Errorf("%w: value does not match %q", ErrValidation, rules.Pattern)
		}
	}
	if len(rules.Enum) > 0 {
		for _, allowed := range rules.Enum {
			if value == allowed {
				return nil
			}
		}
		return fmt.Errorf("%w: %q is not one of %v", ErrValidation, value, rules.Enum)
	}
	return nil
}
