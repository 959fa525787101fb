package device

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid name", "Greenhouse Probe", false},
		{"single char", "A", false},
		{"max length", strings.Repeat("a", maxNameLength), false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"too long", strings.Repeat("a", maxNameLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("ValidateName(%q) error = %v, want ErrInvalidName", tt.input, err)
			}
		})
	}
}

func TestValidateProtocol(t *testing.T) {
	for _, p := range AllProtocols() {
		if err := ValidateProtocol(p); err != nil {
			t.Errorf("ValidateProtocol(%q) error = %v", p, err)
		}
	}
	if err := ValidateProtocol("zigbee"); !errors.Is(err, ErrInvalidProtocol) {
		t.Errorf("ValidateProtocol(zigbee) error = %v, want ErrInvalidProtocol", err)
	}
}

func TestValidateStatus(t *testing.T) {
	for _, s := range AllStatuses() {
		if err := ValidateStatus(s); err != nil {
			t.Errorf("ValidateStatus(%q) error = %v", s, err)
		}
	}
	if err := ValidateStatus(""); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("ValidateStatus(\"\") error = %v, want ErrInvalidStatus", err)
	}
}

func TestValidateDevice(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Device)
		wantErr error
	}{
		{name: "valid", mutate: func(*Device) {}},
		{name: "missing id", mutate: func(d *Device) { d.ID = "" }, wantErr: ErrInvalidDevice},
		{name: "missing name", mutate: func(d *Device) { d.Name = "" }, wantErr: ErrInvalidName},
		{name: "missing type", mutate: func(d *Device) { d.Type = "" }, wantErr: ErrInvalidDevice},
		{name: "bad protocol", mutate: func(d *Device) { d.Protocol = "serial" }, wantErr: ErrInvalidProtocol},
		{name: "bad status", mutate: func(d *Device) { d.Status = "broken" }, wantErr: ErrInvalidStatus},
		{name: "bad quality", mutate: func(d *Device) { d.ConnectionQuality = "superb" }, wantErr: ErrInvalidDevice},
		{name: "battery too high", mutate: func(d *Device) { d.BatteryLevel = intPtr(101) }, wantErr: ErrInvalidReading},
		{name: "latitude out of range", mutate: func(d *Device) { d.Latitude = floatPtr(91) }, wantErr: ErrInvalidReading},
		{name: "longitude out of range", mutate: func(d *Device) { d.Longitude = floatPtr(-181) }, wantErr: ErrInvalidReading},
		{
			name:    "oversized metadata value",
			mutate:  func(d *Device) { d.Metadata = map[string]any{"blob": strings.Repeat("x", maxStringValueLen+1)} },
			wantErr: ErrInvalidDevice,
		},
		{
			name: "too deeply nested configuration",
			mutate: func(d *Device) {
				nested := map[string]any{}
				cur := nested
				for i := 0; i <= maxNestingDepth+1; i++ {
					next := map[string]any{}
					cur["n"] = next
					cur = next
				}
				d.Configuration = nested
			},
			wantErr: ErrInvalidDevice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDevice("dev-1", "Probe")
			tt.mutate(d)
			err := ValidateDevice(d)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDevice() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDevice() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateDevice(nil); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("ValidateDevice(nil) error = %v, want ErrInvalidDevice", err)
	}
}

func TestQualityFromSignal(t *testing.T) {
	tests := []struct {
		dbm  int
		want ConnectionQuality
	}{
		{-40, QualityExcellent},
		{-50, QualityExcellent},
		{-60, QualityGood},
		{-75, QualityFair},
		{-95, QualityPoor},
	}
	for _, tt := range tests {
		if got := QualityFromSignal(tt.dbm); got != tt.want {
			t.Errorf("QualityFromSignal(%d) = %q, want %q", tt.dbm, got, tt.want)
		}
	}
}

func TestDeepCopy(t *testing.T) {
	d := testDevice("dev-1", "Probe")
	d.BatteryLevel = intPtr(50)
	d.Metadata = map[string]any{"tags": []any{"a"}, "nested": map[string]any{"k": "v"}}

	cpy := d.DeepCopy()
	*cpy.BatteryLevel = 10
	cpy.Metadata["tags"].([]any)[0] = "b"
	cpy.Metadata["nested"].(map[string]any)["k"] = "changed"

	if *d.BatteryLevel != 50 {
		t.Error("BatteryLevel shared between copies")
	}
	if d.Metadata["tags"].([]any)[0] != "a" {
		t.Error("slice shared between copies")
	}
	if d.Metadata["nested"].(map[string]any)["k"] != "v" {
		t.Error("nested map shared between copies")
	}
	if (*Device)(nil).DeepCopy() != nil {
		t.Error("DeepCopy(nil) should be nil")
	}
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == "" || a == b {
		t.Errorf("GenerateID() = %q, %q; want distinct non-empty", a, b)
	}
}
