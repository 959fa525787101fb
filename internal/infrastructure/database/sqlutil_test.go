package database

import (
	"database/sql"
	"errors"
	"sort"
	"testing"
	"time"
)

func TestFormatTime_SortsChronologically(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	times := []time.Time{
		base.Add(500 * time.Millisecond),
		base,
		base.Add(time.Second),
		base.Add(123 * time.Microsecond),
	}

	formatted := make([]string, len(times))
	for i, ts := range times {
		formatted[i] = FormatTime(ts)
	}
	sort.Strings(formatted)

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for i := range times {
		if formatted[i] != FormatTime(times[i]) {
			t.Errorf("position %d = %s, want %s", i, formatted[i], FormatTime(times[i]))
		}
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2026, 3, 1, 9, 30, 0, 250, time.UTC)

	got, err := ParseTime(FormatTime(want))
	if err != nil {
		t.Fatalf("ParseTime() error = %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("ParseTime() = %v, want %v", got, want)
	}

	got, err = ParseTime("2026-03-01T10:30:00+01:00")
	if err != nil {
		t.Fatalf("ParseTime(RFC3339) error = %v", err)
	}
	if !got.Equal(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("ParseTime(RFC3339) = %v", got)
	}

	if _, err := ParseTime("yesterday"); err == nil {
		t.Error("ParseTime(garbage) expected error")
	}
}

func TestNullHelpers(t *testing.T) {
	if NullTime(nil).Valid {
		t.Error("NullTime(nil) should be invalid")
	}
	now := time.Now()
	if got := ScanNullTime(NullTime(&now)); got == nil || !got.Equal(now.UTC().Truncate(time.Nanosecond)) {
		t.Errorf("ScanNullTime(NullTime(now)) = %v, want %v", got, now)
	}
	if ScanNullTime(sql.NullString{String: "bad", Valid: true}) != nil {
		t.Error("ScanNullTime(bad) should be nil")
	}
	if NullString("").Valid {
		t.Error(`NullString("") should be invalid`)
	}
	if !NullString("x").Valid {
		t.Error(`NullString("x") should be valid`)
	}
}

func TestConstraintErrors(t *testing.T) {
	if !IsUniqueConstraintError(errors.New("UNIQUE constraint failed: configuration.device_id")) {
		t.Error("IsUniqueConstraintError() = false, want true")
	}
	if IsUniqueConstraintError(nil) {
		t.Error("IsUniqueConstraintError(nil) = true")
	}
	if !IsForeignKeyError(errors.New("FOREIGN KEY constraint failed")) {
		t.Error("IsForeignKeyError() = false, want true")
	}
}

func TestPlaceholders(t *testing.T) {
	tests := map[int]string{0: "", 1: "?", 3: "?, ?, ?"}
	for n, want := range tests {
		if got := Placeholders(n); got != want {
			t.Errorf("Placeholders(%d) = %q, want %q", n, got, want)
		}
	}
}
