package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/devsync-core/internal/device"
	"github.com/nerrad567/devsync-core/internal/infrastructure/database/dbtest"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) (*Store, *SQLiteRepository) {
	t.Helper()
	db := dbtest.Open(t).DB
	devices := device.NewSQLiteRepository(db)
	for _, id := range []string{"dev-1", "dev-2"} {
		d := &device.Device{ID: id, Name: id, Type: "sensor", Protocol: device.ProtocolUSB, Status: device.StatusActive}
		if err := devices.Create(context.Background(), d); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	repo := NewSQLiteRepository(db)
	store := NewStore(repo)
	store.now = func() time.Time { return t0 }
	return store, repo
}

func TestStore_SetCreatesPendingEntry(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	e, err := store.Set(ctx, SetRequest{DeviceID: "dev-1", ConfigKey: "sampling.interval_s", ConfigValue: "30", DataType: TypeInt})
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if e.SyncStatus != SyncPending || !e.LastModified.Equal(t0) || e.Category != DefaultCategory {
		t.Errorf("Set() = %+v", e)
	}

	got, err := store.Get(ctx, "dev-1", "sampling.interval_s")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != e.ID || got.ConfigValue != "30" || got.DataType != TypeInt {
		t.Errorf("Get() = %+v", got)
	}

	// A second edit keeps ID and type.
	store.now = func() time.Time { return t0.Add(time.Minute) }
	e2, err := store.Set(ctx, SetRequest{DeviceID: "dev-1", ConfigKey: "sampling.interval_s", ConfigValue: "60"})
	if err != nil {
		t.Fatalf("Set() second error = %v", err)
	}
	if e2.ID != e.ID || e2.DataType != TypeInt || !e2.CreatedAt.Equal(t0) {
		t.Errorf("second Set() = %+v", e2)
	}
}

func TestStore_SetValidation(t *testing.T) {
	store, repo := setupStore(t)
	ctx := context.Background()

	err := repo.Save(ctx, &Entry{
		ID: "ro", DeviceID: "dev-1", ConfigKey: "serial", ConfigValue: "X1", DataType: TypeString,
		Category: DefaultCategory, IsReadOnly: true, SyncStatus: SyncSynced, LastModified: t0, CreatedAt: t0,
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	err = repo.Save(ctx, &Entry{
		ID: "ranged", DeviceID: "dev-1", ConfigKey: "threshold", ConfigValue: "5", DataType: TypeFloat,
		Category: DefaultCategory, ValidationRules: `{"min":0,"max":10}`, SyncStatus: SyncSynced,
		LastModified: t0, CreatedAt: t0,
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	tests := []struct {
		name    string
		req     SetRequest
		wantErr error
	}{
		{"missing device", SetRequest{ConfigKey: "k", ConfigValue: "v"}, ErrValidation},
		{"bad key", SetRequest{DeviceID: "dev-1", ConfigKey: "bad key!", ConfigValue: "v"}, ErrValidation},
		{"not an int", SetRequest{DeviceID: "dev-1", ConfigKey: "n", ConfigValue: "abc", DataType: TypeInt}, ErrValidation},
		{"above max", SetRequest{DeviceID: "dev-1", ConfigKey: "threshold", ConfigValue: "11"}, ErrValidation},
		{"read only", SetRequest{DeviceID: "dev-1", ConfigKey: "serial", ConfigValue: "X2"}, ErrReadOnly},
		{"unknown device", SetRequest{DeviceID: "ghost", ConfigKey: "k", ConfigValue: "v"}, ErrUnknownDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Set(ctx, tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("Set() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := store.Set(ctx, SetRequest{DeviceID: "dev-1", ConfigKey: "threshold", ConfigValue: "9.5"}); err != nil {
		t.Errorf("Set() in range error = %v", err)
	}
}

func TestValidateValue(t *testing.T) {
	tests := []struct {
		value    string
		dataType DataType
		rules    string
		wantErr  bool
	}{
		{"hello", TypeString, "", false},
		{"42", TypeInt, "", false},
		{"4.2", TypeInt, "", true},
		{"true", TypeBool, "", false},
		{"maybe", TypeBool, "", true},
		{`{"a":1}`, TypeJSON, "", false},
		{`{"a":`, TypeJSON, "", true},
		{"low", TypeString, `{"enum":["low","high"]}`, false},
		{"mid", TypeString, `{"enum":["low","high"]}`, true},
		{"abc", TypeString, `{"pattern":"^[a-z]+$"}`, false},
		{"ABC", TypeString, `{"pattern":"^[a-z]+$"}`, true},
		{"toolong", TypeString, `{"max_length":3}`, true},
		{"-1", TypeFloat, `{"min":0}`, true},
		{"1", TypeString, `{not json`, true},
		{"1", DataType("decimal"), "", true},
	}
	for _, tt := range tests {
		err := ValidateValue(tt.value, tt.dataType, tt.rules)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateValue(%q, %s, %s) error = %v, wantErr %v", tt.value, tt.dataType, tt.rules, err, tt.wantErr)
		}
	}
}

func TestStore_ApplyRemoteLastWriteWins(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	// Local edit at t0.
	if _, err := store.Set(ctx, SetRequest{DeviceID: "dev-1", ConfigKey: "mode", ConfigValue: "eco"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Older remote value loses to the pending local edit.
	outcome, err := store.ApplyRemote(ctx, Entry{DeviceID: "dev-1", ConfigKey: "mode", ConfigValue: "boost", LastModified: t0.Add(-time.Minute)})
	if err != nil {
		t.Fatalf("ApplyRemote() error = %v", err)
	}
	if outcome != OutcomeKeptLocal {
		t.Errorf("ApplyRemote() older = %s, want kept_local", outcome)
	}
	got, _ := store.Get(ctx, "dev-1", "mode")
	if got.ConfigValue != "eco" || got.SyncStatus != SyncPending {
		t.Errorf("entry after older remote = %s %s", got.ConfigValue, got.SyncStatus)
	}

	// Newer remote value wins and is stored as SYNCED.
	outcome, err = store.ApplyRemote(ctx, Entry{DeviceID: "dev-1", ConfigKey: "mode", ConfigValue: "boost", LastModified: t0.Add(time.Minute)})
	if err != nil {
		t.Fatalf("ApplyRemote() error = %v", err)
	}
	if outcome != OutcomeApplied {
		t.Errorf("ApplyRemote() newer = %s, want applied", outcome)
	}
	got, _ = store.Get(ctx, "dev-1", "mode")
	if got.ConfigValue != "boost" || got.SyncStatus != SyncSynced || !got.LastModified.Equal(t0.Add(time.Minute)) {
		t.Errorf("entry after newer remote = %+v", got)
	}
}

func TestStore_ApplyRemoteOverwritesSynced(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	if _, err := store.ApplyRemote(ctx, Entry{DeviceID: "dev-2", ConfigKey: "led", ConfigValue: "on", LastModified: t0}); err != nil {
		t.Fatalf("ApplyRemote() error = %v", err)
	}
	// Remote timestamps older than a SYNCED local value still apply.
	outcome, err := store.ApplyRemote(ctx, Entry{DeviceID: "dev-2", ConfigKey: "led", ConfigValue: "off", LastModified: t0.Add(-time.Hour)})
	if err != nil || outcome != OutcomeApplied {
		t.Fatalf("ApplyRemote() = %s, %v", outcome, err)
	}
	got, _ := store.Get(ctx, "dev-2", "led")
	if got.ConfigValue != "off" {
		t.Errorf("ConfigValue = %q, want off", got.ConfigValue)
	}
}

func TestRepository_SyncBookkeeping(t *testing.T) {
	store, repo := setupStore(t)
	ctx := context.Background()

	a, _ := store.Set(ctx, SetRequest{DeviceID: "dev-1", ConfigKey: "a", ConfigValue: "1"})
	b, _ := store.Set(ctx, SetRequest{DeviceID: "dev-1", ConfigKey: "b", ConfigValue: "2"})
	c, _ := store.Set(ctx, SetRequest{DeviceID: "dev-2", ConfigKey: "c", ConfigValue: "3"})

	pending, err := store.Pending(ctx, 10)
	if err != nil || len(pending) != 3 {
		t.Fatalf("Pending() = %d, %v", len(pending), err)
	}

	if n, err := repo.MarkSynced(ctx, []Entry{*a}); err != nil || n != 1 {
		t.Fatalf("MarkSynced() = %d, %v", n, err)
	}
	got, _ := store.Get(ctx, "dev-1", "a")
	if !got.LastModified.Equal(t0) {
		t.Errorf("MarkSynced() changed LastModified to %v", got.LastModified)
	}

	if n, err := repo.MarkFailed(ctx, []Entry{*c}); err != nil || n != 1 {
		t.Fatalf("MarkFailed() = %d, %v", n, err)
	}
	if n, err := store.DiscardPending(ctx, "dev-1"); err != nil || n != 1 {
		t.Fatalf("DiscardPending() = %d, %v", n, err)
	}
	if _, err := store.Get(ctx, "dev-1", b.ConfigKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(b) error = %v, want ErrNotFound", err)
	}

	if n, err := repo.PurgeFailed(ctx, t0.Add(time.Hour)); err != nil || n != 1 {
		t.Errorf("PurgeFailed() = %d, %v", n, err)
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if counts != (Counts{Synced: 1}) {
		t.Errorf("Counts() = %+v, want one synced", counts)
	}
}

func TestRepository_MarkSyncedSkipsNewerEdit(t *testing.T) {
	store, repo := setupStore(t)
	ctx := context.Background()

	uploaded, err := store.Set(ctx, SetRequest{DeviceID: "dev-1", ConfigKey: "threshold", ConfigValue: "10"})
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	// Edited again while the upload of "10" is in flight. The clock is
	// frozen, so only the value tells the versions apart.
	if _, err := store.Set(ctx, SetRequest{DeviceID: "dev-1", ConfigKey: "threshold", ConfigValue: "20"}); err != nil {
		t.Fatalf("second Set() error = %v", err)
	}

	if n, err := repo.MarkSynced(ctx, []Entry{*uploaded}); err != nil || n != 0 {
		t.Fatalf("MarkSynced(stale) = %d, %v, want 0", n, err)
	}
	if n, err := repo.MarkFailed(ctx, []Entry{*uploaded}); err != nil || n != 0 {
		t.Fatalf("MarkFailed(stale) = %d, %v, want 0", n, err)
	}

	got, err := store.Get(ctx, "dev-1", "threshold")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ConfigValue != "20" || got.SyncStatus != SyncPending {
		t.Errorf("entry = %q/%s, want 20/PENDING", got.ConfigValue, got.SyncStatus)
	}

	if n, err := repo.MarkSynced(ctx, []Entry{*got}); err != nil || n != 1 {
		t.Errorf("MarkSynced(current) = %d, %v, want 1", n, err)
	}
}
