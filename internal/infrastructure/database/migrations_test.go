package database

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"
)

const testMigrationsDir = "testdata"

// probeMigrations returns two reversible migrations plus a stray file.
func probeMigrations() fstest.MapFS {
	return fstest.MapFS{
		"testdata/20260301_090000_create_probe.up.sql": &fstest.MapFile{
			Data: []byte(`CREATE TABLE test_probe (id TEXT PRIMARY KEY, label TEXT NOT NULL);`),
		},
		"testdata/20260301_090000_create_probe.down.sql": &fstest.MapFile{
			Data: []byte(`DROP TABLE test_probe;`),
		},
		"testdata/20260302_120000_add_probe_index.up.sql": &fstest.MapFile{
			Data: []byte(`CREATE INDEX idx_test_probe_label ON test_probe(label);`),
		},
		"testdata/20260302_120000_add_probe_index.down.sql": &fstest.MapFile{
			Data: []byte(`DROP INDEX idx_test_probe_label;`),
		},
		"testdata/README.txt": &fstest.MapFile{Data: []byte("ignored")},
	}
}

// useMigrations swaps the package migration source for the test.
func useMigrations(t *testing.T, fsys fs.FS, dir string) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS, MigrationsDir = fsys, dir
}

func TestMigrate(t *testing.T) {
	useMigrations(t, probeMigrations(), testMigrationsDir)
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE name IN ('test_probe', 'idx_test_probe_label')",
	).Scan(&n); err != nil {
		t.Fatalf("query error: %v", err)
	}
	if n != 2 {
		t.Errorf("schema objects = %d, want 2", n)
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Fatalf("applied=%d pending=%d, want 2/0", len(applied), len(pending))
	}
	if applied[0].Name != "create_probe" || applied[0].Checksum == "" || applied[0].AppliedAt.IsZero() {
		t.Errorf("first record = %+v", applied[0])
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_DetectsEditedMigration(t *testing.T) {
	fsys := probeMigrations()
	useMigrations(t, fsys, testMigrationsDir)
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	fsys["testdata/20260301_090000_create_probe.up.sql"] = &fstest.MapFile{
		Data: []byte(`CREATE TABLE test_probe (id TEXT PRIMARY KEY);`),
	}
	if err := db.Migrate(ctx); !errors.Is(err, ErrMigrationChanged) {
		t.Errorf("Migrate() after edit error = %v, want ErrMigrationChanged", err)
	}
}

func TestMigrate_ResumesAfterFailure(t *testing.T) {
	fsys := probeMigrations()
	fsys["testdata/20260302_120000_add_probe_index.up.sql"] = &fstest.MapFile{
		Data: []byte(`CREATE INDEX idx_test_probe_label ON missing_table(label);`),
	}
	useMigrations(t, fsys, testMigrationsDir)
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() should fail on the broken second migration")
	}
	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 {
		t.Fatalf("applied=%d pending=%d, want 1/1", len(applied), len(pending))
	}

	fsys["testdata/20260302_120000_add_probe_index.up.sql"] = probeMigrations()["testdata/20260302_120000_add_probe_index.up.sql"]
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() after fix error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, probeMigrations(), testMigrationsDir)
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// Newest first: the index goes, the table stays.
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	var n int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE name = 'test_probe'").Scan(&n); err != nil {
		t.Fatalf("query error: %v", err)
	}
	if n != 1 {
		t.Error("test_probe should survive the first rollback")
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("second MigrateDown() error = %v", err)
	}
	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 || len(pending) != 2 {
		t.Errorf("applied=%d pending=%d, want 0/2", len(applied), len(pending))
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Errorf("MigrateDown() on empty history error = %v", err)
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	useMigrations(t, nil, ".")
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestLoadMigrations_MissingUpFile(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"testdata/20260301_090000_orphan.down.sql": &fstest.MapFile{Data: []byte(`SELECT 1;`)},
	}, testMigrationsDir)

	if _, err := loadMigrations(); err == nil {
		t.Error("loadMigrations() should reject a down file without an up file")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOk      bool
	}{
		{"20260301_090000_create_devices.up.sql", "20260301_090000", "create_devices", true, true},
		{"20260301_090000_create_devices.down.sql", "20260301_090000", "create_devices", false, true},
		{"20260301_090000_add_email_to_users.up.sql", "20260301_090000", "add_email_to_users", true, true},
		{"readme.txt", "", "", false, false},
		{"20260301_090000_create_devices.sql", "", "", false, false},
		{"invalid.up.sql", "", "", false, false},
		{"2026031_090000_short.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk || version != tt.wantVersion || name != tt.wantName || up != tt.wantUp {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v, %v), want (%q, %q, %v, %v)",
					tt.filename, version, name, up, ok, tt.wantVersion, tt.wantName, tt.wantUp, tt.wantOk)
			}
		})
	}
}
