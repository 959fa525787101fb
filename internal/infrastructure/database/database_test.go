package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name string
		rel  []string
		wal  bool
	}{
		{"flat path with WAL", []string{"devsync.db"}, true},
		{"nested directories are created", []string{"data", "nested", "devsync.db"}, true},
		{"rollback journal", []string{"journal.db"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbPath := filepath.Join(append([]string{t.TempDir()}, tt.rel...)...)
			db, err := Open(Config{Path: dbPath, WALMode: tt.wal, BusyTimeout: 5})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer db.Close() //nolint:errcheck // Test cleanup

			if _, err := os.Stat(dbPath); err != nil {
				t.Errorf("database file missing: %v", err)
			}
			if db.Path() != dbPath {
				t.Errorf("Path() = %v, want %v", db.Path(), dbPath)
			}

			var mode string
			if err := db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode); err != nil {
				t.Fatalf("PRAGMA journal_mode error = %v", err)
			}
			if got := mode == "wal"; got != tt.wal {
				t.Errorf("journal_mode = %q, WAL wanted %v", mode, tt.wal)
			}
		})
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open() with empty path should fail")
	}
}

func TestDSN(t *testing.T) {
	got := dsn(Config{Path: "/var/lib/devsync/devsync.db", WALMode: true, BusyTimeout: 5})
	for _, want := range []string{"file:/var/lib/devsync/devsync.db?", "_foreign_keys=on", "_busy_timeout=5000", "_journal_mode=WAL", "_synchronous=NORMAL"} {
		if !strings.Contains(got, want) {
			t.Errorf("dsn() = %q, missing %q", got, want)
		}
	}
	if got := dsn(Config{Path: "x.db"}); strings.Contains(got, "_journal_mode") {
		t.Errorf("dsn() without WAL = %q", got)
	}
}

func TestOpen_SingleConnection(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %v, want 1 (SQLite single writer)", got)
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := db.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() on a closed store should fail")
	}

	db.DB = nil
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil DB error = %v", err)
	}
}

// TestForeignKeyCascade verifies deleting a parent row removes dependants,
// which device deletion relies on.
func TestForeignKeyCascade(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	for _, stmt := range []string{
		`CREATE TABLE parent (id TEXT PRIMARY KEY)`,
		`CREATE TABLE child (id INTEGER PRIMARY KEY, parent_id TEXT NOT NULL REFERENCES parent(id) ON DELETE CASCADE)`,
		`INSERT INTO parent (id) VALUES ('dev-1'), ('dev-2')`,
		`INSERT INTO child (parent_id) VALUES ('dev-1'), ('dev-1'), ('dev-2')`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("ExecContext(%q) error = %v", stmt, err)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT INTO child (parent_id) VALUES ('ghost')"); !IsForeignKeyError(err) {
		t.Errorf("orphan insert error = %v, want foreign key violation", err)
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM parent WHERE id = 'dev-1'"); err != nil {
		t.Fatalf("DELETE error = %v", err)
	}
	assertRowCount(t, db, "child", 1)
}

func TestWithTx(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE batch_test (id INTEGER PRIMARY KEY, value TEXT)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}

	t.Run("commits all rows", func(t *testing.T) {
		err := WithTx(ctx, db.DB, func(tx *sql.Tx) error {
			for _, v := range []string{"a", "b", "c"} {
				if _, err := tx.ExecContext(ctx, "INSERT INTO batch_test (value) VALUES (?)", v); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("WithTx() error = %v", err)
		}
		assertRowCount(t, db, "batch_test", 3)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := WithTx(ctx, db.DB, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, "INSERT INTO batch_test (value) VALUES (?)", "d"); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("WithTx() error = %v, want boom", err)
		}
		assertRowCount(t, db, "batch_test", 3)
	})
}

func assertRowCount(t *testing.T, db *DB, table string, want int) {
	t.Helper()
	var count int
	if err := db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
		t.Fatalf("SELECT error = %v", err)
	}
	if count != want {
		t.Errorf("%s row count = %d, want %d", table, count, want)
	}
}

// openTestDB opens an empty database in t.TempDir.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db
}
