// Package database provides SQLite connectivity for the devsync local store.
//
// This package manages:
//   - Database connection with WAL mode and foreign keys enforced
//   - Schema migrations loaded from an fs.FS (embedded by package migrations)
//   - Transaction helper for batch operations (WithTx)
//   - Connection pooling and lifecycle management
//
// The pool is capped at one open connection. SQLite allows a single writer,
// and every mutating operation in the queue, telemetry and settings stores is
// one transaction, so row-level writes are serialised here.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
