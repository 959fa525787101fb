package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/devsync-core/internal/infrastructure/database"
)

// Repository persists readings.
type Repository interface {
	// InsertBatch stores readings in one transaction.
	InsertBatch(ctx context.Context, readings []Reading) error

	// ListPending returns up to limit PENDING readings, oldest first.
	ListPending(ctx context.Context, limit int) ([]Reading, error)

	// MarkSynced flags readings as confirmed by the backend.
	MarkSynced(ctx context.Context, ids []string) (int, error)

	// MarkFailed flags readings the backend rejected as malformed.
	MarkFailed(ctx context.Context, ids []string) (int, error)

	// PurgeSynced deletes SYNCED readings older than the cutoff.
	PurgeSynced(ctx context.Context, before time.Time) (int, error)

	// Query returns readings matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]Reading, error)

	// Counts returns reading totals per sync status.
	Counts(ctx context.Context) (Counts, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const readingColumns = `id, device_id, sensor_type, value, unit, timestamp,
	quality, raw_value, is_processed, sync_status`

// InsertBatch stores readings in one transaction. A reading for a device
// that does not exist aborts the whole batch with ErrUnknownDevice.
func (r *SQLiteRepository) InsertBatch(ctx context.Context, readings []Reading) error {
	if len(readings) == 0 {
		return nil
	}
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO telemetry (`+readingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing telemetry insert: %w", err)
		}
		defer stmt.Close()

		for i := range readings {
			rd := &readings[i]
			_, err := stmt.ExecContext(ctx,
				rd.ID, rd.DeviceID, rd.SensorType, rd.Value, database.NullString(rd.Unit),
				database.FormatTime(rd.Timestamp), database.NullString(rd.Quality),
				database.NullString(rd.RawValue), database.BoolToInt(rd.IsProcessed), string(rd.SyncStatus))
			if err != nil {
				if database.IsForeignKeyError(err) {
					return fmt.Errorf("%w: %s", ErrUnknownDevice, rd.DeviceID)
				}
				return fmt.Errorf("inserting reading: %w", err)
			}
		}
		return nil
	})
}

// ListPending returns PENDING readings, oldest first.
func (r *SQLiteRepository) ListPending(ctx context.Context, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.query(ctx,
		`SELECT `+readingColumns+` FROM telemetry
		WHERE sync_status = 'PENDING'
		ORDER BY timestamp ASC, id ASC
		LIMIT ?`, limit)
}

// MarkSynced flags readings as SYNCED in one transaction.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, ids []string) (int, error) {
	return r.setStatus(ctx, ids, SyncSynced)
}

// MarkFailed flags readings as FAILED in one transaction.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, ids []string) (int, error) {
	return r.setStatus(ctx, ids, SyncFailed)
}

func (r *SQLiteRepository) setStatus(ctx context.Context, ids []string, status SyncStatus) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(status))
	for _, id := range ids {
		args = append(args, id)
	}

	var n int64
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE telemetry SET sync_status = ? WHERE id IN (`+database.Placeholders(len(ids))+`)`, args...)
		if err != nil {
			return fmt.Errorf("updating telemetry sync status: %w", err)
		}
		n, err = result.RowsAffected()
		return err
	})
	return int(n), err
}

// PurgeSynced deletes SYNCED readings older than the cutoff.
func (r *SQLiteRepository) PurgeSynced(ctx context.Context, before time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM telemetry WHERE sync_status = 'SYNCED' AND timestamp < ?`,
		database.FormatTime(before))
	if err != nil {
		return 0, fmt.Errorf("purging telemetry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

// Query returns readings matching the filter, newest first.
func (r *SQLiteRepository) Query(ctx context.Context, filter Filter) ([]Reading, error) {
	var where []string
	var args []any
	if filter.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.SensorType != "" {
		where = append(where, "sensor_type = ?")
		args = append(args, filter.SensorType)
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, database.FormatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, database.FormatTime(filter.Until))
	}

	query := `SELECT ` + readingColumns + ` FROM telemetry`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return r.query(ctx, query, args...)
}

// Counts returns reading totals per sync status.
func (r *SQLiteRepository) Counts(ctx context.Context) (Counts, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT sync_status, COUNT(*) FROM telemetry GROUP BY sync_status`)
	if err != nil {
		return Counts{}, fmt.Errorf("counting telemetry: %w", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, fmt.Errorf("scanning telemetry count: %w", err)
		}
		switch SyncStatus(status) {
		case SyncPending:
			c.Pending = n
		case SyncSynced:
			c.Synced = n
		case SyncFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]Reading, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry: %w", err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var rd Reading
		var unit, quality, raw sql.NullString
		var ts, status string
		var processed int
		if err := rows.Scan(&rd.ID, &rd.DeviceID, &rd.SensorType, &rd.Value, &unit, &ts,
			&quality, &raw, &processed, &status); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		if rd.Timestamp, err = database.ParseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		rd.Unit = unit.String
		rd.Quality = quality.String
		rd.RawValue = raw.String
		rd.IsProcessed = processed != 0
		rd.SyncStatus = SyncStatus(status)
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating telemetry: %w", err)
	}
	return out, nil
}
