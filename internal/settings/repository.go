package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/devsync-core/internal/infrastructure/database"
)

// Repository persists configuration entries.
type Repository interface {
	// Get returns the entry for a device key. Returns ErrNotFound if absent.
	Get(ctx context.Context, deviceID, key string) (*Entry, error)

	// ListByDevice returns a device's entries ordered by category and key.
	ListByDevice(ctx context.Context, deviceID string) ([]Entry, error)

	// ListPending returns up to limit PENDING entries, highest priority
	// first then oldest edit first.
	ListPending(ctx context.Context, limit int) ([]Entry, error)

	// Save inserts or replaces the entry for (device_id, config_key).
	Save(ctx context.Context, e *Entry) error

	// Merge runs fn against the stored entry (nil if absent) inside one
	// transaction and saves the entry fn returns, if any.
	Merge(ctx context.Context, deviceID, key string, fn func(current *Entry) (*Entry, error)) error

	// MarkSynced flags uploaded entries as SYNCED. A row is only updated
	// while it is still PENDING with the uploaded value and LastModified,
	// so an edit made during the upload stays PENDING. LastModified is not
	// touched.
	MarkSynced(ctx context.Context, uploaded []Entry) (int, error)

	// MarkFailed flags uploaded entries the backend rejected, under the
	// same version check as MarkSynced.
	MarkFailed(ctx context.Context, uploaded []Entry) (int, error)

	// DeletePending removes a device's PENDING entries.
	DeletePending(ctx context.Context, deviceID string) (int, error)

	// PurgeFailed deletes FAILED entries last modified before the cutoff.
	PurgeFailed(ctx context.Context, before time.Time) (int, error)

	// Counts returns entry totals per sync status.
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

const entryColumns = `id, device_id, config_key, config_value, data_type, category,
	is_read_only, validation_rules, priority, sync_status, last_modified, created_at`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Get returns the entry for a device key.
func (r *SQLiteRepository) Get(ctx context.Context, deviceID, key string) (*Entry, error) {
	return getEntry(ctx, r.db, deviceID, key)
}

// ListByDevice returns a device's entries.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string) ([]Entry, error) {
	return queryEntries(ctx, r.db,
		`SELECT `+entryColumns+` FROM configuration WHERE device_id = ? ORDER BY category, config_key`, deviceID)
}

// ListPending returns PENDING entries in push order.
func (r *SQLiteRepository) ListPending(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	return queryEntries(ctx, r.db,
		`SELECT `+entryColumns+` FROM configuration
		WHERE sync_status = 'PENDING'
		ORDER BY priority DESC, last_modified ASC, id ASC
		LIMIT ?`, limit)
}

// Save inserts or replaces the entry for (device_id, config_key). The
// stored ID and CreatedAt win over e's when the row already exists.
func (r *SQLiteRepository) Save(ctx context.Context, e *Entry) error {
	return saveEntry(ctx, r.db, e)
}

// Merge runs fn against the current entry in one transaction.
func (r *SQLiteRepository) Merge(ctx context.Context, deviceID, key string, fn func(current *Entry) (*Entry, error)) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		current, err := getEntry(ctx, tx, deviceID, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}
		return saveEntry(ctx, tx, next)
	})
}

// MarkSynced flags uploaded entries as SYNCED.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, uploaded []Entry) (int, error) {
	return r.setStatus(ctx, uploaded, SyncSynced)
}

// MarkFailed flags uploaded entries as FAILED.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, uploaded []Entry) (int, error) {
	return r.setStatus(ctx, uploaded, SyncFailed)
}

// setStatus moves each uploaded entry out of PENDING, but only if the row
// still holds the version that was uploaded.
func (r *SQLiteRepository) setStatus(ctx context.Context, uploaded []Entry, status SyncStatus) (int, error) {
	if len(uploaded) == 0 {
		return 0, nil
	}

	var n int64
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE configuration SET sync_status = ?
			WHERE id = ? AND sync_status = 'PENDING' AND config_value = ? AND last_modified = ?`)
		if err != nil {
			return fmt.Errorf("preparing sync status update: %w", err)
		}
		defer stmt.Close()

		for _, e := range uploaded {
			result, err := stmt.ExecContext(ctx,
				string(status), e.ID, e.ConfigValue, database.FormatTime(e.LastModified))
			if err != nil {
				return fmt.Errorf("updating configuration sync status: %w", err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return err
			}
			n += affected
		}
		return nil
	})
	return int(n), err
}

// DeletePending removes a device's PENDING entries.
func (r *SQLiteRepository) DeletePending(ctx context.Context, deviceID string) (int, error) {
	return r.deleteWhere(ctx, `device_id = ? AND sync_status = 'PENDING'`, deviceID)
}

// PurgeFailed deletes FAILED entries last modified before the cutoff.
func (r *SQLiteRepository) PurgeFailed(ctx context.Context, before time.Time) (int, error) {
	return r.deleteWhere(ctx, `sync_status = 'FAILED' AND last_modified < ?`, database.FormatTime(before))
}

func (r *SQLiteRepository) deleteWhere(ctx context.Context, where string, args ...any) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM configuration WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting configuration: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

// Counts returns entry totals per sync status.
func (r *SQLiteRepository) Counts(ctx context.Context) (Counts, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT sync_status, COUNT(*) FROM configuration GROUP BY sync_status`)
	if err != nil {
		return Counts{}, fmt.Errorf("counting configuration: %w", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, fmt.Errorf("scanning configuration count: %w", err)
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

func getEntry(ctx context.Context, q queryer, deviceID, key string) (*Entry, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM configuration WHERE device_id = ? AND config_key = ?`, deviceID, key)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying configuration entry: %w", err)
	}
	return e, nil
}

func saveEntry(ctx context.Context, x execer, e *Entry) error {
	_, err := x.ExecContext(ctx,
		`INSERT INTO configuration (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id, config_key) DO UPDATE SET
			config_value = excluded.config_value,
			data_type = excluded.data_type,
			category = excluded.category,
			is_read_only = excluded.is_read_only,
			validation_rules = excluded.validation_rules,
			priority = excluded.priority,
			sync_status = excluded.sync_status,
			last_modified = excluded.last_modified`,
		e.ID, e.DeviceID, e.ConfigKey, e.ConfigValue, string(e.DataType), e.Category,
		database.BoolToInt(e.IsReadOnly), database.NullString(e.ValidationRules), e.Priority,
		string(e.SyncStatus), database.FormatTime(e.LastModified), database.FormatTime(e.CreatedAt))
	if err != nil {
		if database.IsForeignKeyError(err) {
			return fmt.Errorf("%w: %s", ErrUnknownDevice, e.DeviceID)
		}
		return fmt.Errorf("saving configuration entry: %w", err)
	}
	return nil
}

func queryEntries(ctx context.Context, q queryer, query string, args ...any) ([]Entry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying configuration: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning configuration entry: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating configuration: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(s rowScanner) (*Entry, error) {
	var e Entry
	var dataType, status, lastModified, createdAt string
	var readOnly int
	var rules sql.NullString

	err := s.Scan(&e.ID, &e.DeviceID, &e.ConfigKey, &e.ConfigValue, &dataType, &e.Category,
		&readOnly, &rules, &e.Priority, &status, &lastModified, &createdAt)
	if err != nil {
		return nil, err
	}
	e.DataType = DataType(dataType)
	e.SyncStatus = SyncStatus(status)
	e.IsReadOnly = readOnly != 0
	e.ValidationRules = rules.String

	if e.LastModified, err = database.ParseTime(lastModified); err != nil {
		return nil, fmt.Errorf("parsing last_modified: %w", err)
	}
	if e.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &e, nil
}
