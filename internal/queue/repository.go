package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/devsync-core/internal/infrastructure/database"
)

// Repository defines the persistence surface of the command queue.
// Every method that changes rows runs in a single transaction.
type Repository interface {
	// Insert stores a new command.
	Insert(ctx context.Context, cmd *Command) error

	// Get retrieves a command by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Command, error)

	// List returns commands matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]Command, error)

	// Ready returns PENDING commands due at now, ordered by priority DESC,
	// created_at ASC, id ASC. A limit of zero or less returns all of them.
	Ready(ctx context.Context, now time.Time, limit int) ([]Command, error)

	// Mutate loads a command, applies fn and writes the result back in one
	// transaction. When fn returns errUnchanged nothing is written and
	// changed is false.
	Mutate(ctx context.Context, id string, fn func(cmd *Command) error) (cmd *Command, changed bool, err error)

	// ExpireStale moves every non-terminal command with expires_at before
	// now to EXPIRED and returns the updated commands.
	ExpireStale(ctx context.Context, now time.Time) ([]Command, error)

	// RetryDue moves FAILED-retryable commands whose scheduled_at has
	// passed back to PENDING and returns them.
	RetryDue(ctx context.Context, now time.Time) ([]Command, error)

	// SentBefore returns SENT commands whose sent_at is before the cutoff.
	SentBefore(ctx context.Context, before time.Time) ([]Command, error)

	// CancelForDevice cancels every cancellable command of a device.
	CancelForDevice(ctx context.Context, deviceID string, now time.Time) ([]Command, error)

	// PurgeCompleted deletes COMPLETED and CANCELLED commands that finished
	// before the cutoff.
	PurgeCompleted(ctx context.Context, before time.Time) (int, error)

	// Stats counts commands by status.
	Stats(ctx context.Context) (Stats, error)
}

// errUnchanged is returned by Mutate callbacks to skip the write.
var errUnchanged = errors.New("queue: unchanged")

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const commandColumns = `id, device_id, command_name, parameters, priority, status,
	retryable, retry_count, max_retries, route, result, error_message,
	created_at, scheduled_at, sent_at, completed_at, expires_at`

// nonTerminal matches commands that can still change state.
const nonTerminal = `(status IN ('PENDING', 'SENT') OR (status = 'FAILED' AND retryable = 1))`

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Insert stores a new command.
func (r *SQLiteRepository) Insert(ctx context.Context, cmd *Command) error {
	args, err := commandArgs(cmd)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO commands (`+commandColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		if database.IsForeignKeyError(err) {
			return invalid("device_id", "device %q does not exist", cmd.DeviceID)
		}
		return fmt.Errorf("inserting command: %w", err)
	}
	return nil
}

// Get retrieves a command by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Command, error) {
	return getCommand(ctx, r.db, id)
}

// List returns commands matching the filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Command, error) {
	var where []string
	var args []any
	if filter.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+database.Placeholders(len(filter.Statuses))+")")
		for _, s := range filter.Statuses {
			args = append(args, string(s))
		}
	}

	query := `SELECT ` + commandColumns + ` FROM commands`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return queryCommands(ctx, r.db, query, args...)
}

// Ready returns PENDING commands due at now in dispatch order.
func (r *SQLiteRepository) Ready(ctx context.Context, now time.Time, limit int) ([]Command, error) {
	if limit <= 0 {
		limit = -1
	}
	ts := database.FormatTime(now)
	return queryCommands(ctx, r.db, `
		SELECT `+commandColumns+` FROM commands
		WHERE status = 'PENDING'
			AND (scheduled_at IS NULL OR scheduled_at <= ?)
			AND (expires_at IS NULL OR expires_at >= ?)
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT ?`, ts, ts, limit)
}

// Mutate applies fn to a command inside one transaction.
func (r *SQLiteRepository) Mutate(ctx context.Context, id string, fn func(cmd *Command) error) (*Command, bool, error) {
	var cmd *Command
	var changed bool
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		c, err := getCommand(ctx, tx, id)
		if err != nil {
			return err
		}
		cmd = c
		if err := fn(c); err != nil {
			if errors.Is(err, errUnchanged) {
				return nil
			}
			return err
		}
		if err := saveCommand(ctx, tx, c); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return cmd, changed, nil
}

// ExpireStale moves overdue non-terminal commands to EXPIRED.
func (r *SQLiteRepository) ExpireStale(ctx context.Context, now time.Time) ([]Command, error) {
	return r.batch(ctx,
		`SELECT `+commandColumns+` FROM commands
		WHERE `+nonTerminal+` AND expires_at IS NOT NULL AND expires_at < ?`,
		[]any{database.FormatTime(now)},
		func(c *Command) { expireCommand(c, now) })
}

// RetryDue re-queues FAILED-retryable commands whose backoff has elapsed.
// ScheduledAt is kept so ordering stays by priority and creation time.
func (r *SQLiteRepository) RetryDue(ctx context.Context, now time.Time) ([]Command, error) {
	return r.batch(ctx,
		`SELECT `+commandColumns+` FROM commands
		WHERE status = 'FAILED' AND retryable = 1
			AND (scheduled_at IS NULL OR scheduled_at <= ?)`,
		[]any{database.FormatTime(now)},
		func(c *Command) {
			c.Status = StatusPending
			c.Retryable = false
		})
}

// SentBefore returns SENT commands still unconfirmed at the cutoff,
// oldest first.
func (r *SQLiteRepository) SentBefore(ctx context.Context, before time.Time) ([]Command, error) {
	return queryCommands(ctx, r.db, `
		SELECT `+commandColumns+` FROM commands
		WHERE status = 'SENT' AND COALESCE(sent_at, created_at) < ?
		ORDER BY sent_at ASC, id ASC`,
		database.FormatTime(before))
}

// CancelForDevice cancels every cancellable command of a device.
func (r *SQLiteRepository) CancelForDevice(ctx context.Context, deviceID string, now time.Time) ([]Command, error) {
	return r.batch(ctx,
		`SELECT `+commandColumns+` FROM commands
		WHERE device_id = ? AND `+nonTerminal,
		[]any{deviceID},
		func(c *Command) {
			c.Status = StatusCancelled
			c.Retryable = false
			c.CompletedAt = &now
		})
}

// batch selects rows and rewrites each with apply inside one transaction.
func (r *SQLiteRepository) batch(ctx context.Context, query string, args []any, apply func(*Command)) ([]Command, error) {
	var updated []Command
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		cmds, err := queryCommands(ctx, tx, query, args...)
		if err != nil {
			return err
		}
		for i := range cmds {
			apply(&cmds[i])
			if err := saveCommand(ctx, tx, &cmds[i]); err != nil {
				return err
			}
		}
		updated = cmds
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// PurgeCompleted deletes finished commands older than the cutoff.
func (r *SQLiteRepository) PurgeCompleted(ctx context.Context, before time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM commands
		WHERE status IN ('COMPLETED', 'CANCELLED')
			AND COALESCE(completed_at, created_at) < ?`,
		database.FormatTime(before))
	if err != nil {
		return 0, fmt.Errorf("purging commands: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

// Stats counts commands by status.
func (r *SQLiteRepository) Stats(ctx context.Context) (Stats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, retryable, COUNT(*) FROM commands GROUP BY status, retryable`)
	if err != nil {
		return Stats{}, fmt.Errorf("counting commands: %w", err)
	}
	defer rows.Close()

	var s Stats
	for rows.Next() {
		var status string
		var retryable, n int
		if err := rows.Scan(&status, &retryable, &n); err != nil {
			return Stats{}, fmt.Errorf("scanning command count: %w", err)
		}
		switch Status(status) {
		case StatusPending:
			s.Pending += n
		case StatusSent:
			s.Sent += n
		case StatusCompleted:
			s.Completed += n
		case StatusFailed:
			if retryable != 0 {
				s.Retrying += n
			} else {
				s.Failed += n
			}
		case StatusCancelled:
			s.Cancelled += n
		case StatusExpired:
			s.Expired += n
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterating command counts: %w", err)
	}
	return s, nil
}

func getCommand(ctx context.Context, q queryer, id string) (*Command, error) {
	row := q.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = ?`, id)
	cmd, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying command by id: %w", err)
	}
	return cmd, nil
}

// queryCommands runs a query and scans every row. Rows are closed before
// returning so callers inside a transaction can issue further statements.
func queryCommands(ctx context.Context, q queryer, query string, args ...any) ([]Command, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	var cmds []Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		cmds = append(cmds, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return cmds, nil
}

func saveCommand(ctx context.Context, tx *sql.Tx, c *Command) error {
	result, err := marshalNullMap(c.Result)
	if err != nil {
		return fmt.Errorf("marshalling result: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE commands SET
			status = ?, retryable = ?, retry_count = ?, route = ?, result = ?, error_message = ?,
			scheduled_at = ?, sent_at = ?, completed_at = ?
		WHERE id = ?`,
		string(c.Status), database.BoolToInt(c.Retryable), c.RetryCount,
		database.NullString(string(c.Route)), result, database.NullString(c.ErrorMessage),
		database.NullTime(c.ScheduledAt), database.NullTime(c.SentAt), database.NullTime(c.CompletedAt),
		c.ID)
	if err != nil {
		return fmt.Errorf("updating command: %w", err)
	}
	return nil
}

// commandArgs returns bind values in commandColumns order.
func commandArgs(c *Command) ([]any, error) {
	params := "{}"
	if c.Parameters != nil {
		b, err := json.Marshal(c.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshalling parameters: %w", err)
		}
		params = string(b)
	}
	result, err := marshalNullMap(c.Result)
	if err != nil {
		return nil, fmt.Errorf("marshalling result: %w", err)
	}

	return []any{
		c.ID, c.DeviceID, c.CommandName, params, c.Priority, string(c.Status),
		database.BoolToInt(c.Retryable), c.RetryCount, c.MaxRetries,
		database.NullString(string(c.Route)), result, database.NullString(c.ErrorMessage),
		database.FormatTime(c.CreatedAt), database.NullTime(c.ScheduledAt),
		database.NullTime(c.SentAt), database.NullTime(c.CompletedAt), database.NullTime(c.ExpiresAt),
	}, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(scanner rowScanner) (*Command, error) {
	var c Command
	var params, status, createdAt string
	var retryable int
	var route, result, errMsg sql.NullString
	var scheduledAt, sentAt, completedAt, expiresAt sql.NullString

	err := scanner.Scan(
		&c.ID, &c.DeviceID, &c.CommandName, &params, &c.Priority, &status,
		&retryable, &c.RetryCount, &c.MaxRetries, &route, &result, &errMsg,
		&createdAt, &scheduledAt, &sentAt, &completedAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = Status(status)
	c.Retryable = retryable != 0
	c.Route = Route(route.String)
	c.ErrorMessage = errMsg.String

	if c.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	c.ScheduledAt = database.ScanNullTime(scheduledAt)
	c.SentAt = database.ScanNullTime(sentAt)
	c.CompletedAt = database.ScanNullTime(completedAt)
	c.ExpiresAt = database.ScanNullTime(expiresAt)

	if err := json.Unmarshal([]byte(params), &c.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshalling parameters: %w", err)
	}
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &c.Result); err != nil {
			return nil, fmt.Errorf("unmarshalling result: %w", err)
		}
	}
	return &c, nil
}

func marshalNullMap(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
