package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/devsync-core/internal/infrastructure/database"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// ListByUser retrieves all devices owned by a user.
	ListByUser(ctx context.Context, userID string) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// Update modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Upsert inserts a device or overwrites its remote-authoritative fields.
	// Live fields reported by hardware (last seen, battery, signal, online)
	// are kept when the row already exists. Reports whether a row was created.
	Upsert(ctx context.Context, device *Device) (bool, error)

	// UpdateStatus applies a hardware callback to a device and returns the result.
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) (*Device, error)

	// Delete removes a device by ID. Commands, telemetry and configuration
	// rows for the device are removed by cascade.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, name, type, protocol, status, token, user_id,
	mac_address, ip_address, serial_number, firmware_version, hardware_version,
	last_seen, battery_level, signal_strength, latitude, longitude, location_name,
	configuration, metadata, is_online, connection_quality, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	return getDevice(ctx, r.db, id)
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY name, id`)
}

// ListByUser retrieves all devices owned by a user.
func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]Device, error) {
	return r.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE user_id = ? ORDER BY name, id`, userID)
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	args, err := deviceArgs(device)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...)
	if err != nil {
		if database.IsUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	device.UpdatedAt = time.Now().UTC()

	args, err := deviceArgs(device)
	if err != nil {
		return err
	}

	// deviceArgs order: id first, created_at second to last. The UPDATE
	// binds every column except id and created_at, then id for the WHERE.
	setArgs := append([]any{}, args[1:len(args)-2]...)
	setArgs = append(setArgs, args[len(args)-1], device.ID)

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			name = ?, type = ?, protocol = ?, status = ?, token = ?, user_id = ?,
			mac_address = ?, ip_address = ?, serial_number = ?, firmware_version = ?, hardware_version = ?,
			last_seen = ?, battery_level = ?, signal_strength = ?, latitude = ?, longitude = ?, location_name = ?,
			configuration = ?, metadata = ?, is_online = ?, connection_quality = ?, updated_at = ?
		WHERE id = ?`, setArgs...)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return requireOneRow(result)
}

// Upsert inserts a device or overwrites its remote-authoritative fields.
func (r *SQLiteRepository) Upsert(ctx context.Context, device *Device) (bool, error) {
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	args, err := deviceArgs(device)
	if err != nil {
		return false, err
	}

	var created bool
	err = database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices WHERE id = ?`, device.ID).Scan(&n); err != nil {
			return fmt.Errorf("checking device exists: %w", err)
		}
		created = n == 0

		_, err := tx.ExecContext(ctx,
			`INSERT INTO devices (`+deviceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				type = excluded.type,
				protocol = excluded.protocol,
				status = excluded.status,
				token = COALESCE(excluded.token, devices.token),
				user_id = excluded.user_id,
				mac_address = excluded.mac_address,
				ip_address = excluded.ip_address,
				serial_number = excluded.serial_number,
				firmware_version = excluded.firmware_version,
				hardware_version = excluded.hardware_version,
				latitude = COALESCE(excluded.latitude, devices.latitude),
				longitude = COALESCE(excluded.longitude, devices.longitude),
				location_name = excluded.location_name,
				configuration = excluded.configuration,
				metadata = excluded.metadata,
				updated_at = excluded.updated_at`,
			args...)
		if err != nil {
			return fmt.Errorf("upserting device: %w", err)
		}
		return nil
	})
	return created, err
}

// UpdateStatus applies a hardware callback to a device inside one transaction.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, update StatusUpdate) (*Device, error) {
	var updated *Device
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		d, err := getDevice(ctx, tx, id)
		if err != nil {
			return err
		}
		update.apply(d)
		d.UpdatedAt = time.Now().UTC()

		_, err = tx.ExecContext(ctx, `
			UPDATE devices SET
				status = ?, is_online = ?, battery_level = ?, signal_strength = ?,
				latitude = ?, longitude = ?, location_name = ?, last_seen = ?,
				connection_quality = ?, updated_at = ?
			WHERE id = ?`,
			string(d.Status), database.BoolToInt(d.IsOnline), nullInt(d.BatteryLevel), nullInt(d.SignalStrength),
			nullFloat(d.Latitude), nullFloat(d.Longitude), database.NullString(d.LocationName),
			database.NullTime(d.LastSeen), string(d.ConnectionQuality), database.FormatTime(d.UpdatedAt),
			id)
		if err != nil {
			return fmt.Errorf("updating device status: %w", err)
		}
		updated = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireOneRow(result)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDevice(ctx context.Context, q queryer, id string) (*Device, error) {
	row := q.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// queryDevices executes a query and scans all resulting rows.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// deviceArgs returns bind values in deviceColumns order.
func deviceArgs(d *Device) ([]any, error) {
	configJSON, err := marshalMap(d.Configuration)
	if err != nil {
		return nil, fmt.Errorf("marshalling configuration: %w", err)
	}
	metadataJSON, err := marshalMap(d.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshalling metadata: %w", err)
	}

	quality := d.ConnectionQuality
	if quality == "" {
		quality = QualityUnknown
	}
	status := d.Status
	if status == "" {
		status = StatusUnknown
	}

	return []any{
		d.ID, d.Name, d.Type, string(d.Protocol), string(status),
		database.NullString(d.Token), database.NullString(d.UserID),
		database.NullString(d.MACAddress), database.NullString(d.IPAddress),
		database.NullString(d.SerialNumber), database.NullString(d.FirmwareVersion),
		database.NullString(d.HardwareVersion),
		database.NullTime(d.LastSeen), nullInt(d.BatteryLevel), nullInt(d.SignalStrength),
		nullFloat(d.Latitude), nullFloat(d.Longitude), database.NullString(d.LocationName),
		configJSON, metadataJSON, database.BoolToInt(d.IsOnline), string(quality),
		database.FormatTime(d.CreatedAt), database.FormatTime(d.UpdatedAt),
	}, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row or rows result into a Device.
func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var token, userID, mac, ip, serial, firmware, hardware, locationName sql.NullString
	var lastSeen sql.NullString
	var battery, signal sql.NullInt64
	var lat, lon sql.NullFloat64
	var configJSON, metadataJSON string
	var isOnline int
	var protocol, status, quality, createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID, &d.Name, &d.Type, &protocol, &status, &token, &userID,
		&mac, &ip, &serial, &firmware, &hardware,
		&lastSeen, &battery, &signal, &lat, &lon, &locationName,
		&configJSON, &metadataJSON, &isOnline, &quality, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Protocol = Protocol(protocol)
	d.Status = Status(status)
	d.ConnectionQuality = ConnectionQuality(quality)
	d.IsOnline = isOnline != 0

	d.Token = token.String
	d.UserID = userID.String
	d.MACAddress = mac.String
	d.IPAddress = ip.String
	d.SerialNumber = serial.String
	d.FirmwareVersion = firmware.String
	d.HardwareVersion = hardware.String
	d.LocationName = locationName.String

	d.LastSeen = database.ScanNullTime(lastSeen)
	if battery.Valid {
		v := int(battery.Int64)
		d.BatteryLevel = &v
	}
	if signal.Valid {
		v := int(signal.Int64)
		d.SignalStrength = &v
	}
	if lat.Valid {
		d.Latitude = &lat.Float64
	}
	if lon.Valid {
		d.Longitude = &lon.Float64
	}

	if d.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	if err := json.Unmarshal([]byte(configJSON), &d.Configuration); err != nil {
		return nil, fmt.Errorf("unmarshalling configuration: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &d.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata: %w", err)
	}

	return &d, nil
}

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
