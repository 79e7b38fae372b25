package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for inventory persistence operations.
// This abstraction allows for different implementations (SQLite, mock)
// and enables unit testing without database dependencies.
type Repository interface {
	// Get retrieves a device by serial number.
	// Returns ErrDeviceNotFound if the device does not exist.
	Get(ctx context.Context, serialNumber string) (*Device, error)

	// List retrieves devices ordered by serial number.
	List(ctx context.Context, offset, limit int) ([]Device, error)

	// Count returns the number of devices in the inventory.
	Count(ctx context.Context) (int, error)

	// Create inserts a new device record.
	// Returns ErrDeviceExists if the serial number is already recorded.
	Create(ctx context.Context, device *Device) error

	// Delete removes a device by serial number.
	Delete(ctx context.Context, serialNumber string) error

	// RefreshOnConnect upserts the connect-time fields for a device. Unknown
	// devices are created; known devices get capabilities, firmware and
	// compatible refreshed. It reports whether the record was newly
	// provisioned and whether the firmware string changed.
	RefreshOnConnect(ctx context.Context, info ConnectInfo) (provisioned, firmwareChanged bool, err error)

	// SetLastSeen records the most recent contact time for a device.
	SetLastSeen(ctx context.Context, serialNumber string, seen time.Time) error

	// SetPendingRevision records a pushed configuration revision the device
	// has not adopted yet.
	SetPendingRevision(ctx context.Context, serialNumber string, revision uint64) error

	// ResolveUpgrade reconciles a device-reported configuration revision
	// against any pending revision. When the report shows the pending
	// revision was adopted, pending collapses to zero. The returned revision
	// is the effective one to record on the session.
	ResolveUpgrade(ctx context.Context, serialNumber string, reported uint64) (effective uint64, upgraded bool, err error)

	// AddStatistics appends one state snapshot.
	AddStatistics(ctx context.Context, stats *Statistics) error

	// LatestStatistics retrieves the most recent state snapshot for a device.
	// Returns ErrDeviceNotFound if no snapshot exists.
	LatestStatistics(ctx context.Context, serialNumber string) (*Statistics, error)

	// AddHealthcheck appends one healthcheck report.
	AddHealthcheck(ctx context.Context, hc *Healthcheck) error

	// LatestHealthcheck retrieves the most recent healthcheck for a device.
	// Returns ErrDeviceNotFound if no healthcheck exists.
	LatestHealthcheck(ctx context.Context, serialNumber string) (*Healthcheck, error)

	// PurgeStatistics deletes statistics recorded before the cutoff.
	PurgeStatistics(ctx context.Context, olderThan time.Time) error

	// PurgeHealthchecks deletes healthchecks recorded before the cutoff.
	PurgeHealthchecks(ctx context.Context, olderThan time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed inventory repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `serial_number, capabilities, firmware, compatible,
	config_revision, pending_revision, last_seen, created_at, updated_at`

// Get retrieves a device by serial number.
func (r *SQLiteRepository) Get(ctx context.Context, serialNumber string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE serial_number = ?`

	device, err := scanDevice(r.db.QueryRowContext(ctx, query, serialNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return device, nil
}

// List retrieves devices ordered by serial number.
func (r *SQLiteRepository) List(ctx context.Context, offset, limit int) ([]Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		ORDER BY serial_number
		LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}
	return devices, nil
}

// Count returns the number of devices in the inventory.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting devices: %w", err)
	}
	return count, nil
}

// Create inserts a new device record.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	if device.SerialNumber == "" {
		return fmt.Errorf("%w: missing serial number", ErrInvalidDevice)
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	capabilities := device.Capabilities
	if len(capabilities) == 0 {
		capabilities = json.RawMessage("{}")
	}

	query := `
		INSERT INTO devices (
			serial_number, capabilities, firmware, compatible,
			config_revision, pending_revision, last_seen, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		device.SerialNumber,
		string(capabilities),
		device.Firmware,
		device.Compatible,
		device.ConfigRevision,
		device.PendingRevision,
		nullableTime(device.LastSeen),
		device.CreatedAt.Format(time.RFC3339Nano),
		device.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Delete removes a device by serial number.
func (r *SQLiteRepository) Delete(ctx context.Context, serialNumber string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM devices WHERE serial_number = ?`, serialNumber)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// RefreshOnConnect upserts the connect-time fields for a device.
func (r *SQLiteRepository) RefreshOnConnect(ctx context.Context, info ConnectInfo) (bool, bool, error) {
	existing, err := r.Get(ctx, info.SerialNumber)
	if errors.Is(err, ErrDeviceNotFound) {
		device := &Device{
			SerialNumber: info.SerialNumber,
			Capabilities: info.Capabilities,
			Firmware:     info.Firmware,
			Compatible:   info.Compatible,
		}
		if err := r.Create(ctx, device); err != nil {
			// A concurrent connect may have provisioned it first.
			if errors.Is(err, ErrDeviceExists) {
				return r.RefreshOnConnect(ctx, info)
			}
			return false, false, err
		}
		return true, false, nil
	}
	if err != nil {
		return false, false, err
	}

	firmwareChanged := info.Firmware != "" && existing.Firmware != info.Firmware

	capabilities := info.Capabilities
	if len(capabilities) == 0 {
		capabilities = json.RawMessage("{}")
	}

	query := `
		UPDATE devices
		SET capabilities = ?, firmware = ?, compatible = ?, updated_at = ?
		WHERE serial_number = ?`

	_, err = r.db.ExecContext(ctx, query,
		string(capabilities),
		info.Firmware,
		info.Compatible,
		time.Now().UTC().Format(time.RFC3339Nano),
		info.SerialNumber,
	)
	if err != nil {
		return false, false, fmt.Errorf("refreshing device: %w", err)
	}
	return false, firmwareChanged, nil
}

// SetLastSeen records the most recent contact time for a device.
func (r *SQLiteRepository) SetLastSeen(ctx context.Context, serialNumber string, seen time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET last_seen = ? WHERE serial_number = ?`,
		seen.UTC().Format(time.RFC3339Nano), serialNumber)
	if err != nil {
		return fmt.Errorf("updating last seen: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking last seen update: %w", err)
	}
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// SetPendingRevision records a pushed configuration revision.
func (r *SQLiteRepository) SetPendingRevision(ctx context.Context, serialNumber string, revision uint64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET pending_revision = ?, updated_at = ? WHERE serial_number = ?`,
		revision, time.Now().UTC().Format(time.RFC3339Nano), serialNumber)
	if err != nil {
		return fmt.Errorf("updating pending revision: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking pending revision update: %w", err)
	}
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// ResolveUpgrade reconciles a device-reported configuration revision against
// any pending revision, inside a single transaction.
func (r *SQLiteRepository) ResolveUpgrade(ctx context.Context, serialNumber string, reported uint64) (uint64, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("beginning upgrade transaction: %w", err)
	}
	defer tx.Rollback()

	var configRevision, pendingRevision uint64
	err = tx.QueryRowContext(ctx,
		`SELECT config_revision, pending_revision FROM devices WHERE serial_number = ?`,
		serialNumber,
	).Scan(&configRevision, &pendingRevision)
	if errors.Is(err, sql.ErrNoRows) {
		// Device not provisioned; nothing to reconcile, report stands.
		return reported, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading device revisions: %w", err)
	}

	effective := reported
	upgraded := false
	newPending := pendingRevision
	if pendingRevision != 0 && reported >= pendingRevision {
		// Device adopted the pushed configuration.
		effective = reported
		newPending = 0
		upgraded = true
	}

	if effective != configRevision || newPending != pendingRevision {
		_, err = tx.ExecContext(ctx,
			`UPDATE devices SET config_revision = ?, pending_revision = ?, updated_at = ? WHERE serial_number = ?`,
			effective, newPending, time.Now().UTC().Format(time.RFC3339Nano), serialNumber)
		if err != nil {
			return 0, false, fmt.Errorf("updating device revisions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("committing upgrade transaction: %w", err)
	}
	return effective, upgraded, nil
}

// AddStatistics appends one state snapshot.
func (r *SQLiteRepository) AddStatistics(ctx context.Context, stats *Statistics) error {
	if stats.Recorded.IsZero() {
		stats.Recorded = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO statistics (serial_number, revision, data, recorded) VALUES (?, ?, ?, ?)`,
		stats.SerialNumber,
		stats.Revision,
		string(stats.Data),
		stats.Recorded.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting statistics: %w", err)
	}
	return nil
}

// LatestStatistics retrieves the most recent state snapshot for a device.
func (r *SQLiteRepository) LatestStatistics(ctx context.Context, serialNumber string) (*Statistics, error) {
	query := `
		SELECT serial_number, revision, data, recorded
		FROM statistics
		WHERE serial_number = ?
		ORDER BY recorded DESC
		LIMIT 1`

	var (
		stats    Statistics
		data     string
		recorded string
	)
	err := r.db.QueryRowContext(ctx, query, serialNumber).Scan(
		&stats.SerialNumber, &stats.Revision, &data, &recorded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying statistics: %w", err)
	}
	stats.Data = json.RawMessage(data)
	if stats.Recorded, err = time.Parse(time.RFC3339Nano, recorded); err != nil {
		return nil, fmt.Errorf("parsing statistics timestamp: %w", err)
	}
	return &stats, nil
}

// AddHealthcheck appends one healthcheck report.
func (r *SQLiteRepository) AddHealthcheck(ctx context.Context, hc *Healthcheck) error {
	if hc.Recorded.IsZero() {
		hc.Recorded = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO healthchecks (serial_number, revision, sanity, data, recorded) VALUES (?, ?, ?, ?, ?)`,
		hc.SerialNumber,
		hc.Revision,
		hc.Sanity,
		string(hc.Data),
		hc.Recorded.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting healthcheck: %w", err)
	}
	return nil
}

// LatestHealthcheck retrieves the most recent healthcheck for a device.
func (r *SQLiteRepository) LatestHealthcheck(ctx context.Context, serialNumber string) (*Healthcheck, error) {
	query := `
		SELECT serial_number, revision, sanity, data, recorded
		FROM healthchecks
		WHERE serial_number = ?
		ORDER BY recorded DESC
		LIMIT 1`

	var (
		hc       Healthcheck
		data     string
		recorded string
	)
	err := r.db.QueryRowContext(ctx, query, serialNumber).Scan(
		&hc.SerialNumber, &hc.Revision, &hc.Sanity, &data, &recorded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying healthcheck: %w", err)
	}
	hc.Data = json.RawMessage(data)
	if hc.Recorded, err = time.Parse(time.RFC3339Nano, recorded); err != nil {
		return nil, fmt.Errorf("parsing healthcheck timestamp: %w", err)
	}
	return &hc, nil
}

// PurgeStatistics deletes statistics recorded before the cutoff.
func (r *SQLiteRepository) PurgeStatistics(ctx context.Context, olderThan time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM statistics WHERE recorded < ?`,
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("purging statistics: %w", err)
	}
	return nil
}

// PurgeHealthchecks deletes healthchecks recorded before the cutoff.
func (r *SQLiteRepository) PurgeHealthchecks(ctx context.Context, olderThan time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM healthchecks WHERE recorded < ?`,
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("purging healthchecks: %w", err)
	}
	return nil
}

// scanner abstracts over *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*Device, error) {
	var (
		device               Device
		capabilities         string
		lastSeen             sql.NullString
		createdAt, updatedAt string
	)

	err := row.Scan(
		&device.SerialNumber,
		&capabilities,
		&device.Firmware,
		&device.Compatible,
		&device.ConfigRevision,
		&device.PendingRevision,
		&lastSeen,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	device.Capabilities = json.RawMessage(capabilities)

	if lastSeen.Valid && lastSeen.String != "" {
		t, err := time.Parse(time.RFC3339Nano, lastSeen.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}
		device.LastSeen = &t
	}
	if device.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if device.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &device, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
