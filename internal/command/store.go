package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for durable command persistence.
// This abstraction allows for different implementations (SQLite, mock)
// and enables unit testing without database dependencies.
type Repository interface {
	// Add inserts a new command in state pending.
	// Returns ErrCommandExists if the UUID already exists.
	Add(ctx context.Context, cmd *Command) error

	// Get retrieves a command by UUID.
	// Returns ErrCommandNotFound if the command does not exist.
	Get(ctx context.Context, uuid string) (*Command, error)

	// Delete removes a command by UUID.
	Delete(ctx context.Context, uuid string) error

	// List retrieves commands for a device, newest-submitted-first.
	List(ctx context.Context, serialNumber string, offset, limit int) ([]Command, error)

	// ReadyToExecute retrieves up to limit commands in state pending,
	// oldest-submitted-first.
	ReadyToExecute(ctx context.Context, offset, limit int) ([]Command, error)

	// MarkExecuted transitions a command to executed, recording the time the
	// frame was handed to the transport.
	MarkExecuted(ctx context.Context, uuid string) error

	// MarkExpired transitions a command to expired (too old to attempt).
	MarkExpired(ctx context.Context, uuid string) error

	// MarkTimedOut transitions a command to timedout.
	MarkTimedOut(ctx context.Context, uuid string) error

	// Complete transitions a command to completed, recording the response
	// payload and round-trip latency.
	Complete(ctx context.Context, uuid string, results json.RawMessage, latency time.Duration) error

	// SetResult stores a result payload without changing state. Used when a
	// state report satisfies a previously-submitted command.
	SetResult(ctx context.Context, uuid string, result string) error

	// PurgeExpired deletes expired commands older than the retention window.
	PurgeExpired(ctx context.Context, olderThan time.Time) error

	// PurgeTimedOut deletes timed-out commands older than the retention window.
	PurgeTimedOut(ctx context.Context, olderThan time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed command repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const commandColumns = `uuid, serial_number, command, details, status, submitted_by,
	submitted, executed, completed, results, error_text, execution_time_ms`

// Add inserts a new command in state pending.
func (r *SQLiteRepository) Add(ctx context.Context, cmd *Command) error {
	if cmd.Submitted.IsZero() {
		cmd.Submitted = time.Now().UTC()
	}
	if cmd.Status == "" {
		cmd.Status = StatusPending
	}
	details := cmd.Details
	if len(details) == 0 {
		details = json.RawMessage("{}")
	}

	query := `
		INSERT INTO commands (
			uuid, serial_number, command, details, status, submitted_by, submitted
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		cmd.UUID,
		cmd.SerialNumber,
		cmd.Command,
		string(details),
		string(cmd.Status),
		cmd.SubmittedBy,
		cmd.Submitted.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCommandExists
		}
		return fmt.Errorf("inserting command: %w", err)
	}
	return nil
}

// Get retrieves a command by UUID.
func (r *SQLiteRepository) Get(ctx context.Context, uuid string) (*Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE uuid = ?`

	cmd, err := scanCommand(r.db.QueryRowContext(ctx, query, uuid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("querying command: %w", err)
	}
	return cmd, nil
}

// Delete removes a command by UUID.
func (r *SQLiteRepository) Delete(ctx context.Context, uuid string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM commands WHERE uuid = ?`, uuid)
	if err != nil {
		return fmt.Errorf("deleting command: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if rows == 0 {
		return ErrCommandNotFound
	}
	return nil
}

// List retrieves commands for a device, newest-submitted-first.
func (r *SQLiteRepository) List(ctx context.Context, serialNumber string, offset, limit int) ([]Command, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM commands
		WHERE serial_number = ?
		ORDER BY submitted DESC
		LIMIT ? OFFSET ?`

	return r.queryCommands(ctx, query, serialNumber, limit, offset)
}

// ReadyToExecute retrieves pending commands, oldest-submitted-first.
func (r *SQLiteRepository) ReadyToExecute(ctx context.Context, offset, limit int) ([]Command, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM commands
		WHERE status = ?
		ORDER BY submitted ASC
		LIMIT ? OFFSET ?`

	return r.queryCommands(ctx, query, string(StatusPending), limit, offset)
}

// MarkExecuted transitions a command to executed.
func (r *SQLiteRepository) MarkExecuted(ctx context.Context, uuid string) error {
	return r.setStatus(ctx, uuid, StatusExecuted, "executed")
}

// MarkExpired transitions a command to expired.
func (r *SQLiteRepository) MarkExpired(ctx context.Context, uuid string) error {
	return r.setStatus(ctx, uuid, StatusExpired, "")
}

// MarkTimedOut transitions a command to timedout.
func (r *SQLiteRepository) MarkTimedOut(ctx context.Context, uuid string) error {
	return r.setStatus(ctx, uuid, StatusTimedOut, "")
}

// Complete transitions a command to completed with its response payload and
// round-trip latency.
func (r *SQLiteRepository) Complete(ctx context.Context, uuid string, results json.RawMessage, latency time.Duration) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := `
		UPDATE commands
		SET status = ?, completed = ?, results = ?, execution_time_ms = ?
		WHERE uuid = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(StatusCompleted),
		now,
		string(results),
		float64(latency)/float64(time.Millisecond),
		uuid,
	)
	if err != nil {
		return fmt.Errorf("completing command: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking complete result: %w", err)
	}
	if rows == 0 {
		return ErrCommandNotFound
	}
	return nil
}

// SetResult stores a result payload without changing state.
func (r *SQLiteRepository) SetResult(ctx context.Context, uuid string, resultPayload string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE commands SET results = ? WHERE uuid = ?`,
		resultPayload, uuid,
	)
	if err != nil {
		return fmt.Errorf("setting command result: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking result update: %w", err)
	}
	if rows == 0 {
		return ErrCommandNotFound
	}
	return nil
}

// PurgeExpired deletes expired commands older than the retention window.
func (r *SQLiteRepository) PurgeExpired(ctx context.Context, olderThan time.Time) error {
	return r.purge(ctx, StatusExpired, olderThan)
}

// PurgeTimedOut deletes timed-out commands older than the retention window.
func (r *SQLiteRepository) PurgeTimedOut(ctx context.Context, olderThan time.Time) error {
	return r.purge(ctx, StatusTimedOut, olderThan)
}

func (r *SQLiteRepository) purge(ctx context.Context, status Status, olderThan time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM commands WHERE status = ? AND submitted < ?`,
		string(status),
		olderThan.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("purging %s commands: %w", status, err)
	}
	return nil
}

// setStatus updates the status column, optionally stamping a timestamp column.
func (r *SQLiteRepository) setStatus(ctx context.Context, uuid string, status Status, stampColumn string) error {
	var (
		result sql.Result
		err    error
	)
	if stampColumn != "" {
		// stampColumn is one of our fixed column names, never user input.
		query := fmt.Sprintf(`UPDATE commands SET status = ?, %s = ? WHERE uuid = ?`, stampColumn)
		result, err = r.db.ExecContext(ctx, query,
			string(status), time.Now().UTC().Format(time.RFC3339Nano), uuid)
	} else {
		result, err = r.db.ExecContext(ctx,
			`UPDATE commands SET status = ? WHERE uuid = ?`, string(status), uuid)
	}
	if err != nil {
		return fmt.Errorf("updating command status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking status update: %w", err)
	}
	if rows == 0 {
		return ErrCommandNotFound
	}
	return nil
}

// queryCommands executes a query expected to return command rows.
func (r *SQLiteRepository) queryCommands(ctx context.Context, query string, args ...any) ([]Command, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	var commands []Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command row: %w", err)
		}
		commands = append(commands, *cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command rows: %w", err)
	}
	return commands, nil
}

// scanner abstracts over *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanCommand maps one row to a Command.
func scanCommand(row scanner) (*Command, error) {
	var (
		cmd                  Command
		details              string
		status               string
		submitted            string
		executed, completed  sql.NullString
		results              sql.NullString
	)

	err := row.Scan(
		&cmd.UUID,
		&cmd.SerialNumber,
		&cmd.Command,
		&details,
		&status,
		&cmd.SubmittedBy,
		&submitted,
		&executed,
		&completed,
		&results,
		&cmd.ErrorText,
		&cmd.ExecutionTimeMS,
	)
	if err != nil {
		return nil, err
	}

	cmd.Details = json.RawMessage(details)
	cmd.Status = Status(status)
	cmd.Submitted, err = time.Parse(time.RFC3339Nano, submitted)
	if err != nil {
		return nil, fmt.Errorf("parsing submitted timestamp: %w", err)
	}
	if executed.Valid {
		if t, parseErr := time.Parse(time.RFC3339Nano, executed.String); parseErr == nil {
			cmd.Executed = &t
		}
	}
	if completed.Valid {
		if t, parseErr := time.Parse(time.RFC3339Nano, completed.String); parseErr == nil {
			cmd.Completed = &t
		}
	}
	if results.Valid && results.String != "" {
		cmd.Results = json.RawMessage(results.String)
	}

	return &cmd, nil
}

// isUniqueViolation reports whether an error is a SQLite unique constraint
// violation without importing driver-specific error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
