package instrument

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for instrument persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves an instrument by its unique identifier.
	// Returns ErrNotFound if the instrument does not exist.
	GetByID(ctx context.Context, id string) (*Instrument, error)

	// GetBySerial retrieves an instrument by serial.
	// Returns ErrNotFound if the instrument does not exist.
	GetBySerial(ctx context.Context, serial string) (*Instrument, error)

	// List retrieves all instruments ordered by serial.
	List(ctx context.Context) ([]Instrument, error)

	// Create inserts a new instrument.
	// Returns ErrExists if the serial is already registered.
	Create(ctx context.Context, inst *Instrument) error

	// Update modifies an existing instrument.
	// Returns ErrNotFound if the instrument does not exist.
	Update(ctx context.Context, inst *Instrument) error

	// Delete removes an instrument by ID.
	// Returns ErrNotFound if the instrument does not exist.
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

const instrumentColumns = `id, serial, name, host, port, enabled, created_at, updated_at`

// GetByID retrieves an instrument by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instruments WHERE id = ?`

	inst, err := scanInstrument(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying instrument by id: %w", err)
	}
	return inst, nil
}

// GetBySerial retrieves an instrument by serial.
func (r *SQLiteRepository) GetBySerial(ctx context.Context, serial string) (*Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instruments WHERE serial = ?`

	inst, err := scanInstrument(r.db.QueryRowContext(ctx, query, serial))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying instrument by serial: %w", err)
	}
	return inst, nil
}

// List retrieves all instruments ordered by serial.
func (r *SQLiteRepository) List(ctx context.Context) ([]Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instruments ORDER BY serial`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying instruments: %w", err)
	}
	defer rows.Close()

	var instruments []Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning instrument: %w", err)
		}
		instruments = append(instruments, *inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating instruments: %w", err)
	}

	return instruments, nil
}

// Create inserts a new instrument.
func (r *SQLiteRepository) Create(ctx context.Context, inst *Instrument) error {
	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now

	query := `
		INSERT INTO instruments (` + instrumentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		inst.ID,
		inst.Serial,
		inst.Name,
		inst.Host,
		inst.Port,
		boolToInt(inst.Enabled),
		inst.CreatedAt.Format(time.RFC3339),
		inst.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting instrument: %w", err)
	}

	return nil
}

// Update modifies an existing instrument.
func (r *SQLiteRepository) Update(ctx context.Context, inst *Instrument) error {
	inst.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE instruments SET
			serial = ?, name = ?, host = ?, port = ?, enabled = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		inst.Serial,
		inst.Name,
		inst.Host,
		inst.Port,
		boolToInt(inst.Enabled),
		inst.UpdatedAt.Format(time.RFC3339),
		inst.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("updating instrument: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes an instrument by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM instruments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting instrument: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanInstrument scans a row or rows result into an Instrument.
func scanInstrument(scanner rowScanner) (*Instrument, error) {
	var inst Instrument
	var enabled int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&inst.ID,
		&inst.Serial,
		&inst.Name,
		&inst.Host,
		&inst.Port,
		&enabled,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	inst.Enabled = enabled != 0

	inst.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	inst.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &inst, nil
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
