package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/imagewriter/flashctl/pkg/errors"
	"github.com/imagewriter/flashctl/pkg/size"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for flash history
type Repository struct {
	db *sql.DB
}

// NewRepository opens the database and creates the schema
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	// The engine writes from FSM goroutines; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new flash record
func (r *Repository) Create(ctx context.Context, f *Flash) error {
	slog.Info("database_create_flash", "run_id", f.RunID, "device_path", f.DevicePath, "status", f.Status)

	query := `
		INSERT INTO flashes (run_id, image_path, image_size, device_path, device_capacity, status, bytes_written, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		f.RunID, f.ImagePath, f.ImageSize.String(),
		f.DevicePath, f.DeviceCapacity.String(),
		f.Status, f.BytesWritten.String(), f.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "run_id", f.RunID, "error", err)
		return errors.Wrap(err, "failed to insert flash")
	}

	id, err := result.LastInsertId()
	if err != nil {
		slog.Error("database_last_insert_id_failed", "run_id", f.RunID, "error", err)
		return errors.Wrap(err, "failed to get last insert id")
	}
	f.ID = id

	slog.Info("database_flash_created", "run_id", f.RunID, "flash_id", f.ID)
	return nil
}

const selectColumns = `
	SELECT id, run_id, image_path, image_size, device_path, device_capacity,
	       status, bytes_written, error_message, created_at, updated_at
	FROM flashes`

type scanner interface {
	Scan(dest ...any) error
}

func scanFlash(row scanner) (*Flash, error) {
	var f Flash
	var imageSize, capacity, written string
	var errorMessage sql.NullString

	if err := row.Scan(
		&f.ID, &f.RunID, &f.ImagePath, &imageSize, &f.DevicePath, &capacity,
		&f.Status, &written, &errorMessage, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if f.ImageSize, err = size.Parse(imageSize); err != nil {
		return nil, errors.Wrap(err, "image_size")
	}
	if f.DeviceCapacity, err = size.Parse(capacity); err != nil {
		return nil, errors.Wrap(err, "device_capacity")
	}
	if f.BytesWritten, err = size.Parse(written); err != nil {
		return nil, errors.Wrap(err, "bytes_written")
	}
	f.ErrorMessage = errorMessage.String
	return &f, nil
}

// GetByRunID retrieves a flash by run ID. It returns nil, nil when absent.
func (r *Repository) GetByRunID(ctx context.Context, runID string) (*Flash, error) {
	f, err := scanFlash(r.db.QueryRowContext(ctx, selectColumns+` WHERE run_id = ?`, runID))
	if err == sql.ErrNoRows {
		slog.Info("database_flash_not_found", "run_id", runID)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "run_id", runID, "error", err)
		return nil, errors.Wrap(err, "failed to query flash")
	}
	return f, nil
}

// UpdateStatus sets the status and error message of a run
func (r *Repository) UpdateStatus(ctx context.Context, runID, status, errorMessage string) error {
	slog.Info("database_update_status", "run_id", runID, "status", status)

	query := `UPDATE flashes SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE run_id = ?`
	result, err := r.db.ExecContext(ctx, query, status, errorMessage, runID)
	if err != nil {
		slog.Error("database_status_update_failed", "run_id", runID, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_flash_not_found_for_update", "run_id", runID)
		return fmt.Errorf("flash not found: run_id=%s", runID)
	}
	return nil
}

// UpdateProgress records the bytes written so far
func (r *Repository) UpdateProgress(ctx context.Context, runID string, written size.Bytes) error {
	query := `UPDATE flashes SET bytes_written = ?, updated_at = CURRENT_TIMESTAMP WHERE run_id = ?`
	if _, err := r.db.ExecContext(ctx, query, written.String(), runID); err != nil {
		slog.Error("database_progress_update_failed", "run_id", runID, "error", err)
		return errors.Wrap(err, "failed to update progress")
	}
	return nil
}

// List retrieves all flashes, newest first
func (r *Repository) List(ctx context.Context) ([]*Flash, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, id DESC`)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list flashes")
	}
	defer rows.Close()

	var flashes []*Flash
	for rows.Next() {
		f, err := scanFlash(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		flashes = append(flashes, f)
	}

	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("database_list_complete", "flash_count", len(flashes))
	return flashes, nil
}

// Delete deletes a flash by ID
func (r *Repository) Delete(ctx context.Context, id int64) error {
	slog.Info("database_delete_flash", "flash_id", id)

	if _, err := r.db.ExecContext(ctx, `DELETE FROM flashes WHERE id = ?`, id); err != nil {
		slog.Error("database_delete_failed", "flash_id", id, "error", err)
		return errors.Wrap(err, "failed to delete flash")
	}
	return nil
}

// DeleteByStatus removes every flash in one of the given statuses and
// returns the number of rows removed.
func (r *Repository) DeleteByStatus(ctx context.Context, statuses ...string) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed_to_begin_transaction", "error", err)
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var total int64
	for _, status := range statuses {
		result, err := tx.ExecContext(ctx, `DELETE FROM flashes WHERE status = ?`, status)
		if err != nil {
			slog.Error("database_delete_by_status_failed", "status", status, "error", err)
			return 0, errors.Wrapf(err, "failed to delete %s flashes", status)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, errors.Wrap(err, "failed to get rows affected")
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed_to_commit_transaction", "error", err)
		return 0, errors.Wrap(err, "failed to commit transaction")
	}

	slog.Info("database_flashes_deleted", "statuses", statuses, "count", total)
	return total, nil
}
