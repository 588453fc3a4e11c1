package db

import "github.com/imagewriter/flashctl/pkg/size"

// Schema defines the SQLite schema for flash history. Sizes are stored as
// decimal text so capacities beyond int64 round-trip exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS flashes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL UNIQUE,
    image_path TEXT NOT NULL,
    image_size TEXT NOT NULL DEFAULT '0',
    device_path TEXT NOT NULL,
    device_capacity TEXT NOT NULL DEFAULT '0',
    status TEXT NOT NULL CHECK(status IN ('pending', 'writing', 'done', 'failed', 'cancelled')),
    bytes_written TEXT NOT NULL DEFAULT '0',
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_flashes_run_id ON flashes(run_id);
CREATE INDEX IF NOT EXISTS idx_flashes_status ON flashes(status);
CREATE INDEX IF NOT EXISTS idx_flashes_created_at ON flashes(created_at);
`

// Status constants
const (
	StatusPending   = "pending"
	StatusWriting   = "writing"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Flash is one recorded flash attempt.
type Flash struct {
	ID             int64      `json:"id" yaml:"id"`
	RunID          string     `json:"run_id" yaml:"run_id"`
	ImagePath      string     `json:"image_path" yaml:"image_path"`
	ImageSize      size.Bytes `json:"image_size" yaml:"image_size"`
	DevicePath     string     `json:"device_path" yaml:"device_path"`
	DeviceCapacity size.Bytes `json:"device_capacity" yaml:"device_capacity"`
	Status         string     `json:"status" yaml:"status"`
	BytesWritten   size.Bytes `json:"bytes_written" yaml:"bytes_written"`
	ErrorMessage   string     `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	CreatedAt      string     `json:"created_at" yaml:"created_at"`
	UpdatedAt      string     `json:"updated_at" yaml:"updated_at"`
}

// Finished reports whether the attempt reached a final status.
func (f *Flash) Finished() bool {
	switch f.Status {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
