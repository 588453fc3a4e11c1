// Package blockdev discovers removable block devices that are safe to flash
// and prepares them for a raw write.
package blockdev

import (
	"context"

	"github.com/imagewriter/flashctl/pkg/size"
)

// DiskInfo describes a whole-disk flash target
type DiskInfo struct {
	Path      string
	Model     string
	Transport string
	Removable bool
	Size      size.Bytes
}

// Manager lists and prepares target disks
type Manager interface {
	// ListDevices returns the whole disks that may be flashed
	ListDevices(ctx context.Context) ([]*DiskInfo, error)

	// UnmountDevice unmounts every mounted partition of the disk
	UnmountDevice(ctx context.Context, devicePath string) error

	// Close cleans up resources
	Close() error
}
