//go:build !linux

package blockdev

import (
	"context"
	"fmt"
	"runtime"
)

// StubManager reports that device discovery is unavailable on this platform
type StubManager struct{}

// NewManager creates a stub manager on non-Linux systems
func NewManager() (Manager, error) {
	return &StubManager{}, nil
}

func (m *StubManager) ListDevices(ctx context.Context) ([]*DiskInfo, error) {
	return nil, fmt.Errorf("device discovery not supported on %s", runtime.GOOS)
}

func (m *StubManager) UnmountDevice(ctx context.Context, devicePath string) error {
	return fmt.Errorf("unmount not supported on %s", runtime.GOOS)
}

func (m *StubManager) Close() error {
	return nil
}
