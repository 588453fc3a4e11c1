//go:build linux

package blockdev

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/imagewriter/flashctl/pkg/errors"
)

// LinuxManager discovers disks with lsblk and unmounts them with umount
type LinuxManager struct {
	lsblkPath string
}

// NewManager creates a Linux block device manager
func NewManager() (Manager, error) {
	path, err := exec.LookPath("lsblk")
	if err != nil {
		slog.Error("blockdev_lsblk_missing", "error", err)
		return nil, errors.Wrap(err, "lsblk not found")
	}
	slog.Info("blockdev_init", "lsblk", path, "platform", "linux")
	return &LinuxManager{lsblkPath: path}, nil
}

func (m *LinuxManager) lsblk(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, m.lsblkPath, "-J", "-b", "-o", lsblkColumns)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("lsblk: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, errors.Wrap(err, "lsblk failed")
	}
	return out, nil
}

func (m *LinuxManager) ListDevices(ctx context.Context) ([]*DiskInfo, error) {
	out, err := m.lsblk(ctx)
	if err != nil {
		slog.Error("blockdev_list_failed", "error", err)
		return nil, err
	}

	disks, err := ParseLsblk(out)
	if err != nil {
		return nil, err
	}

	slog.Info("blockdev_list_complete", "device_count", len(disks))
	return disks, nil
}

func (m *LinuxManager) UnmountDevice(ctx context.Context, devicePath string) error {
	out, err := m.lsblk(ctx)
	if err != nil {
		return err
	}

	mounts, err := mountedPartitions(out, devicePath)
	if err != nil {
		return err
	}

	for _, mountPath := range mounts {
		slog.Info("unmounting_partition", "device_path", devicePath, "mount_path", mountPath)
		cmd := exec.CommandContext(ctx, "umount", mountPath)
		if output, err := cmd.CombinedOutput(); err != nil {
			slog.Error("unmount_failed", "mount_path", mountPath, "error", err, "output", string(output))
			return errors.Wrapf(err, "failed to unmount %s: %s", mountPath, strings.TrimSpace(string(output)))
		}
	}

	slog.Info("device_unmounted", "device_path", devicePath, "partitions", len(mounts))
	return nil
}

func (m *LinuxManager) Close() error {
	return nil
}
