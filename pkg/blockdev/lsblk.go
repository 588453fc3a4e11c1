package blockdev

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/imagewriter/flashctl/pkg/errors"
	"github.com/imagewriter/flashctl/pkg/size"
)

// lsblkOutput represents the JSON output from lsblk -J
type lsblkOutput struct {
	Blockdevices []lsblkDevice `json:"blockdevices"`
}

// lsblkDevice represents a single device in lsblk output. Older util-linux
// releases print every value as a string; newer ones use numbers, booleans
// and null.
type lsblkDevice struct {
	Name       flexString    `json:"name"`
	Path       flexString    `json:"path"`
	Type       flexString    `json:"type"`
	Size       flexString    `json:"size"`
	Model      flexString    `json:"model"`
	Tran       flexString    `json:"tran"`
	RM         flexBool      `json:"rm"`
	Hotplug    flexBool      `json:"hotplug"`
	Mountpoint flexString    `json:"mountpoint"`
	FSType     flexString    `json:"fstype"`
	Children   []lsblkDevice `json:"children,omitempty"`
}

// flexString accepts a JSON string, number or null.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
		return nil
	}
	*s = flexString(data)
	return nil
}

// flexBool accepts true/false, "1"/"0", 1/0 or null.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	switch strings.ToLower(string(s)) {
	case "1", "true":
		*b = true
	default:
		*b = false
	}
	return nil
}

// ParseLsblk decodes lsblk -J -b output and returns the whole disks that are
// safe to flash: removable or hotplugged or on USB, and not hosting the
// running system.
func ParseLsblk(out []byte) ([]*DiskInfo, error) {
	var output lsblkOutput
	if err := json.Unmarshal(out, &output); err != nil {
		return nil, errors.Wrap(err, "failed to parse lsblk output")
	}

	var disks []*DiskInfo
	for _, dev := range output.Blockdevices {
		if dev.Type != "disk" {
			continue
		}

		path := devicePath(dev)
		if hostsSystem(dev) {
			slog.Info("blockdev_skip_system_disk", "path", path)
			continue
		}

		removable := bool(dev.RM) || bool(dev.Hotplug)
		transport := strings.ToLower(string(dev.Tran))
		if !removable && transport != "usb" {
			slog.Debug("blockdev_skip_fixed_disk", "path", path, "transport", transport)
			continue
		}

		capacity, err := size.Parse(string(dev.Size))
		if err != nil {
			slog.Warn("blockdev_bad_size", "path", path, "size", string(dev.Size), "error", err)
			continue
		}
		if capacity.IsZero() {
			// Empty card readers report zero bytes.
			continue
		}

		disks = append(disks, &DiskInfo{
			Path:      path,
			Model:     string(dev.Model),
			Transport: transport,
			Removable: removable,
			Size:      capacity,
		})
	}
	return disks, nil
}

// mountedPartitions returns the mountpoints under the disk at target.
func mountedPartitions(out []byte, target string) ([]string, error) {
	var output lsblkOutput
	if err := json.Unmarshal(out, &output); err != nil {
		return nil, errors.Wrap(err, "failed to parse lsblk output")
	}

	var mounts []string
	for _, dev := range output.Blockdevices {
		if devicePath(dev) != target {
			continue
		}
		walk(dev, func(d lsblkDevice) {
			if d.Mountpoint != "" && d.Mountpoint != "[SWAP]" {
				mounts = append(mounts, string(d.Mountpoint))
			}
		})
	}
	return mounts, nil
}

func hostsSystem(dev lsblkDevice) bool {
	found := false
	walk(dev, func(d lsblkDevice) {
		if protectedMountpoints[string(d.Mountpoint)] || d.FSType == "swap" {
			found = true
		}
	})
	return found
}

func walk(dev lsblkDevice, fn func(lsblkDevice)) {
	fn(dev)
	for _, child := range dev.Children {
		walk(child, fn)
	}
}

// devicePath falls back to /dev/<name> for lsblk releases without PATH.
func devicePath(dev lsblkDevice) string {
	if dev.Path != "" {
		return string(dev.Path)
	}
	return "/dev/" + string(dev.Name)
}
