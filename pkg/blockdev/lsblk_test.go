package blockdev

import (
	"reflect"
	"testing"
)

// Newer util-linux: numbers, booleans and null.
const lsblkModern = `{
   "blockdevices": [
      {"name":"nvme0n1", "path":"/dev/nvme0n1", "type":"disk", "size":512110190592, "model":"Samsung SSD 980", "tran":"nvme", "rm":false, "hotplug":false, "mountpoint":null, "fstype":null,
         "children": [
            {"name":"nvme0n1p1", "path":"/dev/nvme0n1p1", "type":"part", "size":536870912, "model":null, "tran":"nvme", "rm":false, "hotplug":false, "mountpoint":"/boot/efi", "fstype":"vfat"},
            {"name":"nvme0n1p2", "path":"/dev/nvme0n1p2", "type":"part", "size":511571214336, "model":null, "tran":"nvme", "rm":false, "hotplug":false, "mountpoint":"/", "fstype":"ext4"}
         ]
      },
      {"name":"sda", "path":"/dev/sda", "type":"disk", "size":2000398934016, "model":"WDC WD20EZRZ", "tran":"sata", "rm":false, "hotplug":false, "mountpoint":null, "fstype":null,
         "children": [
            {"name":"sda1", "path":"/dev/sda1", "type":"part", "size":2000397885440, "model":null, "tran":"sata", "rm":false, "hotplug":false, "mountpoint":"/data", "fstype":"ext4"}
         ]
      },
      {"name":"sdb", "path":"/dev/sdb", "type":"disk", "size":32015679488, "model":"SanDisk Ultra  ", "tran":"usb", "rm":true, "hotplug":true, "mountpoint":null, "fstype":null,
         "children": [
            {"name":"sdb1", "path":"/dev/sdb1", "type":"part", "size":32014630912, "model":null, "tran":"usb", "rm":true, "hotplug":true, "mountpoint":"/media/user/STICK", "fstype":"vfat"}
         ]
      },
      {"name":"sdc", "path":"/dev/sdc", "type":"disk", "size":0, "model":"Card Reader", "tran":"usb", "rm":true, "hotplug":true, "mountpoint":null, "fstype":null},
      {"name":"loop0", "path":"/dev/loop0", "type":"loop", "size":67108864, "model":null, "tran":null, "rm":false, "hotplug":false, "mountpoint":"/snap/core", "fstype":"squashfs"}
   ]
}`

// Older util-linux: everything is a string, no PATH column.
const lsblkLegacy = `{
   "blockdevices": [
      {"name": "sda", "type": "disk", "size": "250059350016", "model": "ST250", "tran": "sata", "rm": "0", "hotplug": "0", "mountpoint": null, "fstype": null,
         "children": [
            {"name": "sda1", "type": "part", "size": "250058301440", "model": null, "tran": null, "rm": "0", "hotplug": "0", "mountpoint": "[SWAP]", "fstype": "swap"}
         ]
      },
      {"name": "mmcblk0", "type": "disk", "size": "15931539456", "model": null, "tran": null, "rm": "1", "hotplug": "0", "mountpoint": null, "fstype": null}
   ]
}`

func TestParseLsblk_Modern(t *testing.T) {
	disks, err := ParseLsblk([]byte(lsblkModern))
	if err != nil {
		t.Fatalf("ParseLsblk: %v", err)
	}
	if len(disks) != 1 {
		t.Fatalf("expected 1 disk, got %d: %+v", len(disks), disks)
	}

	d := disks[0]
	if d.Path != "/dev/sdb" || d.Model != "SanDisk Ultra" || d.Transport != "usb" || !d.Removable {
		t.Errorf("unexpected disk: %+v", d)
	}
	if d.Size.String() != "32015679488" {
		t.Errorf("size = %s", d.Size)
	}
}

func TestParseLsblk_Legacy(t *testing.T) {
	disks, err := ParseLsblk([]byte(lsblkLegacy))
	if err != nil {
		t.Fatalf("ParseLsblk: %v", err)
	}
	if len(disks) != 1 {
		t.Fatalf("expected 1 disk, got %d", len(disks))
	}
	if disks[0].Path != "/dev/mmcblk0" {
		t.Errorf("path = %s, want /dev/mmcblk0", disks[0].Path)
	}
}

func TestParseLsblk_Invalid(t *testing.T) {
	if _, err := ParseLsblk([]byte("lsblk: unknown column")); err == nil {
		t.Error("expected parse error")
	}
}

func TestMountedPartitions(t *testing.T) {
	tests := []struct {
		device string
		want   []string
	}{
		{"/dev/sdb", []string{"/media/user/STICK"}},
		{"/dev/sdc", nil},
		{"/dev/sdz", nil},
	}

	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			got, err := mountedPartitions([]byte(lsblkModern), tt.device)
			if err != nil {
				t.Fatalf("mountedPartitions: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlexBool(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{`true`, true},
		{`false`, false},
		{`"1"`, true},
		{`"0"`, false},
		{`1`, true},
		{`null`, false},
	}
	for _, tt := range tests {
		var b flexBool
		if err := b.UnmarshalJSON([]byte(tt.in)); err != nil {
			t.Fatalf("UnmarshalJSON(%s): %v", tt.in, err)
		}
		if bool(b) != tt.want {
			t.Errorf("flexBool(%s) = %v, want %v", tt.in, b, tt.want)
		}
	}
}
