package blockdev

// lsblkColumns are the columns requested from lsblk. Sizes come back in bytes
// because of -b.
const lsblkColumns = "NAME,PATH,TYPE,SIZE,MODEL,TRAN,RM,HOTPLUG,MOUNTPOINT,FSTYPE"

// protectedMountpoints mark the disk the running system lives on. A disk
// with any of these mounted on it, or holding swap, is never offered.
var protectedMountpoints = map[string]bool{
	"/":         true,
	"/boot":     true,
	"/boot/efi": true,
	"/home":     true,
	"[SWAP]":    true,
}
