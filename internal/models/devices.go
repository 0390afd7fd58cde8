package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

const mebibyte = 1 << 20

// PartitionDevice names the device node of a slot on disk. Disks whose name
// ends in a digit (nvme0n1, mmcblk0) take a "p" separator.
func PartitionDevice(disk string, slot int) string {
	if disk != "" && endsInDigit(disk) {
		return fmt.Sprintf("%sp%d", disk, slot)
	}
	return fmt.Sprintf("%s%d", disk, slot)
}

// ArrayDevice names the software RAID array built from slot index+1.
func ArrayDevice(index int) string {
	return fmt.Sprintf("/dev/md%d", index)
}

// LogicalVolumeDevices returns both names udev gives a logical volume.
func LogicalVolumeDevices(vg, lv string) []string {
	mapped := strings.ReplaceAll(vg, "-", "--") + "-" + strings.ReplaceAll(lv, "-", "--")
	return []string{"/dev/" + vg + "/" + lv, "/dev/mapper/" + mapped}
}

// IsPartitionOf reports whether device is disk itself or one of its
// partition nodes. Disks whose name ends in a digit separate the partition
// number with "p", as in /dev/nvme0n1p2.
func IsPartitionOf(device, disk string) bool {
	if device == disk {
		return true
	}
	if disk == "" || !strings.HasPrefix(device, disk) {
		return false
	}
	rest := device[len(disk):]
	if endsInDigit(disk) {
		var found bool
		if rest, found = strings.CutPrefix(rest, "p"); !found {
			return false
		}
	}
	return rest != "" && strings.Trim(rest, "0123456789") == ""
}

func endsInDigit(name string) bool {
	last := name[len(name)-1]
	return last >= '0' && last <= '9'
}

// ParseSizeMiB converts a partition size to MiB. A bare integer is already
// MiB; anything else is a humanized byte count such as "2GiB" or "500M".
func ParseSizeMiB(value string) (uint64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty size")
	}
	if n, err := strconv.ParseUint(value, 10, 64); err == nil {
		if n == 0 {
			return 0, fmt.Errorf("size must be positive")
		}
		return n, nil
	}
	bytes, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("size %q: %w", value, err)
	}
	if bytes < mebibyte {
		return 0, fmt.Errorf("size %q is smaller than 1MiB", value)
	}
	return bytes / mebibyte, nil
}

var (
	lvmSizePattern   = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?[bBsSkKmMgGtTpPeE]?$`)
	lvmExtentPattern = regexp.MustCompile(`^[0-9]+%(VG|FREE|PVS|ORIGIN)$`)
)

// LogicalVolumeSize reports how a logical volume size is handed to
// lvcreate: as an absolute size (-L) or as extents (-l).
func LogicalVolumeSize(value string) (flag string, err error) {
	value = strings.TrimSpace(value)
	switch {
	case lvmExtentPattern.MatchString(value):
		return "-l", nil
	case lvmSizePattern.MatchString(value):
		return "-L", nil
	default:
		return "", fmt.Errorf("size %q is neither an LVM size nor an extent percentage", value)
	}
}
