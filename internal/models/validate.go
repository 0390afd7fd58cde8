package models

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// FilesystemTypes maps supported filesystem types to the flag that makes
// their mkfs overwrite an existing signature. Swap is handled by mkswap.
var FilesystemTypes = map[string]string{
	"ext2":     "-F",
	"ext3":     "-F",
	"ext4":     "-F",
	"xfs":      "-f",
	"reiserfs": "-f",
	"swap":     "",
}

var (
	hostnamePattern  = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)
	lvmNamePattern   = regexp.MustCompile(`^[A-Za-z0-9+_.][A-Za-z0-9+_.-]*$`)
	interfacePattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)
)

// Validate checks cfg against every structural rule and reports all
// violations at once in a *ConfigValidationError.
func Validate(cfg *Config) error {
	var violations *multierror.Error
	add := func(format string, args ...any) {
		violations = multierror.Append(violations, fmt.Errorf(format, args...))
	}

	if cfg == nil {
		add("configuration is empty")
		return &ConfigValidationError{Violations: violations}
	}

	validateGlobal(cfg.Global, add)
	validateDisks(cfg.DiskMgmt, add)

	reachable := cfg.ReachableDevices()
	physical := validateLVM(cfg.LVM, reachable, add)
	validateFilesystems(cfg.FS, reachable, physical, add)
	validateNetwork(cfg.Net, add)

	if violations.ErrorOrNil() == nil {
		return nil
	}
	return &ConfigValidationError{Violations: violations}
}

func validateGlobal(g Global, add func(string, ...any)) {
	switch {
	case g.Hostname == "":
		add("global.hostname is required")
	case !hostnamePattern.MatchString(g.Hostname):
		add("global.hostname %q is not a valid host name", g.Hostname)
	}
	if g.Image == "" {
		add("global.image is required")
	}
	if g.Kernel != "" && !filepath.IsAbs(g.Kernel) {
		add("global.kernel %q must be an absolute path", g.Kernel)
	}
}

func validateDisks(d DiskManagement, add func(string, ...any)) {
	if len(d.Disks) == 0 {
		add("diskmgmt.disks must list at least one disk")
	}
	seen := make(map[string]bool, len(d.Disks))
	for _, disk := range d.Disks {
		if !strings.HasPrefix(disk, "/dev/") {
			add("disk %q is not a /dev path", disk)
		}
		if seen[disk] {
			add("disk %s is listed twice", disk)
		}
		seen[disk] = true
	}

	switch d.Layout() {
	case LayoutPlain, LayoutVirtual:
	case LayoutRAID:
		if len(d.Disks) < 2 {
			add("diskmgmt.type md needs at least two disks, got %d", len(d.Disks))
		}
	default:
		add("diskmgmt.type %q is not one of plain, md, vd", d.Type)
	}

	if len(d.Partitions) == 0 {
		add("diskmgmt.partitions must declare at least one slot")
	}
	if len(d.Partitions) > MaxPartitionSlots {
		add("diskmgmt.partitions declares %d slots, at most %d are supported", len(d.Partitions), MaxPartitionSlots)
	}

	unsized := 0
	for i, part := range d.Partitions {
		if part.Slot != i+1 {
			add("partition key %q must be %d: slots are numbered 1..N in declaration order", part.Key, i+1)
		}
		if part.Type == "" {
			add("partition %s: type is required", part.Key)
		}
		if part.Size == "" {
			unsized++
			if i != len(d.Partitions)-1 {
				add("partition %s: only the last slot may omit its size", part.Key)
			}
			continue
		}
		if _, err := ParseSizeMiB(part.Size.String()); err != nil {
			add("partition %s: %v", part.Key, err)
		}
	}
	if unsized > 1 {
		add("diskmgmt.partitions declares %d slots without size, at most one may fill the disk", unsized)
	}
}

func validateLVM(lvm *LVM, reachable map[string]bool, add func(string, ...any)) map[string]bool {
	physical := make(map[string]bool)
	if lvm == nil {
		return physical
	}
	if len(lvm.VolumeGroups) == 0 {
		add("lvm.vg must declare at least one volume group")
	}

	for _, vg := range sortedKeys(lvm.VolumeGroups) {
		group := lvm.VolumeGroups[vg]
		if !lvmNamePattern.MatchString(vg) {
			add("volume group name %q is invalid", vg)
		}
		if len(group.PhysicalVolumes) == 0 {
			add("volume group %s: pv must list at least one device", vg)
		}
		for _, pv := range group.PhysicalVolumes {
			if !reachable[pv] || isLogicalVolume(lvm, pv) {
				add("volume group %s: physical volume %s is not a declared partition or array", vg, pv)
			}
			if physical[pv] {
				add("physical volume %s is used more than once", pv)
			}
			physical[pv] = true
		}
		if len(group.LogicalVolumes) == 0 {
			add("volume group %s: lv must declare at least one logical volume", vg)
		}
		for _, lv := range sortedKeys(group.LogicalVolumes) {
			if !lvmNamePattern.MatchString(lv) {
				add("volume group %s: logical volume name %q is invalid", vg, lv)
			}
			if _, err := LogicalVolumeSize(group.LogicalVolumes[lv].String()); err != nil {
				add("logical volume %s/%s: %v", vg, lv, err)
			}
		}
	}
	return physical
}

func validateFilesystems(fs map[string]Filesystem, reachable, physical map[string]bool, add func(string, ...any)) {
	if len(fs) == 0 {
		add("fs must declare at least one filesystem")
		return
	}
	if _, ok := fs[RootMountpoint]; !ok {
		add("fs must declare the root mountpoint %q", RootMountpoint)
	}

	used := make(map[string]string, len(fs))
	for _, mountpoint := range sortedKeys(fs) {
		entry := fs[mountpoint]
		fsType := entry.Type
		if mountpoint == SwapMarker {
			if fsType != "" && fsType != "swap" {
				add("fs %s: the swap entry must have type swap, got %q", mountpoint, fsType)
			}
		} else {
			if !filepath.IsAbs(mountpoint) || filepath.Clean(mountpoint) != mountpoint {
				add("fs %q: mountpoint must be a clean absolute path", mountpoint)
			}
			if _, ok := FilesystemTypes[fsType]; !ok || fsType == "swap" {
				add("fs %s: unsupported filesystem type %q", mountpoint, fsType)
			}
		}

		switch {
		case entry.Device == "":
			add("fs %s: dev is required", mountpoint)
			continue
		case !reachable[entry.Device]:
			add("fs %s: device %s is not produced by the partition, RAID or LVM layout", mountpoint, entry.Device)
		case physical[entry.Device]:
			add("fs %s: device %s is already an LVM physical volume", mountpoint, entry.Device)
		}
		if other, dup := used[entry.Device]; dup {
			add("fs %s: device %s is already used by %s", mountpoint, entry.Device, other)
		}
		used[entry.Device] = mountpoint
	}
}

func validateNetwork(net map[string]Interface, add func(string, ...any)) {
	for _, nic := range sortedKeys(net) {
		if !interfacePattern.MatchString(nic) || nic == "." || nic == ".." {
			add("net %q: invalid interface name", nic)
			continue
		}
		if net[nic].IP == "" {
			add("net %s: ip is required", nic)
		}
	}
}

// ReachableDevices returns every device node the layout will produce and a
// filesystem or physical volume may refer to.
func (c *Config) ReachableDevices() map[string]bool {
	devices := make(map[string]bool)
	slots := len(c.DiskMgmt.Partitions)

	if c.DiskMgmt.Layout() == LayoutRAID {
		for i := 0; i < slots; i++ {
			devices[ArrayDevice(i)] = true
		}
	} else {
		for _, disk := range c.DiskMgmt.Disks {
			for slot := 1; slot <= slots; slot++ {
				devices[PartitionDevice(disk, slot)] = true
			}
		}
	}

	if c.LVM != nil {
		for vg, group := range c.LVM.VolumeGroups {
			for lv := range group.LogicalVolumes {
				for _, dev := range LogicalVolumeDevices(vg, lv) {
					devices[dev] = true
				}
			}
		}
	}
	return devices
}

func isLogicalVolume(lvm *LVM, device string) bool {
	for vg, group := range lvm.VolumeGroups {
		for lv := range group.LogicalVolumes {
			for _, dev := range LogicalVolumeDevices(vg, lv) {
				if dev == device {
					return true
				}
			}
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
