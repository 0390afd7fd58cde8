// Package storage turns a validated configuration into an ordered storage
// plan and applies it: partition tables, software RAID, LVM, filesystems
// and the mounts the installed system is unpacked into.
package storage

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cochaviz/uli/internal/models"
)

// RaidLevel is the only level the installer assembles.
const RaidLevel = 1

// Slot is one entry of a disk's partition table.
type Slot struct {
	Number   int
	TypeCode string
	SizeMiB  uint64
	// Fill marks the declared slot that takes the rest of the disk.
	Fill bool
	// Free marks the trailing unallocated region left after the declared slots.
	Free bool
}

// DiskLayout is the partition table for one disk.
type DiskLayout struct {
	Disk  string
	Slots []Slot
}

// Declared returns the slots that become partitions.
func (l DiskLayout) Declared() []Slot {
	declared := make([]Slot, 0, len(l.Slots))
	for _, slot := range l.Slots {
		if !slot.Free {
			declared = append(declared, slot)
		}
	}
	return declared
}

// PartitionDevices names the partition node of every declared slot.
func (l DiskLayout) PartitionDevices() []string {
	declared := l.Declared()
	devices := make([]string, len(declared))
	for i, slot := range declared {
		devices[i] = models.PartitionDevice(l.Disk, slot.Number)
	}
	return devices
}

// Script renders the sfdisk input for this layout.
func (l DiskLayout) Script() string {
	var b strings.Builder
	b.WriteString("label: dos\n")
	for _, slot := range l.Declared() {
		if slot.Fill {
			fmt.Fprintf(&b, "type=%s\n", slot.TypeCode)
			continue
		}
		fmt.Fprintf(&b, "size=%dMiB, type=%s\n", slot.SizeMiB, slot.TypeCode)
	}
	return b.String()
}

// RaidAssembly mirrors one slot across all disks.
type RaidAssembly struct {
	Device  string
	Level   int
	Members []string
}

type LogicalVolume struct {
	Name string
	Size string
	// SizeFlag is -L for absolute sizes and -l for extents.
	SizeFlag string
}

type VolumeGroup struct {
	Name            string
	PhysicalVolumes []string
	LogicalVolumes  []LogicalVolume
}

// FilesystemMount is one fs entry: a device to format and, unless it is
// swap, a mountpoint inside the install root.
type FilesystemMount struct {
	Mountpoint string
	Device     string
	Type       string
	Options    string
}

// Swap reports whether the entry is the swap area.
func (m FilesystemMount) Swap() bool {
	return m.Mountpoint == models.SwapMarker
}

// Target returns the mountpoint below root.
func (m FilesystemMount) Target(root string) string {
	return filepath.Join(root, m.Mountpoint)
}

// Plan is the full ordered storage layout derived from a configuration.
type Plan struct {
	Layout       models.LayoutType
	Disks        []DiskLayout
	Arrays       []RaidAssembly
	VolumeGroups []VolumeGroup
	// Filesystems are ordered so that every mountpoint follows its parents.
	Filesystems []FilesystemMount
}

// NewPlan derives the storage plan for a configuration that passed
// models.Validate.
func NewPlan(cfg *models.Config) (*Plan, error) {
	plan := &Plan{Layout: cfg.DiskMgmt.Layout()}

	slots, err := planSlots(cfg.DiskMgmt.Partitions)
	if err != nil {
		return nil, err
	}
	for _, disk := range cfg.DiskMgmt.Disks {
		plan.Disks = append(plan.Disks, DiskLayout{Disk: disk, Slots: append([]Slot(nil), slots...)})
	}

	if plan.Layout == models.LayoutRAID {
		for i := range cfg.DiskMgmt.Partitions {
			assembly := RaidAssembly{Device: models.ArrayDevice(i), Level: RaidLevel}
			for _, disk := range cfg.DiskMgmt.Disks {
				assembly.Members = append(assembly.Members, models.PartitionDevice(disk, i+1))
			}
			plan.Arrays = append(plan.Arrays, assembly)
		}
	}

	if cfg.LVM != nil {
		groups, err := planVolumeGroups(cfg.LVM)
		if err != nil {
			return nil, err
		}
		plan.VolumeGroups = groups
	}

	plan.Filesystems = planFilesystems(cfg.FS)
	return plan, nil
}

func planSlots(partitions models.PartitionTable) ([]Slot, error) {
	if len(partitions) > models.MaxPartitionSlots {
		return nil, fmt.Errorf("%d partition slots declared, at most %d supported", len(partitions), models.MaxPartitionSlots)
	}

	slots := make([]Slot, 0, models.MaxPartitionSlots)
	fill := false
	for i, part := range partitions {
		slot := Slot{Number: i + 1, TypeCode: part.Type.String()}
		if part.Size == "" {
			slot.Fill = true
			fill = true
		} else {
			size, err := models.ParseSizeMiB(part.Size.String())
			if err != nil {
				return nil, fmt.Errorf("partition %d: %w", i+1, err)
			}
			slot.SizeMiB = size
		}
		slots = append(slots, slot)
	}
	if !fill && len(slots) < models.MaxPartitionSlots {
		slots = append(slots, Slot{Number: len(slots) + 1, Free: true})
	}
	return slots, nil
}

func planVolumeGroups(lvm *models.LVM) ([]VolumeGroup, error) {
	names := make([]string, 0, len(lvm.VolumeGroups))
	for name := range lvm.VolumeGroups {
		names = append(names, name)
	}
	sort.Strings(names)

	groups := make([]VolumeGroup, 0, len(names))
	for _, name := range names {
		declared := lvm.VolumeGroups[name]
		group := VolumeGroup{Name: name, PhysicalVolumes: append([]string(nil), declared.PhysicalVolumes...)}

		lvNames := make([]string, 0, len(declared.LogicalVolumes))
		for lv := range declared.LogicalVolumes {
			lvNames = append(lvNames, lv)
		}
		sort.Strings(lvNames)
		for _, lv := range lvNames {
			size := strings.TrimSpace(declared.LogicalVolumes[lv].String())
			flag, err := models.LogicalVolumeSize(size)
			if err != nil {
				return nil, fmt.Errorf("logical volume %s/%s: %w", name, lv, err)
			}
			group.LogicalVolumes = append(group.LogicalVolumes, LogicalVolume{Name: lv, Size: size, SizeFlag: flag})
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// planFilesystems sorts entries by mountpoint. Lexicographic order puts
// every path before its extensions, so a parent is mounted before its
// children.
func planFilesystems(entries map[string]models.Filesystem) []FilesystemMount {
	mountpoints := make([]string, 0, len(entries))
	for mountpoint := range entries {
		mountpoints = append(mountpoints, mountpoint)
	}
	sort.Strings(mountpoints)

	mounts := make([]FilesystemMount, 0, len(mountpoints))
	for _, mountpoint := range mountpoints {
		entry := entries[mountpoint]
		mount := FilesystemMount{Mountpoint: mountpoint, Device: entry.Device, Type: entry.Type, Options: entry.Options}
		if mount.Swap() {
			mount.Type = "swap"
		}
		if mount.Options == "" {
			mount.Options = models.DefaultMountOptions
		}
		mounts = append(mounts, mount)
	}
	return mounts
}

// Mount returns the entry for mountpoint.
func (p *Plan) Mount(mountpoint string) (FilesystemMount, bool) {
	for _, mount := range p.Filesystems {
		if mount.Mountpoint == mountpoint {
			return mount, true
		}
	}
	return FilesystemMount{}, false
}

// RootDevice returns the device mounted at "/".
func (p *Plan) RootDevice() (string, bool) {
	mount, ok := p.Mount(models.RootMountpoint)
	return mount.Device, ok
}

// DiskNames lists the planned disks in configuration order.
func (p *Plan) DiskNames() []string {
	names := make([]string, len(p.Disks))
	for i, disk := range p.Disks {
		names[i] = disk.Disk
	}
	return names
}
