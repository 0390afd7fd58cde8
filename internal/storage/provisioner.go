package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/cochaviz/uli/internal/execute"
	"github.com/cochaviz/uli/internal/inventory"
	"github.com/cochaviz/uli/internal/logging"
)

const mebibyte = 1 << 20

// Provisioner applies a Plan to the disks. Every operation is destructive;
// callers must have verified the disks before calling Partition.
type Provisioner struct {
	Runner execute.Runner
	Logger *slog.Logger
	Waiter DeviceWaiter
	// Root is the directory the installed system is assembled under.
	Root       string
	MDStatPath string
	// Mountpoint decides whether a pseudo filesystem target is already mounted.
	Mountpoint func(path string) (bool, error)
}

// NewProvisioner returns a provisioner for the running host.
func NewProvisioner(runner execute.Runner, root string, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		Runner:     runner,
		Logger:     logging.Ensure(logger).With(logging.ComponentKey, "storage"),
		Waiter:     NodeWaiter{},
		Root:       root,
		MDStatPath: inventory.DefaultMDStatPath,
		Mountpoint: IsMountpoint,
	}
}

// Partition writes the partition table of every disk, waits for the kernel
// to publish the new nodes and scrubs the start of each partition.
func (p *Provisioner) Partition(ctx context.Context, plan *Plan) error {
	logger := logging.Ensure(p.Logger)
	for _, layout := range plan.Disks {
		if _, err := execute.Run(ctx, p.Runner, partitionCommand(layout)); err != nil {
			return fmt.Errorf("partition %s: %w", layout.Disk, err)
		}
		if _, err := execute.Run(ctx, p.Runner, rereadCommand(layout.Disk)); err != nil {
			return fmt.Errorf("re-read partition table of %s: %w", layout.Disk, err)
		}
		for i, device := range layout.PartitionDevices() {
			if err := p.waitFor(ctx, device); err != nil {
				return err
			}
			if _, err := execute.Run(ctx, p.Runner, scrubCommand(device)); err != nil {
				return fmt.Errorf("scrub %s: %w", device, err)
			}
			slot := layout.Declared()[i]
			size := "rest of disk"
			if !slot.Fill {
				size = humanize.IBytes(slot.SizeMiB * mebibyte)
			}
			logger.Debug("partition ready", "device", device, "type", slot.TypeCode, "size", size)
		}
		logger.Info("partitioned disk", "disk", layout.Disk, "partitions", len(layout.Declared()))
	}
	return nil
}

// BuildRaid assembles one mirror per slot. Arrays still active at the
// target index are stopped and old superblocks cleared first.
func (p *Provisioner) BuildRaid(ctx context.Context, plan *Plan) error {
	logger := logging.Ensure(p.Logger)
	for _, array := range plan.Arrays {
		assembled, err := inventory.AssembledArrays(p.mdstatPath())
		if err != nil {
			return err
		}
		if assembled[filepath.Base(array.Device)] {
			if _, err := execute.Run(ctx, p.Runner, stopArrayCommand(array.Device)); err != nil {
				return fmt.Errorf("stop %s: %w", array.Device, err)
			}
		}

		for _, member := range array.Members {
			present, err := execute.Probe(ctx, p.Runner, examineCommand(member))
			if err != nil {
				return fmt.Errorf("examine %s: %w", member, err)
			}
			if !present {
				continue
			}
			if _, err := execute.Run(ctx, p.Runner, zeroSuperblockCommand(member)); err != nil {
				return fmt.Errorf("clear superblock of %s: %w", member, err)
			}
		}

		if _, err := execute.Run(ctx, p.Runner, createArrayCommand(array)); err != nil {
			return fmt.Errorf("create %s: %w", array.Device, err)
		}
		if err := p.waitFor(ctx, array.Device); err != nil {
			return err
		}
		logger.Info("assembled array", "array", array.Device, "level", array.Level, "members", len(array.Members))
	}
	return nil
}

// BuildLVM creates physical volumes, then each group, then its volumes.
func (p *Provisioner) BuildLVM(ctx context.Context, plan *Plan) error {
	logger := logging.Ensure(p.Logger)
	for _, group := range plan.VolumeGroups {
		for _, pv := range group.PhysicalVolumes {
			if _, err := execute.Run(ctx, p.Runner, pvcreateCommand(pv)); err != nil {
				return fmt.Errorf("create physical volume %s: %w", pv, err)
			}
		}
		if _, err := execute.Run(ctx, p.Runner, vgcreateCommand(group)); err != nil {
			return fmt.Errorf("create volume group %s: %w", group.Name, err)
		}
		for _, lv := range group.LogicalVolumes {
			if _, err := execute.Run(ctx, p.Runner, lvcreateCommand(group.Name, lv)); err != nil {
				return fmt.Errorf("create logical volume %s/%s: %w", group.Name, lv.Name, err)
			}
		}
		logger.Info("created volume group", "vg", group.Name, "volumes", len(group.LogicalVolumes))
	}
	return nil
}

// BuildFilesystems formats every entry and mounts it below Root, parents
// first. Swap is formatted but never mounted.
func (p *Provisioner) BuildFilesystems(ctx context.Context, plan *Plan) error {
	logger := logging.Ensure(p.Logger)
	for _, mount := range plan.Filesystems {
		if mount.Swap() {
			if _, err := execute.Run(ctx, p.Runner, mkfsCommand(mount)); err != nil {
				return fmt.Errorf("format swap %s: %w", mount.Device, err)
			}
			logger.Info("formatted swap", "device", mount.Device)
			continue
		}

		target := mount.Target(p.Root)
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("create mountpoint %s: %w", target, err)
		}
		if _, err := execute.Run(ctx, p.Runner, mkfsCommand(mount)); err != nil {
			return fmt.Errorf("format %s: %w", mount.Device, err)
		}
		if _, err := execute.Run(ctx, p.Runner, mountCommand(mount, p.Root)); err != nil {
			return fmt.Errorf("mount %s on %s: %w", mount.Device, target, err)
		}
		logger.Info("mounted filesystem", "device", mount.Device, "type", mount.Type, "target", target)
	}
	return nil
}

// MountPseudo binds the host's pseudo filesystems into Root, skipping
// targets that are already mounted.
func (p *Provisioner) MountPseudo(ctx context.Context) (mounted int, err error) {
	isMounted := p.Mountpoint
	if isMounted == nil {
		isMounted = IsMountpoint
	}
	for _, source := range PseudoFilesystems {
		target := filepath.Join(p.Root, source)
		already, err := isMounted(target)
		if err != nil {
			return mounted, err
		}
		if already {
			logging.Ensure(p.Logger).Debug("pseudo filesystem already mounted", "target", target)
			continue
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return mounted, fmt.Errorf("create %s: %w", target, err)
		}
		if _, err := execute.Run(ctx, p.Runner, bindCommand(source, p.Root)); err != nil {
			return mounted, fmt.Errorf("bind %s: %w", source, err)
		}
		mounted++
	}
	return mounted, nil
}

func (p *Provisioner) waitFor(ctx context.Context, device string) error {
	if p.Waiter == nil {
		return nil
	}
	return p.Waiter.WaitForDevice(ctx, device)
}

func (p *Provisioner) mdstatPath() string {
	if p.MDStatPath == "" {
		return inventory.DefaultMDStatPath
	}
	return p.MDStatPath
}
