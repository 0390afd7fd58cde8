package storage

import (
	"path/filepath"
	"strconv"

	"github.com/cochaviz/uli/internal/execute"
	"github.com/cochaviz/uli/internal/models"
)

// scrubBlocks * scrubBlockSize bytes of random data are written over the
// start of every new partition to destroy stale signatures.
const (
	scrubBlockSize = "5k"
	scrubBlocks    = "1024"
)

func partitionCommand(layout DiskLayout) execute.Command {
	return execute.New("sfdisk", "--no-reread", layout.Disk).WithInput(layout.Script())
}

func rereadCommand(disk string) execute.Command {
	return execute.New("blockdev", "--rereadpt", disk)
}

func scrubCommand(device string) execute.Command {
	return execute.New("dd", "if=/dev/urandom", "of="+device, "bs="+scrubBlockSize, "count="+scrubBlocks)
}

func stopArrayCommand(device string) execute.Command {
	return execute.New("mdadm", "--stop", device)
}

func examineCommand(member string) execute.Command {
	return execute.New("mdadm", "--examine", member)
}

func zeroSuperblockCommand(member string) execute.Command {
	return execute.New("mdadm", "--zero-superblock", member)
}

func createArrayCommand(array RaidAssembly) execute.Command {
	args := []string{
		"--create", array.Device,
		"--run", "--force",
		"--metadata=0.90",
		"--level=" + strconv.Itoa(array.Level),
		"--raid-devices=" + strconv.Itoa(len(array.Members)),
	}
	return execute.New("mdadm", append(args, array.Members...)...)
}

func pvcreateCommand(device string) execute.Command {
	return execute.New("pvcreate", "-ff", "-y", device)
}

func vgcreateCommand(group VolumeGroup) execute.Command {
	return execute.New("vgcreate", append([]string{group.Name}, group.PhysicalVolumes...)...)
}

func lvcreateCommand(group string, lv LogicalVolume) execute.Command {
	return execute.New("lvcreate", "-n", lv.Name, lv.SizeFlag, lv.Size, group)
}

func mkfsCommand(mount FilesystemMount) execute.Command {
	if mount.Swap() {
		return execute.New("mkswap", mount.Device)
	}
	args := []string{}
	if force := models.FilesystemTypes[mount.Type]; force != "" {
		args = append(args, force)
	}
	return execute.New("mkfs."+mount.Type, append(args, mount.Device)...)
}

func mountCommand(mount FilesystemMount, root string) execute.Command {
	return execute.New("mount", "-t", mount.Type, mount.Device, mount.Target(root))
}

// PseudoFilesystems are bound into the install root before the installed
// system is configured.
var PseudoFilesystems = []string{"/proc", "/sys", "/dev"}

func bindCommand(source, root string) execute.Command {
	return execute.New("mount", "--bind", source, filepath.Join(root, source))
}

// Commands renders the device operations the plan performs, in order,
// without the probes whose answers decide optional steps at run time.
func (p *Plan) Commands(root string) []execute.Command {
	var cmds []execute.Command
	for _, layout := range p.Disks {
		cmds = append(cmds, partitionCommand(layout), rereadCommand(layout.Disk))
		for _, device := range layout.PartitionDevices() {
			cmds = append(cmds, scrubCommand(device))
		}
	}
	for _, array := range p.Arrays {
		cmds = append(cmds, createArrayCommand(array))
	}
	for _, group := range p.VolumeGroups {
		for _, pv := range group.PhysicalVolumes {
			cmds = append(cmds, pvcreateCommand(pv))
		}
		cmds = append(cmds, vgcreateCommand(group))
		for _, lv := range group.LogicalVolumes {
			cmds = append(cmds, lvcreateCommand(group.Name, lv))
		}
	}
	for _, mount := range p.Filesystems {
		cmds = append(cmds, mkfsCommand(mount))
		if !mount.Swap() {
			cmds = append(cmds, mountCommand(mount, root))
		}
	}
	return cmds
}
