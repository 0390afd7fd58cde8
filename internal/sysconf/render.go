// Package sysconf writes the configuration files of the installed system:
// fstab, hosts, hostname, network and the boot menu.
package sysconf

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cochaviz/uli/internal/models"
	"github.com/cochaviz/uli/internal/storage"
)

// fixedMounts always close the generated fstab.
var fixedMounts = []string{
	"shm\t/dev/shm\ttmpfs\tnodev,nosuid,noexec\t0 0",
	"proc\t/proc\tproc\tdefaults\t0 0",
	"sysfs\t/sys\tsysfs\tnosuid,nodev,noexec,relatime\t0 0",
}

// RenderFstab lists every planned filesystem in mount order, then the fixed
// pseudo filesystems. The output depends only on the plan.
func RenderFstab(plan *storage.Plan) []byte {
	var b strings.Builder
	for _, mount := range plan.Filesystems {
		if mount.Swap() {
			fmt.Fprintf(&b, "%s\tnone\tswap\tsw\t0 0\n", mount.Device)
			continue
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t0 0\n", mount.Device, mount.Mountpoint, mount.Type, mount.Options)
	}
	for _, line := range fixedMounts {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// RenderHosts maps the loopback address to the node's names.
func RenderHosts(global models.Global) []byte {
	names := []string{global.FQDN()}
	if global.DomainName != "" {
		names = append(names, global.Hostname)
	}
	names = append(names, "localhost")
	return []byte(fmt.Sprintf("127.0.0.1\t%s\n", strings.Join(names, " ")))
}

// RenderHostname renders /etc/conf.d/hostname.
func RenderHostname(global models.Global) []byte {
	return []byte(fmt.Sprintf("HOSTNAME=%q\n", global.Hostname))
}

// RenderNetwork renders /etc/conf.d/net for the iproute2 backend.
// Interfaces are written in name order. The file is sourced by the init
// system, so every value is single quoted.
func RenderNetwork(interfaces map[string]models.Interface) []byte {
	var b strings.Builder
	b.WriteString("modules=( 'iproute2' )\n")
	for _, nic := range sortedInterfaces(interfaces) {
		iface := interfaces[nic]
		fmt.Fprintf(&b, "config_%s=( %s )\n", nic, shellWord(iface.IP))
		if iface.Routes != "" {
			fmt.Fprintf(&b, "routes_%s=( %s )\n", nic, shellWord(iface.Routes))
		}
	}
	return []byte(b.String())
}

// RenderBootMenu renders a GRUB legacy menu.lst with one entry booting the
// planned root device. GRUB resolves the kernel relative to the partition
// holding /boot, so the prefix is dropped when /boot is a separate mount.
func RenderBootMenu(global models.Global, plan *storage.Plan) ([]byte, error) {
	root, ok := plan.RootDevice()
	if !ok {
		return nil, fmt.Errorf("plan has no root filesystem")
	}
	kernel := global.KernelPath()
	if _, separate := plan.Mount("/boot"); separate {
		if rest, found := strings.CutPrefix(kernel, "/boot/"); found {
			kernel = "/" + rest
		}
	}

	var b strings.Builder
	b.WriteString("default 0\n")
	b.WriteString("timeout 5\n\n")
	fmt.Fprintf(&b, "title %s\n", global.FQDN())
	b.WriteString("root (hd0,0)\n")
	fmt.Fprintf(&b, "kernel %s root=%s\n", kernel, root)
	return []byte(b.String()), nil
}

// shellWord quotes s as a single POSIX shell word that expands to nothing
// but s itself.
func shellWord(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func sortedInterfaces(interfaces map[string]models.Interface) []string {
	names := make([]string, 0, len(interfaces))
	for nic := range interfaces {
		names = append(names, nic)
	}
	sort.Strings(names)
	return names
}
