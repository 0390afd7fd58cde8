package setup

import (
	"errors"
	"fmt"
	"os/exec"
	"sort"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"

	"github.com/cochaviz/uli/internal/models"
)

// baseTools are needed by every install regardless of layout.
var baseTools = []string{"lshw", "vgs", "vgchange", "mdadm", "sfdisk", "blockdev", "dd", "mount", "tar", "grub"}

var lvmTools = []string{"pvcreate", "vgcreate", "lvcreate"}

// LookPath resolves a command name; replaced in tests.
var LookPath = exec.LookPath

// Geteuid reports the effective user id; replaced in tests.
var Geteuid = unix.Geteuid

// RequireRoot fails unless the process runs as root.
func RequireRoot() error {
	if Geteuid() != 0 {
		return errors.New("run me as root")
	}
	return nil
}

// RequiredTools lists the external commands an install of cfg runs, plus
// extra.
func RequiredTools(cfg *models.Config, extra ...string) []string {
	seen := make(map[string]bool)
	add := func(names ...string) {
		for _, name := range names {
			if name != "" {
				seen[name] = true
			}
		}
	}
	add(baseTools...)
	add(extra...)
	if cfg.LVM != nil && len(cfg.LVM.VolumeGroups) > 0 {
		add(lvmTools...)
	}
	for _, fs := range cfg.FS {
		if fs.Type == "swap" {
			add("mkswap")
			continue
		}
		add("mkfs." + fs.Type)
	}

	tools := make([]string, 0, len(seen))
	for name := range seen {
		tools = append(tools, name)
	}
	sort.Strings(tools)
	return tools
}

// EnsureCommands reports every name that cannot be found on PATH.
func EnsureCommands(names ...string) error {
	var missing *multierror.Error
	for _, name := range names {
		if _, err := LookPath(name); err != nil {
			missing = multierror.Append(missing, fmt.Errorf("%s not found: %w", name, err))
		}
	}
	return missing.ErrorOrNil()
}

// Preflight returns the check run against a parsed configuration before any
// disk is touched.
func Preflight(extra ...string) func(cfg *models.Config) error {
	return func(cfg *models.Config) error {
		if err := RequireRoot(); err != nil {
			return err
		}
		tools := RequiredTools(cfg, extra...)
		getLogger().Debug("checking required tools", "tools", len(tools))
		return EnsureCommands(tools...)
	}
}
