package sysconf

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cochaviz/uli/internal/logging"
	"github.com/cochaviz/uli/internal/models"
	"github.com/cochaviz/uli/internal/storage"
)

// Configurator writes system files below Root.
type Configurator struct {
	Root   string
	Logger *slog.Logger
}

// New returns a configurator for the install root.
func New(root string, logger *slog.Logger) *Configurator {
	return &Configurator{Root: root, Logger: logging.Ensure(logger).With(logging.ComponentKey, "sysconf")}
}

// Configure writes fstab, hosts, hostname, network and boot menu. Network
// configuration is skipped when cfg declares no interfaces.
func (c *Configurator) Configure(cfg *models.Config, plan *storage.Plan) error {
	logger := logging.Ensure(c.Logger)

	menu, err := RenderBootMenu(cfg.Global, plan)
	if err != nil {
		return err
	}
	files := []struct {
		path string
		data []byte
	}{
		{"etc/fstab", RenderFstab(plan)},
		{"etc/hosts", RenderHosts(cfg.Global)},
		{"etc/conf.d/hostname", RenderHostname(cfg.Global)},
		{"boot/grub/menu.lst", menu},
	}
	for _, file := range files {
		if err := c.write(file.path, file.data); err != nil {
			return err
		}
	}

	if len(cfg.Net) == 0 {
		logger.Info("no network interfaces declared, leaving network configuration untouched")
		return nil
	}
	if err := c.write("etc/conf.d/net", RenderNetwork(cfg.Net)); err != nil {
		return err
	}
	for _, nic := range sortedInterfaces(cfg.Net) {
		if err := c.linkService(nic); err != nil {
			return err
		}
	}
	return nil
}

// linkService creates the net.<nic> init script as a link to net.lo.
func (c *Configurator) linkService(nic string) error {
	link := filepath.Join(c.Root, "etc", "init.d", "net."+nic)
	if _, err := os.Lstat(link); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("inspect %s: %w", link, err)
	}
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(link), err)
	}
	if err := os.Symlink("net.lo", link); err != nil {
		return fmt.Errorf("link %s: %w", link, err)
	}
	logging.Ensure(c.Logger).Debug("linked network service", "interface", nic)
	return nil
}

// write replaces rel below Root atomically.
func (c *Configurator) write(rel string, data []byte) error {
	path := filepath.Join(c.Root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	logging.Ensure(c.Logger).Debug("wrote system file", "path", path, "bytes", len(data))
	return nil
}
