// Package bootloader installs GRUB legacy boot stages onto the target disks.
package bootloader

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cochaviz/uli/internal/execute"
	"github.com/cochaviz/uli/internal/logging"
)

// GRUB drives the grub shell in batch mode.
type GRUB struct {
	Runner execute.Runner
	Logger *slog.Logger
	Binary string
}

// New returns an installer using the grub binary found on PATH.
func New(runner execute.Runner, logger *slog.Logger) *GRUB {
	return &GRUB{Runner: runner, Logger: logging.Ensure(logger).With(logging.ComponentKey, "bootloader"), Binary: "grub"}
}

// Script renders the grub shell input that maps disk to BIOS drive index
// and installs stage1 into its boot sector, rooted at the first partition.
func Script(index int, disk string) string {
	return fmt.Sprintf("find /boot/grub/stage1\ndevice (hd%d) %s\nroot (hd%d,0)\nsetup (hd%d)\nquit\n", index, disk, index, index)
}

// Install writes a boot stage to every disk in order.
func (g *GRUB) Install(ctx context.Context, disks []string) error {
	binary := g.Binary
	if binary == "" {
		binary = "grub"
	}
	for i, disk := range disks {
		cmd := execute.New(binary, "--batch", "--no-floppy").WithInput(Script(i, disk))
		res, err := execute.Run(ctx, g.Runner, cmd)
		if err != nil {
			return fmt.Errorf("install boot stage on %s: %w", disk, err)
		}
		// The grub shell exits zero even when a command inside the batch fails.
		if line, failed := firstError(res.Output); failed {
			return fmt.Errorf("install boot stage on %s: %w", disk, &execute.CommandError{
				Command:  cmd.String(),
				ExitCode: res.ExitCode,
				Output:   line,
				Err:      fmt.Errorf("grub reported %q", line),
			})
		}
		logging.Ensure(g.Logger).Info("installed boot stage", "disk", disk, "drive", fmt.Sprintf("hd%d", i))
	}
	return nil
}

func firstError(output string) (string, bool) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "Error ") {
			return line, true
		}
	}
	return "", false
}
