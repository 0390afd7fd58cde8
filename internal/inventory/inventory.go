// Package inventory discovers the disks a node actually has and releases
// stale RAID and LVM assemblies that would keep them busy.
package inventory

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/cochaviz/uli/internal/execute"
	"github.com/cochaviz/uli/internal/logging"
)

const (
	DefaultDevDir     = "/dev"
	DefaultMDStatPath = "/proc/mdstat"
)

var lshwDiskLine = regexp.MustCompile(`^/\S*\s+(/dev/\S+)\s+`)

// Inventory inspects the hardware through external tools.
type Inventory struct {
	Runner execute.Runner
	Logger *slog.Logger
	// DevDir and MDStatPath are overridable so tests can fake the host.
	DevDir     string
	MDStatPath string
}

// New returns an inventory for the running host.
func New(runner execute.Runner, logger *slog.Logger) *Inventory {
	return &Inventory{
		Runner:     runner,
		Logger:     logging.Ensure(logger).With(logging.ComponentKey, "inventory"),
		DevDir:     DefaultDevDir,
		MDStatPath: DefaultMDStatPath,
	}
}

// DiskNotFoundError reports configured disks that the hardware listing did
// not show.
type DiskNotFoundError struct {
	Missing []string
	Found   []string
}

func (e *DiskNotFoundError) Error() string {
	return fmt.Sprintf("disk %s not found on system (found: %s)", strings.Join(e.Missing, ", "), strings.Join(e.Found, ", "))
}

// ListVisibleDisks returns the disk devices reported by lshw, in order.
func (i *Inventory) ListVisibleDisks(ctx context.Context) ([]string, error) {
	res, err := execute.Run(ctx, i.Runner, execute.New("lshw", "-C", "disk", "-short"))
	if err != nil {
		return nil, fmt.Errorf("list disks: %w", err)
	}
	return ParseDiskListing(res.Output), nil
}

// ParseDiskListing extracts device paths from `lshw -short` output.
func ParseDiskListing(output string) []string {
	var disks []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		match := lshwDiskLine.FindStringSubmatch(scanner.Text())
		if match == nil || seen[match[1]] {
			continue
		}
		seen[match[1]] = true
		disks = append(disks, match[1])
	}
	return disks
}

// VerifyDisksPresent fails with a *DiskNotFoundError unless every expected
// disk is visible. It must run before anything is written to a disk.
func (i *Inventory) VerifyDisksPresent(ctx context.Context, expected []string) ([]string, error) {
	found, err := i.ListVisibleDisks(ctx)
	if err != nil {
		return nil, err
	}
	if err := CheckDisks(expected, found); err != nil {
		return found, err
	}
	logging.Ensure(i.Logger).Debug("all configured disks present", "disks", strings.Join(expected, ","))
	return found, nil
}

// CheckDisks compares expected against found.
func CheckDisks(expected, found []string) error {
	visible := make(map[string]bool, len(found))
	for _, disk := range found {
		visible[disk] = true
	}
	var missing []string
	for _, disk := range expected {
		if !visible[disk] {
			missing = append(missing, disk)
		}
	}
	if len(missing) > 0 {
		return &DiskNotFoundError{Missing: missing, Found: append([]string(nil), found...)}
	}
	return nil
}
