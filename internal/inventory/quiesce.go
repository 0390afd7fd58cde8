package inventory

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/cochaviz/uli/internal/execute"
	"github.com/cochaviz/uli/internal/logging"
	"github.com/cochaviz/uli/internal/models"
)

// legacyArrays is how many numbered arrays a previous install could have left.
const legacyArrays = models.MaxPartitionSlots

// TeardownResult distinguishes work done from work that did not apply.
type TeardownResult int

const (
	TeardownDone TeardownResult = iota
	TeardownNotApplicable
)

func (r TeardownResult) String() string {
	if r == TeardownDone {
		return "done"
	}
	return "not applicable"
}

// Teardown records one release attempt.
type Teardown struct {
	Target string
	Action string
	Result TeardownResult
}

var mdstatLine = regexp.MustCompile(`^(md\S*)\s*:`)

// AssembledArrays returns the names of arrays listed in mdstat, active or
// not. A missing mdstat means the md driver is not loaded.
func AssembledArrays(path string) (map[string]bool, error) {
	arrays := make(map[string]bool)
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return arrays, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if match := mdstatLine.FindStringSubmatch(scanner.Text()); match != nil {
			arrays[match[1]] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return arrays, nil
}

// QuiesceStaleAssemblies deactivates volume groups living on any of
// devices and stops software RAID arrays left by a previous install, so
// the disks can be repartitioned.
func (i *Inventory) QuiesceStaleAssemblies(ctx context.Context, devices []string) ([]Teardown, error) {
	logger := logging.Ensure(i.Logger)

	var report []Teardown
	groups, err := i.volumeGroupsOn(ctx, devices)
	if err != nil {
		return nil, err
	}
	for _, vg := range groups {
		if _, err := execute.Run(ctx, i.Runner, execute.New("vgchange", "-an", vg)); err != nil {
			return report, fmt.Errorf("deactivate volume group %s: %w", vg, err)
		}
		logger.Info("deactivated stale volume group", "vg", vg)
		report = append(report, Teardown{Target: vg, Action: "vgchange -an", Result: TeardownDone})
	}

	named, err := i.namedArrays()
	if err != nil {
		return report, err
	}
	for _, array := range named {
		if _, err := execute.Run(ctx, i.Runner, execute.New("mdadm", "--stop", array)); err != nil {
			return report, fmt.Errorf("stop array %s: %w", array, err)
		}
		logger.Info("stopped named array", "array", array)
		report = append(report, Teardown{Target: array, Action: "mdadm --stop", Result: TeardownDone})
	}

	assembled, err := AssembledArrays(i.mdstatPath())
	if err != nil {
		return report, err
	}
	for n := 0; n < legacyArrays; n++ {
		name := fmt.Sprintf("md%d", n)
		device := filepath.Join(i.devDir(), name)
		if !assembled[name] {
			report = append(report, Teardown{Target: device, Action: "mdadm --stop", Result: TeardownNotApplicable})
			continue
		}
		if _, err := execute.Run(ctx, i.Runner, execute.New("mdadm", "--stop", device)); err != nil {
			return report, fmt.Errorf("stop array %s: %w", device, err)
		}
		logger.Info("stopped stale array", "array", device)
		report = append(report, Teardown{Target: device, Action: "mdadm --stop", Result: TeardownDone})
	}
	return report, nil
}

// volumeGroupsOn lists volume groups with a physical volume on one of devices.
func (i *Inventory) volumeGroupsOn(ctx context.Context, devices []string) ([]string, error) {
	res, err := execute.Run(ctx, i.Runner, execute.New("vgs", "-o", "vg_name,pv_name", "--noheadings"))
	if err != nil {
		return nil, fmt.Errorf("list volume groups: %w", err)
	}

	matched := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(res.Output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		vg, pv := fields[0], fields[1]
		for _, device := range devices {
			if models.IsPartitionOf(pv, device) {
				matched[vg] = true
				break
			}
		}
	}

	groups := make([]string, 0, len(matched))
	for vg := range matched {
		groups = append(groups, vg)
	}
	sort.Strings(groups)
	return groups, nil
}

// namedArrays lists the array links udev creates under /dev/md.
func (i *Inventory) namedArrays() ([]string, error) {
	dir := filepath.Join(i.devDir(), "md")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	arrays := make([]string, 0, len(entries))
	for _, entry := range entries {
		arrays = append(arrays, filepath.Join(dir, entry.Name()))
	}
	return arrays, nil
}

func (i *Inventory) devDir() string {
	if i.DevDir == "" {
		return DefaultDevDir
	}
	return i.DevDir
}

func (i *Inventory) mdstatPath() string {
	if i.MDStatPath == "" {
		return DefaultMDStatPath
	}
	return i.MDStatPath
}
