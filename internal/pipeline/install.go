package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cochaviz/uli/internal/fetch"
	"github.com/cochaviz/uli/internal/inventory"
	"github.com/cochaviz/uli/internal/logging"
	"github.com/cochaviz/uli/internal/models"
	"github.com/cochaviz/uli/internal/storage"
)

type DiskInventory interface {
	VerifyDisksPresent(ctx context.Context, expected []string) ([]string, error)
	QuiesceStaleAssemblies(ctx context.Context, devices []string) ([]inventory.Teardown, error)
}

type StorageProvisioner interface {
	Partition(ctx context.Context, plan *storage.Plan) error
	BuildRaid(ctx context.Context, plan *storage.Plan) error
	BuildLVM(ctx context.Context, plan *storage.Plan) error
	BuildFilesystems(ctx context.Context, plan *storage.Plan) error
	MountPseudo(ctx context.Context) (int, error)
}

type ImageInstaller interface {
	Install(ctx context.Context, ref, root string) error
}

type SystemConfigurator interface {
	Configure(cfg *models.Config, plan *storage.Plan) error
}

type BootloaderInstaller interface {
	Install(ctx context.Context, disks []string) error
}

// ImageSelector lets an operator replace the configured image.
type ImageSelector interface {
	Select(ctx context.Context, current string) (string, error)
}

var (
	_ DiskInventory      = (*inventory.Inventory)(nil)
	_ StorageProvisioner = (*storage.Provisioner)(nil)
)

// Install holds the components of one node install and the state that
// flows between its stages.
type Install struct {
	Fetcher    fetch.Fetcher
	Attempts   []fetch.Attempt
	Inventory  DiskInventory
	Storage    StorageProvisioner
	Images     ImageInstaller
	System     SystemConfigurator
	Bootloader BootloaderInstaller
	Selector   ImageSelector
	// Preflight runs against the parsed configuration before any disk is
	// touched, for example to check that required tools exist.
	Preflight func(cfg *models.Config) error
	Root      string
	Logger    *slog.Logger

	document []byte
	source   string

	Config *models.Config
	Plan   *storage.Plan
}

// Run executes the install with runner.
func (in *Install) Run(ctx context.Context, runner *Runner) error {
	return runner.Run(ctx, in.Steps())
}

// Steps returns the install sequence. Steps read state left by earlier
// steps, so they must run in order and only once.
func (in *Install) Steps() []Step {
	var steps []Step
	for i, attempt := range in.Attempts {
		attempt := attempt
		step := Step{
			State: FetchingConfig,
			Title: "Fetching configuration " + attempt.Name,
			Run:   func(ctx context.Context) Result { return in.fetch(ctx, attempt) },
		}
		if i > 0 {
			step.When = func() bool { return in.document == nil }
		}
		steps = append(steps, step)
	}

	return append(steps,
		Step{State: ParsingConfig, Title: "Parsing configuration", Run: in.parse},
		Step{
			State:       InteractiveSelection,
			Title:       "Selecting image",
			Interactive: true,
			When:        func() bool { return in.Config != nil && in.Config.Global.Interactive },
			Run:         in.selectImage,
		},
		Step{State: VerifyingDisks, Title: "Verifying disks", Run: in.verifyDisks},
		Step{State: Partitioning, Title: "Partitioning disks", Run: in.partition},
		Step{State: BuildingRaid, Title: "Building software RAID", Run: in.buildRaid},
		Step{State: BuildingLvm, Title: "Building logical volumes", Run: in.buildLVM},
		Step{State: BuildingFilesystems, Title: "Creating and mounting filesystems", Run: in.buildFilesystems},
		Step{State: InstallingImage, Title: "Installing image", Run: in.installImage},
		Step{State: MountingPseudoFs, Title: "Mounting pseudo filesystems", Run: in.mountPseudo},
		Step{State: Configuring, Title: "System configuration", Run: in.configure},
		Step{State: InstallingBootloader, Title: "Installing GRUB bootloader", Run: in.installBootloader},
	)
}

func (in *Install) fetch(ctx context.Context, attempt fetch.Attempt) Result {
	data, err := in.Fetcher.Fetch(ctx, attempt.Name)
	if err != nil {
		if attempt.Optional && errors.Is(err, fetch.ErrNotFound) {
			return Skipped("not found")
		}
		return Failed(err)
	}
	in.document = data
	in.source = attempt.Name
	return OK(fmt.Sprintf("%d bytes", len(data)))
}

func (in *Install) parse(context.Context) Result {
	if in.document == nil {
		return Failed(&fetch.ConfigFetchError{Location: strings.Join(attemptNames(in.Attempts), ", "), Err: fetch.ErrNotFound})
	}
	cfg, err := models.Parse(in.document)
	if err != nil {
		var perr *models.ConfigParseError
		if errors.As(err, &perr) {
			perr.Source = in.source
		}
		return Failed(err)
	}
	if err := models.Validate(cfg); err != nil {
		return Failed(err)
	}
	plan, err := storage.NewPlan(cfg)
	if err != nil {
		return Failed(err)
	}
	in.Config, in.Plan = cfg, plan
	logging.Ensure(in.Logger).Info("configuration accepted", "hostname", cfg.Global.Hostname, "layout", string(plan.Layout), "disks", strings.Join(plan.DiskNames(), ","))
	return OK(cfg.Global.FQDN())
}

func (in *Install) selectImage(ctx context.Context) Result {
	if in.Selector == nil {
		return Failed(errors.New("interactive mode requested but no image catalog is available"))
	}
	current := in.Config.Global.Image
	chosen, err := in.Selector.Select(ctx, current)
	if err != nil {
		return Failed(err)
	}
	in.Config.Global.Image = chosen
	if chosen == current {
		return OK("keeping " + current)
	}
	return OK(chosen)
}

func (in *Install) verifyDisks(ctx context.Context) Result {
	if in.Preflight != nil {
		if err := in.Preflight(in.Config); err != nil {
			return Failed(err)
		}
	}
	disks := in.Plan.DiskNames()
	if _, err := in.Inventory.VerifyDisksPresent(ctx, disks); err != nil {
		return Failed(err)
	}

	devices := append([]string(nil), disks...)
	for i := 0; i < models.MaxPartitionSlots; i++ {
		devices = append(devices, models.ArrayDevice(i))
	}
	for _, group := range in.Plan.VolumeGroups {
		devices = append(devices, group.PhysicalVolumes...)
	}
	report, err := in.Inventory.QuiesceStaleAssemblies(ctx, devices)
	if err != nil {
		return Failed(err)
	}
	released := 0
	for _, teardown := range report {
		if teardown.Result == inventory.TeardownDone {
			released++
		}
	}
	if released > 0 {
		return OK(fmt.Sprintf("%d disks, released %d stale assemblies", len(disks), released))
	}
	return OK(fmt.Sprintf("%d disks", len(disks)))
}

func (in *Install) partition(ctx context.Context) Result {
	if err := in.Storage.Partition(ctx, in.Plan); err != nil {
		return Failed(err)
	}
	return OK("")
}

func (in *Install) buildRaid(ctx context.Context) Result {
	if len(in.Plan.Arrays) == 0 {
		return Skipped(string(in.Plan.Layout) + " layout")
	}
	if err := in.Storage.BuildRaid(ctx, in.Plan); err != nil {
		return Failed(err)
	}
	return OK(fmt.Sprintf("%d arrays", len(in.Plan.Arrays)))
}

func (in *Install) buildLVM(ctx context.Context) Result {
	if len(in.Plan.VolumeGroups) == 0 {
		return Skipped("no volume groups")
	}
	if err := in.Storage.BuildLVM(ctx, in.Plan); err != nil {
		return Failed(err)
	}
	return OK(fmt.Sprintf("%d volume groups", len(in.Plan.VolumeGroups)))
}

func (in *Install) buildFilesystems(ctx context.Context) Result {
	if err := in.Storage.BuildFilesystems(ctx, in.Plan); err != nil {
		return Failed(err)
	}
	return OK("")
}

func (in *Install) installImage(ctx context.Context) Result {
	if err := in.Images.Install(ctx, in.Config.Global.Image, in.Root); err != nil {
		return Failed(err)
	}
	return OK(in.Config.Global.Image)
}

func (in *Install) mountPseudo(ctx context.Context) Result {
	mounted, err := in.Storage.MountPseudo(ctx)
	if err != nil {
		return Failed(err)
	}
	if mounted == 0 {
		return Warning("already mounted")
	}
	return OK("")
}

func (in *Install) configure(context.Context) Result {
	if err := in.System.Configure(in.Config, in.Plan); err != nil {
		return Failed(err)
	}
	return OK("")
}

func (in *Install) installBootloader(ctx context.Context) Result {
	if err := in.Bootloader.Install(ctx, in.Plan.DiskNames()); err != nil {
		return Failed(err)
	}
	return OK("")
}

func attemptNames(attempts []fetch.Attempt) []string {
	names := make([]string, len(attempts))
	for i, attempt := range attempts {
		names[i] = attempt.Name
	}
	return names
}
