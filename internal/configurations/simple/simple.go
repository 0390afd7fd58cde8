// Package simple wires the installer's components for the command line.
package simple

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"github.com/cochaviz/uli/internal/artifacts"
	"github.com/cochaviz/uli/internal/bootloader"
	"github.com/cochaviz/uli/internal/console"
	"github.com/cochaviz/uli/internal/execute"
	"github.com/cochaviz/uli/internal/fetch"
	"github.com/cochaviz/uli/internal/image"
	"github.com/cochaviz/uli/internal/inventory"
	"github.com/cochaviz/uli/internal/logging"
	"github.com/cochaviz/uli/internal/models"
	"github.com/cochaviz/uli/internal/pipeline"
	"github.com/cochaviz/uli/internal/setup"
	"github.com/cochaviz/uli/internal/storage"
	"github.com/cochaviz/uli/internal/sysconf"
)

// InstallOptions are the knobs of one install run.
type InstallOptions struct {
	// ConfigPath is a local document, or a directory of documents named by
	// identifier. Set, it replaces retrieval from the backend.
	ConfigPath string
	// Backend overrides the default gateway as the provisioning backend.
	Backend     string
	Root        string
	Interface   string
	ImageSource string
	ShareDir    string
	ImageDir    string
	ISO         string
	SSHUser     string

	In  io.Reader
	Out *os.File

	// Runner defaults to the host's process runner.
	Runner execute.Runner
	// SkipPreflight disables the root and tool checks.
	SkipPreflight bool
}

func (o *InstallOptions) applyDefaults() {
	if o.Root == "" {
		o.Root = setup.InstallRoot
	}
	if o.Interface == "" {
		o.Interface = setup.BootInterface
	}
	if o.ImageSource == "" {
		o.ImageSource = setup.ImageSourceMode
	}
	if o.ShareDir == "" {
		o.ShareDir = setup.ShareDir
	}
	if o.ImageDir == "" {
		o.ImageDir = setup.ImageDir
	}
	if o.SSHUser == "" {
		o.SSHUser = setup.SSHUser
	}
	if o.In == nil {
		o.In = os.Stdin
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
}

// Install provisions the host from its configuration and prints the
// completion banner once every stage finished.
func Install(ctx context.Context, opts InstallOptions, logger *slog.Logger) error {
	logger = logging.Ensure(logger).With(logging.ComponentKey, "config.simple")
	opts.applyDefaults()

	scheme, err := artifacts.ParseScheme(opts.ImageSource)
	if err != nil {
		return err
	}

	runner := opts.Runner
	if runner == nil {
		runner = execute.NewOSRunner(logger)
	}

	fetcher, attempts, backend, err := configSource(opts, logger)
	if err != nil {
		return err
	}

	var sshSource *artifacts.SSHSource
	if backend != "" {
		sshSource = &artifacts.SSHSource{User: opts.SSHUser, Host: backend, Logger: logger}
	}
	resolver := artifacts.NewResolver(scheme, sshSource, &artifacts.ShareSource{Dir: opts.ShareDir})

	var selector pipeline.ImageSelector
	if catalog := imageCatalog(scheme, opts, backend, runner); catalog != nil {
		selector = &console.Picker{In: opts.In, Out: opts.Out, Catalog: catalog}
	}

	install := &pipeline.Install{
		Fetcher:    fetcher,
		Attempts:   attempts,
		Inventory:  inventory.New(runner, logger),
		Storage:    storage.NewProvisioner(runner, opts.Root, logger),
		Images:     image.NewInstaller(runner, resolver, logger),
		System:     sysconf.New(opts.Root, logger),
		Bootloader: bootloader.New(runner, logger),
		Selector:   selector,
		Root:       opts.Root,
		Logger:     logger,
	}
	if !opts.SkipPreflight {
		var extra []string
		if scheme == artifacts.SchemeSSH {
			extra = append(extra, "ssh")
		}
		install.Preflight = setup.Preflight(extra...)
	}

	reporter, indicator := console.NewReporter(opts.Out, logger)
	pipelineRunner := pipeline.NewRunner(reporter, indicator, logger)
	logger.Info("starting install", "run_id", pipelineRunner.RunID, "root", opts.Root, "image_source", string(scheme))

	started := time.Now()
	if err := install.Run(ctx, pipelineRunner); err != nil {
		return err
	}
	console.Banner(opts.Out, install.Config.Global.FQDN(), time.Since(started), !color.NoColor)
	return nil
}

// configSource picks where the configuration document comes from and
// returns the backend host images are pulled from, if any.
func configSource(opts InstallOptions, logger *slog.Logger) (fetch.Fetcher, []fetch.Attempt, string, error) {
	if opts.ConfigPath != "" {
		info, err := os.Stat(opts.ConfigPath)
		if err != nil {
			return nil, nil, "", fmt.Errorf("configuration %s: %w", opts.ConfigPath, err)
		}
		fetcher := &fetch.FileFetcher{Path: opts.ConfigPath}
		if !info.IsDir() {
			return fetcher, []fetch.Attempt{{Name: filepath.Base(opts.ConfigPath)}}, opts.Backend, nil
		}
		identity, err := fetch.Discover(opts.Interface)
		if err != nil {
			return nil, nil, "", err
		}
		return fetcher, fetch.Attempts(fetch.Identifier(identity.MAC)), opts.Backend, nil
	}

	identity, err := fetch.Discover(opts.Interface)
	if err != nil {
		return nil, nil, "", err
	}
	backend := opts.Backend
	if backend == "" {
		backend = identity.Gateway.String()
	}
	logger.Info("discovered identity", "interface", identity.Interface, "mac", identity.MAC.String(), "backend", backend)

	base := fetch.BaseURL(backend, setup.BackendDir)
	return fetch.NewHTTPFetcher(base, logger), fetch.Attempts(fetch.Identifier(identity.MAC)), backend, nil
}

// imageCatalog returns the catalog offered for interactive selection, or
// nil when the image source has none.
func imageCatalog(scheme artifacts.Scheme, opts InstallOptions, backend string, runner execute.Runner) artifacts.Catalog {
	switch {
	case opts.ISO != "":
		return &artifacts.ISOCatalog{Image: opts.ISO, Dir: opts.ImageDir}
	case scheme == artifacts.SchemeShare:
		return &artifacts.ShareCatalog{Dir: opts.ShareDir}
	case scheme == artifacts.SchemeSSH && backend != "":
		return &artifacts.SSHCatalog{Runner: runner, User: opts.SSHUser, Host: backend, Dir: opts.ImageDir}
	default:
		return nil
	}
}

// Validate loads and validates the document at path.
func Validate(path string) (*models.Config, error) {
	cfg, err := models.Load(path)
	if err != nil {
		return nil, err
	}
	if err := models.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Plan validates the document at path and returns the device commands an
// install under root would run, without running any.
func Plan(path, root string) (*storage.Plan, []execute.Command, error) {
	if root == "" {
		root = setup.InstallRoot
	}
	cfg, err := Validate(path)
	if err != nil {
		return nil, nil, err
	}
	plan, err := storage.NewPlan(cfg)
	if err != nil {
		return nil, nil, err
	}
	return plan, plan.Commands(root), nil
}

// Disks lists the disks the host's hardware inventory reports.
func Disks(ctx context.Context, runner execute.Runner, logger *slog.Logger) ([]string, error) {
	logger = logging.Ensure(logger).With(logging.ComponentKey, "config.simple")
	if runner == nil {
		runner = execute.NewOSRunner(logger)
	}
	disks, err := inventory.New(runner, logger).ListVisibleDisks(ctx)
	if err != nil {
		return nil, err
	}
	if len(disks) == 0 {
		return nil, errors.New("no disks visible")
	}
	return disks, nil
}
