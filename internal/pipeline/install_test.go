package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/uli/internal/bootloader"
	"github.com/cochaviz/uli/internal/execute"
	"github.com/cochaviz/uli/internal/execute/executetest"
	"github.com/cochaviz/uli/internal/fetch"
	"github.com/cochaviz/uli/internal/image"
	"github.com/cochaviz/uli/internal/inventory"
	"github.com/cochaviz/uli/internal/logging"
	"github.com/cochaviz/uli/internal/storage"
	"github.com/cochaviz/uli/internal/sysconf"
)

const mirroredNode = `
global: {hostname: node01, domainname: example.net, image: /images/stage3.tar}
diskmgmt:
  disks: [/dev/sda, /dev/sdb]
  type: md
  partitions:
    1: {type: fd, size: "100"}
fs:
  /: {dev: /dev/md0, type: ext3}
`

const twoDisks = "/0/1 /dev/sda disk 500GB\n/0/2 /dev/sdb disk 500GB\n"

type mapFetcher map[string]string

func (m mapFetcher) Fetch(_ context.Context, name string) ([]byte, error) {
	doc, ok := m[name]
	if !ok {
		return nil, &fetch.ConfigFetchError{Location: name, Err: fetch.ErrNotFound}
	}
	return []byte(doc), nil
}

type memoryImages map[string]string

func (m memoryImages) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	data, ok := m[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, os.ErrNotExist)
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

type fixedSelector string

func (f fixedSelector) Select(context.Context, string) (string, error) {
	return string(f), nil
}

type harness struct {
	install  *Install
	recorder *executetest.Recorder
	root     string
	reporter *recordingReporter
	runner   *Runner
}

func newHarness(t *testing.T, documents mapFetcher) *harness {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "install")
	rec := executetest.NewRecorder().On("lshw", execute.Result{Output: twoDisks})
	logger := logging.Discard()

	inv := inventory.New(rec, logger)
	inv.DevDir = filepath.Join(dir, "dev")
	inv.MDStatPath = filepath.Join(dir, "mdstat")

	prov := storage.NewProvisioner(rec, root, logger)
	prov.Waiter = nil
	prov.MDStatPath = inv.MDStatPath
	prov.Mountpoint = func(string) (bool, error) { return false, nil }

	reporter := &recordingReporter{}
	return &harness{
		install: &Install{
			Fetcher:    documents,
			Attempts:   fetch.Attempts("00_1a_2b_3c_4d_5e"),
			Inventory:  inv,
			Storage:    prov,
			Images:     image.NewInstaller(rec, memoryImages{"/images/stage3.tar": "base", "/images/other.tar": "other"}, logger),
			System:     sysconf.New(root, logger),
			Bootloader: bootloader.New(rec, logger),
			Root:       root,
			Logger:     logger,
		},
		recorder: rec,
		root:     root,
		reporter: reporter,
		runner:   newTestRunner(reporter, &countingIndicator{}),
	}
}

func (h *harness) run(t *testing.T) error {
	t.Helper()
	return h.install.Run(context.Background(), h.runner)
}

func (h *harness) ran(prefix string) bool {
	return len(h.recorder.Matching(prefix)) > 0
}

func TestInstallMirroredNode(t *testing.T) {
	h := newHarness(t, mapFetcher{"00_00_00_00_00_01.yaml": mirroredNode})

	require.NoError(t, h.run(t))
	assert.Equal(t, Done, h.runner.State())
	assert.Equal(t, []State{
		NotStarted, FetchingConfig, ParsingConfig, VerifyingDisks, Partitioning, BuildingRaid,
		BuildingLvm, BuildingFilesystems, InstallingImage, MountingPseudoFs, Configuring,
		InstallingBootloader, Done,
	}, h.runner.History())

	outcomes := h.reporter.outcomes()
	assert.Equal(t, OutcomeSkipped, outcomes["Fetching configuration 00_1a_2b_3c_4d_5e.yaml"])
	assert.Equal(t, OutcomeOK, outcomes["Fetching configuration 00_00_00_00_00_01.yaml"])
	assert.Equal(t, OutcomeOK, outcomes["Building software RAID"])
	assert.Equal(t, OutcomeSkipped, outcomes["Building logical volumes"])

	creates := h.recorder.Matching("mdadm --create")
	require.Len(t, creates, 1)
	assert.Equal(t, "mdadm --create /dev/md0 --run --force --metadata=0.90 --level=1 --raid-devices=2 /dev/sda1 /dev/sdb1", creates[0].Line)
	assert.Len(t, h.recorder.Matching("mkfs."), 1)
	assert.Len(t, h.recorder.Matching("mount -t ext3 /dev/md0 "+h.root), 1)
	assert.Len(t, h.recorder.Matching("grub"), 2)

	fstab, err := os.ReadFile(filepath.Join(h.root, "etc", "fstab"))
	require.NoError(t, err)
	assert.Contains(t, string(fstab), "/dev/md0\t/\text3\tnoatime\t0 0\n")

	tar := h.recorder.Matching("tar -C")
	require.Len(t, tar, 1)
	assert.Equal(t, "base", tar[0].Stdin)
}

func TestInstallPrefersHostConfiguration(t *testing.T) {
	h := newHarness(t, mapFetcher{
		"00_1a_2b_3c_4d_5e.yaml": mirroredNode,
		"00_00_00_00_00_01.yaml": "not: [valid",
	})

	require.NoError(t, h.run(t))
	assert.NotContains(t, h.reporter.begun, "Fetching configuration 00_00_00_00_00_01.yaml")
}

func TestInstallWithoutFilesystemsTouchesNoDevice(t *testing.T) {
	doc := mirroredNode[:strings.Index(mirroredNode, "fs:")]
	h := newHarness(t, mapFetcher{"00_00_00_00_00_01.yaml": doc})

	err := h.run(t)
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, ParsingConfig, abort.State)
	assert.Equal(t, FailureConfigValidation, abort.Kind)
	assert.Empty(t, h.recorder.Lines())
}

func TestInstallRejectsTooManySlotsBeforeSideEffects(t *testing.T) {
	doc := strings.Replace(mirroredNode, `    1: {type: fd, size: "100"}`,
		"    1: {type: fd, size: 1}\n    2: {type: fd, size: 1}\n    3: {type: fd, size: 1}\n    4: {type: fd, size: 1}\n    5: {type: fd, size: 1}", 1)
	h := newHarness(t, mapFetcher{"00_00_00_00_00_01.yaml": doc})

	err := h.run(t)
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, FailureConfigValidation, abort.Kind)
	assert.Empty(t, h.recorder.Lines())
	assert.NoDirExists(t, h.root)
}

func TestInstallMissingDiskAbortsBeforePartitioning(t *testing.T) {
	h := newHarness(t, mapFetcher{"00_00_00_00_00_01.yaml": strings.Replace(mirroredNode, "/dev/sdb]", "/dev/sdc]", 1)})

	err := h.run(t)
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, VerifyingDisks, abort.State)
	assert.Equal(t, FailureDiskNotFound, abort.Kind)
	assert.Equal(t, []string{"lshw -C disk -short"}, h.recorder.Lines())
	assert.False(t, h.ran("sfdisk"))
	assert.NotContains(t, h.runner.History(), Partitioning)
}

func TestInstallMissingFallbackIsFatal(t *testing.T) {
	h := newHarness(t, mapFetcher{})

	err := h.run(t)
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, FetchingConfig, abort.State)
	assert.Equal(t, FailureConfigFetch, abort.Kind)
}

func TestInstallInteractiveSelection(t *testing.T) {
	doc := strings.Replace(mirroredNode, "image: /images/stage3.tar}", "image: /images/stage3.tar, interactive: true}", 1)
	h := newHarness(t, mapFetcher{"00_00_00_00_00_01.yaml": doc})
	h.install.Selector = fixedSelector("/images/other.tar")

	require.NoError(t, h.run(t))
	assert.Contains(t, h.runner.History(), InteractiveSelection)
	tar := h.recorder.Matching("tar -C")
	require.Len(t, tar, 1)
	assert.Equal(t, "other", tar[0].Stdin)
}

func TestInstallImageFailure(t *testing.T) {
	h := newHarness(t, mapFetcher{"00_00_00_00_00_01.yaml": strings.Replace(mirroredNode, "/images/stage3.tar", "/images/missing.tar", 1)})

	err := h.run(t)
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, InstallingImage, abort.State)
	assert.Equal(t, FailureImageInstall, abort.Kind)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.False(t, h.ran("grub"))
	assert.False(t, bytes.Contains([]byte(strings.Join(h.recorder.Lines(), "\n")), []byte("mount --bind")))
}
