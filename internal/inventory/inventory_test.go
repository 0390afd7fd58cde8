package inventory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/uli/internal/execute"
	"github.com/cochaviz/uli/internal/execute/executetest"
	"github.com/cochaviz/uli/internal/logging"
)

const lshwOutput = `H/W path         Device      Class          Description
==========================================================
/0/100/1f.2/0    /dev/sda    disk           500GB ST500DM002-1BD14
/0/100/1f.2/1    /dev/sdb    disk           500GB ST500DM002-1BD14
/0/100/1f.2/0.0.0 /dev/cdrom disk           DVD-RAM GH22NS50
`

func newTestInventory(t *testing.T, rec *executetest.Recorder) *Inventory {
	t.Helper()
	dir := t.TempDir()
	return &Inventory{
		Runner:     rec,
		Logger:     logging.Discard(),
		DevDir:     filepath.Join(dir, "dev"),
		MDStatPath: filepath.Join(dir, "mdstat"),
	}
}

func TestParseDiskListing(t *testing.T) {
	assert.Equal(t, []string{"/dev/sda", "/dev/sdb", "/dev/cdrom"}, ParseDiskListing(lshwOutput))
}

func TestVerifyDisksPresent(t *testing.T) {
	rec := executetest.NewRecorder().On("lshw", execute.Result{Output: lshwOutput})
	inv := newTestInventory(t, rec)
	ctx := context.Background()

	_, err := inv.VerifyDisksPresent(ctx, []string{"/dev/sda", "/dev/sdb"})
	require.NoError(t, err)

	found, err := inv.VerifyDisksPresent(ctx, []string{"/dev/sda", "/dev/sdc"})
	var notFound *DiskNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []string{"/dev/sdc"}, notFound.Missing)
	assert.Equal(t, found, notFound.Found)
	assert.Contains(t, err.Error(), "/dev/sdc")
	assert.Equal(t, []string{"lshw -C disk -short", "lshw -C disk -short"}, rec.Lines())
}

func TestVerifyDisksPresentSubsetIsEnough(t *testing.T) {
	assert.NoError(t, CheckDisks([]string{"/dev/sdb"}, []string{"/dev/sda", "/dev/sdb"}))
	assert.NoError(t, CheckDisks(nil, nil))
}

func TestQuiesceStaleAssemblies(t *testing.T) {
	rec := executetest.NewRecorder().On("vgs", execute.Result{Output: "  vg0   /dev/sda2\n  data  /dev/sdc1\n  vg0   /dev/sdb2\n"})
	inv := newTestInventory(t, rec)

	require.NoError(t, os.MkdirAll(filepath.Join(inv.DevDir, "md"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(inv.DevDir, "md", "boot"), nil, 0o644))
	mdstat := "Personalities : [raid1]\nmd1 : active raid1 sdb2[1] sda2[0]\n      10000 blocks\n\nunused devices: <none>\n"
	require.NoError(t, os.WriteFile(inv.MDStatPath, []byte(mdstat), 0o644))

	report, err := inv.QuiesceStaleAssemblies(context.Background(), []string{"/dev/sda", "/dev/sdb"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"vgs -o vg_name,pv_name --noheadings",
		"vgchange -an vg0",
		"mdadm --stop " + filepath.Join(inv.DevDir, "md", "boot"),
		"mdadm --stop " + filepath.Join(inv.DevDir, "md1"),
	}, rec.Lines())

	var done, skipped int
	for _, step := range report {
		if step.Result == TeardownDone {
			done++
		} else {
			skipped++
		}
	}
	assert.Equal(t, 3, done)
	assert.Equal(t, 3, skipped)
}

func TestQuiesceWithoutMDDriver(t *testing.T) {
	rec := executetest.NewRecorder()
	inv := newTestInventory(t, rec)

	report, err := inv.QuiesceStaleAssemblies(context.Background(), []string{"/dev/sda"})
	require.NoError(t, err)
	assert.Equal(t, []string{"vgs -o vg_name,pv_name --noheadings"}, rec.Lines())
	for _, step := range report {
		assert.Equal(t, TeardownNotApplicable, step.Result)
	}
}

func TestQuiesceFailsOnStopError(t *testing.T) {
	rec := executetest.NewRecorder().Fail("mdadm --stop", 1)
	inv := newTestInventory(t, rec)
	require.NoError(t, os.WriteFile(inv.MDStatPath, []byte("md0 : active raid1 sda1[0]\n"), 0o644))

	_, err := inv.QuiesceStaleAssemblies(context.Background(), []string{"/dev/sda"})
	var cmdErr *execute.CommandError
	assert.ErrorAs(t, err, &cmdErr)
}
