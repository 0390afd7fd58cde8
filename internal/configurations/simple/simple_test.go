package simple

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/uli/internal/artifacts"
	"github.com/cochaviz/uli/internal/execute"
	"github.com/cochaviz/uli/internal/execute/executetest"
	"github.com/cochaviz/uli/internal/logging"
	"github.com/cochaviz/uli/internal/models"
)

const plainNode = `
global: {hostname: node02, image: /images/stage3.tar.bz2}
diskmgmt:
  disks: [/dev/sda]
  type: plain
  partitions:
    1: {type: 83, size: 512MiB}
    2: {type: 82, size: 1024}
    3: {type: 83, size: ""}
fs:
  /boot: {dev: /dev/sda1, type: ext2}
  none:  {dev: /dev/sda2, type: swap}
  /:     {dev: /dev/sda3, type: ext4}
`

func writeDocument(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestValidateAcceptsDocument(t *testing.T) {
	cfg, err := Validate(writeDocument(t, plainNode))
	require.NoError(t, err)
	assert.Equal(t, "node02", cfg.Global.Hostname)
}

func TestValidateReportsSource(t *testing.T) {
	path := writeDocument(t, "global: [")
	_, err := Validate(path)
	var perr *models.ConfigParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, path, perr.Source)
}

func TestPlanListsCommandsWithoutRunningThem(t *testing.T) {
	plan, commands, err := Plan(writeDocument(t, plainNode), "/mnt/target")
	require.NoError(t, err)
	assert.Equal(t, models.LayoutPlain, plan.Layout)

	lines := make([]string, len(commands))
	for i, cmd := range commands {
		lines[i] = cmd.String()
	}
	assert.Contains(t, lines, "sfdisk --no-reread /dev/sda")
	assert.Contains(t, lines, "mkfs.ext4 -F /dev/sda3")
	assert.Contains(t, lines, "mkswap /dev/sda2")
	assert.Contains(t, lines, "mount -t ext4 /dev/sda3 /mnt/target")
	assert.NotContains(t, lines, "mdadm --stop /dev/md0")
}

func TestPlanRejectsInvalidDocument(t *testing.T) {
	_, _, err := Plan(writeDocument(t, "global: {hostname: x, image: /a.tar}\n"), "")
	var verr *models.ConfigValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Messages())
}

func TestDisks(t *testing.T) {
	rec := executetest.NewRecorder().On("lshw", execute.Result{Output: "H/W path Device Class Description\n/0/1 /dev/sda disk 250GB\n"})
	disks, err := Disks(context.Background(), rec, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/sda"}, disks)

	_, err = Disks(context.Background(), executetest.NewRecorder(), logging.Discard())
	assert.Error(t, err)
}

func TestImageCatalogFollowsSource(t *testing.T) {
	opts := InstallOptions{ShareDir: "/mnt/share", ImageDir: "/images", SSHUser: "install"}

	assert.IsType(t, &artifacts.ShareCatalog{}, imageCatalog(artifacts.SchemeShare, opts, "", nil))
	assert.IsType(t, &artifacts.SSHCatalog{}, imageCatalog(artifacts.SchemeSSH, opts, "10.0.0.1", nil))
	assert.Nil(t, imageCatalog(artifacts.SchemeSSH, opts, "", nil))
	assert.Nil(t, imageCatalog(artifacts.SchemeFile, opts, "", nil))

	opts.ISO = "/cdrom/images.iso"
	assert.IsType(t, &artifacts.ISOCatalog{}, imageCatalog(artifacts.SchemeFile, opts, "", nil))
}

func TestConfigSourceReadsLocalFile(t *testing.T) {
	path := writeDocument(t, plainNode)
	fetcher, attempts, backend, err := configSource(InstallOptions{ConfigPath: path, Backend: "10.0.0.1"}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", backend)
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].Optional)

	data, err := fetcher.Fetch(context.Background(), attempts[0].Name)
	require.NoError(t, err)
	assert.Equal(t, plainNode, string(data))
}
