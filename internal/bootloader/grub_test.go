package bootloader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/uli/internal/execute"
	"github.com/cochaviz/uli/internal/execute/executetest"
	"github.com/cochaviz/uli/internal/logging"
)

func TestInstallNumbersDisksByPosition(t *testing.T) {
	rec := executetest.NewRecorder()
	g := &GRUB{Runner: rec, Logger: logging.Discard()}

	require.NoError(t, g.Install(context.Background(), []string{"/dev/sda", "/dev/sdb"}))

	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "grub --batch --no-floppy", calls[0].Line)
	assert.Equal(t, "find /boot/grub/stage1\ndevice (hd0) /dev/sda\nroot (hd0,0)\nsetup (hd0)\nquit\n", calls[0].Stdin)
	assert.Equal(t, "find /boot/grub/stage1\ndevice (hd1) /dev/sdb\nroot (hd1,0)\nsetup (hd1)\nquit\n", calls[1].Stdin)
}

func TestInstallDetectsBatchErrors(t *testing.T) {
	rec := executetest.NewRecorder().On("grub", execute.Result{Output: "grub> setup (hd0)\n\nError 17: Cannot mount selected partition\n"})
	g := &GRUB{Runner: rec, Logger: logging.Discard()}

	err := g.Install(context.Background(), []string{"/dev/sda", "/dev/sdb"})
	var cmdErr *execute.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, err.Error(), "Error 17")
	assert.Len(t, rec.Calls(), 1)
}

func TestInstallFailsOnExitStatus(t *testing.T) {
	rec := executetest.NewRecorder().Fail("grub", 1)
	g := &GRUB{Runner: rec, Logger: logging.Discard()}
	assert.Error(t, g.Install(context.Background(), []string{"/dev/sda"}))
}
