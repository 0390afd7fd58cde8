package setup

import (
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/cochaviz/uli/internal/models"
)

func stubHost(t *testing.T, euid int, missing ...string) {
	t.Helper()
	prevLook, prevEuid := LookPath, Geteuid
	t.Cleanup(func() { LookPath, Geteuid = prevLook, prevEuid })

	Geteuid = func() int { return euid }
	LookPath = func(name string) (string, error) {
		for _, m := range missing {
			if m == name {
				return "", exec.ErrNotFound
			}
		}
		return "/usr/sbin/" + name, nil
	}
}

func lvmConfig() *models.Config {
	return &models.Config{
		LVM: &models.LVM{VolumeGroups: map[string]models.VolumeGroup{"vg0": {PhysicalVolumes: []string{"/dev/md1"}}}},
		FS: map[string]models.Filesystem{
			"/":    {Device: "/dev/vg0/root", Type: "xfs"},
			"none": {Device: "/dev/md2", Type: "swap"},
		},
	}
}

func TestRequiredToolsFollowConfig(t *testing.T) {
	tools := strings.Join(RequiredTools(lvmConfig(), "ssh"), " ")
	for _, want := range []string{"lvcreate", "mkfs.xfs", "mkswap", "ssh", "sfdisk", "grub"} {
		if !strings.Contains(tools, want) {
			t.Fatalf("expected %s in %q", want, tools)
		}
	}
	if strings.Contains(tools, "mkfs.swap") {
		t.Fatalf("swap must use mkswap: %q", tools)
	}

	plain := strings.Join(RequiredTools(&models.Config{}), " ")
	if strings.Contains(plain, "pvcreate") {
		t.Fatalf("lvm tools required without volume groups: %q", plain)
	}
}

func TestPreflightRequiresRoot(t *testing.T) {
	stubHost(t, 1000)
	if err := Preflight()(lvmConfig()); err == nil {
		t.Fatal("expected root check to fail")
	}
}

func TestPreflightReportsEveryMissingTool(t *testing.T) {
	stubHost(t, 0, "mkfs.xfs", "lvcreate")
	err := Preflight()(lvmConfig())
	if err == nil {
		t.Fatal("expected missing tools")
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("expected exec.ErrNotFound, got %v", err)
	}
	for _, name := range []string{"mkfs.xfs", "lvcreate"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("expected %s in %v", name, err)
		}
	}
}

func TestPreflightPasses(t *testing.T) {
	stubHost(t, 0)
	if err := Preflight("ssh")(lvmConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
