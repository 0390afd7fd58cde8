package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cochaviz/uli/internal/logging"
)

func TestSwitchingHandlerFollowsSwitch(t *testing.T) {
	var before, after bytes.Buffer
	level := new(slog.LevelVar)

	handler := &switchingHandler{}
	handler.set(logging.NewCLI(&before, level).Handler())
	derived := slog.New(handler).With(logging.ComponentKey, "storage")

	handler.set(logging.NewJSON(&after, level).Handler())
	derived.Info("partitioned disk", "disk", "/dev/sda")

	if before.Len() != 0 {
		t.Fatalf("expected nothing on the replaced handler, got %q", before.String())
	}
	if !strings.Contains(after.String(), `"component":"storage"`) || !strings.Contains(after.String(), `"disk":"/dev/sda"`) {
		t.Fatalf("unexpected output %q", after.String())
	}
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var level slog.LevelVar
	handler := &switchingHandler{}
	handler.set(logging.Discard().Handler())

	root := newRootCommand(slog.New(handler), &level, handler)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestValidateCommandListsViolations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte("global: {hostname: node01}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, stderr, err := runCLI(t, "validate", path, "--log-format", "json")
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if strings.Count(stderr, "  - ") < 2 {
		t.Fatalf("expected every violation listed, got %q", stderr)
	}
}

func TestPlanCommandPrintsCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	doc := `
global: {hostname: node01, image: /images/stage3.tar}
diskmgmt:
  disks: [/dev/vda]
  type: vd
  partitions:
    1: {type: 83, size: ""}
fs:
  /: {dev: /dev/vda1, type: ext3}
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout, _, err := runCLI(t, "plan", "--config", path, "--root", "/target")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	for _, want := range []string{"# layout vd on 1 disks", "sfdisk --no-reread /dev/vda", "mkfs.ext3 -F /dev/vda1", "mount -t ext3 /dev/vda1 /target"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("expected %q in:\n%s", want, stdout)
		}
	}
}

func TestUnknownLogFormat(t *testing.T) {
	if _, _, err := runCLI(t, "validate", "x.yaml", "--log-format", "xml"); err == nil {
		t.Fatal("expected unknown log format to fail")
	}
}
