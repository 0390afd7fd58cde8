package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/siderolabs/go-retry/retry"
	"golang.org/x/sys/unix"
)

// DeviceWaiter blocks until a device node exists.
type DeviceWaiter interface {
	WaitForDevice(ctx context.Context, path string) error
}

// NodeWaiter polls the filesystem for device nodes created by udev after a
// partition table re-read or array creation.
type NodeWaiter struct {
	Timeout  time.Duration
	Interval time.Duration
}

var _ DeviceWaiter = NodeWaiter{}

func (w NodeWaiter) WaitForDevice(ctx context.Context, path string) error {
	timeout, interval := w.Timeout, w.Interval
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	err := retry.Constant(timeout, retry.WithUnits(interval)).RetryWithContext(ctx, func(context.Context) error {
		_, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return retry.ExpectedError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("wait for %s: %w", path, err)
	}
	return nil
}

// IsMountpoint reports whether path is the root of a mounted filesystem,
// judged by its device differing from its parent's.
func IsMountpoint(path string) (bool, error) {
	path = filepath.Clean(path)
	if path == "/" {
		return true, nil
	}

	var self, parent unix.Stat_t
	if err := unix.Stat(path, &self); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := unix.Stat(filepath.Dir(path), &parent); err != nil {
		return false, fmt.Errorf("stat %s: %w", filepath.Dir(path), err)
	}
	return self.Dev != parent.Dev || self.Ino == parent.Ino, nil
}
