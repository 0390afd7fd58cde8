package execute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/armon/circbuf"

	"github.com/cochaviz/uli/internal/logging"
)

// DefaultOutputLimit bounds how much process output is retained per command.
const DefaultOutputLimit = 64 * 1024

// OSRunner starts real processes.
type OSRunner struct {
	Logger *slog.Logger
	// OutputLimit caps retained output in bytes; zero selects DefaultOutputLimit.
	OutputLimit int64
}

var _ Runner = (*OSRunner)(nil)

// NewOSRunner returns a runner that logs each command at debug level.
func NewOSRunner(logger *slog.Logger) *OSRunner {
	return &OSRunner{Logger: logging.Ensure(logger)}
}

// Exec runs cmd to completion. Cancellation is only honoured before the
// process starts: a partitioning or formatting tool is never killed midway.
func (r *OSRunner) Exec(ctx context.Context, cmd Command) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, err
	}

	limit := r.OutputLimit
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	output, err := circbuf.NewBuffer(limit)
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("allocate output buffer: %w", err)
	}

	proc := exec.Command(cmd.Name, cmd.Args...)
	proc.Stdout = output
	proc.Stderr = output
	if cmd.Stdin != nil {
		proc.Stdin = cmd.Stdin
	}

	logger := logging.Ensure(r.Logger)
	logger.Debug("executing command", "command", cmd.String())

	started := time.Now()
	err = proc.Run()
	res := Result{Output: output.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			res.ExitCode = -1
			return res, err
		}
		res.ExitCode = exitErr.ExitCode()
	}

	logger.Debug("command finished", "command", cmd.Name, "exit", res.ExitCode, "elapsed", time.Since(started).Round(time.Millisecond))
	return res, nil
}
