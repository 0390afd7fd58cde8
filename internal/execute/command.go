// Package execute is the single boundary through which the installer starts
// external tools. Commands are described as data so they can be rendered,
// recorded in tests, and checked against an expected exit status.
package execute

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Command describes one invocation of an external tool.
type Command struct {
	Name string
	Args []string
	// Stdin is streamed to the process when non-nil.
	Stdin io.Reader
	// ExpectedExit is the exit status Run treats as success.
	ExpectedExit int
}

// New builds a command expecting exit status zero.
func New(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// WithStdin returns a copy of c that reads its standard input from r.
func (c Command) WithStdin(r io.Reader) Command {
	c.Stdin = r
	return c
}

// WithInput is WithStdin for an in-memory script.
func (c Command) WithInput(input string) Command {
	return c.WithStdin(strings.NewReader(input))
}

// Expect returns a copy of c that treats code as its success status.
func (c Command) Expect(code int) Command {
	c.ExpectedExit = code
	return c
}

// String renders the command line, quoting arguments that need it.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, arg := range c.Args {
		if arg == "" || strings.ContainsAny(arg, " \t\n\"'\\$") {
			arg = strconv.Quote(arg)
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

// Result captures how a finished process exited.
type Result struct {
	ExitCode int
	// Output holds the tail of combined stdout and stderr.
	Output string
}

// Runner starts commands. A process that ran to completion is reported
// through Result whatever its exit status; the error return is reserved for
// processes that could not be started or were abandoned.
type Runner interface {
	Exec(ctx context.Context, cmd Command) (Result, error)
}

// CommandError reports a command that did not exit with its expected status.
type CommandError struct {
	Command  string
	Expected int
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	msg := fmt.Sprintf("%s: exit status %d (expected %d)", e.Command, e.ExitCode, e.Expected)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + lastLine(out)
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Run executes cmd and fails with a *CommandError unless it exits with
// cmd.ExpectedExit.
func Run(ctx context.Context, r Runner, cmd Command) (Result, error) {
	res, err := r.Exec(ctx, cmd)
	if err != nil {
		return res, &CommandError{Command: cmd.String(), Expected: cmd.ExpectedExit, ExitCode: -1, Output: res.Output, Err: err}
	}
	if res.ExitCode != cmd.ExpectedExit {
		return res, &CommandError{Command: cmd.String(), Expected: cmd.ExpectedExit, ExitCode: res.ExitCode, Output: res.Output}
	}
	return res, nil
}

// Probe executes cmd as a yes/no question: exit status zero answers yes,
// any other completed exit answers no.
func Probe(ctx context.Context, r Runner, cmd Command) (bool, error) {
	res, err := r.Exec(ctx, cmd)
	if err != nil {
		return false, &CommandError{Command: cmd.String(), ExitCode: -1, Output: res.Output, Err: err}
	}
	return res.ExitCode == 0, nil
}

func lastLine(s string) string {
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
