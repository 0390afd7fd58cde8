// Package console renders install progress for an operator watching the
// node's console, and asks them for input when an install is interactive.
package console

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/cochaviz/uli/internal/logging"
	"github.com/cochaviz/uli/internal/pipeline"
)

const (
	defaultWidth  = 80
	spinnerPeriod = 120 * time.Millisecond
	stepPrefix    = ">> "
)

var spinnerFrames = []string{"/", "-", "\\", "|"}

type badge struct {
	label string
	color *color.Color
}

var badges = map[pipeline.Outcome]badge{
	pipeline.OutcomeOK:      {"[ ok ]", color.New(color.FgGreen, color.Bold)},
	pipeline.OutcomeFailed:  {"[ !! ]", color.New(color.FgRed, color.Bold)},
	pipeline.OutcomeWarning: {"[ !? ]", color.New(color.FgCyan, color.Bold)},
	pipeline.OutcomeSkipped: {"[ -- ]", color.New(color.FgYellow, color.Bold)},
}

// TerminalReporter draws one line per step with a spinner while the step
// runs and a right-aligned outcome badge once it finished. It is both the
// pipeline's Reporter and its Indicator.
type TerminalReporter struct {
	Out   io.Writer
	Width int
	Color bool

	mu      sync.Mutex
	current string
}

var (
	_ pipeline.Reporter  = (*TerminalReporter)(nil)
	_ pipeline.Indicator = (*TerminalReporter)(nil)
	_ pipeline.Reporter  = (*LogReporter)(nil)
)

// NewTerminalReporter returns a reporter sized to the terminal behind out.
func NewTerminalReporter(out *os.File) *TerminalReporter {
	return &TerminalReporter{Out: out, Width: terminalWidth(out), Color: !color.NoColor}
}

func terminalWidth(f *os.File) int {
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}

// Begin prints the step title. Interactive steps get a line of their own so
// prompts do not collide with the badge.
func (r *TerminalReporter) Begin(step pipeline.Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = stepPrefix + step.Title
	if step.Interactive {
		fmt.Fprintln(r.Out, r.current)
		return
	}
	fmt.Fprintf(r.Out, "%s  ", r.current)
}

// Run spins next to the current title until stop is closed.
func (r *TerminalReporter) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(spinnerPeriod)
	defer ticker.Stop()
	for frame := 0; ; frame++ {
		r.mu.Lock()
		fmt.Fprintf(r.Out, "\b%s", spinnerFrames[frame%len(spinnerFrames)])
		r.mu.Unlock()

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// Report rewrites the current line with the outcome badge and prints the
// error of a failed step underneath.
func (r *TerminalReporter) Report(result pipeline.StageResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := badges[result.Outcome]
	if !ok {
		b = badges[pipeline.OutcomeOK]
	}
	fmt.Fprintf(r.Out, "\r%s\n", r.line(result, b))
	if result.Outcome == pipeline.OutcomeFailed && result.Err != nil {
		fmt.Fprintf(r.Out, "\n%s\n\n", r.paint(color.New(color.FgRed, color.Bold), "[error] "+result.Err.Error()))
	}
	r.current = ""
}

func (r *TerminalReporter) line(result pipeline.StageResult, b badge) string {
	width := r.Width
	if width <= 0 {
		width = defaultWidth
	}
	left := stepPrefix + result.Title
	if result.Detail != "" {
		left += " (" + result.Detail + ")"
	}
	room := width - len(b.label) - 1
	if len(left) > room {
		if room > 3 {
			left = left[:room-3] + "..."
		} else {
			left = ""
		}
	}
	return left + strings.Repeat(" ", max(1, width-len(left)-len(b.label))) + r.paint(b.color, b.label)
}

func (r *TerminalReporter) paint(c *color.Color, s string) string {
	if !r.Color {
		return s
	}
	return c.Sprint(s)
}

// LogReporter records step outcomes as log records, for consoles that are
// not terminals.
type LogReporter struct {
	Logger *slog.Logger
}

func (r *LogReporter) Begin(step pipeline.Step) {
	logging.Ensure(r.Logger).Debug("step started", "state", step.State.String(), "step", step.Title)
}

func (r *LogReporter) Report(result pipeline.StageResult) {
	args := []any{"state", result.State.String(), "step", result.Title, "outcome", string(result.Outcome), "elapsed", result.Elapsed.Round(time.Millisecond)}
	if result.Detail != "" {
		args = append(args, "detail", result.Detail)
	}
	logger := logging.Ensure(r.Logger)
	switch result.Outcome {
	case pipeline.OutcomeFailed:
		logger.Error("step failed", append(args, "error", result.Err)...)
	case pipeline.OutcomeWarning:
		logger.Warn("step finished with warning", args...)
	default:
		logger.Info("step finished", args...)
	}
}

// NewReporter picks the terminal reporter when out is a terminal and the
// log reporter otherwise. The indicator is nil for the log reporter.
func NewReporter(out *os.File, logger *slog.Logger) (pipeline.Reporter, pipeline.Indicator) {
	if isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()) {
		r := NewTerminalReporter(out)
		return r, r
	}
	return &LogReporter{Logger: logging.Ensure(logger).With(logging.ComponentKey, "console")}, nil
}

const farewell = `
            .--------------.
    .--.   (    Bye Bye!    )
   |o_o |   .--------------'
   |:_/ |  '
  //   \ \
 (|     | )
/'\_   _/'\
\___)=(___/
`

// Banner prints the completion banner for host.
func Banner(w io.Writer, host string, elapsed time.Duration, colored bool) {
	text := farewell + fmt.Sprintf("\n%s installed in %s\n\n", host, elapsed.Round(time.Second))
	if colored {
		text = color.New(color.FgCyan).Sprint(text)
	}
	fmt.Fprint(w, text)
}
