// Package executetest provides a scripted execute.Runner for tests.
package executetest

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/cochaviz/uli/internal/execute"
)

// Call is one command observed by a Recorder.
type Call struct {
	Command execute.Command
	Line    string
	Stdin   string
}

type rule struct {
	prefix string
	result execute.Result
	err    error
}

// Recorder records every command it is asked to run. Commands succeed with
// their expected exit status unless a rule registered with On or Fail
// matches the rendered command line by prefix; the longest prefix wins.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	rules []rule
}

var _ execute.Runner = (*Recorder)(nil)

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// On scripts the result for commands whose line starts with prefix.
func (r *Recorder) On(prefix string, result execute.Result) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{prefix: prefix, result: result})
	return r
}

// Fail scripts an exit status for commands whose line starts with prefix.
func (r *Recorder) Fail(prefix string, code int) *Recorder {
	return r.On(prefix, execute.Result{ExitCode: code, Output: "scripted failure"})
}

// Error scripts a start failure for commands whose line starts with prefix.
func (r *Recorder) Error(prefix string, err error) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{prefix: prefix, result: execute.Result{ExitCode: -1}, err: err})
	return r
}

func (r *Recorder) Exec(ctx context.Context, cmd execute.Command) (execute.Result, error) {
	if err := ctx.Err(); err != nil {
		return execute.Result{ExitCode: -1}, err
	}

	call := Call{Command: cmd, Line: cmd.String()}
	if cmd.Stdin != nil {
		data, err := io.ReadAll(cmd.Stdin)
		if err != nil {
			return execute.Result{ExitCode: -1}, err
		}
		call.Stdin = string(data)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)

	var match *rule
	for i := range r.rules {
		candidate := &r.rules[i]
		if !strings.HasPrefix(call.Line, candidate.prefix) {
			continue
		}
		if match == nil || len(candidate.prefix) >= len(match.prefix) {
			match = candidate
		}
	}
	if match == nil {
		return execute.Result{ExitCode: cmd.ExpectedExit}, nil
	}
	return match.result, match.err
}

// Calls returns a copy of every recorded call in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Lines returns the rendered command lines in order.
func (r *Recorder) Lines() []string {
	calls := r.Calls()
	lines := make([]string, len(calls))
	for i, call := range calls {
		lines[i] = call.Line
	}
	return lines
}

// Matching returns the calls whose line starts with prefix.
func (r *Recorder) Matching(prefix string) []Call {
	var matched []Call
	for _, call := range r.Calls() {
		if strings.HasPrefix(call.Line, prefix) {
			matched = append(matched, call)
		}
	}
	return matched
}
