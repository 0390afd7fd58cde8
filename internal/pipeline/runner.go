package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cochaviz/uli/internal/logging"
)

// Step is one reported unit of work. Several steps may share a state.
type Step struct {
	State State
	Title string
	// Interactive steps talk to the operator and run without an indicator.
	Interactive bool
	// When, if set, is consulted just before the step; false leaves the
	// step out entirely.
	When func() bool
	Run  func(ctx context.Context) Result
}

// StageResult is a finished step as shown to the operator.
type StageResult struct {
	State   State
	Title   string
	Outcome Outcome
	Detail  string
	Err     error
	Elapsed time.Duration
}

// Reporter renders progress. Begin is called before a step runs and
// Report after it finished and its indicator stopped.
type Reporter interface {
	Begin(step Step)
	Report(result StageResult)
}

// Indicator animates progress until stop is closed.
type Indicator interface {
	Run(stop <-chan struct{})
}

// Runner executes steps in order and aborts on the first failure.
type Runner struct {
	RunID     string
	Reporter  Reporter
	Indicator Indicator
	Logger    *slog.Logger

	mu      sync.Mutex
	state   State
	history []State
}

// NewRunner returns a runner with a fresh run identifier attached to its
// logger.
func NewRunner(reporter Reporter, indicator Indicator, logger *slog.Logger) *Runner {
	id := uuid.NewString()
	return &Runner{
		RunID:     id,
		Reporter:  reporter,
		Indicator: indicator,
		Logger:    logging.Ensure(logger).With(logging.ComponentKey, "pipeline", "run_id", id),
	}
}

// State returns the current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// History returns every state entered, in order.
func (r *Runner) History() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.history...)
}

// Run executes steps. It returns nil once every step finished without
// failing, or an *AbortError naming the failed step.
func (r *Runner) Run(ctx context.Context, steps []Step) error {
	logger := logging.Ensure(r.Logger)
	started := time.Now()
	r.enter(NotStarted)

	for _, step := range steps {
		if step.When != nil && !step.When() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return r.abort(step, err)
		}

		r.enter(step.State)
		result := r.runStep(ctx, step)
		logger.Debug("step finished", "state", step.State.String(), "step", step.Title, "outcome", string(result.Outcome), "elapsed", result.Elapsed.Round(time.Millisecond))

		if result.Outcome == OutcomeFailed {
			return r.abort(step, result.Err)
		}
	}

	r.enter(Done)
	logger.Info("install finished", "elapsed", time.Since(started).Round(time.Second))
	return nil
}

func (r *Runner) runStep(ctx context.Context, step Step) (result StageResult) {
	reporter := r.Reporter
	if reporter != nil {
		reporter.Begin(step)
	}

	stop := make(chan struct{})
	var once sync.Once
	var wg sync.WaitGroup
	halt := func() {
		once.Do(func() { close(stop) })
		wg.Wait()
	}
	if r.Indicator != nil && !step.Interactive {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Indicator.Run(stop)
		}()
	}

	begin := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			result = StageResult{State: step.State, Title: step.Title, Outcome: OutcomeFailed, Err: fmt.Errorf("panic: %v", recovered)}
		}
		halt()
		result.Elapsed = time.Since(begin)
		if reporter != nil {
			reporter.Report(result)
		}
	}()

	res := step.Run(ctx)
	if res.Outcome == "" {
		res.Outcome = OutcomeOK
	}
	if res.Outcome == OutcomeFailed && res.Err == nil {
		res.Err = fmt.Errorf("%s failed", step.Title)
	}
	return StageResult{State: step.State, Title: step.Title, Outcome: res.Outcome, Detail: res.Detail, Err: res.Err}
}

func (r *Runner) abort(step Step, err error) error {
	r.enter(Aborted)
	abort := &AbortError{State: step.State, Stage: step.Title, Kind: Classify(err), Err: err}
	logging.Ensure(r.Logger).Error("install aborted", "state", step.State.String(), "kind", string(abort.Kind), "error", err)
	return abort
}

func (r *Runner) enter(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == state && len(r.history) > 0 {
		return
	}
	r.state = state
	r.history = append(r.history, state)
}
