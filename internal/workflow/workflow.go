// Package workflow drives an ordered pipeline of steps through an explicit
// state machine. Each step runs through the job orchestrator, so only one
// step of any workflow can be executing at a time.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"jobcore/internal/apperrors"
	"jobcore/internal/dispatcher"
	"jobcore/internal/job"
	"jobcore/internal/observability"
)

// DefaultHistoryLimit bounds the transition audit trail.
const DefaultHistoryLimit = 256

// Executor runs one step. It reports whether the step succeeded.
type Executor func(ctx context.Context) (bool, error)

// Step is one stage of a workflow.
type Step struct {
	Name     string        `json:"name"`
	Label    string        `json:"label"`
	Diagram  string        `json:"diagram,omitempty"`
	Deadline time.Duration `json:"deadlineNs,omitempty"`
	Executor Executor      `json:"-"`
}

// Launcher runs a function under the single job slot.
type Launcher interface {
	Exec(ctx context.Context, name string, cfg job.Config, fn job.TaskFunc, deadline time.Duration) (job.Outcome, error)
}

// Config wires a workflow's collaborators. Only Launcher is required for Run.
type Config struct {
	Launcher     Launcher
	OnReset      func()
	Metrics      *observability.Metrics
	Publisher    *dispatcher.Publisher
	HistoryLimit int
}

// Workflow is the state machine for one pipeline.
type Workflow struct {
	name   string
	steps  []Step
	cfg    Config
	tracer trace.Tracer

	mu      sync.Mutex
	state   State
	history []Transition
}

// New creates a workflow with step 0 pending and every other step disabled.
// It panics when steps is empty.
func New(name string, steps []Step, cfg Config) *Workflow {
	if len(steps) == 0 {
		panic("workflow: " + name + " needs at least one step")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	w := &Workflow{
		name:   name,
		steps:  append([]Step(nil), steps...),
		cfg:    cfg,
		tracer: observability.Tracer(),
		state: State{
			Steps:     make([]StepState, len(steps)),
			LastEvent: EventEmpty,
		},
	}
	w.fill(0)
	return w
}

// Name returns the pipeline name.
func (w *Workflow) Name() string {
	return w.name
}

// Steps returns the step definitions.
func (w *Workflow) Steps() []Step {
	return append([]Step(nil), w.steps...)
}

// Snapshot returns a copy of the current state.
func (w *Workflow) Snapshot() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.clone()
}

// History returns the recorded transitions, oldest first.
func (w *Workflow) History() []Transition {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Transition(nil), w.history...)
}

// Click marks a pending step as running. It is a no-op returning false for
// any other step.
func (w *Workflow) Click(i int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clickLocked(i)
}

// Complete settles a running step. On success the step is completed and the
// next one unlocked; on failure the step goes back to pending. It is a no-op
// returning false unless step i is running.
func (w *Workflow) Complete(i int, success bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.completeLocked(i, success)
}

// JumpTo makes step i current: earlier steps completed, later ones disabled.
// No executor runs. Out of range indexes are ignored.
func (w *Workflow) JumpTo(i int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.inRange(i) {
		return false
	}
	w.state.LastError = ""
	w.rewrite(i, "jump")
	return true
}

// Reset jumps back to the first step, forgets the last result and event, and
// calls the reset hook.
func (w *Workflow) Reset() {
	w.mu.Lock()
	w.state.Result = nil
	w.state.LastError = ""
	w.state.LastEvent = EventEmpty
	w.rewrite(0, "reset")
	w.mu.Unlock()

	if w.cfg.OnReset != nil {
		w.cfg.OnReset()
	}
}

// Run executes step i through the launcher and settles it. The step must be
// pending or running. When the launcher is busy the state is left exactly
// as it was. The returned bool is the step's success.
func (w *Workflow) Run(ctx context.Context, i int) (bool, error) {
	if w.cfg.Launcher == nil {
		return false, apperrors.Internal("workflow.run", errors.New("no launcher configured"))
	}

	w.mu.Lock()
	if !w.inRange(i) {
		w.mu.Unlock()
		return false, apperrors.NotFound("step", strconv.Itoa(i))
	}
	if st := w.state.Steps[i]; st != StepPending && st != StepRunning {
		w.mu.Unlock()
		return false, apperrors.InvalidTransition(i, string(st), "run")
	}
	w.mu.Unlock()

	step := w.steps[i]
	logger := slog.With("pipeline", w.name, "step", step.Name, "index", i)
	ctx, span := w.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.pipeline", w.name),
		attribute.String("workflow.step", step.Name),
		attribute.Int("workflow.index", i),
	))
	defer span.End()

	// The click is applied once the job slot is held, so a busy launcher
	// never touches the state. The launcher cancels ctx before it returns,
	// which keeps a late start from clicking a step Run already gave up on.
	fn := func(ctx context.Context, _ job.Config) (job.Result, error) {
		w.mu.Lock()
		if err := ctx.Err(); err != nil {
			w.mu.Unlock()
			return nil, context.Cause(ctx)
		}
		st := w.state.Steps[i]
		if st == StepPending {
			w.clickLocked(i)
		} else if st != StepRunning {
			w.mu.Unlock()
			return nil, apperrors.InvalidTransition(i, string(st), "run")
		}
		w.mu.Unlock()

		if step.Executor == nil {
			return nil, fmt.Errorf("step %s has no executor", step.Name)
		}
		return step.Executor(ctx)
	}

	outcome, err := w.cfg.Launcher.Exec(ctx, w.name+"."+step.Name, nil, fn, step.Deadline)
	if errors.Is(err, apperrors.ErrBusy) {
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("Step not started, a job is already running", "error", err)
		return false, err
	}

	success := err == nil && outcome.Result == true

	w.mu.Lock()
	if w.state.Steps[i] == StepRunning {
		w.completeLocked(i, success)
	}
	switch {
	case err != nil:
		w.state.LastError = err.Error()
	case !success:
		w.state.LastError = fmt.Sprintf("step %s did not succeed", step.Name)
	default:
		w.state.Result = outcome.Result
	}
	w.mu.Unlock()

	w.cfg.Metrics.RecordStepRun(ctx, w.name, step.Name, success)
	span.SetAttributes(attribute.Bool("workflow.success", success))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("Step failed", "jobId", outcome.JobID, "error", err)
		return false, err
	}
	logger.Info("Step finished", "jobId", outcome.JobID, "success", success)
	return success, nil
}

func (w *Workflow) inRange(i int) bool {
	return i >= 0 && i < len(w.state.Steps)
}

func (w *Workflow) clickLocked(i int) bool {
	if !w.inRange(i) || w.state.Steps[i] != StepPending {
		return false
	}
	w.state.LastEvent = EventClick
	w.state.LastError = ""
	w.state.Current = i
	w.set(i, StepRunning, "click")
	return true
}

func (w *Workflow) completeLocked(i int, success bool) bool {
	if !w.inRange(i) || w.state.Steps[i] != StepRunning {
		return false
	}
	w.state.Current = i
	if !success {
		w.state.LastEvent = EventEmpty
		w.set(i, StepPending, "complete")
		return true
	}
	w.state.LastEvent = EventComplete
	w.set(i, StepCompleted, "complete")
	if i+1 < len(w.state.Steps) {
		w.state.Current = i + 1
		w.set(i+1, StepPending, "complete")
	}
	return true
}

// set moves one step along the transition table and records it.
func (w *Workflow) set(i int, to StepState, op string) {
	from := w.state.Steps[i]
	if err := ValidateTransition(from, to); err != nil {
		// callers check the source state first; reaching this is a bug
		panic(err)
	}
	w.state.Steps[i] = to
	w.record(i, from, to, op)
}

// fill lays out the canonical sequence around current without recording it.
func (w *Workflow) fill(current int) {
	for j := range w.state.Steps {
		switch {
		case j < current:
			w.state.Steps[j] = StepCompleted
		case j == current:
			w.state.Steps[j] = StepPending
		default:
			w.state.Steps[j] = StepDisabled
		}
	}
	w.state.Current = current
}

// rewrite is fill plus a history entry for every step that changed.
func (w *Workflow) rewrite(current int, op string) {
	before := append([]StepState(nil), w.state.Steps...)
	w.fill(current)
	for j, to := range w.state.Steps {
		if before[j] != to {
			w.record(j, before[j], to, op)
		}
	}
}

func (w *Workflow) record(i int, from, to StepState, op string) {
	t := Transition{
		Step:  i,
		Name:  w.steps[i].Name,
		From:  from,
		To:    to,
		Op:    op,
		Event: w.state.LastEvent,
		At:    time.Now().UTC(),
	}
	w.history = append(w.history, t)
	if over := len(w.history) - w.cfg.HistoryLimit; over > 0 {
		w.history = append(w.history[:0:0], w.history[over:]...)
	}

	ctx := context.Background()
	w.cfg.Metrics.RecordTransition(ctx, w.name, op)
	if w.cfg.Publisher.Wants(EventTypeTransition) {
		w.cfg.Publisher.Publish(buildTransitionEvent(w.name, t))
	}
}
