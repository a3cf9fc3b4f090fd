// Package job runs one external task at a time and follows the progress log
// the task writes while it runs.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"jobcore/internal/apperrors"
	"jobcore/internal/config"
	"jobcore/internal/dispatcher"
	"jobcore/internal/observability"
	"jobcore/internal/tasklog"
)

// DefaultTailBuffer is how many chunks a tail subscriber may fall behind
// before it is dropped.
const DefaultTailBuffer = 256

var errCancelRequested = errors.New("cancel requested")

// Options configures an Orchestrator.
type Options struct {
	LogDir       string        // directory scanned for task logs
	Pattern      string        // log file glob (default: app_log_*.md)
	PollInterval time.Duration // log poll interval (default: 100ms, clamped to 50-200ms)
	TailBuffer   int           // per-subscriber chunk buffer
	Registry     *Registry
	Metrics      *observability.Metrics
	Publisher    *dispatcher.Publisher
}

func (o Options) withDefaults() Options {
	if o.LogDir == "" {
		o.LogDir = config.DefaultLogDir()
	}
	if o.Pattern == "" {
		o.Pattern = tasklog.Pattern
	}
	o.PollInterval = config.ClampPollInterval(o.PollInterval)
	if o.TailBuffer <= 0 {
		o.TailBuffer = DefaultTailBuffer
	}
	if o.Registry == nil {
		o.Registry = NewRegistry()
	}
	return o
}

// Orchestrator runs at most one job at a time. A second Start while a job is
// in flight fails immediately with ErrBusy; nothing is queued.
//
// While the task runs, the orchestrator polls the log directory, pins the
// task's log file and hands every newly appended byte to Tail subscribers
// exactly once. After the task settles it does one final read, keeps the
// full log for FinalLog and only then frees the slot.
//
// Timeouts and cancellation stop the wait and cancel the task's context, but
// a task that ignores its context keeps running in the background.
type Orchestrator struct {
	opts   Options
	slot   *semaphore.Weighted
	tracer trace.Tracer

	mu      sync.Mutex
	current *run // in-flight job, or the last one to settle
}

type run struct {
	id         string
	taskType   string
	startedAt  time.Time
	finishedAt time.Time
	status     Status
	errMsg     string
	logPath    string
	finalLog   string
	cancel     context.CancelCauseFunc
	subs       map[*subscriber]struct{}
}

type subscriber struct {
	ch   chan Chunk
	gone chan struct{}
}

type taskResult struct {
	result Result
	err    error
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		opts:   opts.withDefaults(),
		slot:   semaphore.NewWeighted(1),
		tracer: observability.Tracer(),
	}
}

// Registry returns the task registry used by Start.
func (o *Orchestrator) Registry() *Registry {
	return o.opts.Registry
}

// Start validates the request, resolves taskType in the registry and runs the
// task to completion, timeout or cancellation. A zero deadline means none.
func (o *Orchestrator) Start(ctx context.Context, taskType string, cfg Config, deadline time.Duration) (Outcome, error) {
	if err := validateStart(taskType, cfg, deadline); err != nil {
		return Outcome{}, err
	}
	task, err := o.opts.Registry.Lookup(taskType)
	if err != nil {
		return Outcome{}, err
	}
	if err := ValidateConfig(task.Required, cfg); err != nil {
		return Outcome{}, err
	}
	return o.Exec(ctx, taskType, cfg, task.Run, deadline)
}

// Exec runs fn as a job called name under the single job slot. Start uses it
// once a task type is resolved; workflows use it to run step executors.
func (o *Orchestrator) Exec(ctx context.Context, name string, cfg Config, fn TaskFunc, deadline time.Duration) (Outcome, error) {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// Acquire and publish together so a rejected caller always sees the
	// job that holds the slot.
	o.mu.Lock()
	if !o.slot.TryAcquire(1) {
		var running string
		if o.current != nil {
			running = o.current.id
		}
		o.mu.Unlock()
		o.opts.Metrics.RecordBusyRejection(ctx, name)
		slog.Warn("Job rejected, another job is running", "taskType", name, "runningJobId", running)
		return Outcome{}, apperrors.Busy(running)
	}
	r := &run{
		id:        uuid.NewString(),
		taskType:  name,
		startedAt: time.Now(),
		status:    StatusRunning,
		cancel:    cancel,
		subs:      make(map[*subscriber]struct{}),
	}
	o.current = r
	o.mu.Unlock()
	defer o.slot.Release(1)
	logger := slog.With("jobId", r.id, "taskType", name)

	ctx, span := o.tracer.Start(ctx, "job.exec", trace.WithAttributes(
		attribute.String("job.id", r.id),
		attribute.String("job.task_type", name),
	))
	defer span.End()
	runCtx = trace.ContextWithSpan(runCtx, span)

	events := NewEventBuilder(r.id, name)
	o.opts.Metrics.RecordJobStarted(ctx, name)
	o.opts.Publisher.Publish(events.BuildStartEvent(deadline.Seconds()))
	logger.Info("Job started", "deadline", deadline)

	done := make(chan taskResult, 1)
	go runTask(runCtx, fn, cfg, done)

	cursor := newLogCursor(o.opts.LogDir, o.opts.Pattern, logger)
	status, result, runErr := o.wait(runCtx, r, cursor, done, deadline, logger, events)

	// The task may flush its last lines right before returning.
	o.poll(ctx, r, cursor, logger, events, true)
	final, err := cursor.readAll()
	if err != nil {
		logger.Warn("Final log read failed", "path", cursor.Path(), "error", err)
	}

	outcome := Outcome{
		JobID:    r.id,
		TaskType: name,
		Status:   status,
		Result:   result,
		LogPath:  cursor.Path(),
		Duration: time.Since(r.startedAt),
	}
	if runErr != nil {
		outcome.Error = runErr.Error()
	}
	o.settle(r, outcome, final)

	o.opts.Metrics.RecordJobSettled(ctx, name, string(status), reason(runErr), outcome.Duration.Seconds())
	o.opts.Publisher.Publish(events.BuildExitEvent(outcome))
	span.SetAttributes(attribute.String("job.status", string(status)))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		logger.Warn("Job settled", "status", status, "duration", outcome.Duration, "error", runErr)
	} else {
		logger.Info("Job settled", "status", status, "duration", outcome.Duration, "logPath", outcome.LogPath)
	}
	return outcome, runErr
}

// runTask runs fn and reports exactly one result on done, turning panics into errors.
func runTask(ctx context.Context, fn TaskFunc, cfg Config, done chan<- taskResult) {
	defer func() {
		if p := recover(); p != nil {
			done <- taskResult{err: fmt.Errorf("panic: %v", p)}
		}
	}()
	res, err := fn(ctx, cfg)
	done <- taskResult{result: res, err: err}
}

// wait polls the log until the task settles, the deadline passes or ctx is done.
func (o *Orchestrator) wait(ctx context.Context, r *run, cursor *logCursor, done <-chan taskResult, deadline time.Duration, logger *slog.Logger, events *EventBuilder) (Status, Result, error) {
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	var timeout <-chan time.Time
	if deadline > 0 {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case res := <-done:
			if res.err == nil {
				return StatusSucceeded, res.result, nil
			}
			if ctx.Err() != nil {
				// the task gave up because we asked it to
				return interrupted(ctx, r)
			}
			return StatusFailed, nil, apperrors.TaskFailed(r.taskType, res.err)
		case <-ticker.C:
			o.poll(ctx, r, cursor, logger, events, false)
		case <-timeout:
			err := apperrors.TimedOut(r.taskType, deadline)
			r.cancel(err)
			return StatusTimedOut, nil, err
		case <-ctx.Done():
			return interrupted(ctx, r)
		}
	}
}

func interrupted(ctx context.Context, r *run) (Status, Result, error) {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, apperrors.ErrTimedOut):
		return StatusTimedOut, nil, cause
	case errors.Is(cause, context.DeadlineExceeded):
		return StatusTimedOut, nil, apperrors.TimedOut(r.taskType, time.Since(r.startedAt).Round(time.Millisecond))
	default:
		return StatusCancelled, nil, apperrors.Cancelled(r.taskType, cause)
	}
}

// poll advances the cursor once and fans the new bytes out. Read errors are
// logged and the tick is skipped; they never fail the job. The last poll
// flushes whatever the cursor held back.
func (o *Orchestrator) poll(ctx context.Context, r *run, cursor *logCursor, logger *slog.Logger, events *EventBuilder, last bool) {
	advance := cursor.Advance
	if last {
		advance = cursor.Flush
	}
	chunks, err := advance()
	if err != nil {
		logger.Warn("Log read failed, skipping tick", "path", cursor.Path(), "error", err)
	}

	o.mu.Lock()
	r.logPath = cursor.Path()
	for i := range chunks {
		chunks[i].JobID = r.id
		o.broadcastLocked(ctx, r, chunks[i])
	}
	o.mu.Unlock()

	for _, c := range chunks {
		o.opts.Metrics.RecordLogBytes(ctx, len(c.Data))
		if o.opts.Publisher.Wants(EventTypeLog) {
			o.opts.Publisher.Publish(events.BuildLogEvent(c))
		}
	}
}

func (o *Orchestrator) broadcastLocked(ctx context.Context, r *run, c Chunk) {
	for s := range r.subs {
		select {
		case s.ch <- c:
		default:
			slog.Warn("Tail subscriber dropped, buffer full", "jobId", r.id, "buffer", cap(s.ch))
			o.removeLocked(ctx, r, s, true)
		}
	}
}

func (o *Orchestrator) removeLocked(ctx context.Context, r *run, s *subscriber, dropped bool) {
	delete(r.subs, s)
	close(s.ch)
	close(s.gone)
	o.opts.Metrics.RecordTailUnsubscribed(ctx, dropped)
}

// settle publishes the outcome and ends every tail subscription.
func (o *Orchestrator) settle(r *run, outcome Outcome, final string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r.status = outcome.Status
	r.errMsg = outcome.Error
	r.logPath = outcome.LogPath
	r.finalLog = final
	r.finishedAt = time.Now()
	for s := range r.subs {
		o.removeLocked(context.Background(), r, s, false)
	}
}

func reason(err error) string {
	if err == nil {
		return ""
	}
	return apperrors.Code(err)
}

// Tail subscribes to the log chunks of the running job from this point on.
// The channel is closed when the job settles, when ctx is done or when the
// subscriber falls more than the tail buffer behind. Without a running job
// the channel is returned closed.
func (o *Orchestrator) Tail(ctx context.Context) <-chan Chunk {
	ch := make(chan Chunk, o.opts.TailBuffer)

	o.mu.Lock()
	r := o.current
	if r == nil || r.status.Settled() {
		o.mu.Unlock()
		close(ch)
		return ch
	}
	s := &subscriber{ch: ch, gone: make(chan struct{})}
	r.subs[s] = struct{}{}
	o.mu.Unlock()
	o.opts.Metrics.RecordTailSubscribed(ctx)

	go func() {
		select {
		case <-ctx.Done():
			o.mu.Lock()
			if _, ok := r.subs[s]; ok {
				o.removeLocked(context.Background(), r, s, false)
			}
			o.mu.Unlock()
		case <-s.gone:
		}
	}()
	return ch
}

// FinalLog returns the full content of the last settled job's log file. It
// may be called any number of times until the next job starts.
func (o *Orchestrator) FinalLog() (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.current
	switch {
	case r == nil:
		return "", &apperrors.Error{Sentinel: apperrors.ErrNotFound, Message: "no job has run yet", Resource: "log"}
	case !r.status.Settled():
		return "", apperrors.Conflict("log", fmt.Sprintf("job %s is still running, the final log is available once it settles", r.id))
	case r.logPath == "":
		return "", &apperrors.Error{Sentinel: apperrors.ErrNotFound, Message: fmt.Sprintf("job %s did not write a log file", r.id), Resource: "log"}
	}
	return r.finalLog, nil
}

// Cancel stops waiting for the running job, cancels its context and frees
// the slot, exactly like a timeout. The job settles as cancelled.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	r := o.current
	running := r != nil && !r.status.Settled()
	o.mu.Unlock()
	if !running {
		return &apperrors.Error{Sentinel: apperrors.ErrNotFound, Message: "no job is running", Resource: "job"}
	}
	r.cancel(errCancelRequested)
	slog.Info("Job cancel requested", "jobId", r.id, "taskType", r.taskType)
	return nil
}

// Current returns a snapshot of the running job, or of the last settled job
// when idle.
func (o *Orchestrator) Current() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.current
	if r == nil {
		return Snapshot{Status: StatusIdle}
	}
	started := r.startedAt
	snap := Snapshot{
		JobID:     r.id,
		TaskType:  r.taskType,
		Status:    r.status,
		StartedAt: &started,
		LogPath:   r.logPath,
		Error:     r.errMsg,
	}
	if !r.finishedAt.IsZero() {
		finished := r.finishedAt
		snap.FinishedAt = &finished
	}
	return snap
}
