// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrBusy              = errors.New("job already running")
	ErrTaskFailed        = errors.New("task failed")
	ErrTimedOut          = errors.New("task timed out")
	ErrCancelled         = errors.New("task cancelled")
	ErrUnknownTask       = errors.New("unknown task type")
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInternal          = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "taskType", "config.path")
	Resource string // For not found/conflict (e.g., "job", "step")
	Op       string // Operation that failed (e.g., "docker.createContainer")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel and the cause so both match errors.Is().
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Busy reports that another job holds the single job slot.
func Busy(running string) error {
	msg := "a job is already running, wait for it to finish"
	if running != "" {
		msg = fmt.Sprintf("job %s is already running, wait for it to finish", running)
	}
	return &Error{
		Sentinel: ErrBusy,
		Message:  msg,
		Resource: "job",
	}
}

// TaskFailed wraps an error raised by an external task.
func TaskFailed(name string, cause error) error {
	return &Error{
		Sentinel: ErrTaskFailed,
		Message:  fmt.Sprintf("task %s failed: %v", name, cause),
		Resource: "task",
		Cause:    cause,
	}
}

// TimedOut reports a task that exceeded its deadline. The task itself may still be
// running in the background; only the wait was abandoned.
func TimedOut(name string, deadline time.Duration) error {
	return &Error{
		Sentinel: ErrTimedOut,
		Message:  fmt.Sprintf("task %s exceeded its %s deadline and may still be running in the background", name, deadline),
		Resource: "task",
	}
}

// Cancelled reports a task whose wait was stopped before it settled.
func Cancelled(name string, cause error) error {
	return &Error{
		Sentinel: ErrCancelled,
		Message:  fmt.Sprintf("task %s was cancelled: %v", name, cause),
		Resource: "task",
		Cause:    cause,
	}
}

// UnknownTask reports a task type with no registered factory.
func UnknownTask(taskType string) error {
	return &Error{
		Sentinel: ErrUnknownTask,
		Message:  fmt.Sprintf("no task registered for task type %q", taskType),
		Field:    "taskType",
		Resource: "task",
	}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// InvalidTransition reports a workflow operation that is not legal in the current state.
func InvalidTransition(step int, from, op string) error {
	return &Error{
		Sentinel: ErrInvalidTransition,
		Message:  fmt.Sprintf("cannot %s step %d while it is %s", op, step, from),
		Resource: "step",
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
