package apperrors

import (
	"errors"
	"net/http"
)

// HTTPStatus maps an error to the appropriate HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnknownTask):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBusy), errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrTaskFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrCancelled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a stable machine-readable code for an error, used in API bodies.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrTaskFailed):
		return "task_failed"
	case errors.Is(err, ErrTimedOut):
		return "timed_out"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrUnknownTask):
		return "unknown_task"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "internal"
	}
}
