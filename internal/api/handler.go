// Package api provides the HTTP API handlers and routing for jobcore.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"jobcore/internal/apperrors"
	"jobcore/internal/health"
	"jobcore/internal/job"
	"jobcore/internal/pipeline"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Handler contains HTTP handlers for the jobcore API
type Handler struct {
	jobs      *job.Orchestrator
	pipelines *pipeline.Manager
	health    *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(jobs *job.Orchestrator, pipelines *pipeline.Manager, healthChecker *health.Checker) *Handler {
	return &Handler{
		jobs:      jobs,
		pipelines: pipelines,
		health:    healthChecker,
	}
}

// errorBody is the JSON body of every error response.
type errorBody struct {
	Error   string       `json:"error"`
	Code    string       `json:"code"`
	Field   string       `json:"field,omitempty"`
	Outcome *job.Outcome `json:"outcome,omitempty"`
}

// StartJob handles POST /v1/jobs. It blocks until the job settles.
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	var req job.Request
	if !h.decode(w, r, &req) {
		return
	}

	outcome, err := h.jobs.Start(r.Context(), req.TaskType, req.Config, req.Deadline())
	if err != nil {
		var o *job.Outcome
		if outcome.JobID != "" {
			o = &outcome
		}
		h.handleError(w, r, err, o)
		return
	}

	h.writeJSON(w, http.StatusOK, outcome)
}

// GetCurrentJob handles GET /v1/jobs/current
func (h *Handler) GetCurrentJob(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.jobs.Current())
}

// GetFinalLog handles GET /v1/jobs/current/log
func (h *Handler) GetFinalLog(w http.ResponseWriter, r *http.Request) {
	final, err := h.jobs.FinalLog()
	if err != nil {
		h.handleError(w, r, err, nil)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, final)
}

// CancelJob handles DELETE /v1/jobs/current
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Cancel(); err != nil {
		h.handleError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTaskTypes handles GET /v1/tasks
func (h *Handler) ListTaskTypes(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string][]string{"taskTypes": h.jobs.Registry().Types()})
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if the log directory or Docker is unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, errorBody{Error: "Invalid request body: " + err.Error(), Code: "validation"})
		return false
	}
	return true
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, body errorBody) {
	h.writeJSON(w, status, body)
}

// handleError writes err with the status and code its class maps to.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, outcome *job.Outcome) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 && !errors.Is(err, apperrors.ErrTimedOut) {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}

	body := errorBody{Error: err.Error(), Code: apperrors.Code(err), Outcome: outcome}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		body.Field = appErr.Field
	}
	h.writeError(w, status, body)
}
