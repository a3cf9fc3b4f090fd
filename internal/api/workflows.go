package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"jobcore/internal/apperrors"
	"jobcore/internal/job"
	"jobcore/internal/pipeline"
	"jobcore/internal/workflow"
)

// stepView is a step as rendered by the stepper UI.
type stepView struct {
	Name     string             `json:"name"`
	Label    string             `json:"label"`
	Diagram  string             `json:"diagram,omitempty"`
	Deadline string             `json:"deadline,omitempty"`
	State    workflow.StepState `json:"state"`
}

// workflowView is the response of every workflow endpoint.
type workflowView struct {
	Pipeline string         `json:"pipeline"`
	TaskType string         `json:"taskType"`
	Steps    []stepView     `json:"steps"`
	State    workflow.State `json:"state"`
	Config   job.Config     `json:"config,omitempty"`
	Results  map[string]any `json:"results,omitempty"`
	Applied  *bool          `json:"applied,omitempty"` // click and jump report whether anything changed
	Success  *bool          `json:"success,omitempty"` // run reports the step's success
}

func view(s *pipeline.Session) workflowView {
	w := s.Workflow()
	state := w.Snapshot()
	steps := w.Steps()
	views := make([]stepView, len(steps))
	for i, st := range steps {
		views[i] = stepView{Name: st.Name, Label: st.Label, Diagram: st.Diagram, State: state.Steps[i]}
		if st.Deadline > 0 {
			views[i].Deadline = st.Deadline.Round(time.Second).String()
		}
	}
	return workflowView{
		Pipeline: w.Name(),
		TaskType: s.Definition().TaskType,
		Steps:    views,
		State:    state,
		Config:   s.Config(),
		Results:  s.Results().Snapshot(),
	}
}

// session resolves the {pipeline} URL parameter, writing the error itself.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*pipeline.Session, bool) {
	if h.pipelines == nil {
		h.handleError(w, r, apperrors.NotFound("pipeline", chi.URLParam(r, "pipeline")), nil)
		return nil, false
	}
	s, err := h.pipelines.Get(chi.URLParam(r, "pipeline"))
	if err != nil {
		h.handleError(w, r, err, nil)
		return nil, false
	}
	return s, true
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.handleError(w, r, apperrors.Validation("index", "step index must be an integer"), nil)
		return 0, false
	}
	return i, true
}

// ListWorkflows handles GET /v1/workflows
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if h.pipelines != nil {
		names = h.pipelines.Names()
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"pipelines": names})
}

// GetWorkflow handles GET /v1/workflows/{pipeline}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, view(s))
}

// ConfigureWorkflow handles PUT /v1/workflows/{pipeline}/config
func (h *Handler) ConfigureWorkflow(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Config job.Config `json:"config"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if err := s.Configure(body.Config); err != nil {
		h.handleError(w, r, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, view(s))
}

// ClickStep handles POST /v1/workflows/{pipeline}/steps/{index}/click
func (h *Handler) ClickStep(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	i, ok := h.index(w, r)
	if !ok {
		return
	}
	applied := s.Workflow().Click(i)
	v := view(s)
	v.Applied = &applied
	h.writeJSON(w, http.StatusOK, v)
}

// RunStep handles POST /v1/workflows/{pipeline}/steps/{index}/run. It
// blocks until the step settles.
func (h *Handler) RunStep(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	i, ok := h.index(w, r)
	if !ok {
		return
	}
	success, err := s.Workflow().Run(r.Context(), i)
	if err != nil {
		h.handleError(w, r, err, nil)
		return
	}
	v := view(s)
	v.Success = &success
	h.writeJSON(w, http.StatusOK, v)
}

// JumpToStep handles POST /v1/workflows/{pipeline}/jump/{index}
func (h *Handler) JumpToStep(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	i, ok := h.index(w, r)
	if !ok {
		return
	}
	applied := s.Workflow().JumpTo(i)
	v := view(s)
	v.Applied = &applied
	h.writeJSON(w, http.StatusOK, v)
}

// ResetWorkflow handles POST /v1/workflows/{pipeline}/reset
func (h *Handler) ResetWorkflow(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Workflow().Reset()
	h.writeJSON(w, http.StatusOK, view(s))
}

// GetWorkflowHistory handles GET /v1/workflows/{pipeline}/history
func (h *Handler) GetWorkflowHistory(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]workflow.Transition{"transitions": s.Workflow().History()})
}
