package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"jobcore/internal/apperrors"
	"jobcore/internal/job"
	"jobcore/internal/workflow"
)

// Build turns a definition into workflow steps. Every executor checks its
// prerequisites in results, runs task with the step's builder and inputs
// merged into config(), and stores a non-nil result under the step's
// produces key.
func Build(def Definition, task job.Task, config func() job.Config, results *Results) []workflow.Step {
	required := append(append([]string(nil), def.Required...), task.Required...)
	steps := make([]workflow.Step, len(def.Steps))
	for i, sd := range def.Steps {
		steps[i] = workflow.Step{
			Name:     sd.Name,
			Label:    sd.Label,
			Diagram:  sd.Diagram,
			Deadline: sd.Deadline,
			Executor: stepExecutor(def.Name, sd, task, required, config, results),
		}
	}
	return steps
}

func stepExecutor(pipeline string, sd StepDef, task job.Task, required []string, config func() job.Config, results *Results) workflow.Executor {
	return func(ctx context.Context) (bool, error) {
		cfg := config()
		if err := job.ValidateConfig(required, cfg); err != nil {
			return false, err
		}

		inputs := make(map[string]any, len(sd.Requires))
		for _, key := range sd.Requires {
			v, ok := results.Get(key)
			if !ok {
				return false, fmt.Errorf("step %s requires %s, run the step that produces it first", sd.Name, key)
			}
			inputs[key] = v
		}

		merged := make(job.Config, len(cfg)+3)
		maps.Copy(merged, cfg)
		merged["step"] = sd.Name
		if sd.Builder != "" {
			merged["builder"] = sd.Builder
		}
		if len(inputs) > 0 {
			merged["inputs"] = inputs
		}

		res, err := task.Run(ctx, merged)
		if err != nil {
			return false, err
		}
		if res == nil {
			slog.Warn("Step completed but returned no result", "pipeline", pipeline, "step", sd.Name)
			return false, nil
		}
		if sd.Produces != "" {
			results.Set(sd.Produces, res)
		}
		return true, nil
	}
}

// Session is one pipeline's workflow together with its config and the
// results its steps have produced. Resetting the workflow clears the results.
type Session struct {
	def      Definition
	required []string
	results  *Results
	workflow *workflow.Workflow

	mu     sync.RWMutex
	config job.Config
}

// NewSession builds the workflow for def using the task registered for its
// task type.
func NewSession(def Definition, registry *job.Registry, wcfg workflow.Config) (*Session, error) {
	task, err := registry.Lookup(def.TaskType)
	if err != nil {
		return nil, err
	}
	s := &Session{
		def:      def,
		required: append(append([]string(nil), def.Required...), task.Required...),
		results:  NewResults(),
		config:   maps.Clone(job.Config(def.Config)),
	}

	hook := wcfg.OnReset
	wcfg.OnReset = func() {
		s.results.Clear()
		if hook != nil {
			hook()
		}
	}
	s.workflow = workflow.New(def.Name, Build(def, task, s.Config, s.results), wcfg)
	return s, nil
}

// Definition returns the pipeline definition.
func (s *Session) Definition() Definition {
	return s.def
}

// Workflow returns the session's workflow.
func (s *Session) Workflow() *workflow.Workflow {
	return s.workflow
}

// Results returns the session's results store.
func (s *Session) Results() *Results {
	return s.results
}

// Config returns a copy of the current config.
func (s *Session) Config() job.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.config)
}

// Configure validates and replaces the config, then resets the workflow
// since earlier results were computed from the old config.
func (s *Session) Configure(cfg job.Config) error {
	if err := job.ValidateConfig(s.required, cfg); err != nil {
		return err
	}
	s.mu.Lock()
	s.config = maps.Clone(cfg)
	s.mu.Unlock()
	s.workflow.Reset()
	return nil
}

// Manager holds one session per pipeline.
type Manager struct {
	names    []string
	sessions map[string]*Session
}

// NewManager creates a session for every pipeline in f.
func NewManager(f *File, registry *job.Registry, wcfg workflow.Config) (*Manager, error) {
	m := &Manager{sessions: make(map[string]*Session, len(f.Pipelines))}
	for _, name := range f.Names() {
		s, err := NewSession(f.Pipelines[name], registry, wcfg)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", name, err)
		}
		m.names = append(m.names, name)
		m.sessions[name] = s
	}
	return m, nil
}

// Get returns the session for a pipeline.
func (m *Manager) Get(name string) (*Session, error) {
	s, ok := m.sessions[name]
	if !ok {
		return nil, apperrors.NotFound("pipeline", name)
	}
	return s, nil
}

// Names returns the pipeline names in sorted order.
func (m *Manager) Names() []string {
	return append([]string(nil), m.names...)
}
