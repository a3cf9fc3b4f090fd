// Package pipeline loads YAML pipeline definitions and turns them into
// workflows whose steps run a registered task type.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the top level of a pipelines file.
type File struct {
	Pipelines map[string]Definition `yaml:"pipelines"`
}

// Definition describes one pipeline: the task type its steps run and the
// ordered steps themselves.
type Definition struct {
	Name     string         `yaml:"-" json:"name"`
	TaskType string         `yaml:"task_type" json:"taskType"`
	Required []string       `yaml:"required" json:"required,omitempty"` // config keys that must be non-empty
	Config   map[string]any `yaml:"config" json:"config,omitempty"`     // starting config, replaced by Configure
	Steps    []StepDef      `yaml:"steps" json:"steps"`
}

// StepDef describes one step.
type StepDef struct {
	Name     string        `yaml:"name" json:"name"`
	Label    string        `yaml:"label" json:"label"`
	Builder  string        `yaml:"builder" json:"builder,omitempty"`
	Produces string        `yaml:"produces" json:"produces,omitempty"`
	Requires []string      `yaml:"requires" json:"requires,omitempty"`
	Diagram  string        `yaml:"diagram" json:"diagram,omitempty"`
	Deadline time.Duration `yaml:"deadline" json:"deadlineNs,omitempty"`
}

// Load reads, parses and validates a pipelines file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return f, nil
}

// Parse parses and validates pipeline YAML.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing pipelines: %w", err)
	}
	for name, def := range f.Pipelines {
		def.Name = name
		f.Pipelines[name] = def
	}
	if problems := Validate(&f); len(problems) > 0 {
		errs := make([]error, len(problems))
		for i, p := range problems {
			errs[i] = p
		}
		return nil, errors.Join(errs...)
	}
	return &f, nil
}

// Names returns the pipeline names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Pipelines))
	for name := range f.Pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
