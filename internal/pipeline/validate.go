package pipeline

import (
	"fmt"
	"regexp"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Problem is one validation failure in a pipelines file.
type Problem struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p Problem) Error() string {
	return fmt.Sprintf("%s: %s", p.Path, p.Message)
}

// Validate checks every pipeline in f and returns all problems found.
func Validate(f *File) []Problem {
	var problems []Problem
	if len(f.Pipelines) == 0 {
		return []Problem{{Path: "pipelines", Code: "REQUIRED", Message: "at least one pipeline is required"}}
	}
	for _, name := range f.Names() {
		problems = append(problems, validateDefinition("pipelines."+name, name, f.Pipelines[name])...)
	}
	return problems
}

func validateDefinition(prefix, name string, def Definition) []Problem {
	var problems []Problem
	add := func(path, code, format string, args ...any) {
		problems = append(problems, Problem{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if !namePattern.MatchString(name) {
		add(prefix, "INVALID", "pipeline name %q must be alphanumeric with dashes or underscores", name)
	}
	if def.TaskType == "" {
		add(prefix+".task_type", "REQUIRED", "task_type is required")
	}
	if len(def.Steps) == 0 {
		add(prefix+".steps", "REQUIRED", "at least one step is required")
	}

	names := make(map[string]bool)
	produced := make(map[string]bool)
	for i, step := range def.Steps {
		sp := fmt.Sprintf("%s.steps[%d]", prefix, i)
		switch {
		case step.Name == "":
			add(sp+".name", "REQUIRED", "name is required")
		case !namePattern.MatchString(step.Name):
			add(sp+".name", "INVALID", "step name %q must be alphanumeric with dashes or underscores", step.Name)
		case names[step.Name]:
			add(sp+".name", "DUPLICATE", "step name %q is used more than once", step.Name)
		}
		names[step.Name] = true

		if step.Deadline < 0 {
			add(sp+".deadline", "INVALID", "deadline must not be negative")
		}
		for _, key := range step.Requires {
			if !produced[key] {
				add(sp+".requires", "UNKNOWN_REF", "%q is not produced by an earlier step", key)
			}
		}
		if step.Produces != "" {
			if produced[step.Produces] {
				add(sp+".produces", "DUPLICATE", "%q is already produced by an earlier step", step.Produces)
			}
			produced[step.Produces] = true
		}
	}
	return problems
}
