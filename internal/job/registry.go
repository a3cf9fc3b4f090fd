package job

import (
	"fmt"
	"slices"
	"sync"

	"jobcore/internal/apperrors"
)

// Registry maps task types to the functions that run them.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register adds a task type. Registering the same type twice, an empty type
// or a nil function is a programming error and panics.
func (r *Registry) Register(task Task) {
	if task.Type == "" || task.Run == nil {
		panic("job: Register requires a task type and a run function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tasks[task.Type]; dup {
		panic(fmt.Sprintf("job: task type %q registered twice", task.Type))
	}
	r.tasks[task.Type] = task
}

// Lookup returns the task for taskType or an ErrUnknownTask error.
func (r *Registry) Lookup(taskType string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskType]
	if !ok {
		return Task{}, apperrors.UnknownTask(taskType)
	}
	return task, nil
}

// Types returns the registered task types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.tasks))
	for t := range r.tasks {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
