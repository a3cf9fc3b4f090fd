package docker

import (
	"sync"

	"jobcore/internal/apperrors"
)

// containerState is a container the runner has created and not yet removed.
type containerState struct {
	id       string
	taskType string
}

// stateRepo tracks live containers by name so Close can remove them.
type stateRepo struct {
	mu         sync.RWMutex
	containers map[string]*containerState
}

func newStateRepo() *stateRepo {
	return &stateRepo{
		containers: make(map[string]*containerState),
	}
}

// reserve claims a container name. The slot holds nil until commit.
func (r *stateRepo) reserve(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.containers[name]; exists {
		return apperrors.Conflict("container", "container "+name+" already exists")
	}
	r.containers[name] = nil
	return nil
}

// commit fills in a reserved slot once the container exists.
func (r *stateRepo) commit(name string, cs *containerState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containers[name] = cs
}

// release forgets a container. Returns the state if it existed.
func (r *stateRepo) release(name string) (*containerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cs, exists := r.containers[name]
	if exists {
		delete(r.containers, name)
	}
	return cs, exists
}

// list returns every tracked container by name.
func (r *stateRepo) list() map[string]*containerState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*containerState, len(r.containers))
	for name, cs := range r.containers {
		result[name] = cs
	}
	return result
}
