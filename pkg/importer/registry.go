package importer

import (
	"maps"
	"slices"
	"sync"
)

// Registry holds the pipelines by their unique name.
type Registry struct {
	pipelines map[string]Pipeline
	mu        sync.RWMutex
}

func NewRegistry(pipelines ...Pipeline) *Registry {
	r := &Registry{
		pipelines: make(map[string]Pipeline, len(pipelines)),
	}

	for _, p := range pipelines {
		r.Register(p)
	}

	return r
}

// Register adds the pipeline, replacing any pipeline with the same name.
func (r *Registry) Register(p Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pipelines[p.Name()] = p
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.pipelines[name]
	return ok
}

func (r *Registry) Get(name string) (Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.pipelines[name]; ok {
		return p, nil
	}

	return nil, newErrPipelineNotFound(name)
}

// List returns a copy of the registered pipelines.
func (r *Registry) List() map[string]Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Clone(r.pipelines)
}

// Names returns the sorted names of the registered pipelines.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.pipelines))
}
