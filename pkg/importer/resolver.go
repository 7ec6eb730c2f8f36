package importer

import (
	"slices"

	"github.com/go-logr/logr"
)

// Ref references a pipeline either by its registered name or by instance.
type Ref struct {
	name     string
	pipeline Pipeline
}

func ByName(name string) Ref {
	return Ref{name: name}
}

func ByPipeline(p Pipeline) Ref {
	return Ref{name: p.Name(), pipeline: p}
}

// Names returns a reference for each of the given pipeline names.
func Names(names ...string) []Ref {
	refs := make([]Ref, 0, len(names))
	for _, name := range names {
		refs = append(refs, ByName(name))
	}

	return refs
}

func (r Ref) Name() string {
	return r.name
}

type resolver struct {
	registry *Registry
	logger   logr.Logger
}

// resolve returns the referenced pipelines and their dependencies in execution order.
// References which can not be resolved are logged and dropped.
func (r *resolver) resolve(refs []Ref) ([]Pipeline, error) {
	lookup := make(map[string]Pipeline)
	var requested []string

	for _, ref := range refs {
		p := ref.pipeline
		if p == nil {
			var err error
			p, err = r.registry.Get(ref.name)
			if err != nil {
				r.logger.Error(err, "failed to resolve importer pipeline",
					"severity", severityCritical,
					"importer_pipeline", ref.name,
					"importer_pipelines", refNames(refs),
				)
				continue
			}
		}

		if _, ok := lookup[p.Name()]; !ok {
			requested = append(requested, p.Name())
			lookup[p.Name()] = p
		}
	}

	find := func(name string) bool {
		if _, ok := lookup[name]; ok {
			return true
		}

		p, err := r.registry.Get(name)
		if err != nil {
			return false
		}

		lookup[name] = p
		return true
	}

	var pending []string
	deps := make(map[string][]string)
	seen := make(map[string]struct{})
	queue := slices.Clone(requested)

	for i := 0; i < len(queue); i++ {
		name := queue[i]
		if _, ok := seen[name]; ok {
			continue
		}

		seen[name] = struct{}{}
		pending = append(pending, name)

		for _, req := range Probe(lookup[name]).Requires {
			if !find(req.Name) {
				if req.Optional {
					continue
				}

				return nil, &RequiredPipelineError{Name: req.Name}
			}

			deps[name] = append(deps[name], req.Name)
			queue = append(queue, req.Name)
		}
	}

	ordered := make([]Pipeline, 0, len(pending))
	done := make(map[string]struct{}, len(pending))

	for len(pending) > 0 {
		idx := slices.IndexFunc(pending, func(name string) bool {
			for _, dep := range deps[name] {
				if _, ok := done[dep]; !ok {
					return false
				}
			}

			return true
		})

		if idx < 0 {
			return nil, &DependencyCycleError{Names: slices.Clone(pending)}
		}

		name := pending[idx]
		done[name] = struct{}{}
		ordered = append(ordered, lookup[name])
		pending = slices.Delete(pending, idx, idx+1)
	}

	return ordered, nil
}

func refNames(refs []Ref) []string {
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, ref.name)
	}

	return names
}
