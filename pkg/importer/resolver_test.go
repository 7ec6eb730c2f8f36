package importer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackOrdersDependencies(t *testing.T) {
	tests := []struct {
		name      string
		pipelines []Pipeline
		refs      []Ref
		expected  []string
	}{
		{
			name: "pipeline without dependencies",
			pipelines: []Pipeline{
				newMockPipeline("a"),
			},
			refs:     Names("a"),
			expected: []string{"a"},
		},
		{
			name: "dependencies are pulled in and run first",
			pipelines: []Pipeline{
				newDependentPipeline("a", "b", "c"),
				newMockPipeline("b"),
				newDependentPipeline("c", "b"),
			},
			refs:     Names("a"),
			expected: []string{"b", "c", "a"},
		},
		{
			name: "requested order is kept when dependencies allow it",
			pipelines: []Pipeline{
				newMockPipeline("a"),
				newMockPipeline("b"),
			},
			refs:     Names("b", "a"),
			expected: []string{"b", "a"},
		},
		{
			name: "dependent requested before its dependency",
			pipelines: []Pipeline{
				newDependentPipeline("b", "a"),
				newMockPipeline("a"),
			},
			refs:     Names("b", "a"),
			expected: []string{"a", "b"},
		},
		{
			name: "duplicates are run once",
			pipelines: []Pipeline{
				newMockPipeline("a"),
				newDependentPipeline("b", "a"),
			},
			refs:     Names("a", "b", "a", "b"),
			expected: []string{"a", "b"},
		},
		{
			name: "unknown pipelines are dropped",
			pipelines: []Pipeline{
				newMockPipeline("a"),
			},
			refs:     Names("unknown", "a"),
			expected: []string{"a"},
		},
		{
			name: "missing optional dependency is ignored",
			pipelines: []Pipeline{
				newDependentPipeline("a", "?missing"),
			},
			refs:     Names("a"),
			expected: []string{"a"},
		},
		{
			name: "registered optional dependency runs first",
			pipelines: []Pipeline{
				newDependentPipeline("a", "?b"),
				newMockPipeline("b"),
			},
			refs:     Names("a"),
			expected: []string{"b", "a"},
		},
		{
			name: "diamond",
			pipelines: []Pipeline{
				newDependentPipeline("top", "left", "right"),
				newDependentPipeline("left", "base"),
				newDependentPipeline("right", "base"),
				newMockPipeline("base"),
			},
			refs:     Names("top"),
			expected: []string{"base", "left", "right", "top"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(WithPipelines(tt.pipelines...))

			stack, err := m.Stack(tt.refs)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, pipelineNames(stack))
			assertDependencyOrder(t, stack)
		})
	}
}

func TestStackMissingRequiredPipeline(t *testing.T) {
	m := NewManager(WithPipelines(
		newDependentPipeline("a", "b"),
		newDependentPipeline("b", "missing"),
	))

	stack, err := m.Stack(Names("a"))
	assert.Nil(t, stack)
	assert.ErrorIs(t, err, ErrRequiredPipeline)

	var reqErr *RequiredPipelineError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "missing", reqErr.Name)
}

func TestStackDependencyCycle(t *testing.T) {
	tests := []struct {
		name      string
		pipelines []Pipeline
		refs      []Ref
	}{
		{
			name: "self dependency",
			pipelines: []Pipeline{
				newDependentPipeline("a", "a"),
			},
			refs: Names("a"),
		},
		{
			name: "two pipelines",
			pipelines: []Pipeline{
				newDependentPipeline("a", "b"),
				newDependentPipeline("b", "a"),
			},
			refs: Names("a"),
		},
		{
			name: "cycle through an optional dependency",
			pipelines: []Pipeline{
				newDependentPipeline("a", "b"),
				newDependentPipeline("b", "c"),
				newDependentPipeline("c", "?a"),
			},
			refs: Names("a"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(WithPipelines(tt.pipelines...))

			_, err := m.Stack(tt.refs)
			assert.ErrorIs(t, err, ErrDependencyCycle)

			var cycleErr *DependencyCycleError
			require.True(t, errors.As(err, &cycleErr))
			assert.NotEmpty(t, cycleErr.Names)
		})
	}
}

func TestStackUsesPipelineInstances(t *testing.T) {
	m := NewManager(WithPipelines(newMockPipeline("registered")))
	unregistered := newDependentPipeline("instance", "registered")

	stack, err := m.Stack([]Ref{ByPipeline(unregistered)})
	require.NoError(t, err)
	assert.Equal(t, []string{"registered", "instance"}, pipelineNames(stack))
	assert.Same(t, unregistered, stack[1])
}

func TestParseRequirement(t *testing.T) {
	assert.Equal(t, Requirement{Name: "a"}, ParseRequirement("a"))
	assert.Equal(t, Requirement{Name: "a", Optional: true}, ParseRequirement("?a"))
}

func pipelineNames(pipelines []Pipeline) []string {
	var names []string
	for _, p := range pipelines {
		names = append(names, p.Name())
	}

	return names
}

func assertDependencyOrder(t *testing.T, stack []Pipeline) {
	t.Helper()

	position := make(map[string]int)
	for i, p := range stack {
		position[p.Name()] = i
	}

	for i, p := range stack {
		for _, dep := range Probe(p).HardRequirements() {
			depPosition, ok := position[dep]
			require.True(t, ok, "dependency %s of %s is not part of the stack", dep, p.Name())
			assert.Less(t, depPosition, i, "dependency %s must run before %s", dep, p.Name())
		}
	}
}
