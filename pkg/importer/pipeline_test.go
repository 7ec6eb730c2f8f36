package importer

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe(t *testing.T) {
	caps := Probe(newMockPipeline("a"))
	assert.False(t, caps.Batched())
	assert.False(t, caps.Incremental)
	assert.Nil(t, caps.Username)
	assert.Nil(t, caps.Organization)
	assert.Nil(t, caps.Cleaner)
	assert.True(t, caps.Logger.IsZero())

	caps = Probe(newBatchedPipeline("a", 50))
	assert.True(t, caps.Batched())
	assert.Equal(t, 50, caps.BatchSize)

	caps = Probe(newCleanablePipeline("a"))
	assert.True(t, caps.Incremental)
	assert.NotNil(t, caps.Cleaner)

	caps = Probe(&identityPipeline{mockPipeline: newMockPipeline("a"), username: "system", organization: "acme"})
	require.NotNil(t, caps.Username)
	require.NotNil(t, caps.Organization)
	assert.Equal(t, "system", *caps.Username)
	assert.Equal(t, "acme", *caps.Organization)

	caps = Probe(newDependentPipeline("a", "b", "?c"))
	assert.Equal(t, []Requirement{{Name: "b"}, {Name: "c", Optional: true}}, caps.Requires)
	assert.Equal(t, []string{"b"}, caps.HardRequirements())
}

func TestNewBasePipeline(t *testing.T) {
	tests := []struct {
		name      string
		batchSize int
		expected  int
	}{
		{
			name:      "explicit batch size",
			batchSize: 200,
			expected:  200,
		},
		{
			name:     "default batch size",
			expected: DefaultBatchSize,
		},
		{
			name:      "negative batch size",
			batchSize: -1,
			expected:  DefaultBatchSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBasePipeline(logr.Discard(), tt.batchSize)
			assert.Equal(t, tt.expected, b.BatchSize())
		})
	}
}
