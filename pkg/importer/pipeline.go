package importer

import (
	"context"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// DefaultBatchSize is used by BasePipeline when no positive batch size is given.
const DefaultBatchSize = 1000

// optionalPrefix marks a required pipeline name as a soft dependency.
const optionalPrefix = "?"

// Record is a single row of source or transformed data.
type Record map[string]any

// DomainManager is the persistence handle shared by all pipelines of a manager.
type DomainManager interface {
	// Clear detaches state cached by a previous run.
	Clear()
}

// Pipeline is an importable extract/transform/load unit identified by a unique name.
type Pipeline interface {
	Name() string

	// Extract returns the source records of the batch at cursor. An empty result ends the run.
	Extract(ctx context.Context, cursor int, startAt *time.Time) ([]Record, error)

	Transform(ctx context.Context, records []Record) ([]Record, error)

	// Load persists the transformed records and reports validation outcomes.
	Load(ctx context.Context, dm DomainManager, records []Record, autoCommit bool) (*OutcomeList, error)
}

// Batchable pipelines are extracted batch by batch until an empty batch is returned.
type Batchable interface {
	BatchSize() int
}

// Incrementable pipelines accept a start time restricting the extraction.
type Incrementable interface {
	Incremental() bool
}

// RequiredPipelines declares the pipelines which must run before.
// A name prefixed with "?" is only required if it is registered.
type RequiredPipelines interface {
	RequiredPipelines() []string
}

// RequiredUser pipelines are always imported as the given user.
type RequiredUser interface {
	Username() string
}

// RequiredOrganization pipelines are always imported within the given organization.
type RequiredOrganization interface {
	OrganizationName() string
}

// Loggable pipelines provide a dedicated logger.
type Loggable interface {
	Logger() logr.Logger
}

// CleanableLoadedData pipelines purge stale data once a run finished without errors.
type CleanableLoadedData interface {
	CleanLoadedData(ctx context.Context, dm DomainManager, startAt *time.Time) error
}

// Requirement is a parsed entry of RequiredPipelines.
type Requirement struct {
	Name     string
	Optional bool
}

// ParseRequirement parses a required pipeline name, honoring the "?" prefix.
func ParseRequirement(name string) Requirement {
	if strings.HasPrefix(name, optionalPrefix) {
		return Requirement{Name: strings.TrimLeft(name, optionalPrefix), Optional: true}
	}

	return Requirement{Name: name}
}

// Capabilities is the set of optional interfaces a pipeline implements.
type Capabilities struct {
	BatchSize    int
	Incremental  bool
	Requires     []Requirement
	Username     *string
	Organization *string
	Logger       logr.Logger
	Cleaner      CleanableLoadedData
}

// Batched reports whether the pipeline is extracted in multiple batches.
func (c Capabilities) Batched() bool {
	return c.BatchSize > 0
}

// HardRequirements returns the names of the non optional requirements.
func (c Capabilities) HardRequirements() []string {
	var names []string
	for _, req := range c.Requires {
		if !req.Optional {
			names = append(names, req.Name)
		}
	}

	return names
}

// Probe detects the optional interfaces implemented by the pipeline.
func Probe(p Pipeline) Capabilities {
	var caps Capabilities

	if b, ok := p.(Batchable); ok {
		caps.BatchSize = b.BatchSize()
	}
	if i, ok := p.(Incrementable); ok {
		caps.Incremental = i.Incremental()
	}
	if r, ok := p.(RequiredPipelines); ok {
		for _, name := range r.RequiredPipelines() {
			caps.Requires = append(caps.Requires, ParseRequirement(name))
		}
	}
	if u, ok := p.(RequiredUser); ok {
		username := u.Username()
		caps.Username = &username
	}
	if o, ok := p.(RequiredOrganization); ok {
		organization := o.OrganizationName()
		caps.Organization = &organization
	}
	if l, ok := p.(Loggable); ok {
		caps.Logger = l.Logger()
	}
	if c, ok := p.(CleanableLoadedData); ok {
		caps.Cleaner = c
	}

	return caps
}

// BasePipeline can be embedded to provide the batch size and the logger of a pipeline.
type BasePipeline struct {
	batchSize int
	logger    logr.Logger
}

// NewBasePipeline returns a BasePipeline. A batch size lower than 1 falls back to DefaultBatchSize.
func NewBasePipeline(logger logr.Logger, batchSize int) BasePipeline {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}

	return BasePipeline{
		batchSize: batchSize,
		logger:    logger,
	}
}

func (b BasePipeline) BatchSize() int {
	return b.batchSize
}

func (b BasePipeline) Logger() logr.Logger {
	return b.logger
}
