package importer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPipelineNotFound       = errors.New("importer pipeline not found")
	ErrRequiredPipeline       = errors.New("importer pipeline is required")
	ErrDependencyCycle        = errors.New("importer pipelines have cyclic dependencies")
	ErrIncrementalUnsupported = errors.New("pipeline does not support the incremental import")
)

// RequiredPipelineError reports a hard dependency which is not registered.
type RequiredPipelineError struct {
	Name string
}

func (e *RequiredPipelineError) Error() string {
	return fmt.Sprintf("the importer pipeline %q is required", e.Name)
}

func (e *RequiredPipelineError) Unwrap() error {
	return ErrRequiredPipeline
}

// DependencyCycleError lists the pipelines which could not be ordered.
type DependencyCycleError struct {
	Names []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("the importer pipelines [%s] depend on each other", strings.Join(e.Names, ", "))
}

func (e *DependencyCycleError) Unwrap() error {
	return ErrDependencyCycle
}

func newErrPipelineNotFound(name string) error {
	return fmt.Errorf("the importer pipeline %q does not exist: %w", name, ErrPipelineNotFound)
}

func newErrIncrementalUnsupported(name string) error {
	return fmt.Errorf("the %q pipeline does not support the incremental import: %w", name, ErrIncrementalUnsupported)
}
