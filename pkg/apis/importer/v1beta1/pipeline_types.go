/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1beta1

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// +kubebuilder:object:root=true
type PipelineList struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Pipelines []PipelineSpec `json:"pipelines,omitempty"`
}

type PipelineSpec struct {
	Name         string       `json:"name,omitempty"`
	Description  string       `json:"description,omitempty"`
	Resource     string       `json:"resource,omitempty"`
	Key          string       `json:"key,omitempty"`
	BatchSize    int          `json:"batchSize,omitempty"`
	Source       Source       `json:"source,omitempty"`
	Incremental  *Incremental `json:"incremental,omitempty"`
	Requires     []string     `json:"requires,omitempty"`
	Username     *string      `json:"username,omitempty"`
	Organization *string      `json:"organization,omitempty"`
	// Filter is a CEL expression, records evaluating to false are dropped.
	Filter string `json:"filter,omitempty"`
	// Fields maps output fields to CEL expressions.
	Fields map[string]string `json:"fields,omitempty"`
	// MergePatch is a RFC 7386 json merge patch applied to every record.
	MergePatch *runtime.RawExtension `json:"mergePatch,omitempty"`
	// Rules maps record fields to validation rules, e.g. `required,email`.
	Rules map[string]string `json:"rules,omitempty"`
	Clean bool              `json:"clean,omitempty"`
}

type SourceFormat string

const (
	SourceFormatCSV   SourceFormat = "csv"
	SourceFormatJSONL SourceFormat = "jsonl"
)

type Source struct {
	Path   string       `json:"path,omitempty"`
	Format SourceFormat `json:"format,omitempty"`
	// Delimiter of csv sources, defaults to `,`.
	Delimiter string `json:"delimiter,omitempty"`
}

type Incremental struct {
	// Field holds a RFC 3339 timestamp compared against the start time of incremental runs.
	Field string `json:"field,omitempty"`
}

func (p *PipelineList) SetDefaults() {
	for i := range p.Pipelines {
		p.Pipelines[i].SetDefaults()
	}
}

func (p *PipelineSpec) SetDefaults() {
	if p.Resource == "" {
		p.Resource = p.Name
	}

	if p.Source.Format == "" {
		switch {
		case strings.HasSuffix(p.Source.Path, ".jsonl"), strings.HasSuffix(p.Source.Path, ".ndjson"):
			p.Source.Format = SourceFormatJSONL
		default:
			p.Source.Format = SourceFormatCSV
		}
	}

	if p.Source.Delimiter == "" {
		p.Source.Delimiter = ","
	}
}

var (
	ErrInvalidManifest = errors.New("invalid manifest")
)

// Validate returns all problems of the list joined.
func (p *PipelineList) Validate() error {
	var errs []error
	var names []string

	for i, spec := range p.Pipelines {
		if slices.Contains(names, spec.Name) {
			errs = append(errs, fmt.Errorf("pipelines[%d]: duplicate name %q", i, spec.Name))
		}

		names = append(names, spec.Name)
		if err := spec.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("pipelines[%d]: %w", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, errors.Join(errs...))
	}

	return nil
}

func (p *PipelineSpec) Validate() error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}

	if p.Key == "" {
		errs = append(errs, errors.New("key is required"))
	}

	if p.Source.Path == "" {
		errs = append(errs, errors.New("source.path is required"))
	}

	if p.BatchSize < 0 {
		errs = append(errs, errors.New("batchSize must not be negative"))
	}

	if p.Source.Format != SourceFormatCSV && p.Source.Format != SourceFormatJSONL {
		errs = append(errs, fmt.Errorf("unsupported source.format %q", p.Source.Format))
	}

	if len([]rune(p.Source.Delimiter)) != 1 {
		errs = append(errs, fmt.Errorf("source.delimiter must be a single character"))
	}

	if p.Incremental != nil && p.Incremental.Field == "" {
		errs = append(errs, errors.New("incremental.field is required"))
	}

	if p.Username != nil && *p.Username == "" {
		errs = append(errs, errors.New("username must not be empty"))
	}

	if p.Organization != nil && *p.Organization == "" {
		errs = append(errs, errors.New("organization must not be empty"))
	}

	return errors.Join(errs...)
}
