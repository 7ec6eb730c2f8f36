package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/raffis/importer/pkg/apis/importer/v1beta1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/yaml"
)

var ErrUnsupportedKind = errors.New("unsupported manifest kind")

type Interface interface {
	Lookup(ctx context.Context, ref string) (v1beta1.PipelineList, error)
}

type storage struct {
	handlers []LookupHandler
}

// LookupHandler opens the manifest referenced by ref. The reader is closed after decoding if it is an io.Closer.
type LookupHandler func(ctx context.Context, ref string) (io.Reader, error)

func New(handlers ...LookupHandler) *storage {
	return &storage{
		handlers: handlers,
	}
}

// Lookup decodes the manifest of the first handler which could open ref.
func (s *storage) Lookup(ctx context.Context, ref string) (v1beta1.PipelineList, error) {
	var errs []error

	for _, handler := range s.handlers {
		r, err := handler(ctx, ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if c, ok := r.(io.Closer); ok {
			defer c.Close()
		}

		manifest, err := io.ReadAll(r)
		if err != nil {
			return v1beta1.PipelineList{}, err
		}

		return Decode(manifest)
	}

	return v1beta1.PipelineList{}, fmt.Errorf("could not lookup ref: %s: %w", ref, errors.Join(errs...))
}

// Decode decodes, defaults and validates a yaml or json manifest.
func Decode(manifest []byte) (v1beta1.PipelineList, error) {
	to := v1beta1.PipelineList{}
	if err := yaml.UnmarshalStrict(manifest, &to); err != nil {
		return to, fmt.Errorf("failed to decode manifest: %w", err)
	}

	gv, err := schema.ParseGroupVersion(to.APIVersion)
	if err != nil {
		return to, err
	}

	if gvk := gv.WithKind(to.Kind); gvk != v1beta1.GroupVersion.WithKind(v1beta1.PipelineListKind) {
		return to, fmt.Errorf("%w: %s", ErrUnsupportedKind, gvk)
	}

	to.SetDefaults()
	return to, to.Validate()
}
