package filepipeline

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
	"github.com/raffis/importer/pkg/importer"
	"google.golang.org/protobuf/types/known/structpb"
)

// NewCelEnv returns the environment filter and field expressions are compiled in.
// The current record is available as `record`.
func NewCelEnv() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Math(),
		ext.Encoders(),
		ext.Sets(),
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
}

var jsonValueType = reflect.TypeOf(&structpb.Value{})

type field struct {
	name       string
	expression string
	program    cel.Program
}

type transformer struct {
	filter     cel.Program
	expression string
	fields     []field
	mergePatch []byte
}

func compile(env *cel.Env, expression string) (cel.Program, error) {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expression compilation `%s` failed: %w", expression, issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("expression ast `%s` failed: %w", expression, err)
	}

	return prg, nil
}

func newTransformer(env *cel.Env, filter string, fields map[string]string, mergePatch []byte) (*transformer, error) {
	t := &transformer{
		expression: filter,
		mergePatch: mergePatch,
	}

	if filter != "" {
		prg, err := compile(env, filter)
		if err != nil {
			return nil, err
		}

		t.filter = prg
	}

	for _, name := range slices.Sorted(maps.Keys(fields)) {
		prg, err := compile(env, fields[name])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}

		t.fields = append(t.fields, field{name: name, expression: fields[name], program: prg})
	}

	if len(mergePatch) > 0 && !json.Valid(mergePatch) {
		return nil, fmt.Errorf("invalid merge patch: %s", mergePatch)
	}

	return t, nil
}

// transform returns the record with fields and merge patch applied. It returns nil if the filter drops the record.
func (t *transformer) transform(record importer.Record) (importer.Record, error) {
	vars := map[string]any{"record": map[string]any(record)}

	if t.filter != nil {
		out, _, err := t.filter.Eval(vars)
		if err != nil {
			return nil, fmt.Errorf("filter expression evaluation `%s` failed: %w", t.expression, err)
		}

		keep, ok := out.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("filter expression `%s` must evaluate to a bool, got %s", t.expression, out.Type().TypeName())
		}

		if !keep {
			return nil, nil
		}
	}

	result := maps.Clone(record)
	for _, f := range t.fields {
		out, _, err := f.program.Eval(vars)
		if err != nil {
			return nil, fmt.Errorf("field %q expression evaluation `%s` failed: %w", f.name, f.expression, err)
		}

		native, err := out.ConvertToNative(jsonValueType)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.name, err)
		}

		result[f.name] = native.(*structpb.Value).AsInterface()
	}

	if len(t.mergePatch) == 0 {
		return result, nil
	}

	doc, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	patched, err := jsonpatch.MergePatch(doc, t.mergePatch)
	if err != nil {
		return nil, fmt.Errorf("failed to apply merge patch: %w", err)
	}

	patchedRecord := importer.Record{}
	if err := json.Unmarshal(patched, &patchedRecord); err != nil {
		return nil, err
	}

	return patchedRecord, nil
}
