package actions

import (
	"context"

	"gopkg.in/yaml.v3"

	"github.com/solatis/ideafilter/internal/rules"
	"github.com/solatis/ideafilter/internal/types"
)

type markParams struct {
	Path      string `yaml:"path"`
	Value     any    `yaml:"value"`
	Overwrite *bool  `yaml:"overwrite"`
	Unique    bool   `yaml:"unique"`
}

// markAction writes a constant into the record copy.
type markAction struct {
	base
	path  types.Path
	value any
	opts  rules.SetOptions
}

func newMark(b base, params *yaml.Node) (*markAction, error) {
	var p markParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Path == "" {
		return nil, invalid("mark requires a path")
	}
	path, err := rules.ParsePath(p.Path)
	if err != nil {
		return nil, err
	}
	opts := rules.DefaultSetOptions
	if p.Overwrite != nil {
		opts.Overwrite = *p.Overwrite
	}
	opts.Unique = p.Unique
	return &markAction{base: b, path: path, value: recordValue(p.Value), opts: opts}, nil
}

func (m *markAction) Run(_ context.Context, record types.Record) error {
	// The stored value is shared across records; each write gets its own copy.
	value := recordValue(m.value)
	_, err := rules.Set(record, m.path, value, m.opts)
	return err
}

// recordValue converts a YAML-decoded value into the representation used by
// decoded records, copying containers.
func recordValue(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = recordValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = recordValue(item)
		}
		return out
	default:
		return v
	}
}
