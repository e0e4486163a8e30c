package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/solatis/ideafilter/internal/types"
)

// DecodeRecord decodes one JSON object into a record. Integral numbers
// become int64, the rest float64.
func DecodeRecord(data []byte) (types.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidRecord, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", types.ErrInvalidRecord)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top level is %T, not an object", types.ErrInvalidRecord, raw)
	}
	return convertNumbers(m).(map[string]any), nil
}

func convertNumbers(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = convertNumbers(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = convertNumbers(e)
		}
		return x
	case json.Number:
		return normalize(x)
	default:
		return v
	}
}

// DeepCopy returns a copy of record sharing no mappings or sequences with it.
func DeepCopy(record types.Record) types.Record {
	if record == nil {
		return nil
	}
	return deepCopyValue(record).(map[string]any)
}

func deepCopyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = deepCopyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
