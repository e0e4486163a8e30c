package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/solatis/ideafilter/internal/types"
)

/*
 * Path resolution over decoded records.
 *
 * A path is a dotted chain of chunks, each a name with an optional index:
 * positional [k] (1-based), last [#] or wildcard [*]. Resolution walks a
 * working sequence that starts as the singleton [record]; every chunk maps
 * each mapping in the sequence to the values under its name. Non-mapping
 * nodes and missing keys drop out silently.
 *
 * Values always returns a sequence, possibly empty. Every comparison
 * operator is defined over sequences, so the shape never depends on whether
 * a key held a scalar or a list.
 *
 * Set is the write path used by the mark action. It creates intermediate
 * mappings and sequences as needed and refuses to attach children to
 * scalars or to treat a list as a mapping (ErrStructureMismatch).
 */

var chunkRegex = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(?:\[(\d+|#|\*)\])?$`)

// SetResult reports the outcome of Set.
type SetResult int

const (
	// SetDone means the value was written.
	SetDone SetResult = iota
	// SetExists means overwrite was off and a value was already present.
	SetExists
	// SetDuplicate means unique was on and the list already held the value.
	SetDuplicate
)

// String returns the result name.
func (r SetResult) String() string {
	switch r {
	case SetDone:
		return "set"
	case SetExists:
		return "exists"
	default:
		return "duplicate"
	}
}

// ParsePath parses a dotted path such as "Source[1].IP4[*]".
// Returns ErrPathSyntax for malformed chunks and ErrPathTooDeep for
// paths longer than MaxPathDepth.
func ParsePath(s string) (types.Path, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty path", types.ErrPathSyntax)
	}
	parts := strings.Split(s, ".")
	if len(parts) > types.MaxPathDepth {
		return nil, fmt.Errorf("%w: %q", types.ErrPathTooDeep, s)
	}

	path := make(types.Path, 0, len(parts))
	for _, part := range parts {
		m := chunkRegex.FindStringSubmatch(part)
		if m == nil {
			return nil, fmt.Errorf("%w: chunk %q in %q", types.ErrPathSyntax, part, s)
		}
		chunk := types.Chunk{Name: m[1]}
		switch idx := m[2]; idx {
		case "":
			chunk.Kind = types.IndexNone
		case "#":
			chunk.Kind = types.IndexLast
		case "*":
			chunk.Kind = types.IndexAll
		default:
			k, err := strconv.Atoi(idx)
			if err != nil || k < 1 {
				return nil, fmt.Errorf("%w: index %q in %q is not a positive position", types.ErrPathSyntax, idx, s)
			}
			chunk.Kind = types.IndexPosition
			chunk.Index = k - 1
		}
		path = append(path, chunk)
	}
	return path, nil
}

// MustParsePath is ParsePath for constants; it panics on error.
func MustParsePath(s string) types.Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Values resolves path against record and returns the ordered value sequence.
func Values(record map[string]any, path types.Path) []any {
	work := []any{record}
	for _, chunk := range path {
		next := make([]any, 0, len(work))
		for _, node := range work {
			m, ok := node.(map[string]any)
			if !ok {
				continue
			}
			v, ok := m[chunk.Name]
			if !ok {
				continue
			}
			if chunk.Kind == types.IndexNone {
				if seq, ok := v.([]any); ok {
					next = append(next, seq...)
				} else {
					next = append(next, v)
				}
				continue
			}
			seq, ok := v.([]any)
			if !ok {
				continue
			}
			switch chunk.Kind {
			case types.IndexPosition:
				if chunk.Index < len(seq) {
					next = append(next, seq[chunk.Index])
				}
			case types.IndexLast:
				if len(seq) > 0 {
					next = append(next, seq[len(seq)-1])
				}
			case types.IndexAll:
				next = append(next, seq...)
			}
		}
		work = next
	}
	return work
}

// First returns the head of Values or nil when the sequence is empty.
func First(record map[string]any, path types.Path) any {
	vals := Values(record, path)
	if len(vals) == 0 {
		return nil
	}
	return vals[0]
}

// Exists reports whether First yields a non-nil value.
func Exists(record map[string]any, path types.Path) bool {
	return First(record, path) != nil
}

// SetOptions tunes Set. The zero value is not the default; use DefaultSetOptions.
type SetOptions struct {
	Overwrite bool
	Unique    bool
}

// DefaultSetOptions overwrites existing values and allows duplicates.
var DefaultSetOptions = SetOptions{Overwrite: true}

// Set writes value at path inside record, creating intermediate nodes.
func Set(record map[string]any, path types.Path, value any, opts SetOptions) (SetResult, error) {
	if len(path) == 0 {
		return SetDone, fmt.Errorf("%w: empty path", types.ErrPathSyntax)
	}
	current := record
	for i, chunk := range path {
		last := i == len(path)-1
		if last {
			return setLeaf(current, chunk, value, opts, path)
		}
		next, err := descend(current, chunk, path)
		if err != nil {
			return SetDone, err
		}
		current = next
	}
	return SetDone, nil
}

// descend returns the mapping that chunk addresses under current, creating it if needed.
func descend(current map[string]any, chunk types.Chunk, path types.Path) (map[string]any, error) {
	v, present := current[chunk.Name]

	if chunk.Kind == types.IndexNone {
		if !present || v == nil {
			child := map[string]any{}
			current[chunk.Name] = child
			return child, nil
		}
		child, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q under %s is %T, not a mapping", types.ErrStructureMismatch, chunk.Name, path, v)
		}
		return child, nil
	}

	seq, err := listAt(current, chunk, path)
	if err != nil {
		return nil, err
	}

	pos, appendNew, err := slot(seq, chunk, path)
	if err != nil {
		return nil, err
	}
	if appendNew {
		child := map[string]any{}
		current[chunk.Name] = append(seq, child)
		return child, nil
	}
	switch elem := seq[pos].(type) {
	case map[string]any:
		return elem, nil
	case nil:
		child := map[string]any{}
		seq[pos] = child
		return child, nil
	default:
		return nil, fmt.Errorf("%w: %s element %d is %T, not a mapping", types.ErrStructureMismatch, chunk, pos+1, elem)
	}
}

// setLeaf writes value for the final chunk of a path.
func setLeaf(current map[string]any, chunk types.Chunk, value any, opts SetOptions, path types.Path) (SetResult, error) {
	if chunk.Kind == types.IndexNone {
		if existing, present := current[chunk.Name]; present {
			if _, isList := existing.([]any); isList && opts.Unique {
				return SetDone, fmt.Errorf("%w: %s holds a list; use an index to append", types.ErrStructureMismatch, path)
			}
			if !opts.Overwrite {
				return SetExists, nil
			}
		}
		current[chunk.Name] = value
		return SetDone, nil
	}

	seq, err := listAt(current, chunk, path)
	if err != nil {
		return SetDone, err
	}
	if opts.Unique {
		for _, elem := range seq {
			if equalValues(elem, value) {
				return SetDuplicate, nil
			}
		}
	}

	pos, appendNew, err := slot(seq, chunk, path)
	if err != nil {
		return SetDone, err
	}
	if appendNew {
		current[chunk.Name] = append(seq, value)
		return SetDone, nil
	}
	if !opts.Overwrite {
		return SetExists, nil
	}
	seq[pos] = value
	return SetDone, nil
}

// listAt returns the sequence stored under chunk.Name, creating an empty one if absent.
func listAt(current map[string]any, chunk types.Chunk, path types.Path) ([]any, error) {
	v, present := current[chunk.Name]
	if !present || v == nil {
		seq := []any{}
		current[chunk.Name] = seq
		return seq, nil
	}
	seq, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q under %s is %T, not a list", types.ErrStructureMismatch, chunk.Name, path, v)
	}
	return seq, nil
}

// slot picks the list position a chunk addresses. Wildcards and positions
// one past the end append; positions further out are rejected.
func slot(seq []any, chunk types.Chunk, path types.Path) (pos int, appendNew bool, err error) {
	switch chunk.Kind {
	case types.IndexAll:
		return 0, true, nil
	case types.IndexLast:
		if len(seq) == 0 {
			return 0, true, nil
		}
		return len(seq) - 1, false, nil
	default:
		switch {
		case chunk.Index < len(seq):
			return chunk.Index, false, nil
		case chunk.Index == len(seq):
			return 0, true, nil
		default:
			return 0, false, fmt.Errorf("%w: %s index %d beyond list of %d in %s", types.ErrStructureMismatch, chunk.Name, chunk.Index+1, len(seq), path)
		}
	}
}
