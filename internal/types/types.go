// Package types provides domain models shared across filter components.
//
// Zero-dependency design: records, paths and sentinel errors use only the
// standard library so the rules, ipindex and filter packages can share them
// without import cycles. ID utilities in ids.go import uuid.
package types

// Record is a decoded IDEA message. Values are nil, bool, int64, float64,
// string, time.Time, []any or map[string]any; compiled address values may
// appear after evaluation but never inside a decoded record.
type Record = map[string]any

// Resource limits enforced while parsing rules.
const (
	// MaxPathDepth bounds the number of chunks in a path.
	MaxPathDepth = 16

	// MaxQueryLength bounds the size of a single rule condition in bytes.
	MaxQueryLength = 64 * 1024
)

// Verdict is the three-valued outcome of a rule evaluation.
type Verdict int8

const (
	// VerdictNull means the predicate could not be meaningfully evaluated.
	VerdictNull Verdict = iota - 1
	// VerdictFalse means the predicate did not hold.
	VerdictFalse
	// VerdictTrue means the predicate held.
	VerdictTrue
)

// String returns the counter label for the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictTrue:
		return "true"
	case VerdictFalse:
		return "false"
	default:
		return "null"
	}
}
