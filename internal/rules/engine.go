package rules

import (
	"fmt"
	"strings"

	"github.com/solatis/ideafilter/internal/ipindex"
	"github.com/solatis/ideafilter/internal/types"
)

// Engine parses and compiles conditions against a fixed set of address groups.
// It holds no per-record state and is safe for concurrent use.
type Engine struct {
	groups map[string]*ipindex.Index
}

// NewEngine creates an engine. groups may be nil.
func NewEngine(groups map[string]*ipindex.Index) *Engine {
	return &Engine{groups: groups}
}

// Predicate is a compiled rule condition.
type Predicate struct {
	Source string
	Root   Node // nil for constant predicates
	always types.Verdict
}

// Compile parses and compiles a condition. Empty, "true" and "null" (any
// case) always match; "false" never does.
func (e *Engine) Compile(condition string) (*Predicate, error) {
	switch strings.ToLower(strings.TrimSpace(condition)) {
	case "", "true", "null":
		return &Predicate{Source: condition, always: types.VerdictTrue}, nil
	case "false":
		return &Predicate{Source: condition, always: types.VerdictFalse}, nil
	}

	parsed, err := Parse(condition)
	if err != nil {
		return nil, err
	}
	root, err := Compile(parsed, e.groups)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", condition, err)
	}
	return &Predicate{Source: condition, Root: root}, nil
}

// Evaluate runs the predicate against record.
func (p *Predicate) Evaluate(record map[string]any) (types.Verdict, error) {
	if p.Root == nil {
		return p.always, nil
	}
	return Verdict(p.Root, record)
}

// IsConstant reports whether the predicate ignores the record.
func (p *Predicate) IsConstant() bool { return p.Root == nil }

// String renders the compiled tree, or the constant verdict.
func (p *Predicate) String() string {
	if p.Root == nil {
		return p.always.String()
	}
	return p.Root.String()
}
