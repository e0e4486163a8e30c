package types

import (
	"strconv"
	"strings"
)

// IndexKind tells how a path chunk selects from a sequence.
type IndexKind uint8

const (
	// IndexNone means the chunk carries no index; sequences are spliced.
	IndexNone IndexKind = iota
	// IndexPosition selects a single zero-based position.
	IndexPosition
	// IndexLast selects the last element ("#").
	IndexLast
	// IndexAll expands every element ("*").
	IndexAll
)

// Chunk is one dotted component of a Path: a name and an optional index.
type Chunk struct {
	Name  string
	Kind  IndexKind
	Index int // zero-based, valid only for IndexPosition
}

// String renders the chunk in its textual form, e.g. "Source[1]".
func (c Chunk) String() string {
	switch c.Kind {
	case IndexPosition:
		return c.Name + "[" + strconv.Itoa(c.Index+1) + "]"
	case IndexLast:
		return c.Name + "[#]"
	case IndexAll:
		return c.Name + "[*]"
	default:
		return c.Name
	}
}

// Path is a non-empty ordered sequence of chunks addressing a value in a record.
type Path []Chunk

// String renders the path in its textual form.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, c := range p {
		parts[i] = c.String()
	}
	return strings.Join(parts, ".")
}

// Stripped renders the path with every index removed, e.g.
// "Source[1].IP4[*]" becomes "Source.IP4".
func (p Path) Stripped() string {
	parts := make([]string, len(p))
	for i, c := range p {
		parts[i] = c.Name
	}
	return strings.Join(parts, ".")
}
