// internal/rules/ast.go
package rules

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/solatis/ideafilter/internal/ipaddr"
	"github.com/solatis/ideafilter/internal/ipindex"
	"github.com/solatis/ideafilter/internal/types"
)

/*
 * Predicate AST.
 *
 * Node is a closed set: the parser produces Variable, Constant, Integer,
 * Float, IPv4, IPv6, List, LogicBinOp, CompareBinOp, MathBinOp and UnaryOp.
 * The compiler additionally produces IPAddr, IPRange and AddressGroup.
 * Trees are immutable once built and may be shared by concurrent evaluations.
 *
 * String renders a canonical, fully parenthesised form used by the CLI and
 * by tests to assert tree shape.
 */

// Node is a predicate tree node.
type Node interface {
	node()
	String() string
}

// LogicOp is a boolean connective.
type LogicOp int

const (
	OpAnd LogicOp = iota
	OpOr
	OpXor
)

func (o LogicOp) String() string {
	switch o {
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	default:
		return "xor"
	}
}

func (o LogicOp) symbol() string {
	switch o {
	case OpAnd:
		return "&&"
	case OpOr:
		return "||"
	default:
		return "^^"
	}
}

// CompareOp is a comparison operator.
type CompareOp int

const (
	OpLike CompareOp = iota
	OpIn
	OpIs
	OpEq
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
)

var compareOpNames = [...]string{"like", "in", "is", "eq", "ne", "gt", "ge", "lt", "le"}

func (o CompareOp) String() string { return compareOpNames[o] }

// MathOp is an arithmetic operator.
type MathOp int

const (
	OpAdd MathOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
)

var mathOpSymbols = [...]string{"+", "-", "*", "/", "%"}

func (o MathOp) String() string { return mathOpSymbols[o] }

// UnaryKind is a unary operator.
type UnaryKind int

const (
	OpNot UnaryKind = iota
	OpExists
)

func (o UnaryKind) String() string {
	if o == OpNot {
		return "not"
	}
	return "exists"
}

// Variable references a record path.
type Variable struct {
	Path types.Path
}

// Constant is a quoted string literal.
type Constant struct {
	Value string
}

// Integer is an integer literal.
type Integer struct {
	Value int64
}

// Float is a floating point literal.
type Float struct {
	Value float64
}

// IPv4 is an IPv4 address or range literal as written.
type IPv4 struct {
	Text string
}

// IPv6 is an IPv6 address or range literal as written.
type IPv6 struct {
	Text string
}

// List is a bracketed list literal.
type List struct {
	Items []Node
}

// LogicBinOp joins two predicates. Symbolic marks the &&, ||, ^^ spelling.
type LogicBinOp struct {
	Op       LogicOp
	Symbolic bool
	Left     Node
	Right    Node
}

// CompareBinOp compares two operands. Pattern holds the precompiled regular
// expression of a like comparison against a constant.
type CompareBinOp struct {
	Op      CompareOp
	Left    Node
	Right   Node
	Pattern *regexp.Regexp
}

// MathBinOp is an arithmetic expression.
type MathBinOp struct {
	Op    MathOp
	Left  Node
	Right Node
}

// UnaryOp is not or exists.
type UnaryOp struct {
	Op      UnaryKind
	Operand Node
}

// IPAddr is a compiled address constant.
type IPAddr struct {
	Addr ipaddr.Addr
}

// IPRange is a compiled address range constant.
type IPRange struct {
	Range ipaddr.Range
}

// AddressGroup references a named prefix index.
type AddressGroup struct {
	ID    string
	Index *ipindex.Index
}

func (*Variable) node()     {}
func (*Constant) node()     {}
func (*Integer) node()      {}
func (*Float) node()        {}
func (*IPv4) node()         {}
func (*IPv6) node()         {}
func (*List) node()         {}
func (*LogicBinOp) node()   {}
func (*CompareBinOp) node() {}
func (*MathBinOp) node()    {}
func (*UnaryOp) node()      {}
func (*IPAddr) node()       {}
func (*IPRange) node()      {}
func (*AddressGroup) node() {}

func (n *Variable) String() string { return n.Path.String() }
func (n *Constant) String() string { return strconv.Quote(n.Value) }
func (n *Integer) String() string  { return strconv.FormatInt(n.Value, 10) }
func (n *Float) String() string    { return strconv.FormatFloat(n.Value, 'g', -1, 64) }
func (n *IPv4) String() string     { return n.Text }
func (n *IPv6) String() string     { return n.Text }
func (n *IPRange) String() string  { return "IPRANGE(" + n.Range.String() + ")" }

func (n *IPAddr) String() string {
	if n.Addr.Is6() {
		return "IPV6(" + n.Addr.String() + ")"
	}
	return "IPV4(" + n.Addr.String() + ")"
}

func (n *AddressGroup) String() string { return "GROUP(" + n.ID + ")" }

func (n *List) String() string {
	parts := make([]string, len(n.Items))
	for i, item := range n.Items {
		parts[i] = item.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (n *LogicBinOp) String() string {
	op := n.Op.String()
	if n.Symbolic {
		op = n.Op.symbol()
	}
	return "(" + n.Left.String() + " " + op + " " + n.Right.String() + ")"
}

func (n *CompareBinOp) String() string {
	return "(" + n.Left.String() + " " + n.Op.String() + " " + n.Right.String() + ")"
}

func (n *MathBinOp) String() string {
	return "(" + n.Left.String() + " " + n.Op.String() + " " + n.Right.String() + ")"
}

func (n *UnaryOp) String() string {
	return n.Op.String() + " " + n.Operand.String()
}
