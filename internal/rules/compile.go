// internal/rules/compile.go
package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/solatis/ideafilter/internal/ipaddr"
	"github.com/solatis/ideafilter/internal/ipindex"
	"github.com/solatis/ideafilter/internal/types"
)

/*
 * Predicate compilation.
 *
 * A single bottom-up pass that rewrites a parsed tree into the form the
 * evaluator runs:
 *
 *   1. Address literals become IPAddr / IPRange nodes of their family.
 *   2. A bare single-chunk variable naming an address group becomes an
 *      AddressGroup node.
 *   3. MathBinOp over two numeric literals folds to a literal (int with int
 *      stays Integer, any float makes Float, division is always Float).
 *      Same-length lists of numeric literals fold elementwise. Nothing that
 *      involves a variable folds: "Test + 10 - 9" parses as Test + (10 - 9)
 *      and becomes Test + 1, while "10 - 9 + Test" stays as written.
 *   4. At a comparison with exactly one Variable side whose index-stripped
 *      path is in the address table, constants on the other side are
 *      rebuilt as addresses of the table's family.
 *   5. like against a string constant precompiles its regular expression.
 *
 * Folding never divides by zero; such expressions stay for the evaluator.
 */

// addressFields maps index-stripped paths to the family their constants compile to.
var addressFields = map[string]ipaddr.Family{
	"Source.IP4": ipaddr.IPv4,
	"Target.IP4": ipaddr.IPv4,
	"Source.IP6": ipaddr.IPv6,
	"Target.IP6": ipaddr.IPv6,
}

// Compile rewrites a parsed tree. groups may be nil.
func Compile(n Node, groups map[string]*ipindex.Index) (Node, error) {
	c := compiler{groups: groups}
	return c.compile(n)
}

type compiler struct {
	groups map[string]*ipindex.Index
}

func (c compiler) compile(n Node) (Node, error) {
	switch n := n.(type) {
	case *Variable:
		if len(n.Path) == 1 && n.Path[0].Kind == types.IndexNone {
			if idx, ok := c.groups[n.Path[0].Name]; ok {
				return &AddressGroup{ID: n.Path[0].Name, Index: idx}, nil
			}
		}
		return n, nil
	case *IPv4:
		return compileAddress(n.Text, ipaddr.IPv4)
	case *IPv6:
		return compileAddress(n.Text, ipaddr.IPv6)
	case *List:
		items := make([]Node, len(n.Items))
		for i, item := range n.Items {
			ci, err := c.compile(item)
			if err != nil {
				return nil, err
			}
			items[i] = ci
		}
		return &List{Items: items}, nil
	case *LogicBinOp:
		l, err := c.compile(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := c.compile(n.Right)
		if err != nil {
			return nil, err
		}
		return &LogicBinOp{Op: n.Op, Symbolic: n.Symbolic, Left: l, Right: r}, nil
	case *UnaryOp:
		operand, err := c.compile(n.Operand)
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: n.Op, Operand: operand}, nil
	case *MathBinOp:
		l, err := c.compile(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := c.compile(n.Right)
		if err != nil {
			return nil, err
		}
		return fold(&MathBinOp{Op: n.Op, Left: l, Right: r}), nil
	case *CompareBinOp:
		return c.compileCompare(n)
	default:
		return n, nil
	}
}

func (c compiler) compileCompare(n *CompareBinOp) (Node, error) {
	l, err := c.compile(n.Left)
	if err != nil {
		return nil, err
	}
	r, err := c.compile(n.Right)
	if err != nil {
		return nil, err
	}

	if n.Op != OpLike {
		lv, lVar := l.(*Variable)
		rv, rVar := r.(*Variable)
		switch {
		case lVar && !rVar:
			if r, err = normalizeConstant(lv, r); err != nil {
				return nil, err
			}
		case rVar && !lVar:
			if l, err = normalizeConstant(rv, l); err != nil {
				return nil, err
			}
		}
	}

	out := &CompareBinOp{Op: n.Op, Left: l, Right: r}
	if n.Op == OpLike {
		if pat, ok := r.(*Constant); ok {
			re, err := regexp.Compile(pat.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: bad like pattern %q: %v", types.ErrSyntax, pat.Value, err)
			}
			out.Pattern = re
		}
	}
	return out, nil
}

// normalizeConstant rebuilds the constant side of a comparison against v as
// addresses when v's path is an address field.
func normalizeConstant(v *Variable, other Node) (Node, error) {
	family, ok := addressFields[v.Path.Stripped()]
	if !ok {
		return other, nil
	}
	switch o := other.(type) {
	case *List:
		items := make([]Node, len(o.Items))
		for i, item := range o.Items {
			ci, err := addressConstant(item, family)
			if err != nil {
				return nil, err
			}
			items[i] = ci
		}
		return &List{Items: items}, nil
	default:
		return addressConstant(other, family)
	}
}

// addressConstant converts one literal. Non-literals pass through.
func addressConstant(n Node, family ipaddr.Family) (Node, error) {
	switch n := n.(type) {
	case *Constant:
		return compileAddress(n.Value, family)
	case *Integer:
		return compileAddress(strconv.FormatInt(n.Value, 10), family)
	case *Float:
		return compileAddress(strconv.FormatFloat(n.Value, 'f', -1, 64), family)
	default:
		return n, nil
	}
}

// compileAddress builds an IPAddr or IPRange node of the given family.
func compileAddress(text string, family ipaddr.Family) (Node, error) {
	text = strings.TrimSpace(text)
	if strings.ContainsAny(text, "/-") || strings.Contains(text, "..") {
		r, err := ipaddr.ParseRangeFamily(text, family)
		if err != nil {
			return nil, err
		}
		return &IPRange{Range: r}, nil
	}
	a, err := ipaddr.ParseFamily(text, family)
	if err != nil {
		return nil, err
	}
	return &IPAddr{Addr: a}, nil
}

// fold collapses arithmetic over numeric literals.
func fold(n *MathBinOp) Node {
	if lv, ok := literalNumber(n.Left); ok {
		if rv, ok := literalNumber(n.Right); ok {
			if v, err := applyMath(n.Op, lv, rv); err == nil {
				return numberNode(v)
			}
			return n
		}
	}

	ll, lok := n.Left.(*List)
	rl, rok := n.Right.(*List)
	if !lok || !rok || len(ll.Items) != len(rl.Items) || len(ll.Items) == 0 {
		return n
	}
	items := make([]Node, len(ll.Items))
	for i := range ll.Items {
		lv, ok1 := literalNumber(ll.Items[i])
		rv, ok2 := literalNumber(rl.Items[i])
		if !ok1 || !ok2 {
			return n
		}
		v, err := applyMath(n.Op, lv, rv)
		if err != nil {
			return n
		}
		items[i] = numberNode(v)
	}
	return &List{Items: items}
}

func literalNumber(n Node) (any, bool) {
	switch n := n.(type) {
	case *Integer:
		return n.Value, true
	case *Float:
		return n.Value, true
	default:
		return nil, false
	}
}

func numberNode(v any) Node {
	if i, ok := v.(int64); ok {
		return &Integer{Value: i}
	}
	return &Float{Value: v.(float64)}
}
