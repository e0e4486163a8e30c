// internal/rules/evaluate.go
package rules

import (
	"fmt"

	"github.com/solatis/ideafilter/internal/types"
)

/*
 * Predicate evaluation.
 *
 * Eval walks a tree against one record and returns an evaluation value;
 * nil is the null of three-valued logic.
 *
 * Node contracts:
 *   - literals evaluate to themselves (raw address literals to their text)
 *   - Variable evaluates to Values(record, path), always a sequence
 *   - List evaluates its items and splices sequence results
 *   - LogicBinOp evaluates both sides, no short circuit; null only when
 *     both sides are null, otherwise plain truthiness
 *   - CompareBinOp is null when either side is null or empty
 *   - MathBinOp is null when a side is empty or non-numeric and fails
 *     with ErrShapeMismatch on incompatible lengths
 *   - not of null is null; exists on a Variable is the path predicate,
 *     on anything else truthiness
 *
 * Errors are returned to the caller; the filter turns them into a null
 * verdict for the rule.
 */

// Eval evaluates n against record.
func Eval(n Node, record map[string]any) (any, error) {
	switch n := n.(type) {
	case *Variable:
		return Values(record, n.Path), nil
	case *Constant:
		return n.Value, nil
	case *Integer:
		return n.Value, nil
	case *Float:
		return n.Value, nil
	case *IPv4:
		return n.Text, nil
	case *IPv6:
		return n.Text, nil
	case *IPAddr:
		return n.Addr, nil
	case *IPRange:
		return n.Range, nil
	case *AddressGroup:
		return groupRef{id: n.ID, index: n.Index}, nil
	case *List:
		return evalList(n, record)
	case *LogicBinOp:
		return evalLogic(n, record)
	case *CompareBinOp:
		return evalCompare(n, record)
	case *MathBinOp:
		return evalMath(n, record)
	case *UnaryOp:
		return evalUnary(n, record)
	default:
		return nil, fmt.Errorf("%w: unknown node %T", types.ErrSyntax, n)
	}
}

// Verdict evaluates n and folds the result into a three-valued verdict.
func Verdict(n Node, record map[string]any) (types.Verdict, error) {
	v, err := Eval(n, record)
	if err != nil {
		return types.VerdictNull, err
	}
	return toVerdict(v), nil
}

func toVerdict(v any) types.Verdict {
	switch {
	case v == nil:
		return types.VerdictNull
	case truthy(v):
		return types.VerdictTrue
	default:
		return types.VerdictFalse
	}
}

func evalList(n *List, record map[string]any) (any, error) {
	out := make([]any, 0, len(n.Items))
	for _, item := range n.Items {
		v, err := Eval(item, record)
		if err != nil {
			return nil, err
		}
		if seq, ok := v.([]any); ok {
			out = append(out, seq...)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func evalLogic(n *LogicBinOp, record map[string]any) (any, error) {
	l, err := Eval(n.Left, record)
	if err != nil {
		return nil, err
	}
	r, err := Eval(n.Right, record)
	if err != nil {
		return nil, err
	}
	if l == nil && r == nil {
		return nil, nil
	}
	lt, rt := truthy(l), truthy(r)
	switch n.Op {
	case OpAnd:
		return lt && rt, nil
	case OpOr:
		return lt || rt, nil
	default:
		return lt != rt, nil
	}
}

func evalCompare(n *CompareBinOp, record map[string]any) (any, error) {
	l, err := Eval(n.Left, record)
	if err != nil {
		return nil, err
	}
	r, err := Eval(n.Right, record)
	if err != nil {
		return nil, err
	}

	if g, ok := r.(groupRef); ok {
		left := asSequence(l)
		if len(left) == 0 {
			return nil, nil
		}
		return compareGroup(n.Op, g, left), nil
	}
	if g, ok := l.(groupRef); ok {
		right := asSequence(r)
		if len(right) == 0 {
			return nil, nil
		}
		return compareGroup(n.Op, g, right), nil
	}

	left, right := asSequence(l), asSequence(r)
	if len(left) == 0 || len(right) == 0 {
		return nil, nil
	}
	return compareSequences(n.Op, n.Pattern, left, right), nil
}

func evalMath(n *MathBinOp, record map[string]any) (any, error) {
	l, err := Eval(n.Left, record)
	if err != nil {
		return nil, err
	}
	r, err := Eval(n.Right, record)
	if err != nil {
		return nil, err
	}
	left, right := asSequence(l), asSequence(r)
	if len(left) == 0 || len(right) == 0 {
		return nil, nil
	}
	return arithmetic(n.Op, left, right)
}

func evalUnary(n *UnaryOp, record map[string]any) (any, error) {
	if n.Op == OpExists {
		if v, ok := n.Operand.(*Variable); ok {
			return Exists(record, v.Path), nil
		}
		val, err := Eval(n.Operand, record)
		if err != nil {
			return nil, err
		}
		return truthy(val), nil
	}

	val, err := Eval(n.Operand, record)
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, nil
	}
	return !truthy(val), nil
}
