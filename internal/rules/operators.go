// internal/rules/operators.go
package rules

import (
	"fmt"
	"math"
	"regexp"

	"github.com/solatis/ideafilter/internal/ipaddr"
	"github.com/solatis/ideafilter/internal/types"
)

/*
 * Comparison and arithmetic kernels.
 *
 * Both sides of every comparison are sequences by the time they get here.
 * "is" compares whole sequences; "in" asks whether some left element is
 * present in the right sequence; every other operator holds when some
 * (left, right) pair of the cartesian product satisfies the scalar relation.
 * Ordered comparisons of incomparable pairs are simply false.
 *
 * Arithmetic broadcasts a length-1 side against the other; equal lengths go
 * elementwise. int64 with int64 stays int64 except for division, which is
 * always float. Modulo takes the sign of the divisor.
 */

// compareSequences applies op to two non-empty sequences.
func compareSequences(op CompareOp, pattern *regexp.Regexp, left, right []any) bool {
	switch op {
	case OpIs:
		return equalValues(left, right)
	case OpIn:
		for _, l := range left {
			for _, r := range right {
				if equalValues(l, r) {
					return true
				}
			}
		}
		return false
	}

	for _, l := range left {
		for _, r := range right {
			if compareScalar(op, pattern, l, r) {
				return true
			}
		}
	}
	return false
}

// compareScalar applies an eq/ne/ordering/like relation to one pair.
func compareScalar(op CompareOp, pattern *regexp.Regexp, l, r any) bool {
	switch op {
	case OpEq:
		return equalValues(l, r)
	case OpNe:
		return !equalValues(l, r)
	case OpLike:
		return matchLike(pattern, l, r)
	}

	c, ok := compareValues(l, r)
	if !ok {
		return false
	}
	switch op {
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	default:
		return false
	}
}

// matchLike searches the left string for the pattern. Patterns that come
// from the record are compiled per call; bad ones never match.
func matchLike(pattern *regexp.Regexp, l, r any) bool {
	subject, ok := likeSubject(l)
	if !ok {
		return false
	}
	if pattern == nil {
		expr, ok := r.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return false
		}
		pattern = re
	}
	return pattern.MatchString(subject)
}

// compareGroup tests a sequence against an address group. in, eq and is hold
// when some element is covered; ne holds when some element is not.
func compareGroup(op CompareOp, group groupRef, values []any) bool {
	for _, v := range values {
		hit, ok := groupHit(group, v)
		if !ok {
			continue
		}
		switch op {
		case OpIn, OpEq, OpIs:
			if hit {
				return true
			}
		case OpNe:
			if !hit {
				return true
			}
		}
	}
	return false
}

func groupHit(group groupRef, v any) (hit, ok bool) {
	switch x := v.(type) {
	case ipaddr.Addr:
		return group.index.Contains(x), true
	case string:
		a, err := ipaddr.ParseAddr(x)
		if err != nil {
			return false, false
		}
		return group.index.Contains(a), true
	default:
		return false, false
	}
}

// arithmetic applies op over two numeric sequences with broadcasting.
func arithmetic(op MathOp, left, right []any) (any, error) {
	n := len(left)
	switch {
	case len(left) == len(right):
	case len(left) == 1:
		n = len(right)
	case len(right) == 1:
	default:
		return nil, fmt.Errorf("%w: %d vs %d elements", types.ErrShapeMismatch, len(left), len(right))
	}

	out := make([]any, n)
	for i := range out {
		l := left[0]
		if len(left) > 1 {
			l = left[i]
		}
		r := right[0]
		if len(right) > 1 {
			r = right[i]
		}
		ln, lok := toNumber(l)
		rn, rok := toNumber(r)
		if !lok || !rok {
			return nil, nil
		}
		v, err := applyMath(op, ln, rn)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	if n == 1 {
		return out[0], nil
	}
	return out, nil
}

// applyMath computes one scalar operation on int64/float64 operands.
func applyMath(op MathOp, a, b any) (any, error) {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)

	if aInt && bInt && op != OpDiv {
		switch op {
		case OpAdd:
			if v, ok := addInt64(ai, bi); ok {
				return v, nil
			}
		case OpSub:
			if v, ok := subInt64(ai, bi); ok {
				return v, nil
			}
		case OpMul:
			if v, ok := mulInt64(ai, bi); ok {
				return v, nil
			}
		case OpMod:
			if bi == 0 {
				return nil, types.ErrDivisionByZero
			}
			m := ai % bi
			if m != 0 && (m < 0) != (bi < 0) {
				m += bi
			}
			return m, nil
		}
	}

	x, y := toFloat64(a), toFloat64(b)
	switch op {
	case OpAdd:
		return x + y, nil
	case OpSub:
		return x - y, nil
	case OpMul:
		return x * y, nil
	case OpDiv:
		if y == 0 {
			return nil, types.ErrDivisionByZero
		}
		return x / y, nil
	default:
		if y == 0 {
			return nil, types.ErrDivisionByZero
		}
		m := math.Mod(x, y)
		if m != 0 && (m < 0) != (y < 0) {
			m += y
		}
		return m, nil
	}
}

// Integer kernels report false on overflow; the caller widens to float64.

func addInt64(a, b int64) (int64, bool) {
	s := a + b
	if (a > 0 && b > 0 && s < 0) || (a < 0 && b < 0 && s >= 0) {
		return 0, false
	}
	return s, true
}

func subInt64(a, b int64) (int64, bool) {
	s := a - b
	if (a >= 0 && b < 0 && s < 0) || (a < 0 && b > 0 && s >= 0) {
		return 0, false
	}
	return s, true
}

func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	p := a * b
	if p/b != a {
		return 0, false
	}
	return p, true
}
