// internal/rules/coercion.go
package rules

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/solatis/ideafilter/internal/ipaddr"
)

/*
 * Value model and coercions used by the evaluator.
 *
 * Evaluation values are nil (null), bool, int64, float64, string,
 * time.Time, ipaddr.Addr, ipaddr.Range, []any, map[string]any and
 * groupRef. Other Go integer and float kinds that sneak in through mark
 * values or hand-built records are normalized before comparison.
 *
 * Truthiness: nil, false, zero, "", empty sequences and empty mappings are
 * false; everything else is true.
 *
 * Equality is structural. Numbers compare across int64/float64. Strings
 * compared against addresses are parsed first; an address equals a range
 * that contains it.
 */

// groupRef is the evaluation value of an AddressGroup node.
type groupRef struct {
	id    string
	index interface {
		Contains(ipaddr.Addr) bool
	}
}

// normalize maps the numeric kinds of decoded or user-built values onto
// int64 and float64.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n)
		}
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	default:
		return v
	}
}

// truthy applies boolean truthiness.
func truthy(v any) bool {
	switch x := normalize(v).(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	case time.Time:
		return !x.IsZero()
	default:
		return true
	}
}

// asSequence coerces a value to a sequence. Null stays nil.
func asSequence(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	default:
		return []any{x}
	}
}

// toNumber converts a value for arithmetic. Integers stay int64, times become
// float seconds and strings are parsed as floats.
func toNumber(v any) (any, bool) {
	switch x := normalize(v).(type) {
	case int64:
		return x, true
	case float64:
		return x, true
	case time.Time:
		return float64(x.UnixNano()) / 1e9, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, false
		}
		return f, true
	default:
		return nil, false
	}
}

// toFloat64 widens an int64 or float64.
func toFloat64(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return math.NaN()
	}
}

func isNumber(v any) bool {
	switch v.(type) {
	case int64, float64:
		return true
	default:
		return false
	}
}

// equalValues is structural equality over evaluation values.
func equalValues(a, b any) bool {
	a, b = normalize(a), normalize(b)

	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case int64, float64:
		if !isNumber(b) {
			return false
		}
		if xi, ok := x.(int64); ok {
			if yi, ok := b.(int64); ok {
				return xi == yi
			}
		}
		return toFloat64(x) == toFloat64(b)
	case string:
		switch y := b.(type) {
		case string:
			return x == y
		case ipaddr.Addr, ipaddr.Range:
			return equalValues(b, x)
		}
		return false
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case ipaddr.Addr:
		switch y := b.(type) {
		case ipaddr.Addr:
			return x == y
		case ipaddr.Range:
			return y.Contains(x)
		case string:
			if pa, err := ipaddr.ParseAddr(y); err == nil {
				return x == pa
			}
			if pr, err := ipaddr.ParseRange(y); err == nil {
				return pr.Contains(x)
			}
		}
		return false
	case ipaddr.Range:
		switch y := b.(type) {
		case ipaddr.Range:
			return x == y
		case ipaddr.Addr:
			return x.Contains(y)
		case string:
			if pa, err := ipaddr.ParseAddr(y); err == nil {
				return x.Contains(pa)
			}
			if pr, err := ipaddr.ParseRange(y); err == nil {
				return x == pr
			}
		}
		return false
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equalValues(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !equalValues(xv, yv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// compareValues orders two values. The boolean is false for incomparable
// pairs, including addresses of different families.
func compareValues(a, b any) (int, bool) {
	a, b = normalize(a), normalize(b)

	switch x := a.(type) {
	case int64, float64:
		if !isNumber(b) {
			return 0, false
		}
		if xi, ok := x.(int64); ok {
			if yi, ok := b.(int64); ok {
				return cmpOrdered(xi, yi), true
			}
		}
		fx, fy := toFloat64(x), toFloat64(b)
		if math.IsNaN(fx) || math.IsNaN(fy) {
			return 0, false
		}
		return cmpOrdered(fx, fy), true
	case string:
		switch y := b.(type) {
		case string:
			return strings.Compare(x, y), true
		case ipaddr.Addr, ipaddr.Range:
			c, ok := compareValues(b, x)
			return -c, ok
		}
		return 0, false
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case ipaddr.Addr:
		switch y := b.(type) {
		case ipaddr.Addr:
			c, err := x.Compare(y)
			return c, err == nil
		case ipaddr.Range:
			return addrVersusRange(x, y)
		case string:
			if pa, err := ipaddr.ParseAddr(y); err == nil {
				return compareValues(x, pa)
			}
			if pr, err := ipaddr.ParseRange(y); err == nil {
				return addrVersusRange(x, pr)
			}
		}
		return 0, false
	case ipaddr.Range:
		switch y := b.(type) {
		case ipaddr.Range:
			c, err := x.Start.Compare(y.Start)
			if err != nil {
				return 0, false
			}
			if c != 0 {
				return c, true
			}
			c, _ = x.End.Compare(y.End)
			return c, true
		case ipaddr.Addr:
			c, ok := addrVersusRange(y, x)
			return -c, ok
		case string:
			if pa, err := ipaddr.ParseAddr(y); err == nil {
				return compareValues(x, pa)
			}
			if pr, err := ipaddr.ParseRange(y); err == nil {
				return compareValues(x, pr)
			}
		}
		return 0, false
	default:
		return 0, false
	}
}

// addrVersusRange places an address below (-1), inside (0) or above (+1) a range.
func addrVersusRange(a ipaddr.Addr, r ipaddr.Range) (int, bool) {
	if a.Family() != r.Family() {
		return 0, false
	}
	if a.Less(r.Start) {
		return -1, true
	}
	if r.End.Less(a) {
		return 1, true
	}
	return 0, true
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// likeSubject renders the left side of a like comparison.
func likeSubject(v any) (string, bool) {
	switch x := normalize(v).(type) {
	case string:
		return x, true
	case ipaddr.Addr:
		return x.String(), true
	case ipaddr.Range:
		return x.String(), true
	default:
		return "", false
	}
}
