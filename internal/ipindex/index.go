// Package ipindex answers "which labels apply to this address" over a set of
// possibly overlapping labelled prefixes.
package ipindex

import (
	"fmt"
	"slices"
	"sort"

	"github.com/solatis/ideafilter/internal/ipaddr"
	"github.com/solatis/ideafilter/internal/types"
)

/*
 * Overlap-normalized prefix interval index.
 *
 * Build converts every labelled prefix into a closed interval, partitions the
 * intervals by family and sorts them by start ascending, end descending, so an
 * enclosing interval always precedes the intervals it contains. A sweep then
 * splits the retained intervals into pairwise disjoint pieces whose labels are
 * the concatenation of every containing input in sweep order.
 *
 * Sweep cases for the next interval N against the retained piece C that holds
 * N.start:
 *   - same start, same end:   merge labels into C
 *   - same start, N.end < C:  [N] gets C+N labels, [N.end+1, C.end] keeps C
 *   - N.start > C, same end:  [C.start, N.start-1] keeps C, [N] gets C+N
 *   - strictly inside:        three-way split
 *   - N.end > C.end:          crossing ranges; ErrInvariantViolation
 * An N whose start lies in no retained piece is appended as-is.
 *
 * Lookup is a binary search over the piece starts of the address family.
 */

// Entry is one labelled prefix given to Build. Prefix accepts every form
// understood by ipaddr.ParseRange.
type Entry struct {
	Prefix string
	Label  string
}

// Interval is a disjoint piece of the normalized index.
type Interval struct {
	Range  ipaddr.Range
	Labels []string
}

// Index is an immutable overlap-normalized interval index. It is safe for
// concurrent lookups.
type Index struct {
	v4 []Interval
	v6 []Interval
}

// Build normalizes entries into an Index.
func Build(entries []Entry) (*Index, error) {
	var v4, v6 []Interval
	for _, e := range entries {
		r, err := ipaddr.ParseRange(e.Prefix)
		if err != nil {
			return nil, fmt.Errorf("prefix %q: %w", e.Prefix, err)
		}
		iv := Interval{Range: r, Labels: []string{e.Label}}
		if r.Family() == ipaddr.IPv4 {
			v4 = append(v4, iv)
		} else {
			v6 = append(v6, iv)
		}
	}

	idx := &Index{}
	var err error
	if idx.v4, err = sweep(v4); err != nil {
		return nil, err
	}
	if idx.v6, err = sweep(v6); err != nil {
		return nil, err
	}
	return idx, nil
}

// sweep sorts one family's intervals and normalizes them into disjoint pieces.
// Stable sort keeps input order between identical intervals.
func sweep(in []Interval) ([]Interval, error) {
	sort.SliceStable(in, func(i, j int) bool {
		a, b := in[i].Range, in[j].Range
		if a.Start != b.Start {
			return a.Start.Less(b.Start)
		}
		return b.End.Less(a.End)
	})

	out := make([]Interval, 0, len(in))
	for _, n := range in {
		pos := find(out, n.Range.Start)
		if pos < 0 {
			at := upper(out, n.Range.Start)
			if at < len(out) && !n.Range.End.Less(out[at].Range.Start) {
				return nil, fmt.Errorf("%w: %s crosses %s", types.ErrInvariantViolation, n.Range, out[at].Range)
			}
			out = slices.Insert(out, at, Interval{Range: n.Range, Labels: slices.Clone(n.Labels)})
			continue
		}

		c := out[pos]
		if c.Range.End.Less(n.Range.End) {
			return nil, fmt.Errorf("%w: %s crosses %s", types.ErrInvariantViolation, n.Range, c.Range)
		}

		merged := append(slices.Clone(c.Labels), n.Labels...)
		sameStart := c.Range.Start == n.Range.Start
		sameEnd := c.Range.End == n.Range.End

		var pieces []Interval
		switch {
		case sameStart && sameEnd:
			pieces = []Interval{{Range: c.Range, Labels: merged}}
		case sameStart:
			after, _ := n.Range.End.Next()
			pieces = []Interval{
				{Range: n.Range, Labels: merged},
				{Range: ipaddr.Range{Start: after, End: c.Range.End}, Labels: c.Labels},
			}
		case sameEnd:
			before, _ := n.Range.Start.Prev()
			pieces = []Interval{
				{Range: ipaddr.Range{Start: c.Range.Start, End: before}, Labels: c.Labels},
				{Range: n.Range, Labels: merged},
			}
		default:
			before, _ := n.Range.Start.Prev()
			after, _ := n.Range.End.Next()
			pieces = []Interval{
				{Range: ipaddr.Range{Start: c.Range.Start, End: before}, Labels: c.Labels},
				{Range: n.Range, Labels: merged},
				{Range: ipaddr.Range{Start: after, End: c.Range.End}, Labels: c.Labels},
			}
		}
		out = slices.Replace(out, pos, pos+1, pieces...)
	}
	return out, nil
}

// find returns the position of the piece containing a, or -1.
func find(pieces []Interval, a ipaddr.Addr) int {
	i := upper(pieces, a)
	if i == 0 {
		return -1
	}
	if pieces[i-1].Range.Contains(a) {
		return i - 1
	}
	return -1
}

// upper returns the index of the first piece starting after a.
func upper(pieces []Interval, a ipaddr.Addr) int {
	return sort.Search(len(pieces), func(i int) bool {
		return a.Less(pieces[i].Range.Start)
	})
}

// Lookup returns the labels of every prefix containing a, in sweep order,
// and false on a miss. The returned slice is owned by the caller.
func (x *Index) Lookup(a ipaddr.Addr) ([]string, bool) {
	if x == nil || !a.IsValid() {
		return nil, false
	}
	pieces := x.v4
	if a.Is6() {
		pieces = x.v6
	}
	pos := find(pieces, a)
	if pos < 0 {
		return nil, false
	}
	return slices.Clone(pieces[pos].Labels), true
}

// LookupString parses s and looks it up; unparsable strings miss.
func (x *Index) LookupString(s string) ([]string, bool) {
	a, err := ipaddr.ParseAddr(s)
	if err != nil {
		return nil, false
	}
	return x.Lookup(a)
}

// Contains reports whether any prefix covers a.
func (x *Index) Contains(a ipaddr.Addr) bool {
	_, ok := x.Lookup(a)
	return ok
}

// Intervals returns a copy of the disjoint pieces of one family in address order.
func (x *Index) Intervals(f ipaddr.Family) []Interval {
	pieces := x.v4
	if f == ipaddr.IPv6 {
		pieces = x.v6
	}
	out := make([]Interval, len(pieces))
	for i, p := range pieces {
		out[i] = Interval{Range: p.Range, Labels: slices.Clone(p.Labels)}
	}
	return out
}

// Len returns the number of disjoint pieces across both families.
func (x *Index) Len() int {
	return len(x.v4) + len(x.v6)
}
