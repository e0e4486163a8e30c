package ipaddr

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/solatis/ideafilter/internal/types"
)

const errInvalidRangeFmt = "%w: invalid range %q"

// Range is a closed interval [Start, End] of same-family addresses.
// Equality is bit-exact on both endpoints.
type Range struct {
	Start Addr
	End   Addr
}

// NewRange builds a range from two addresses of the same family with start <= end.
func NewRange(start, end Addr) (Range, error) {
	c, err := start.Compare(end)
	if err != nil {
		return Range{}, err
	}
	if c > 0 {
		return Range{}, fmt.Errorf("%w: start %s after end %s", types.ErrBadAddressSyntax, start, end)
	}
	return Range{Start: start, End: end}, nil
}

// RangeFromPrefix builds the range covered by base/bits. Host bits of base
// are ignored, so "192.168.1.5/25" covers 192.168.1.0-192.168.1.127.
func RangeFromPrefix(base Addr, bits int) (Range, error) {
	if bits < 0 || bits > base.Family().Bits() {
		return Range{}, fmt.Errorf("%w: prefix length %d out of range for %s", types.ErrBadAddressSyntax, bits, base.Family())
	}
	p := netip.PrefixFrom(base.ip, bits).Masked()
	start := p.Addr()

	raw := start.AsSlice()
	hostBits := len(raw)*8 - bits
	for i := len(raw) - 1; i >= 0 && hostBits > 0; i-- {
		if hostBits >= 8 {
			raw[i] = 0xff
			hostBits -= 8
			continue
		}
		raw[i] |= byte(1<<uint(hostBits)) - 1
		hostBits = 0
	}
	end, _ := netip.AddrFromSlice(raw)
	return Range{Start: Addr{ip: start}, End: Addr{ip: end}}, nil
}

// SingleRange returns the one-address range [a, a].
func SingleRange(a Addr) Range {
	return Range{Start: a, End: a}
}

// ParseRange parses "addr", "addr/bits", "addr-addr" or "addr..addr".
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)

	if base, bits, ok := strings.Cut(s, "/"); ok {
		a, err := ParseAddr(base)
		if err != nil {
			return Range{}, fmt.Errorf(errInvalidRangeFmt, types.ErrBadAddressSyntax, s)
		}
		n, err := strconv.Atoi(bits)
		if err != nil {
			return Range{}, fmt.Errorf(errInvalidRangeFmt, types.ErrBadAddressSyntax, s)
		}
		return RangeFromPrefix(a, n)
	}

	sep := ""
	switch {
	case strings.Contains(s, ".."):
		sep = ".."
	case strings.Contains(s, "-"):
		sep = "-"
	}
	if sep != "" {
		lo, hi, _ := strings.Cut(s, sep)
		start, err := ParseAddr(lo)
		if err != nil {
			return Range{}, err
		}
		end, err := ParseAddr(hi)
		if err != nil {
			return Range{}, err
		}
		return NewRange(start, end)
	}

	a, err := ParseAddr(s)
	if err != nil {
		return Range{}, err
	}
	return SingleRange(a), nil
}

// ParseRangeFamily is ParseRange restricted to one family.
func ParseRangeFamily(s string, f Family) (Range, error) {
	r, err := ParseRange(s)
	if err != nil {
		return Range{}, err
	}
	if r.Family() != f {
		return Range{}, fmt.Errorf("%w: %q is not %s", types.ErrBadAddressSyntax, s, f)
	}
	return r, nil
}

// Family returns the family shared by both endpoints.
func (r Range) Family() Family { return r.Start.Family() }

// IsSingle reports whether the range holds exactly one address.
func (r Range) IsSingle() bool { return r.Start == r.End }

// Contains reports whether a lies within the range. Different families never match.
func (r Range) Contains(a Addr) bool {
	if a.Family() != r.Family() {
		return false
	}
	return r.Start.ip.Compare(a.ip) <= 0 && a.ip.Compare(r.End.ip) <= 0
}

// Overlaps reports whether r and o share at least one address.
func (r Range) Overlaps(o Range) bool {
	if r.Family() != o.Family() {
		return false
	}
	return r.Start.ip.Compare(o.End.ip) <= 0 && o.Start.ip.Compare(r.End.ip) <= 0
}

// String renders "start-end", or the single address for one-address ranges.
func (r Range) String() string {
	if r.IsSingle() {
		return r.Start.String()
	}
	return r.Start.String() + "-" + r.End.String()
}

// MarshalText implements encoding.TextMarshaler.
func (r Range) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
