// Package ipaddr models IPv4 and IPv6 addresses and closed address ranges.
//
// Addresses are tagged by family and ordered only within a family. Rendering
// is canonical: dotted decimal for IPv4 and the fully zero-padded eight-group
// form for IPv6, so rendered strings can be compared exactly.
package ipaddr

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/solatis/ideafilter/internal/types"
)

const errInvalidAddrFmt = "%w: %q"

// Family is the address family tag.
type Family uint8

const (
	// IPv4 is the 32-bit family.
	IPv4 Family = 4
	// IPv6 is the 128-bit family.
	IPv6 Family = 6
)

// Bits returns the address width of the family.
func (f Family) Bits() int {
	if f == IPv4 {
		return 32
	}
	return 128
}

// String returns "IPv4" or "IPv6".
func (f Family) String() string {
	if f == IPv4 {
		return "IPv4"
	}
	return "IPv6"
}

// Addr is a single IPv4 or IPv6 address. The zero Addr is invalid.
type Addr struct {
	ip netip.Addr
}

// ParseAddr parses a canonical IPv4 dotted-quad or an IPv6 colon form
// (full or compressed). Zones and IPv4-in-IPv6 dotted tails are rejected.
func ParseAddr(s string) (Addr, error) {
	s = strings.TrimSpace(s)
	ip, err := netip.ParseAddr(s)
	if err != nil || ip.Zone() != "" {
		return Addr{}, fmt.Errorf(errInvalidAddrFmt, types.ErrBadAddressSyntax, s)
	}
	if ip.Is6() && strings.Contains(s, ".") {
		return Addr{}, fmt.Errorf(errInvalidAddrFmt, types.ErrBadAddressSyntax, s)
	}
	return Addr{ip: ip}, nil
}

// ParseFamily parses s and requires the result to belong to family f.
func ParseFamily(s string, f Family) (Addr, error) {
	a, err := ParseAddr(s)
	if err != nil {
		return Addr{}, err
	}
	if a.Family() != f {
		return Addr{}, fmt.Errorf("%w: %q is not %s", types.ErrBadAddressSyntax, s, f)
	}
	return a, nil
}

// AddrFromBytes builds an address from 4 (IPv4) or 16 (IPv6) raw bytes.
func AddrFromBytes(b []byte) (Addr, error) {
	if len(b) != 4 && len(b) != 16 {
		return Addr{}, fmt.Errorf("%w: length %d", types.ErrBadAddressBytes, len(b))
	}
	ip, _ := netip.AddrFromSlice(b)
	return Addr{ip: ip}, nil
}

// MustParseAddr is ParseAddr for constants in tests and tables; it panics on error.
func MustParseAddr(s string) Addr {
	a, err := ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsValid reports whether a was produced by a parser.
func (a Addr) IsValid() bool { return a.ip.IsValid() }

// Family returns the address family.
func (a Addr) Family() Family {
	if a.ip.Is4() {
		return IPv4
	}
	return IPv6
}

// Is4 reports whether a is an IPv4 address.
func (a Addr) Is4() bool { return a.ip.Is4() }

// Is6 reports whether a is an IPv6 address.
func (a Addr) Is6() bool { return a.ip.Is6() }

// Bytes returns the 4 or 16 byte representation.
func (a Addr) Bytes() []byte { return a.ip.AsSlice() }

// String renders the canonical form.
func (a Addr) String() string {
	if !a.ip.IsValid() {
		return "invalid"
	}
	if a.ip.Is4() {
		return a.ip.String()
	}
	return a.ip.StringExpanded()
}

// MarshalText implements encoding.TextMarshaler so addresses serialise as strings.
func (a Addr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Compare orders a and b within a family (-1, 0, 1). Addresses of
// different families are not ordered and yield ErrFamilyMismatch.
func (a Addr) Compare(b Addr) (int, error) {
	if a.Family() != b.Family() {
		return 0, fmt.Errorf("%w: %s vs %s", types.ErrFamilyMismatch, a, b)
	}
	return a.ip.Compare(b.ip), nil
}

// Less reports a < b; addresses of different families are ordered by family.
func (a Addr) Less(b Addr) bool {
	return a.ip.Less(b.ip)
}

// Next returns the following address and false when a is the family maximum.
func (a Addr) Next() (Addr, bool) {
	n := a.ip.Next()
	if !n.IsValid() {
		return Addr{}, false
	}
	return Addr{ip: n}, true
}

// Prev returns the preceding address and false when a is the family minimum.
func (a Addr) Prev() (Addr, bool) {
	p := a.ip.Prev()
	if !p.IsValid() {
		return Addr{}, false
	}
	return Addr{ip: p}, true
}
