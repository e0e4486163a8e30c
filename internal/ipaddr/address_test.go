package ipaddr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/ideafilter/internal/types"
)

func TestParseAddr(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		family  Family
		wantErr error
	}{
		{name: "ipv4", input: "192.168.1.5", want: "192.168.1.5", family: IPv4},
		{name: "ipv4 zero", input: "0.0.0.0", want: "0.0.0.0", family: IPv4},
		{name: "ipv6 compressed", input: "2001:db8::1", want: "2001:0db8:0000:0000:0000:0000:0000:0001", family: IPv6},
		{name: "ipv6 full", input: "2001:0db8:0000:0000:0000:0000:0000:0001", want: "2001:0db8:0000:0000:0000:0000:0000:0001", family: IPv6},
		{name: "ipv6 loopback", input: "::1", want: "0000:0000:0000:0000:0000:0000:0000:0001", family: IPv6},
		{name: "octet overflow", input: "256.1.1.1", wantErr: types.ErrBadAddressSyntax},
		{name: "three octets", input: "1.2.3", wantErr: types.ErrBadAddressSyntax},
		{name: "zone rejected", input: "fe80::1%eth0", wantErr: types.ErrBadAddressSyntax},
		{name: "embedded ipv4 rejected", input: "::ffff:1.2.3.4", wantErr: types.ErrBadAddressSyntax},
		{name: "garbage", input: "hello", wantErr: types.ErrBadAddressSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseAddr(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseAddr(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddr(%q) unexpected error: %v", tt.input, err)
			}
			if got := a.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if a.Family() != tt.family {
				t.Errorf("Family() = %v, want %v", a.Family(), tt.family)
			}
		})
	}
}

func TestAddrFromBytes(t *testing.T) {
	a, err := AddrFromBytes([]byte{10, 0, 0, 1})
	if err != nil {
		t.Fatalf("AddrFromBytes: %v", err)
	}
	if a.String() != "10.0.0.1" || !a.Is4() {
		t.Errorf("got %s", a)
	}

	b := make([]byte, 16)
	b[15] = 1
	a, err = AddrFromBytes(b)
	if err != nil {
		t.Fatalf("AddrFromBytes: %v", err)
	}
	if !a.Is6() {
		t.Errorf("expected IPv6 address, got %s", a)
	}

	if _, err := AddrFromBytes([]byte{1, 2, 3}); !errors.Is(err, types.ErrBadAddressBytes) {
		t.Errorf("expected ErrBadAddressBytes, got %v", err)
	}
}

func TestCompare(t *testing.T) {
	a := MustParseAddr("10.0.0.1")
	b := MustParseAddr("10.0.0.2")
	c, err := a.Compare(b)
	if err != nil || c != -1 {
		t.Fatalf("Compare = %d, %v; want -1, nil", c, err)
	}
	c, err = b.Compare(a)
	if err != nil || c != 1 {
		t.Fatalf("Compare = %d, %v; want 1, nil", c, err)
	}
	if _, err := a.Compare(MustParseAddr("::1")); !errors.Is(err, types.ErrFamilyMismatch) {
		t.Fatalf("cross-family Compare error = %v, want ErrFamilyMismatch", err)
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		input string
		start string
		end   string
		err   bool
	}{
		{input: "192.168.1.5/25", start: "192.168.1.0", end: "192.168.1.127"},
		{input: "192.168.1.130/25", start: "192.168.1.128", end: "192.168.1.255"},
		{input: "255.255.255.255/2", start: "192.0.0.0", end: "255.255.255.255"},
		{input: "0.0.0.0/0", start: "0.0.0.0", end: "255.255.255.255"},
		{input: "10.0.0.1/32", start: "10.0.0.1", end: "10.0.0.1"},
		{input: "10.0.0.1-10.0.0.9", start: "10.0.0.1", end: "10.0.0.9"},
		{input: "10.0.0.1..10.0.0.9", start: "10.0.0.1", end: "10.0.0.9"},
		{input: "10.0.0.7", start: "10.0.0.7", end: "10.0.0.7"},
		{input: "2001:db8::/126", start: "2001:0db8:0000:0000:0000:0000:0000:0000", end: "2001:0db8:0000:0000:0000:0000:0000:0003"},
		{input: "10.0.0.9-10.0.0.1", err: true},
		{input: "10.0.0.0/33", err: true},
		{input: "10.0.0.0/-1", err: true},
		{input: "10.0.0.1-::1", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			r, err := ParseRange(tt.input)
			if tt.err {
				if err == nil {
					t.Fatalf("ParseRange(%q) expected error, got %v", tt.input, r)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRange(%q): %v", tt.input, err)
			}
			if r.Start.String() != tt.start || r.End.String() != tt.end {
				t.Errorf("ParseRange(%q) = [%s, %s], want [%s, %s]", tt.input, r.Start, r.End, tt.start, tt.end)
			}
		})
	}
}

func TestRangeContainsOverlaps(t *testing.T) {
	r, _ := ParseRange("192.168.1.0/24")
	if !r.Contains(MustParseAddr("192.168.1.200")) {
		t.Error("expected 192.168.1.200 in range")
	}
	if r.Contains(MustParseAddr("192.168.2.0")) {
		t.Error("unexpected 192.168.2.0 in range")
	}
	if r.Contains(MustParseAddr("::1")) {
		t.Error("IPv6 address must not be contained in IPv4 range")
	}

	o, _ := ParseRange("192.168.1.128-192.168.3.0")
	if !r.Overlaps(o) || !o.Overlaps(r) {
		t.Error("expected overlap")
	}
	d, _ := ParseRange("10.0.0.0/8")
	if r.Overlaps(d) {
		t.Error("unexpected overlap")
	}

	same, _ := ParseRange("192.168.1.77/24")
	if r != same {
		t.Errorf("prefix ranges with identical endpoints must be equal: %v vs %v", r, same)
	}
}

// Property: canonical IPv4 strings survive parse and render unchanged.
func TestIPv4RoundTrip_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("render(parse(s)) == s", prop.ForAll(
		func(a, b, c, d uint8) bool {
			s := fmt.Sprintf("%d.%d.%d.%d", a, b, c, d)
			addr, err := ParseAddr(s)
			return err == nil && addr.String() == s
		},
		gen.UInt8(), gen.UInt8(), gen.UInt8(), gen.UInt8(),
	))

	properties.TestingRun(t)
}

// Property: every IPv6 address survives render and parse.
func TestIPv6RoundTrip_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("parse(render(x)) == x", prop.ForAll(
		func(raw []byte) bool {
			b := make([]byte, 16)
			copy(b, raw)
			x, err := AddrFromBytes(b)
			if err != nil {
				return false
			}
			y, err := ParseAddr(x.String())
			return err == nil && x == y
		},
		gen.SliceOfN(16, gen.UInt8()),
	))

	properties.TestingRun(t)
}
