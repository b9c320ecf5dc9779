package lid

import (
	"errors"
	"strconv"
	"strings"
	"testing"
)

const zeroAddr = "0000:0000:0000:0000:0000:0000:0000:0000"

func TestGenerateLIDRoundTrip(t *testing.T) {
	t.Parallel()

	for p := 0; p < Size; p++ {
		b, err := GenerateLID(p)
		if err != nil {
			t.Fatalf("GenerateLID(%d) error: %v", p, err)
		}
		if got := b.Count(); got != 1 {
			t.Fatalf("GenerateLID(%d) has %d bits set, want 1", p, got)
		}
		pos, ok := BitPosition(b)
		if !ok || pos != p {
			t.Fatalf("BitPosition(GenerateLID(%d)) = %d,%v", p, pos, ok)
		}
	}
}

func TestGenerateLIDWireForm(t *testing.T) {
	t.Parallel()

	b, err := GenerateLID(5)
	if err != nil {
		t.Fatalf("GenerateLID: %v", err)
	}
	s := b.String()
	if len(s) != Size {
		t.Fatalf("len = %d, want %d", len(s), Size)
	}
	if s[5] != '1' || strings.Count(s, "1") != 1 {
		t.Fatalf("unexpected wire form %q", s)
	}

	parsed, err := ParseBits(s)
	if err != nil {
		t.Fatalf("ParseBits: %v", err)
	}
	if pos, _ := BitPosition(parsed); pos != 5 {
		t.Fatalf("BitPosition = %d, want 5", pos)
	}
}

func TestGenerateLIDOutOfRange(t *testing.T) {
	t.Parallel()

	for _, p := range []int{-1, 256, 1000} {
		_, err := GenerateLID(p)
		var encErr *AddressEncodingError
		if !errors.As(err, &encErr) {
			t.Fatalf("GenerateLID(%d) err = %v, want AddressEncodingError", p, err)
		}
	}
}

func TestBitPositionEmpty(t *testing.T) {
	t.Parallel()

	pos, ok := BitPosition(Bits{})
	if ok || pos != NoPosition {
		t.Fatalf("BitPosition(empty) = %d,%v, want %d,false", pos, ok, NoPosition)
	}
}

func TestParseBitsRejectsMalformed(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"short":     strings.Repeat("0", 255),
		"long":      strings.Repeat("0", 257),
		"bad digit": strings.Repeat("0", 255) + "2",
		"empty":     "",
	}
	for name, in := range cases {
		in := in
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseBits(in)
			var encErr *AddressEncodingError
			if !errors.As(err, &encErr) {
				t.Fatalf("ParseBits err = %v, want AddressEncodingError", err)
			}
			if _, err := Addresses(in); !errors.As(err, &encErr) {
				t.Fatalf("Addresses err = %v, want AddressEncodingError", err)
			}
		})
	}
}

func TestDeriveAddressesKnownPositions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pos      int
		src, dst string
	}{
		{pos: 5, src: zeroAddr, dst: "0000:0000:0000:0000:0000:0000:0000:0004"},
		{pos: 0, src: zeroAddr, dst: "0000:0000:0000:0000:0000:0000:0000:0080"},
		{pos: 7, src: zeroAddr, dst: "0000:0000:0000:0000:0000:0000:0000:0001"},
		{pos: 8, src: zeroAddr, dst: "0000:0000:0000:0000:0000:0000:0000:8000"},
		{pos: 127, src: zeroAddr, dst: "0100:0000:0000:0000:0000:0000:0000:0000"},
		{pos: 128, src: "0000:0000:0000:0000:0000:0000:0000:0080", dst: zeroAddr},
		{pos: 255, src: "0100:0000:0000:0000:0000:0000:0000:0000", dst: zeroAddr},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(strconv.Itoa(tc.pos), func(t *testing.T) {
			t.Parallel()
			b, err := GenerateLID(tc.pos)
			if err != nil {
				t.Fatalf("GenerateLID: %v", err)
			}
			got := DeriveAddresses(b)
			if got.Source != tc.src || got.Destination != tc.dst {
				t.Fatalf("DeriveAddresses(%d) = %+v, want src=%s dst=%s", tc.pos, got, tc.src, tc.dst)
			}
		})
	}
}

// stringTransform is the character-level rendition of the wire transform:
// reverse, split, reverse each byte, parse as binary.
func stringTransform(t *testing.T, wire string) AddressPair {
	t.Helper()

	r := []byte(wire)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	half := func(h []byte) string {
		groups := make([]string, 0, 8)
		var raw [16]byte
		for i := 0; i < 16; i++ {
			chunk := []byte(string(h[i*8 : i*8+8]))
			for a, b := 0, 7; a < b; a, b = a+1, b-1 {
				chunk[a], chunk[b] = chunk[b], chunk[a]
			}
			v, err := strconv.ParseUint(string(chunk), 2, 8)
			if err != nil {
				t.Fatalf("parse byte: %v", err)
			}
			raw[i] = byte(v)
		}
		for g := 0; g < 8; g++ {
			groups = append(groups, strconv.FormatUint(uint64(raw[2*g])<<8|uint64(raw[2*g+1]), 16))
		}
		for i, g := range groups {
			groups[i] = strings.Repeat("0", 4-len(g)) + g
		}
		return strings.Join(groups, ":")
	}
	return AddressPair{Source: half(r[:128]), Destination: half(r[128:])}
}

func TestDeriveAddressesMatchesStringTransform(t *testing.T) {
	t.Parallel()

	for p := 0; p < Size; p++ {
		b, _ := GenerateLID(p)
		want := stringTransform(t, b.String())
		got := DeriveAddresses(b)
		if got != want {
			t.Fatalf("position %d: got %+v, want %+v", p, got, want)
		}
	}

	fid := Bits{}.Set(3).Set(77).Set(130).Set(254)
	if got, want := DeriveAddresses(fid), stringTransform(t, fid.String()); got != want {
		t.Fatalf("multi-bit: got %+v, want %+v", got, want)
	}
}

func TestDeriveAddressesDeterministic(t *testing.T) {
	t.Parallel()

	b, _ := GenerateLID(42)
	first := DeriveAddresses(b)
	for i := 0; i < 10; i++ {
		if got := DeriveAddresses(b); got != first {
			t.Fatalf("iteration %d: %+v != %+v", i, got, first)
		}
	}
	viaWire, err := Addresses(b.String())
	if err != nil {
		t.Fatalf("Addresses: %v", err)
	}
	if viaWire != first {
		t.Fatalf("Addresses(wire) = %+v, want %+v", viaWire, first)
	}
}

func TestBitsSetOperations(t *testing.T) {
	t.Parallel()

	a := Bits{}.Set(1).Set(200)
	b := Bits{}.Set(1).Set(9)
	u := a.Or(b)
	if u.Count() != 3 {
		t.Fatalf("Count = %d, want 3", u.Count())
	}
	got := u.Positions()
	want := []int{1, 9, 200}
	if len(got) != len(want) {
		t.Fatalf("Positions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Positions = %v, want %v", got, want)
		}
	}
	if !(Bits{}).IsZero() || u.IsZero() {
		t.Fatalf("IsZero mismatch")
	}
	if u.Set(-3) != u || u.Set(256) != u {
		t.Fatalf("out of range Set mutated the set")
	}
}
