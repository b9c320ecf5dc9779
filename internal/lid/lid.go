// Package lid encodes link and forwarding identifiers.
//
// A LID is a 256-bit vector with a single set bit. A FID is the union of
// several LIDs. Both travel on the TM-SDN wire as 256 character strings of
// '0' and '1' where character i describes bit i.
package lid

import (
	"fmt"
	"math/bits"
	"strings"
)

const (
	// Size is the number of bit positions in a LID or FID.
	Size = 256

	// NoPosition is returned by position lookups when no bit is set.
	NoPosition = -1

	halfBits = Size / 2
)

// AddressEncodingError reports a LID or FID that could not be turned into
// bits or addresses.
type AddressEncodingError struct {
	Input  string
	Reason string
}

func (e *AddressEncodingError) Error() string {
	if e.Input == "" {
		return "address encoding: " + e.Reason
	}
	in := e.Input
	if len(in) > 32 {
		in = in[:32] + "..."
	}
	return fmt.Sprintf("address encoding %q: %s", in, e.Reason)
}

// Bits is a fixed-size 256-bit set. Bit i lives in byte i/8 under mask
// 1<<(i%8). The zero value is the empty set.
type Bits [Size / 8]byte

// Set returns a copy of b with bit pos set. Out-of-range positions are ignored.
func (b Bits) Set(pos int) Bits {
	if pos < 0 || pos >= Size {
		return b
	}
	b[pos/8] |= 1 << (pos % 8)
	return b
}

// Has reports whether bit pos is set.
func (b Bits) Has(pos int) bool {
	if pos < 0 || pos >= Size {
		return false
	}
	return b[pos/8]&(1<<(pos%8)) != 0
}

// Or returns the union of b and o.
func (b Bits) Or(o Bits) Bits {
	for i := range b {
		b[i] |= o[i]
	}
	return b
}

// Count returns the number of set bits.
func (b Bits) Count() int {
	n := 0
	for _, v := range b {
		n += bits.OnesCount8(v)
	}
	return n
}

// IsZero reports whether no bit is set.
func (b Bits) IsZero() bool {
	return b == Bits{}
}

// Positions lists the set bits in ascending order.
func (b Bits) Positions() []int {
	out := make([]int, 0, b.Count())
	for i := 0; i < Size; i++ {
		if b.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

// String renders the 256 character wire form.
func (b Bits) String() string {
	var sb strings.Builder
	sb.Grow(Size)
	for i := 0; i < Size; i++ {
		if b.Has(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// ParseBits parses the 256 character wire form.
func ParseBits(s string) (Bits, error) {
	var b Bits
	if len(s) != Size {
		return b, &AddressEncodingError{Input: s, Reason: fmt.Sprintf("bit length %d, want %d", len(s), Size)}
	}
	for i := 0; i < Size; i++ {
		switch s[i] {
		case '0':
		case '1':
			b = b.Set(i)
		default:
			return Bits{}, &AddressEncodingError{Input: s, Reason: fmt.Sprintf("invalid bit %q at %d", s[i], i)}
		}
	}
	return b, nil
}

// GenerateLID returns the LID with only bit pos set.
func GenerateLID(pos int) (Bits, error) {
	if pos < 0 || pos >= Size {
		return Bits{}, &AddressEncodingError{Reason: fmt.Sprintf("bit position %d outside [0,%d]", pos, Size-1)}
	}
	return Bits{}.Set(pos), nil
}

// BitPosition returns the lowest set bit of b, or NoPosition and false when
// b is empty.
func BitPosition(b Bits) (int, bool) {
	for i, v := range b {
		if v != 0 {
			return i*8 + bits.TrailingZeros8(v), true
		}
	}
	return NoPosition, false
}
