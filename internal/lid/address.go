package lid

import (
	"fmt"
	"strings"
)

// AddressPair holds the IPv6 source and destination addresses that encode a
// LID in an arbitrary bitmask rule. Each address doubles as its own mask.
type AddressPair struct {
	Source      string
	Destination string
}

// DeriveAddresses turns b into the address pair installed on switches.
//
// The wire transform peers expect is: reverse the 256 character string,
// take the first 128 characters as the source ("down") half and the last
// 128 as the destination ("up") half, then read every 8 character group
// with its characters reversed as one address byte. In bit terms, bit k
// (LSB first) of source byte i is bit 255-8i-k of the LID and bit k of
// destination byte i is bit 127-8i-k.
func DeriveAddresses(b Bits) AddressPair {
	var down, up [16]byte
	for i := 0; i < 16; i++ {
		for k := 0; k < 8; k++ {
			if b.Has(Size - 1 - 8*i - k) {
				down[i] |= 1 << k
			}
			if b.Has(halfBits - 1 - 8*i - k) {
				up[i] |= 1 << k
			}
		}
	}
	return AddressPair{
		Source:      fullForm(down),
		Destination: fullForm(up),
	}
}

// Addresses parses a wire-form LID and derives its address pair. Malformed
// input yields an *AddressEncodingError.
func Addresses(wire string) (AddressPair, error) {
	b, err := ParseBits(wire)
	if err != nil {
		return AddressPair{}, err
	}
	return DeriveAddresses(b), nil
}

// fullForm renders 16 bytes as eight colon separated groups of four
// lowercase hex digits with no "::" abbreviation.
func fullForm(raw [16]byte) string {
	groups := make([]string, 8)
	for g := 0; g < 8; g++ {
		groups[g] = fmt.Sprintf("%04x", uint16(raw[2*g])<<8|uint16(raw[2*g+1]))
	}
	return strings.Join(groups, ":")
}
