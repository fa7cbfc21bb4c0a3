// Package bgpval holds the immutable, byte-exact value types shared by the
// view-store subsystem: addresses, prefixes, and AS paths.
package bgpval

import (
	"fmt"
	"net"

	"github.com/cespare/xxhash/v2"
	"github.com/route-beacon/viewstore/internal/viewerrs"
)

// Family identifies which address family a value belongs to.
type Family uint8

const (
	FamilyV4 Family = 4
	FamilyV6 Family = 6
)

// Address is a tagged union of an IPv4 or IPv6 address, stored in network
// byte order. The zero value is not a valid address.
type Address struct {
	family Family
	bytes  [16]byte
}

// ParseAddress parses the text form of an IPv4 or IPv6 address.
func ParseAddress(s string) (Address, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return Address{}, fmt.Errorf("bgpval: %w: invalid address %q", viewerrs.ErrMalformed, s)
	}
	if v4 := ip.To4(); v4 != nil {
		var a Address
		a.family = FamilyV4
		copy(a.bytes[:4], v4)
		return a, nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return Address{}, fmt.Errorf("bgpval: %w: invalid address %q", viewerrs.ErrMalformed, s)
	}
	var a Address
	a.family = FamilyV6
	copy(a.bytes[:], v6)
	return a, nil
}

// AddressFromBytes builds an Address from raw network-order bytes: 4 bytes
// for IPv4, 16 for IPv6.
func AddressFromBytes(family Family, b []byte) (Address, error) {
	var a Address
	a.family = family
	switch family {
	case FamilyV4:
		if len(b) != 4 {
			return Address{}, fmt.Errorf("bgpval: %w: want 4 bytes for v4, got %d", viewerrs.ErrMalformed, len(b))
		}
	case FamilyV6:
		if len(b) != 16 {
			return Address{}, fmt.Errorf("bgpval: %w: want 16 bytes for v6, got %d", viewerrs.ErrMalformed, len(b))
		}
	default:
		return Address{}, fmt.Errorf("bgpval: %w: unknown address family %d", viewerrs.ErrMalformed, family)
	}
	copy(a.bytes[:], b)
	return a, nil
}

// Family returns the address family.
func (a Address) Family() Family { return a.family }

// width returns the number of significant bytes for this address's family.
func (a Address) width() int {
	if a.family == FamilyV4 {
		return 4
	}
	return 16
}

// Bytes returns the network-order bytes for this address (4 or 16, per family).
func (a Address) Bytes() []byte {
	return append([]byte(nil), a.bytes[:a.width()]...)
}

// String formats the address losslessly in its canonical text form.
func (a Address) String() string {
	return net.IP(a.bytes[:a.width()]).String()
}

// Equal reports whether two addresses are the same family and value.
func (a Address) Equal(b Address) bool {
	return a.family == b.family && a.bytes == b.bytes
}

// Compare defines a total order: v4 before v6, then byte-lexicographic.
func (a Address) Compare(b Address) int {
	if a.family != b.family {
		if a.family < b.family {
			return -1
		}
		return 1
	}
	w := a.width()
	for i := 0; i < w; i++ {
		if a.bytes[i] != b.bytes[i] {
			if a.bytes[i] < b.bytes[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Hash returns a well-mixed hash of the address, suitable for map keys
// beyond Go's builtin map (e.g. peer-signature hashing).
func (a Address) Hash() uint64 {
	var buf [17]byte
	buf[0] = byte(a.family)
	copy(buf[1:], a.bytes[:a.width()])
	return xxhash.Sum64(buf[:1+a.width()])
}

// MaskToLen zeroes all bits with index >= length, counting MSB-first, and
// returns the masked address. length must not exceed the family's bit
// width (32 for v4, 128 for v6); callers that violate this invariant have
// a programming error and MaskToLen panics.
func (a Address) MaskToLen(length int) Address {
	maxBits := a.width() * 8
	if length < 0 || length > maxBits {
		panic(fmt.Sprintf("bgpval: mask length %d exceeds family width %d", length, maxBits))
	}
	out := a
	fullBytes := length / 8
	remBits := length % 8
	for i := fullBytes; i < a.width(); i++ {
		if i == fullBytes && remBits > 0 {
			mask := byte(0xFF << (8 - remBits))
			out.bytes[i] &= mask
			continue
		}
		out.bytes[i] = 0
	}
	return out
}
