package bgpval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/route-beacon/viewstore/internal/viewerrs"
)

// Prefix is an address plus a mask length. Invariant: host bits below
// MaskLen are zero; callers must call Masked() before hashing or comparing
// a prefix built from untrusted input.
type Prefix struct {
	Address Address
	MaskLen uint8
}

// ParsePrefix parses CIDR notation, e.g. "10.0.0.0/24" or "2001:db8::/32".
// The resulting prefix is masked (host bits zeroed).
func ParsePrefix(s string) (Prefix, error) {
	idx := strings.IndexByte(s, '/')
	if idx < 0 {
		return Prefix{}, fmt.Errorf("bgpval: %w: missing mask length in %q", viewerrs.ErrMalformed, s)
	}
	addr, err := ParseAddress(s[:idx])
	if err != nil {
		return Prefix{}, err
	}
	maskLen, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return Prefix{}, fmt.Errorf("bgpval: %w: invalid mask length in %q", viewerrs.ErrMalformed, s)
	}
	maxBits := addr.width() * 8
	if maskLen < 0 || maskLen > maxBits {
		return Prefix{}, fmt.Errorf("bgpval: %w: mask length %d out of range for %q", viewerrs.ErrMalformed, maskLen, s)
	}
	return Prefix{Address: addr.MaskToLen(maskLen), MaskLen: uint8(maskLen)}, nil
}

// Masked returns the prefix with host bits zeroed.
func (p Prefix) Masked() Prefix {
	return Prefix{Address: p.Address.MaskToLen(int(p.MaskLen)), MaskLen: p.MaskLen}
}

// String formats the prefix in CIDR notation.
func (p Prefix) String() string {
	return fmt.Sprintf("%s/%d", p.Address.String(), p.MaskLen)
}

// Equal reports whether two (already-masked) prefixes are identical.
func (p Prefix) Equal(o Prefix) bool {
	return p.MaskLen == o.MaskLen && p.Address.Equal(o.Address)
}

// Hash returns a well-mixed hash for map-key use, mixing the mask length
// into the address hash so /24 and /25 of the same base address differ.
func (p Prefix) Hash() uint64 {
	return p.Address.Hash()*31 + uint64(p.MaskLen)
}

// Contains reports whether p1 contains p2: same family, p1.MaskLen <=
// p2.MaskLen, and p2's address masked to p1.MaskLen equals p1's address.
func (p1 Prefix) Contains(p2 Prefix) bool {
	if p1.Address.Family() != p2.Address.Family() {
		return false
	}
	if p1.MaskLen > p2.MaskLen {
		return false
	}
	return p1.Address.Equal(p2.Address.MaskToLen(int(p1.MaskLen)))
}
