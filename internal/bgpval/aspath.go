package bgpval

import (
	"encoding/binary"
	"fmt"

	"github.com/route-beacon/viewstore/internal/viewerrs"
)

// SegmentKind distinguishes an AS-path segment's shape. AS_SEQUENCE
// segments from the wire are expanded into a flat run of Asn segments
// (one per ASN in the sequence) so origin-AS lookup never needs to
// inspect sequence contents. Set/ConfedSet/ConfedSeq segments are kept
// as a single packed entry holding their ordered ASN list.
type SegmentKind uint8

const (
	SegAsn SegmentKind = iota
	SegSet
	SegConfedSet
	SegConfedSeq
)

const segHeaderSize = 3 // 1 byte kind + 2 byte count (Asn segments: count implicitly 1, omitted on the wire but kept for uniform walking)

// ASPath stores its segments packed back-to-back in a single byte buffer,
// allowing the whole path to live in one allocation. lastOff caches the
// offset of the final segment so OriginAS is O(1) instead of a full walk.
type ASPath struct {
	buf    []byte
	lastOff int
}

// Origin is the result of OriginAS: either a single ASN (the common case,
// an Asn segment) or a whole set (the path ends in a Set/ConfedSet/ConfedSeq
// segment, making the origin ambiguous by itself).
type Origin struct {
	IsSet bool
	Asn   uint32
	Set   []uint32
}

// ASPathBuilder appends segments in order and produces an immutable ASPath.
type ASPathBuilder struct {
	buf []byte
}

// AppendAsn appends a single flattened AS_SEQUENCE entry.
func (b *ASPathBuilder) AppendAsn(asn uint32) {
	off := len(b.buf)
	b.buf = append(b.buf, byte(SegAsn), 0, 0)
	binary.BigEndian.PutUint16(b.buf[off+1:off+3], 1)
	var a [4]byte
	binary.BigEndian.PutUint32(a[:], asn)
	b.buf = append(b.buf, a[:]...)
}

// AppendSet appends a Set/ConfedSet/ConfedSeq segment holding an ordered
// list of ASNs.
func (b *ASPathBuilder) AppendSet(kind SegmentKind, asns []uint32) {
	off := len(b.buf)
	b.buf = append(b.buf, byte(kind), 0, 0)
	binary.BigEndian.PutUint16(b.buf[off+1:off+3], uint16(len(asns)))
	for _, asn := range asns {
		var a [4]byte
		binary.BigEndian.PutUint32(a[:], asn)
		b.buf = append(b.buf, a[:]...)
	}
}

// Build finalizes the path, caching the last segment's offset.
func (b *ASPathBuilder) Build() (ASPath, error) {
	if len(b.buf) == 0 {
		return ASPath{buf: nil, lastOff: -1}, nil
	}
	lastOff, err := lastSegmentOffset(b.buf)
	if err != nil {
		return ASPath{}, err
	}
	return ASPath{buf: b.buf, lastOff: lastOff}, nil
}

func lastSegmentOffset(buf []byte) (int, error) {
	off := 0
	last := 0
	for off < len(buf) {
		if off+segHeaderSize > len(buf) {
			return 0, fmt.Errorf("bgpval: %w: truncated as-path segment header", viewerrs.ErrMalformed)
		}
		count := int(binary.BigEndian.Uint16(buf[off+1 : off+3]))
		segLen := segHeaderSize + count*4
		if off+segLen > len(buf) {
			return 0, fmt.Errorf("bgpval: %w: truncated as-path segment body", viewerrs.ErrMalformed)
		}
		last = off
		off += segLen
	}
	return last, nil
}

// Len reports the number of segments in the path.
func (p ASPath) Len() int {
	n := 0
	for it := p.Iterate(); it.Next(); {
		n++
	}
	return n
}

// Empty reports whether the path has no segments.
func (p ASPath) Empty() bool { return len(p.buf) == 0 }

// SegmentIter walks an ASPath's packed buffer without allocating per segment.
type SegmentIter struct {
	buf  []byte
	off  int
	kind SegmentKind
	asns []uint32
}

// Iterate returns a fresh iterator positioned before the first segment.
func (p ASPath) Iterate() *SegmentIter {
	return &SegmentIter{buf: p.buf, off: 0}
}

// Next advances to the next segment, returning false when exhausted.
func (it *SegmentIter) Next() bool {
	if it.off >= len(it.buf) {
		return false
	}
	kind := SegmentKind(it.buf[it.off])
	count := int(binary.BigEndian.Uint16(it.buf[it.off+1 : it.off+3]))
	base := it.off + segHeaderSize
	asns := make([]uint32, count)
	for i := 0; i < count; i++ {
		asns[i] = binary.BigEndian.Uint32(it.buf[base+i*4 : base+i*4+4])
	}
	it.kind = kind
	it.asns = asns
	it.off = base + count*4
	return true
}

// Kind returns the current segment's kind.
func (it *SegmentIter) Kind() SegmentKind { return it.kind }

// ASNs returns the current segment's ASN list (length 1 for an Asn segment).
func (it *SegmentIter) ASNs() []uint32 { return it.asns }

// OriginAS returns the origin AS per spec: the ASN of the last segment if
// it is an Asn segment, otherwise the last segment's whole set. Returns
// false if the path has no segments.
func (p ASPath) OriginAS() (Origin, bool) {
	if len(p.buf) == 0 || p.lastOff < 0 {
		return Origin{}, false
	}
	kind := SegmentKind(p.buf[p.lastOff])
	count := int(binary.BigEndian.Uint16(p.buf[p.lastOff+1 : p.lastOff+3]))
	base := p.lastOff + segHeaderSize
	switch kind {
	case SegAsn:
		asn := binary.BigEndian.Uint32(p.buf[base : base+4])
		return Origin{Asn: asn}, true
	default:
		asns := make([]uint32, count)
		for i := 0; i < count; i++ {
			asns[i] = binary.BigEndian.Uint32(p.buf[base+i*4 : base+i*4+4])
		}
		return Origin{IsSet: true, Set: asns}, true
	}
}
