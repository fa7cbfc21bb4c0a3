package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/route-beacon/viewstore/internal/bgpval"
	"github.com/route-beacon/viewstore/internal/peersign"
	"github.com/route-beacon/viewstore/internal/view"
	"github.com/route-beacon/viewstore/internal/viewerrs"
)

// EncodeView serializes v into the §4.H layout: bgp-time, wall-created
// sec/usec, the peers block (resolved against registry), the v4 and v6
// prefix blocks, and a final zero-length sentinel frame. Mirrors
// bgpwatcher_view_send's field order.
func EncodeView(v *view.View, registry *peersign.Registry) ([]byte, error) {
	var buf bytes.Buffer

	writeU32(&buf, v.BGPTime())
	sec, usec := v.WallCreated()
	writeU32(&buf, sec)
	writeU32(&buf, usec)

	var peerRows []PeerRow
	v.PeerIter(func(id peersign.ID, _ view.PeerInfo) bool {
		if sig, ok := registry.GetByID(id); ok {
			peerRows = append(peerRows, PeerRow{ID: uint16(id), Collector: sig.Collector, PeerIP: sig.PeerIP})
		}
		return true
	})
	if err := encodePeerBlock(&buf, peerRows); err != nil {
		return nil, err
	}

	encodeFamily := func(iter func(func(bgpval.Prefix) bool), count int) {
		writeU32(&buf, uint32(count))

		iter(func(pfx bgpval.Prefix) bool {
			buf.Write(pfx.Address.Bytes())
			buf.WriteByte(pfx.MaskLen)

			var peers []struct {
				id  peersign.ID
				asn uint32
			}
			v.PfxPeerIter(pfx, func(id peersign.ID, info view.PfxPeerInfo) bool {
				peers = append(peers, struct {
					id  peersign.ID
					asn uint32
				}{id, info.OriginASN})
				return true
			})

			var peerCntBuf [2]byte
			binary.BigEndian.PutUint16(peerCntBuf[:], uint16(len(peers)))
			buf.Write(peerCntBuf[:])

			for _, p := range peers {
				var idBuf [2]byte
				binary.BigEndian.PutUint16(idBuf[:], uint16(p.id))
				buf.Write(idBuf[:])
				var asnBuf [4]byte
				binary.BigEndian.PutUint32(asnBuf[:], p.asn)
				buf.Write(asnBuf[:])
			}
			return true
		})
	}

	encodeFamily(v.V4PfxIter, v.V4PfxCount())
	encodeFamily(v.V6PfxIter, v.V6PfxCount())

	// End-of-view sentinel: a zero-length frame, mirroring the original's
	// trailing empty zmq_send.
	writeU32(&buf, 0)

	return buf.Bytes(), nil
}

// DecodeView parses a buffer produced by EncodeView back into v (which
// must be empty or freshly cleared). Per §4.H, decoding MUST reconstruct
// the peer-signature registry via registry.Set (not SetAndGet) so that
// ids match the sender; a conflicting id surfaces viewerrs.ErrIDConflict.
func DecodeView(data []byte, v *view.View, registry *peersign.Registry) error {
	r := bytes.NewReader(data)

	bgpTime, err := readU32(r)
	if err != nil {
		return err
	}
	wallSec, err := readU32(r)
	if err != nil {
		return err
	}
	wallUsec, err := readU32(r)
	if err != nil {
		return err
	}
	v.SetCreated(bgpTime, wallSec, wallUsec)

	peerRows, err := decodePeerBlock(r)
	if err != nil {
		return err
	}
	for _, row := range peerRows {
		sig := peersign.Signature{Collector: row.Collector, PeerIP: row.PeerIP}
		if err := registry.Set(peersign.ID(row.ID), sig); err != nil {
			return fmt.Errorf("wire: decoding view peers block: %w", err)
		}
	}

	if err := decodeFamily(r, v, bgpval.FamilyV4); err != nil {
		return err
	}
	if err := decodeFamily(r, v, bgpval.FamilyV6); err != nil {
		return err
	}

	sentinel, err := readU32(r)
	if err != nil {
		return err
	}
	if sentinel != 0 {
		return fmt.Errorf("wire: %w: expected zero-length end-of-view sentinel, got %d", viewerrs.ErrMalformed, sentinel)
	}

	return nil
}

func decodeFamily(r *bytes.Reader, v *view.View, family bgpval.Family) error {
	count, err := readU32(r)
	if err != nil {
		return err
	}

	width := 4
	if family == bgpval.FamilyV6 {
		width = 16
	}

	for i := uint32(0); i < count; i++ {
		addrBuf := make([]byte, width)
		if _, err := readFull(r, addrBuf); err != nil {
			return err
		}
		maskLen, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("wire: %w: reading mask length: %v", viewerrs.ErrMalformed, err)
		}
		addr, err := bgpval.AddressFromBytes(family, addrBuf)
		if err != nil {
			return err
		}
		pfx := bgpval.Prefix{Address: addr, MaskLen: maskLen}

		var peerCntBuf [2]byte
		if _, err := readFull(r, peerCntBuf[:]); err != nil {
			return err
		}
		peerCnt := binary.BigEndian.Uint16(peerCntBuf[:])

		for j := uint16(0); j < peerCnt; j++ {
			var idBuf [2]byte
			if _, err := readFull(r, idBuf[:]); err != nil {
				return err
			}
			var asnBuf [4]byte
			if _, err := readFull(r, asnBuf[:]); err != nil {
				return err
			}
			peerID := peersign.ID(binary.BigEndian.Uint16(idBuf[:]))
			asn := binary.BigEndian.Uint32(asnBuf[:])
			v.AddPrefix(pfx, peerID, view.PfxPeerInfo{OriginASN: asn})
		}
	}
	return nil
}

func writeU32(buf *bytes.Buffer, val uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], val)
	buf.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if err != nil {
		return n, fmt.Errorf("wire: %w: truncated view frame", viewerrs.ErrMalformed)
	}
	return n, nil
}
