package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/route-beacon/viewstore/internal/bgpval"
	"github.com/route-beacon/viewstore/internal/viewerrs"
)

// PrefixRow is one producer-submitted (bucket time, peer, prefix)
// record, carried inside a DataPrefixRow frame.
type PrefixRow struct {
	Time      uint32
	Collector string
	PeerIP    bgpval.Address
	Prefix    bgpval.Prefix
	OriginASN uint32
}

// EncodePrefixRow lays out a PrefixRow as: uint32 time, uint8 collector
// name length + bytes, uint8 peer address family (4 or 6) + address
// bytes, uint8 prefix address family + bytes, uint8 mask length, uint32
// origin ASN.
func EncodePrefixRow(row PrefixRow) ([]byte, error) {
	if len(row.Collector) > 255 {
		return nil, fmt.Errorf("wire: %w: collector name too long", viewerrs.ErrMalformed)
	}
	buf := make([]byte, 0, 4+1+len(row.Collector)+1+16+1+16+1+4)

	var timeBuf [4]byte
	binary.BigEndian.PutUint32(timeBuf[:], row.Time)
	buf = append(buf, timeBuf[:]...)

	buf = append(buf, byte(len(row.Collector)))
	buf = append(buf, row.Collector...)

	buf = append(buf, byte(row.PeerIP.Family()))
	buf = append(buf, row.PeerIP.Bytes()...)

	buf = append(buf, byte(row.Prefix.Address.Family()))
	buf = append(buf, row.Prefix.Address.Bytes()...)
	buf = append(buf, row.Prefix.MaskLen)

	var asnBuf [4]byte
	binary.BigEndian.PutUint32(asnBuf[:], row.OriginASN)
	buf = append(buf, asnBuf[:]...)

	return buf, nil
}

// DecodePrefixRow parses the layout written by EncodePrefixRow.
func DecodePrefixRow(body []byte) (PrefixRow, error) {
	var row PrefixRow
	if len(body) < 5 {
		return row, fmt.Errorf("wire: %w: prefix row too short", viewerrs.ErrMalformed)
	}
	row.Time = binary.BigEndian.Uint32(body[:4])
	body = body[4:]

	nameLen := int(body[0])
	body = body[1:]
	if len(body) < nameLen {
		return row, fmt.Errorf("wire: %w: truncated collector name", viewerrs.ErrMalformed)
	}
	row.Collector = string(body[:nameLen])
	body = body[nameLen:]

	addr, rest, err := decodeFamilyTaggedAddress(body)
	if err != nil {
		return row, err
	}
	row.PeerIP = addr
	body = rest

	pfxAddr, rest, err := decodeFamilyTaggedAddress(body)
	if err != nil {
		return row, err
	}
	body = rest
	if len(body) < 1+4 {
		return row, fmt.Errorf("wire: %w: truncated prefix row tail", viewerrs.ErrMalformed)
	}
	row.Prefix = bgpval.Prefix{Address: pfxAddr, MaskLen: body[0]}
	row.OriginASN = binary.BigEndian.Uint32(body[1:5])

	return row, nil
}

func decodeFamilyTaggedAddress(body []byte) (bgpval.Address, []byte, error) {
	if len(body) < 1 {
		return bgpval.Address{}, nil, fmt.Errorf("wire: %w: missing address family tag", viewerrs.ErrMalformed)
	}
	family := bgpval.Family(body[0])
	body = body[1:]
	width := 4
	if family == bgpval.FamilyV6 {
		width = 16
	}
	if len(body) < width {
		return bgpval.Address{}, nil, fmt.Errorf("wire: %w: truncated address", viewerrs.ErrMalformed)
	}
	addr, err := bgpval.AddressFromBytes(family, body[:width])
	if err != nil {
		return bgpval.Address{}, nil, err
	}
	return addr, body[width:], nil
}

// PeerRow binds a dense peer-id to the (collector, peer IP) signature it
// stands for, carried inside a DataPeerRow frame so a consumer can
// resolve the ids referenced by a dispatched view without sharing the
// server's in-memory peersign.Registry.
type PeerRow struct {
	ID        uint16
	Collector string
	PeerIP    bgpval.Address
}

// EncodePeerTable lays out a batch of PeerRow as: uint16 row count, then
// per row uint16 id, uint8 collector name length + bytes, uint8 peer
// address family + bytes. This is the standalone-frame form of the same
// peers block encodePeerBlock writes inline inside a serialized view.
func EncodePeerTable(rows []PeerRow) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodePeerBlock(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodePeerTable parses the layout written by EncodePeerTable.
func DecodePeerTable(body []byte) ([]PeerRow, error) {
	return decodePeerBlock(bytes.NewReader(body))
}

// encodePeerBlock writes §4.H's peers block (peer-count, then that many
// {id, collector, peer-ip} records) to buf.
func encodePeerBlock(buf *bytes.Buffer, rows []PeerRow) error {
	var cntBuf [2]byte
	binary.BigEndian.PutUint16(cntBuf[:], uint16(len(rows)))
	buf.Write(cntBuf[:])

	for _, row := range rows {
		if len(row.Collector) > 255 {
			return fmt.Errorf("wire: %w: collector name too long", viewerrs.ErrMalformed)
		}
		var idBuf [2]byte
		binary.BigEndian.PutUint16(idBuf[:], row.ID)
		buf.Write(idBuf[:])
		buf.WriteByte(byte(len(row.Collector)))
		buf.WriteString(row.Collector)
		buf.WriteByte(byte(row.PeerIP.Family()))
		buf.Write(row.PeerIP.Bytes())
	}
	return nil
}

// decodePeerBlock is encodePeerBlock's mirror, reading from r rather than
// consuming a whole flat slice so it can be embedded mid-stream inside a
// larger multi-block payload (a serialized view).
func decodePeerBlock(r *bytes.Reader) ([]PeerRow, error) {
	var cntBuf [2]byte
	if _, err := readFull(r, cntBuf[:]); err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint16(cntBuf[:])

	rows := make([]PeerRow, 0, count)
	for i := uint16(0); i < count; i++ {
		var idBuf [2]byte
		if _, err := readFull(r, idBuf[:]); err != nil {
			return nil, err
		}
		nameLen, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("wire: %w: reading peer collector length: %v", viewerrs.ErrMalformed, err)
		}
		nameBuf := make([]byte, nameLen)
		if _, err := readFull(r, nameBuf); err != nil {
			return nil, err
		}
		familyByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("wire: %w: reading peer address family: %v", viewerrs.ErrMalformed, err)
		}
		family := bgpval.Family(familyByte)
		width := 4
		if family == bgpval.FamilyV6 {
			width = 16
		}
		addrBuf := make([]byte, width)
		if _, err := readFull(r, addrBuf); err != nil {
			return nil, err
		}
		addr, err := bgpval.AddressFromBytes(family, addrBuf)
		if err != nil {
			return nil, err
		}
		rows = append(rows, PeerRow{
			ID:        binary.BigEndian.Uint16(idBuf[:]),
			Collector: string(nameBuf),
			PeerIP:    addr,
		})
	}
	return rows, nil
}

// EncodeTableEnd and DecodeTableEnd carry just the bucket time a
// producer's table dump finished for.
func EncodeTableEnd(ts uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], ts)
	return buf[:]
}

func DecodeTableEnd(body []byte) (uint32, error) {
	if len(body) < 4 {
		return 0, fmt.Errorf("wire: %w: table-end frame too short", viewerrs.ErrMalformed)
	}
	return binary.BigEndian.Uint32(body[:4]), nil
}
