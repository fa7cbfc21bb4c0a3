// Package wire implements the framed binary protocol between producer
// or consumer clients and the view-store server, and the byte-exact
// encoding of a view snapshot. Grounded on bgpwatcher_client.c's
// request/reply framing and bgpwatcher_view_io.c's field order; built
// on stdlib net/bufio/encoding-binary rather than the original's czmq
// transport, since no example repo in the retrieval pack ships a
// generic framed-RPC layer to adapt instead (see DESIGN.md).
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/route-beacon/viewstore/internal/viewerrs"
)

// MsgType is the first byte of every frame.
type MsgType uint8

const (
	MsgReady     MsgType = 1
	MsgTerm      MsgType = 2
	MsgHeartbeat MsgType = 3
	MsgData      MsgType = 4
	MsgReply     MsgType = 5
)

// DataSubType further distinguishes MsgData frames.
type DataSubType uint8

const (
	DataTableBegin  DataSubType = 1
	DataPrefixRow   DataSubType = 2
	DataTableEnd    DataSubType = 3
	DataPeerRow     DataSubType = 4
	DataViewBegin   DataSubType = 5
	DataViewEnd     DataSubType = 6
)

// ReplyCode is carried in a MsgReply frame's first byte.
type ReplyCode uint8

const (
	ReplyOK    ReplyCode = 0
	ReplyError ReplyCode = 1
)

// Intent is a bitmask a client declares in its Ready handshake, telling
// the server whether it will be sending prefix tables, wants completed
// views dispatched to it, or both.
type Intent uint8

const (
	IntentProducer Intent = 1 << iota
	IntentConsumer
)

// EncodeReady packs a client's declared name and intents into the
// payload of a MsgReady frame.
func EncodeReady(name string, intents Intent) []byte {
	buf := make([]byte, 1+len(name))
	buf[0] = byte(intents)
	copy(buf[1:], name)
	return buf
}

// DecodeReady unpacks a MsgReady payload. An empty payload (a legacy or
// minimal client that sends no handshake body) decodes to an unnamed,
// intent-less client.
func DecodeReady(payload []byte) (name string, intents Intent, err error) {
	if len(payload) == 0 {
		return "", 0, nil
	}
	return string(payload[1:]), Intent(payload[0]), nil
}

// maxFrameLen bounds a single frame's payload to guard against a
// corrupt or hostile length prefix forcing an unbounded allocation.
const maxFrameLen = 64 << 20

// WriteFrame writes a length-prefixed frame: a uint32 big-endian byte
// count followed by msgType and payload.
func WriteFrame(w *bufio.Writer, msgType MsgType, payload []byte) error {
	total := 1 + len(payload)
	if total > maxFrameLen {
		return fmt.Errorf("wire: %w: frame of %d bytes exceeds limit", viewerrs.ErrResourceExhausted, total)
	}
	var hdr [5]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(total))
	hdr[4] = byte(msgType)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: %w: writing frame header: %v", viewerrs.ErrTransientIO, err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: %w: writing frame payload: %v", viewerrs.ErrTransientIO, err)
	}
	return w.Flush()
}

// ReadFrame reads one frame, returning its message type and payload.
func ReadFrame(r *bufio.Reader) (MsgType, []byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("wire: %w: reading frame length: %v", viewerrs.ErrTransientIO, err)
	}
	total := binary.BigEndian.Uint32(hdr[:])
	if total == 0 || int(total) > maxFrameLen {
		return 0, nil, fmt.Errorf("wire: %w: frame length %d out of bounds", viewerrs.ErrMalformed, total)
	}
	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("wire: %w: reading frame body: %v", viewerrs.ErrTransientIO, err)
	}
	return MsgType(body[0]), body[1:], nil
}
