package wire

import (
	"bufio"
	"bytes"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := WriteFrame(w, MsgData, []byte("payload")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := bufio.NewReader(&buf)
	msgType, payload, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != MsgData {
		t.Errorf("expected MsgData, got %v", msgType)
	}
	if string(payload) != "payload" {
		t.Errorf("expected payload 'payload', got %q", payload)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	w.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	w.Flush()

	r := bufio.NewReader(&buf)
	_, _, err := ReadFrame(r)
	if err == nil {
		t.Fatal("expected an error for an oversized frame length")
	}
}
