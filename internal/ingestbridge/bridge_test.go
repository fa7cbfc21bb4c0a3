package ingestbridge

import (
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"
)

func TestAfiFromTopic(t *testing.T) {
	if afi := afiFromTopic("gobmp.parsed.unicast_prefix.ipv6"); afi != 6 {
		t.Errorf("expected AFI 6 for an ipv6 topic, got %d", afi)
	}
	if afi := afiFromTopic("gobmp.parsed.unicast_prefix"); afi != 4 {
		t.Errorf("expected AFI 4 to be the default, got %d", afi)
	}
}

func TestPeerAddrFromHeaders(t *testing.T) {
	rec := &kgo.Record{Headers: []kgo.RecordHeader{{Key: "peer_ip", Value: []byte("192.0.2.1")}}}
	if got := peerAddrFromHeaders(rec); got != "192.0.2.1" {
		t.Errorf("expected 192.0.2.1, got %q", got)
	}

	empty := &kgo.Record{}
	if got := peerAddrFromHeaders(empty); got != "" {
		t.Errorf("expected empty string when no peer_ip header present, got %q", got)
	}
}
