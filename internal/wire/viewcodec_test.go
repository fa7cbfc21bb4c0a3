package wire

import (
	"errors"
	"testing"

	"github.com/route-beacon/viewstore/internal/bgpval"
	"github.com/route-beacon/viewstore/internal/peersign"
	"github.com/route-beacon/viewstore/internal/view"
	"github.com/route-beacon/viewstore/internal/viewerrs"
)

func mustAddr(t *testing.T, s string) bgpval.Address {
	t.Helper()
	pfx, err := bgpval.ParsePrefix(s + "/32")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return pfx.Address
}

func TestEncodeDecodeViewRoundTrip(t *testing.T) {
	v := view.New()
	v.SetCreated(1700000000, 1700000001, 250000)

	registry := peersign.NewRegistry()
	peer1 := peersign.Signature{Collector: "rrc01", PeerIP: mustAddr(t, "192.0.2.1")}
	peer2 := peersign.Signature{Collector: "rrc02", PeerIP: mustAddr(t, "192.0.2.2")}
	id1, err := registry.SetAndGet(peer1.Collector, peer1.PeerIP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := registry.SetAndGet(peer2.Collector, peer2.PeerIP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pfx4, err := bgpval.ParsePrefix("198.51.100.0/24")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pfx6, err := bgpval.ParsePrefix("2001:db8::/32")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v.AddPrefix(pfx4, id1, view.PfxPeerInfo{OriginASN: 65001})
	v.AddPrefix(pfx4, id2, view.PfxPeerInfo{OriginASN: 65002})
	v.AddPrefix(pfx6, id1, view.PfxPeerInfo{OriginASN: 65001})

	encoded, err := EncodeView(v, registry)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}

	decoded := view.New()
	decodedRegistry := peersign.NewRegistry()
	if err := DecodeView(encoded, decoded, decodedRegistry); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}

	if decoded.BGPTime() != 1700000000 {
		t.Errorf("expected bgp-time to round-trip, got %d", decoded.BGPTime())
	}
	sec, usec := decoded.WallCreated()
	if sec != 1700000001 || usec != 250000 {
		t.Errorf("expected wall-created time to round-trip, got sec=%d usec=%d", sec, usec)
	}

	if decoded.V4PfxCount() != 1 || decoded.V6PfxCount() != 1 {
		t.Fatalf("unexpected decoded counts: v4=%d v6=%d", decoded.V4PfxCount(), decoded.V6PfxCount())
	}
	info, ok := decoded.Get(pfx4, id2)
	if !ok || info.OriginASN != 65002 {
		t.Errorf("expected decoded peer 2 with ASN 65002, got %+v ok=%v", info, ok)
	}

	sig, ok := decodedRegistry.GetByID(id2)
	if !ok || sig != peer2 {
		t.Errorf("expected decoded registry to reconstruct peer 2's signature, got %+v ok=%v", sig, ok)
	}
}

func TestDecodeViewRejectsTruncatedData(t *testing.T) {
	err := DecodeView([]byte{0, 0, 0}, view.New(), peersign.NewRegistry())
	if err == nil {
		t.Fatal("expected an error decoding a truncated buffer")
	}
}

func TestDecodeViewSurfacesIDConflict(t *testing.T) {
	v := view.New()
	registry := peersign.NewRegistry()
	peerA := peersign.Signature{Collector: "rrc01", PeerIP: mustAddr(t, "192.0.2.1")}
	id, err := registry.SetAndGet(peerA.Collector, peerA.PeerIP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pfx, err := bgpval.ParsePrefix("198.51.100.0/24")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v.AddPrefix(pfx, id, view.PfxPeerInfo{OriginASN: 65001})
	encoded, err := EncodeView(v, registry)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}

	// A decoder whose registry already binds id to a different signature
	// must reject the decode instead of silently overwriting it.
	conflicted := peersign.NewRegistry()
	if err := conflicted.Set(id, peersign.Signature{Collector: "rrc99", PeerIP: mustAddr(t, "192.0.2.9")}); err != nil {
		t.Fatalf("unexpected error priming conflicting registry: %v", err)
	}

	if err := DecodeView(encoded, view.New(), conflicted); !errors.Is(err, viewerrs.ErrIDConflict) {
		t.Fatalf("expected ErrIDConflict, got %v", err)
	}
}
