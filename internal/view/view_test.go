package view

import (
	"testing"

	"github.com/route-beacon/viewstore/internal/bgpval"
	"github.com/route-beacon/viewstore/internal/peersign"
)

func mustPrefix(t *testing.T, s string) bgpval.Prefix {
	t.Helper()
	p, err := bgpval.ParsePrefix(s)
	if err != nil {
		t.Fatalf("parsing prefix %q: %v", s, err)
	}
	return p
}

func TestAddPrefixCountsDistinctPeers(t *testing.T) {
	v := New()
	pfx := mustPrefix(t, "198.51.100.0/24")
	v.AddPrefix(pfx, 1, PfxPeerInfo{OriginASN: 65001})
	v.AddPrefix(pfx, 2, PfxPeerInfo{OriginASN: 65002})

	if v.V4PfxCount() != 1 {
		t.Fatalf("expected 1 distinct prefix, got %d", v.V4PfxCount())
	}

	count := 0
	v.PfxPeerIter(pfx, func(peerID peersign.ID, info PfxPeerInfo) bool {
		count++
		return true
	})
	if count != 2 {
		t.Errorf("expected 2 peers for prefix, got %d", count)
	}
}

func TestRemovePrefixDropsPeerAndEmptiesTable(t *testing.T) {
	v := New()
	pfx := mustPrefix(t, "198.51.100.0/24")
	v.AddPrefix(pfx, 1, PfxPeerInfo{OriginASN: 65001})
	v.RemovePrefix(pfx, 1)
	if v.V4PfxCount() != 0 {
		t.Errorf("expected prefix to be dropped after last peer removed, got count %d", v.V4PfxCount())
	}
	if _, ok := v.Get(pfx, 1); ok {
		t.Error("expected peer info to be gone after removal")
	}
}

func TestClearPreservesAllocationButEmptiesContents(t *testing.T) {
	v := New()
	pfx := mustPrefix(t, "198.51.100.0/24")
	v.AddPrefix(pfx, 1, PfxPeerInfo{OriginASN: 65001})
	v.Clear()
	if v.V4PfxCount() != 0 {
		t.Fatalf("expected count 0 after Clear, got %d", v.V4PfxCount())
	}

	// Re-adding the same peer after a clear must invalidate the stale
	// entry rather than double count it.
	v.AddPrefix(pfx, 1, PfxPeerInfo{OriginASN: 65002})
	if v.V4PfxCount() != 1 {
		t.Errorf("expected count 1 after re-add, got %d", v.V4PfxCount())
	}
	info, ok := v.Get(pfx, 1)
	if !ok || info.OriginASN != 65002 {
		t.Errorf("expected refreshed info with ASN 65002, got %+v ok=%v", info, ok)
	}
}

func TestSetCreatedRoundTripsAndClearResets(t *testing.T) {
	v := New()
	v.SetCreated(1700000000, 1700000001, 500000)
	if v.BGPTime() != 1700000000 {
		t.Fatalf("expected bgp-time 1700000000, got %d", v.BGPTime())
	}
	sec, usec := v.WallCreated()
	if sec != 1700000001 || usec != 500000 {
		t.Fatalf("expected wall-created 1700000001/500000, got %d/%d", sec, usec)
	}

	v.Clear()
	if v.BGPTime() != 0 {
		t.Errorf("expected bgp-time reset to 0 after Clear, got %d", v.BGPTime())
	}
	sec, usec = v.WallCreated()
	if sec != 0 || usec != 0 {
		t.Errorf("expected wall-created reset to 0 after Clear, got %d/%d", sec, usec)
	}
}

func TestPeerInfoAccumulatesAcrossFamilies(t *testing.T) {
	v := New()
	v4 := mustPrefix(t, "198.51.100.0/24")
	v6 := mustPrefix(t, "2001:db8::/32")
	v.AddPrefix(v4, 1, PfxPeerInfo{OriginASN: 65001})
	v.AddPrefix(v6, 1, PfxPeerInfo{OriginASN: 65001})

	pi, ok := v.PeerInfoFor(1)
	if !ok {
		t.Fatal("expected peer info to exist")
	}
	if pi.V4PfxCnt != 1 || pi.V6PfxCnt != 1 {
		t.Errorf("unexpected peer info: %+v", pi)
	}
}
