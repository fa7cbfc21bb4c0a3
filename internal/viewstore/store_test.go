package viewstore

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

func TestStoreAddPrefixAndCompletion(t *testing.T) {
	cfg := DefaultConfig
	cfg.WindowLen = 3
	cfg.ItemTime = 60
	st := NewStore(cfg, peersign.NewRegistry())
	st.AddProducer("rrc01")

	slot, res, err := st.GetSlot(120)
	if err != nil || res != ResultValid {
		t.Fatalf("unexpected GetSlot result: %v %v", res, err)
	}

	peerID, err := st.PeerSigns().SetAndGet("rrc01", mustAddrStore(t, "192.0.2.1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pfx := mustPrefix(t, "198.51.100.0/24")
	st.AddPrefix(slot, pfx, peerID, 65001)

	if slot.View().V4PfxCount() != 1 {
		t.Fatalf("expected 1 v4 prefix in view, got %d", slot.View().V4PfxCount())
	}

	st.TableEnd(slot, "rrc01")
	if slot.State != StateFull {
		t.Fatalf("expected Full after the only producer finishes, got %v", slot.State)
	}
}

func mustAddrStore(t *testing.T, s string) bgpval.Address {
	t.Helper()
	a, err := bgpval.ParseAddress(s)
	if err != nil {
		t.Fatalf("parsing address %q: %v", s, err)
	}
	return a
}
