package peerstate

import "testing"

func TestOnRIBRowSetsEstablishedAndExpects(t *testing.T) {
	p := New()
	p.OnRIBRow(100)
	p.OnRIBRow(101)
	if p.State != Established {
		t.Fatalf("expected Established, got %v", p.State)
	}
	if p.ExpectedPfxTableCnt != 1 {
		t.Errorf("expected 1 expected table, got %d", p.ExpectedPfxTableCnt)
	}
}

func TestOnTableEndCompletesPeer(t *testing.T) {
	p := New()
	p.OnRIBRow(100)
	if p.Done() {
		t.Fatal("peer should not be done before TableEnd")
	}
	p.OnTableEnd()
	if !p.Done() {
		t.Fatal("expected peer to be done after matching TableEnd")
	}
}

func TestOnAnnounceRequiresEstablished(t *testing.T) {
	p := New()
	if p.OnAnnounce(100) {
		t.Fatal("expected announce to be rejected before Established")
	}
	p.OnStateChange(Established, 50)
	if !p.OnAnnounce(100) {
		t.Fatal("expected announce to be applied once Established")
	}
}

func TestOutOfOrderElementDuringOpenRIBIsRejected(t *testing.T) {
	p := New()
	p.OnRIBRow(200)
	p.OnRIBRow(210)
	// An announcement timestamped before the RIB dump started is stale.
	if p.OnAnnounce(150) {
		t.Fatal("expected stale announcement to be rejected")
	}
	if p.OutOfOrder != 1 {
		t.Errorf("expected OutOfOrder to be 1, got %d", p.OutOfOrder)
	}
}

func TestStateChangeMidRIBResetsWindow(t *testing.T) {
	p := New()
	p.OnRIBRow(100)
	p.OnRIBRow(110)
	// Peer drops mid-dump.
	p.OnStateChange(Idle, 105)
	if p.ribOpen {
		t.Fatal("expected RIB window to be closed after mid-dump state change")
	}
	// A fresh RIB row after recovery should open a new expected table.
	p.OnStateChange(Established, 120)
	p.OnRIBRow(130)
	if p.ExpectedPfxTableCnt != 2 {
		t.Errorf("expected 2 expected tables after reset, got %d", p.ExpectedPfxTableCnt)
	}
}

func TestFullFeedThresholds(t *testing.T) {
	p := New()
	p.ReceivedV4Cnt = DefaultThresholds.V4 + 1
	if !p.FullFeed(DefaultThresholds) {
		t.Fatal("expected full feed to trigger on v4 overflow")
	}

	p2 := New()
	p2.ReceivedV6Cnt = DefaultThresholds.V6 + 1
	if !p2.FullFeed(DefaultThresholds) {
		t.Fatal("expected full feed to trigger on v6 overflow")
	}

	p3 := New()
	p3.ReceivedV4Cnt = 10
	if p3.FullFeed(DefaultThresholds) {
		t.Fatal("expected no full feed for small counts")
	}
}

func TestCountPrefix(t *testing.T) {
	p := New()
	p.CountPrefix(true)
	p.CountPrefix(true)
	p.CountPrefix(false)
	if p.ReceivedV4Cnt != 2 || p.ReceivedV6Cnt != 1 {
		t.Errorf("unexpected counts: v4=%d v6=%d", p.ReceivedV4Cnt, p.ReceivedV6Cnt)
	}
}

func TestInactiveStateRejectsRows(t *testing.T) {
	p := New()
	p.OnStateChange(Idle, 1)
	if p.OnWithdraw(5) {
		t.Fatal("expected withdraw to be rejected in Idle state")
	}
}
