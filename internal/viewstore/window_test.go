package viewstore

import "testing"

func TestGetSlotFirstInsertion(t *testing.T) {
	w := NewWindow(5, 60)
	slot, res, err := w.GetSlot(600, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != ResultValid {
		t.Fatalf("expected ResultValid, got %v", res)
	}
	if slot.Time != 600 {
		t.Errorf("expected slot time 600, got %d", slot.Time)
	}
}

func TestGetSlotRejectsMisalignedTime(t *testing.T) {
	w := NewWindow(5, 60)
	_, _, err := w.GetSlot(605, nil)
	if err == nil {
		t.Fatal("expected an error for a non-bucket-aligned time")
	}
}

func TestGetSlotWithinWindowReturnsSameSlot(t *testing.T) {
	w := NewWindow(5, 60)
	s1, _, _ := w.GetSlot(600, nil)
	s1.State = StateFull

	s2, res, err := w.GetSlot(600, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != ResultValid {
		t.Fatalf("expected ResultValid, got %v", res)
	}
	if s2 != s1 {
		t.Fatal("expected the same slot pointer for a repeated time")
	}
}

func TestGetSlotBeforeWindowIsExceeded(t *testing.T) {
	w := NewWindow(5, 60)
	w.GetSlot(6000, nil)

	_, res, _ := w.GetSlot(60, nil)
	if res != ResultExceeded {
		t.Fatalf("expected ResultExceeded for a time before the window, got %v", res)
	}
}

func TestGetSlotSlidesAndEvictsExpiredSlots(t *testing.T) {
	w := NewWindow(3, 60)
	first, _, _ := w.GetSlot(180, nil)
	first.State = StateFull

	var expired []*Slot
	// Advance far enough that slot at t=180 falls out of the 3-bucket
	// window and must be evicted.
	_, res, _ := w.GetSlot(180+3*60, func(s *Slot) { expired = append(expired, s) })
	if res != ResultValid {
		t.Fatalf("expected ResultValid, got %v", res)
	}
	if len(expired) == 0 {
		t.Fatal("expected at least one slot to be expired by the slide")
	}
}

func TestGetSlotStampsCreatedOnceForRepeatedTime(t *testing.T) {
	w := NewWindow(5, 60)
	slot, _, _ := w.GetSlot(600, nil)
	if slot.View().BGPTime() != 600 {
		t.Fatalf("expected view bgp-time 600, got %d", slot.View().BGPTime())
	}
	sec, _ := slot.View().WallCreated()
	if sec == 0 {
		t.Fatal("expected a non-zero wall-created time after first assignment")
	}

	firstSec := sec
	slot, _, _ = w.GetSlot(600, nil)
	sec, _ = slot.View().WallCreated()
	if sec != firstSec {
		t.Errorf("expected wall-created time to stay stable across repeated calls for the same bucket, got %d want %d", sec, firstSec)
	}
}

func TestGetSlotForcesHardRebuildAfterReuseMax(t *testing.T) {
	w := NewWindow(2, 60)
	slot, _, _ := w.GetSlot(120, nil)
	slot.reuseCnt = ReuseMax
	slot.doneClients["stale-client"] = struct{}{}

	rebuilt, _, _ := w.GetSlot(120, nil)
	if rebuilt.clientDone("stale-client") {
		t.Fatal("expected a hard rebuild to drop stale done-client state")
	}
}
